package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/seirprior/dprior/internal/prior"
)

// #region table-record
// TableRecord is a versioned snapshot of a prior table.
type TableRecord struct {
	VersionID string
	ParentID  string
	Label     string
	Entries   []prior.Entry
	CreatedAt time.Time
}

// NewTableRecord stamps t as a new version descending from parentID.
func NewTableRecord(parentID, label string, t *prior.Table) TableRecord {
	return TableRecord{
		VersionID: uuid.New().String(),
		ParentID:  parentID,
		Label:     label,
		Entries:   t.Entries(),
		CreatedAt: time.Now().UTC(),
	}
}

// Table validates the stored entries and builds a prior table.
func (r TableRecord) Table() (*prior.Table, error) {
	return prior.NewTable(r.Entries)
}

// #endregion table-record

// #region version-with-activity
// VersionSummary pairs a table version with how often it was used.
type VersionSummary struct {
	TableRecord
	Active      bool
	Evaluations int
}

// #endregion version-with-activity
