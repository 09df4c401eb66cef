package main

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/seirprior/dprior/internal/prior"
	"github.com/seirprior/dprior/internal/replay"
	"github.com/seirprior/dprior/internal/state"
)

// #region styles
var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	activeStyle = cellStyle.Foreground(lipgloss.Color("10"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("9"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'g', 10, 64)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion styles

// #region renderers
func renderTerms(terms []prior.Term) string {
	t := newTable("parameter", "value", "mean", "sd", "log density")
	for _, term := range terms {
		t.Row(term.Name, num(term.Value), num(term.Mean), num(term.SD), num(term.LogDensity))
	}
	return t.StyleFunc(plainStyle).String()
}

func renderEntries(entries []prior.Entry) string {
	t := newTable("#", "parameter", "mean", "sd")
	for i, e := range entries {
		t.Row(strconv.Itoa(i), e.Name, num(e.Mean), num(e.SD))
	}
	return t.StyleFunc(plainStyle).String()
}

func renderVersions(versions []state.VersionSummary) string {
	t := newTable("", "version", "parent", "label", "entries", "evaluations", "created")
	for _, v := range versions {
		mark := ""
		if v.Active {
			mark = "*"
		}
		t.Row(mark, shortID(v.VersionID), shortID(v.ParentID), v.Label,
			strconv.Itoa(len(v.Entries)), strconv.Itoa(v.Evaluations),
			v.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case versions[row].Active:
			return activeStyle
		}
		return cellStyle
	}).String()
}

func renderReplay(results []replay.ReplayResult) string {
	t := newTable("case", "result", "got", "reason")
	for _, r := range results {
		verdict := "pass"
		if !r.Pass {
			verdict = "FAIL"
		}
		t.Row(r.ID, verdict, num(r.Got), r.Reason)
	}
	return t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case !results[row].Pass:
			return failStyle
		}
		return cellStyle
	}).String()
}

func plainStyle(row, col int) lipgloss.Style {
	if row == table.HeaderRow {
		return headerStyle
	}
	return cellStyle
}

// #endregion renderers
