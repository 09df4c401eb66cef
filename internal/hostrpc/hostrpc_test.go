package hostrpc

import (
	"context"
	"errors"
	"math"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/seirprior/dprior/internal/prior"
	"github.com/seirprior/dprior/internal/registry"
)

const peakLog = -24.363548412566438

// #region helpers
func newTestServer() *Server {
	reg := registry.Default(registry.Bind(prior.Default()))
	return NewServer(reg, prior.Default, prior.IdentityLayout, nil)
}

// startServer serves srv over an in-memory listener and returns a connected
// client. Everything is torn down with the test.
func startServer(t *testing.T, srv *Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, lis, srv) }()

	c, err := NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return c
}

func meansRequest(t *testing.T) *structpb.Struct {
	t.Helper()
	list := make([]interface{}, 0, 37)
	for _, v := range meansVector() {
		list = append(list, v)
	}
	req, err := structpb.NewStruct(map[string]interface{}{"params": list})
	require.NoError(t, err)
	return req
}

func meansVector() []float64 {
	t := prior.DefaultTable()
	vec := make([]float64, t.Len())
	for k, e := range t.Entries() {
		vec[k] = e.Mean
	}
	return vec
}

// #endregion helpers

// #region end-to-end-tests
func TestEvaluateRoundTrip(t *testing.T) {
	c := startServer(t, newTestServer())
	ctx := context.Background()

	res, err := c.Evaluate(ctx, registry.SymbolDPrior, meansVector(), true)
	require.NoError(t, err)
	assert.InDelta(t, peakLog, res.Value, 1e-9)
	assert.False(t, res.Saturated)

	res, err = c.Evaluate(ctx, "", meansVector(), false)
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(peakLog), res.Value, 1e-20)
}

func TestEvaluateNamedRoundTrip(t *testing.T) {
	c := startServer(t, newTestServer())
	ps := prior.Means(prior.DefaultTable())
	ps["not_a_prior"] = 3

	res, err := c.EvaluateNamed(context.Background(), registry.SymbolDPrior, ps, true)
	require.NoError(t, err)
	assert.InDelta(t, peakLog, res.Value, 1e-9)
}

func TestEvaluateSaturatedTrailer(t *testing.T) {
	c := startServer(t, newTestServer())
	vec := meansVector()
	vec[21] = 1e6

	res, err := c.Evaluate(context.Background(), registry.SymbolDPrior, vec, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Value)
	assert.True(t, res.Saturated)
}

func TestEvaluateMinusInfIsNotSaturated(t *testing.T) {
	ev := prior.NewEvaluator(prior.DefaultTable(), prior.WithPolicy(prior.PolicyPropagate))
	current := func() *prior.Evaluator { return ev }
	c := startServer(t, NewServer(registry.Default(registry.BindSource(current)), current, prior.IdentityLayout, nil))

	vec := meansVector()
	vec[3] = math.Inf(1)
	res, err := c.Evaluate(context.Background(), registry.SymbolDPrior, vec, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Value)
	assert.False(t, res.Saturated)

	res, err = c.Evaluate(context.Background(), registry.SymbolDPrior, vec, true)
	require.NoError(t, err)
	assert.True(t, math.IsInf(res.Value, -1))
}

func TestEvaluateErrorCodes(t *testing.T) {
	c := startServer(t, newTestServer())
	ctx := context.Background()

	_, err := c.Evaluate(ctx, "dprior_v2", meansVector(), true)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(errors.Unwrap(err)))

	vec := meansVector()
	vec[0] = math.NaN()
	_, err = c.Evaluate(ctx, registry.SymbolDPrior, vec, true)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(errors.Unwrap(err)))

	ps := prior.Means(prior.DefaultTable())
	delete(ps, "Isd4_0")
	_, err = c.EvaluateNamed(ctx, registry.SymbolDPrior, ps, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Isd4_0")
}

func TestSymbolsRoundTrip(t *testing.T) {
	c := startServer(t, newTestServer())
	got, err := c.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{registry.SymbolDPrior}, got)
}

// #endregion end-to-end-tests

// #region request-tests
func TestParseRequest(t *testing.T) {
	mustStruct := func(m map[string]interface{}) *structpb.Struct {
		s, err := structpb.NewStruct(m)
		require.NoError(t, err)
		return s
	}

	call, err := parseRequest(mustStruct(map[string]interface{}{
		"params": []interface{}{1.0, nil},
	}))
	require.NoError(t, err)
	assert.Equal(t, registry.SymbolDPrior, call.symbol)
	assert.True(t, call.giveLog)
	require.Len(t, call.params, 2)
	assert.True(t, math.IsNaN(call.params[1]))

	call, err = parseRequest(mustStruct(map[string]interface{}{
		"symbol":   "other",
		"give_log": 0.0,
		"named":    map[string]interface{}{"a": 1.5},
	}))
	require.NoError(t, err)
	assert.Equal(t, "other", call.symbol)
	assert.False(t, call.giveLog)
	assert.Equal(t, prior.ParameterSet{"a": 1.5}, call.named)

	bad := []map[string]interface{}{
		{},
		{"params": []interface{}{1.0}, "named": map[string]interface{}{}},
		{"params": "x"},
		{"params": []interface{}{"x"}},
		{"named": map[string]interface{}{"a": true}},
		{"params": []interface{}{}, "give_log": "yes"},
		{"params": []interface{}{}, "symbol": ""},
	}
	for _, m := range bad {
		_, err := parseRequest(mustStruct(m))
		assert.Error(t, err, "%v", m)
	}
}

func TestServerRebindsAfterTableSwap(t *testing.T) {
	small := prior.NewEvaluator(prior.MustTable([]prior.Entry{{Name: "x", Mean: 0, SD: 1}}))
	current := prior.Default()
	source := func() *prior.Evaluator { return current }
	srv := NewServer(registry.Default(registry.BindSource(source)), source, prior.IdentityLayout, nil)

	req, err := structpb.NewStruct(map[string]interface{}{"params": []interface{}{0.0}})
	require.NoError(t, err)

	_, err = srv.Evaluate(context.Background(), req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	current = small
	out, err := srv.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, small.Table().PeakLogDensity(), out.GetValue(), 1e-12)
}

func TestEvaluatePinsOneEvaluatorPerRequest(t *testing.T) {
	first := prior.Default()
	second := prior.NewEvaluator(prior.MustTable(prior.DefaultTable().Entries()))
	var calls atomic.Int32
	source := func() *prior.Evaluator {
		if calls.Add(1) == 1 {
			return first
		}
		return second
	}
	srv := NewServer(registry.Default(registry.BindSource(source)), source, prior.IdentityLayout, nil)

	for i := 0; i < 2; i++ {
		out, err := srv.Evaluate(context.Background(), meansRequest(t))
		require.NoError(t, err, "request %d", i)
		assert.InDelta(t, peakLog, out.GetValue(), 1e-9)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestToStatusInternal(t *testing.T) {
	assert.Equal(t, codes.Internal, status.Code(toStatus(errors.New("boom"))))
}

// #endregion request-tests

// #region mock-client-tests
type mockPriorService struct {
	PriorServiceClient

	evaluateReq  *structpb.Struct
	evaluateResp *wrapperspb.DoubleValue
	evaluateErr  error

	symbolsResp *structpb.ListValue
	symbolsErr  error
}

func (m *mockPriorService) Evaluate(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*wrapperspb.DoubleValue, error) {
	m.evaluateReq = in
	return m.evaluateResp, m.evaluateErr
}

func (m *mockPriorService) Symbols(_ context.Context, _ *emptypb.Empty, _ ...grpc.CallOption) (*structpb.ListValue, error) {
	return m.symbolsResp, m.symbolsErr
}

func TestClientWithServiceEncodesRequest(t *testing.T) {
	mock := &mockPriorService{evaluateResp: wrapperspb.Double(-3)}
	c := NewClientWithService(mock)
	defer c.Close()

	res, err := c.Evaluate(context.Background(), "dprior", []float64{1, 2}, false)
	require.NoError(t, err)
	assert.Equal(t, -3.0, res.Value)

	f := mock.evaluateReq.GetFields()
	assert.Equal(t, "dprior", f["symbol"].GetStringValue())
	assert.False(t, f["give_log"].GetBoolValue())
	assert.Len(t, f["params"].GetListValue().GetValues(), 2)
}

func TestClientWithServiceErrors(t *testing.T) {
	mock := &mockPriorService{
		evaluateErr: status.Error(codes.Unavailable, "down"),
		symbolsErr:  status.Error(codes.Unavailable, "down"),
	}
	c := NewClientWithService(mock)

	_, err := c.Evaluate(context.Background(), "", nil, true)
	assert.ErrorContains(t, err, "evaluate rpc")
	_, err = c.Symbols(context.Background())
	assert.ErrorContains(t, err, "symbols rpc")
}

// #endregion mock-client-tests
