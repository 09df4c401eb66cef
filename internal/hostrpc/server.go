package hostrpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/seirprior/dprior/internal/prior"
	"github.com/seirprior/dprior/internal/registry"
)

// #region server
// Server exposes a registry to remote hosts.
type Server struct {
	registry *registry.Registry
	current  func() *prior.Evaluator
	layout   prior.Layout
	logger   *zap.Logger
	bound    atomic.Pointer[boundIndex]
}

type boundIndex struct {
	table *prior.Table
	idx   prior.IndexMap
}

// NewServer creates a Server. reg resolves symbols; every request is then
// evaluated on a single snapshot of current(), and layout binds the host
// vector to that snapshot's table.
func NewServer(reg *registry.Registry, current func() *prior.Evaluator, layout prior.Layout, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{registry: reg, current: current, layout: layout, logger: logger}
}

// Evaluate implements PriorServiceServer.
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*wrapperspb.DoubleValue, error) {
	call, err := parseRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if _, err := s.registry.Lookup(call.symbol); err != nil {
		return nil, toStatus(err)
	}

	// A reload may swap the table mid-request; index and evaluation must
	// agree on one evaluator.
	ev := s.current()
	idx, err := s.index(ev.Table())
	if err != nil {
		return nil, toStatus(err)
	}

	p := call.params
	if call.named != nil {
		if p, err = idx.Vector(call.named); err != nil {
			return nil, toStatus(err)
		}
	}

	logd, err := ev.EvaluateVector(p, idx, true)
	if err != nil {
		return nil, toStatus(fmt.Errorf("%s::%s: %w", s.registry.Package(), call.symbol, err))
	}
	if call.giveLog {
		return wrapperspb.Double(logd), nil
	}
	if prior.Saturated(logd) {
		if err := grpc.SetTrailer(ctx, metadata.Pairs(saturatedTrailerKey, "true")); err != nil {
			s.logger.Warn("set trailer", zap.Error(err))
		}
	}
	return wrapperspb.Double(math.Exp(logd)), nil
}

// Symbols implements PriorServiceServer.
func (s *Server) Symbols(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	names := s.registry.Symbols()
	values := make([]*structpb.Value, len(names))
	for i, n := range names {
		values[i] = structpb.NewStringValue(n)
	}
	return &structpb.ListValue{Values: values}, nil
}

// index returns the IndexMap for t, rebuilding it only when the table has
// been swapped.
func (s *Server) index(t *prior.Table) (prior.IndexMap, error) {
	if b := s.bound.Load(); b != nil && b.table == t {
		return b.idx, nil
	}
	idx, err := s.layout(t)
	if err != nil {
		return prior.IndexMap{}, err
	}
	s.bound.Store(&boundIndex{table: t, idx: idx})
	return idx, nil
}

// #endregion server

// #region serve
// Serve registers srv on a new gRPC server and serves lis until ctx is done,
// then stops gracefully.
func Serve(ctx context.Context, lis net.Listener, srv *Server, opts ...grpc.ServerOption) error {
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor(srv.logger)))
	gs := grpc.NewServer(opts...)
	RegisterPriorServiceServer(gs, srv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		gs.GracefulStop()
		return nil
	})
	srv.logger.Info("serving", zap.String("addr", lis.Addr().String()), zap.String("service", ServiceName))
	return g.Wait()
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			logger.Debug("rpc failed", append(fields, zap.String("code", status.Code(err).String()), zap.Error(err))...)
			return resp, err
		}
		logger.Debug("rpc", fields...)
		return resp, nil
	}
}

// #endregion serve

// #region request
type request struct {
	symbol  string
	giveLog bool
	params  []float64
	named   prior.ParameterSet
}

func parseRequest(req *structpb.Struct) (request, error) {
	call := request{symbol: registry.SymbolDPrior, giveLog: true}
	fields := req.GetFields()

	if v, ok := fields["symbol"]; ok {
		sv, isStr := v.GetKind().(*structpb.Value_StringValue)
		if !isStr || sv.StringValue == "" {
			return request{}, errors.New("symbol must be a non-empty string")
		}
		call.symbol = sv.StringValue
	}

	if v, ok := fields["give_log"]; ok {
		switch k := v.GetKind().(type) {
		case *structpb.Value_BoolValue:
			call.giveLog = k.BoolValue
		case *structpb.Value_NumberValue:
			call.giveLog = k.NumberValue != 0
		default:
			return request{}, errors.New("give_log must be a bool or number")
		}
	}

	params, hasParams := fields["params"]
	named, hasNamed := fields["named"]
	switch {
	case hasParams && hasNamed:
		return request{}, errors.New("params and named are mutually exclusive")
	case hasParams:
		list := params.GetListValue()
		if list == nil {
			return request{}, errors.New("params must be a list of numbers")
		}
		call.params = make([]float64, len(list.GetValues()))
		for i, x := range list.GetValues() {
			f, err := number(x)
			if err != nil {
				return request{}, fmt.Errorf("params[%d]: %w", i, err)
			}
			call.params[i] = f
		}
	case hasNamed:
		st := named.GetStructValue()
		if st == nil {
			return request{}, errors.New("named must be a struct of numbers")
		}
		call.named = make(prior.ParameterSet, len(st.GetFields()))
		for name, x := range st.GetFields() {
			f, err := number(x)
			if err != nil {
				return request{}, fmt.Errorf("named[%q]: %w", name, err)
			}
			call.named[name] = f
		}
	default:
		return request{}, errors.New("one of params or named is required")
	}
	return call, nil
}

// number reads a numeric value. null is the host's missing value and reads as NaN.
func number(v *structpb.Value) (float64, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return k.NumberValue, nil
	case *structpb.Value_NullValue:
		return math.NaN(), nil
	}
	return 0, errors.New("not a number")
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, registry.ErrUnknownSymbol):
		return status.Error(codes.NotFound, err.Error())
	case prior.KindOf(err) != "":
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// #endregion request
