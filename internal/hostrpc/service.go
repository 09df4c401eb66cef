package hostrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Wire contract for dprior.PriorService, built on well-known protobuf types so
// hosts need no generated stubs:
//
//	Evaluate(google.protobuf.Struct) returns (google.protobuf.DoubleValue)
//	Symbols(google.protobuf.Empty) returns (google.protobuf.ListValue)
//
// Evaluate request fields: symbol (string, default "dprior"), params (list of
// numbers, flat host vector) or named (struct name -> number), give_log (bool
// or 0/1, default true).

// #region constants
const (
	ServiceName         = "dprior.PriorService"
	evaluateFullMethod  = "/" + ServiceName + "/Evaluate"
	symbolsFullMethod   = "/" + ServiceName + "/Symbols"
	saturatedTrailerKey = "dprior-saturated"
)

// #endregion constants

// #region server-api
// PriorServiceServer is the server API for dprior.PriorService.
type PriorServiceServer interface {
	Evaluate(context.Context, *structpb.Struct) (*wrapperspb.DoubleValue, error)
	Symbols(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// RegisterPriorServiceServer attaches srv to a gRPC server.
func RegisterPriorServiceServer(s grpc.ServiceRegistrar, srv PriorServiceServer) {
	s.RegisterService(&priorServiceDesc, srv)
}

var priorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PriorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "Symbols", Handler: symbolsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dprior/prior_service.proto",
}

func evaluateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PriorServiceServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PriorServiceServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func symbolsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PriorServiceServer).Symbols(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: symbolsFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PriorServiceServer).Symbols(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion server-api

// #region client-api
// PriorServiceClient is the client API for dprior.PriorService.
type PriorServiceClient interface {
	Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.DoubleValue, error)
	Symbols(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
}

type priorServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPriorServiceClient wraps a connection.
func NewPriorServiceClient(cc grpc.ClientConnInterface) PriorServiceClient {
	return &priorServiceClient{cc: cc}
}

func (c *priorServiceClient) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.DoubleValue, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.cc.Invoke(ctx, evaluateFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *priorServiceClient) Symbols(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, symbolsFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion client-api
