package hostrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/seirprior/dprior/internal/prior"
)

// #region types
// Result is the response of one Evaluate call.
type Result struct {
	Value     float64
	Saturated bool
}

// #endregion types

// #region client-struct
// Client wraps the gRPC connection to a dprior server.
type Client struct {
	conn   *grpc.ClientConn
	client PriorServiceClient
}

// #endregion client-struct

// #region constructor
// NewClient connects to a dprior server.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		client: NewPriorServiceClient(conn),
	}, nil
}

// NewClientWithService creates a Client with an injected service
// implementation. Used for testing without a real gRPC connection.
func NewClientWithService(svc PriorServiceClient) *Client {
	return &Client{client: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region evaluate
// Evaluate sends a flat host vector.
func (c *Client) Evaluate(ctx context.Context, symbol string, p []float64, giveLog bool) (Result, error) {
	values := make([]*structpb.Value, len(p))
	for i, x := range p {
		values[i] = structpb.NewNumberValue(x)
	}
	return c.call(ctx, symbol, giveLog, "params", structpb.NewListValue(&structpb.ListValue{Values: values}))
}

// EvaluateNamed sends parameters by name.
func (c *Client) EvaluateNamed(ctx context.Context, symbol string, ps prior.ParameterSet, giveLog bool) (Result, error) {
	fields := make(map[string]*structpb.Value, len(ps))
	for name, x := range ps {
		fields[name] = structpb.NewNumberValue(x)
	}
	return c.call(ctx, symbol, giveLog, "named", structpb.NewStructValue(&structpb.Struct{Fields: fields}))
}

func (c *Client) call(ctx context.Context, symbol string, giveLog bool, key string, payload *structpb.Value) (Result, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"give_log": structpb.NewBoolValue(giveLog),
		key:        payload,
	}}
	if symbol != "" {
		req.Fields["symbol"] = structpb.NewStringValue(symbol)
	}

	var trailer metadata.MD
	resp, err := c.client.Evaluate(ctx, req, grpc.Trailer(&trailer))
	if err != nil {
		return Result{}, fmt.Errorf("evaluate rpc: %w", err)
	}
	return Result{
		Value:     resp.GetValue(),
		Saturated: len(trailer.Get(saturatedTrailerKey)) > 0,
	}, nil
}

// #endregion evaluate

// #region symbols
// Symbols lists the symbols the server exposes.
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	resp, err := c.client.Symbols(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("symbols rpc: %w", err)
	}
	out := make([]string, 0, len(resp.GetValues()))
	for _, v := range resp.GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out, nil
}

// #endregion symbols
