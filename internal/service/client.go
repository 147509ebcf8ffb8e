package service

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/RowanDark/unravel/internal/extract"
)

// Client calls a remote analyzer.
type Client struct {
	conn  grpc.ClientConnInterface
	close func() error
	token string
}

// Dial connects to addr without transport security. Extra options are
// appended after the defaults.
func Dial(addr, token string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{conn: conn, close: conn.Close, token: token}, nil
}

// NewClient wraps an existing connection. The caller keeps ownership of it.
func NewClient(conn grpc.ClientConnInterface, token string) *Client {
	return &Client{conn: conn, token: token}
}

// Analyze sends data for analysis.
func (c *Client) Analyze(ctx context.Context, data []byte, opts ...grpc.CallOption) (*extract.Result, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, TokenHeader, "Bearer "+c.token)
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, AnalyzeMethod, wrapperspb.Bytes(data), out, opts...); err != nil {
		return nil, err
	}
	res, err := FromStruct(out)
	if err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}
	return res, nil
}

// Close releases a connection created by Dial.
func (c *Client) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
