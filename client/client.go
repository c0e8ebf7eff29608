// Package client calls a jumpsub server over native gRPC.
package client

import (
	"context"
	"encoding/hex"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/jumpsub/server"
)

// Client is a connection to one server.
type Client struct {
	conn   *grpc.ClientConn
	target string
}

// Dial connects to target ("host:port") without TLS. The connection is
// established lazily on the first call.
func Dial(target string) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", target, err)
	}
	return &Client{conn: conn, target: target}, nil
}

// Target returns the address passed to Dial.
func (c *Client) Target() string { return c.target }

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Result is a decoded Validate or Execute response.
type Result struct {
	Fields map[string]any
}

// Accepted reports the "accepted" field of a validation result.
func (r *Result) Accepted() bool {
	ok, _ := r.Fields["accepted"].(bool)
	return ok
}

// String returns a string field, or "".
func (r *Result) String(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// Int returns a numeric field, or 0.
func (r *Result) Int(name string) int {
	n, _ := r.Fields[name].(float64)
	return int(n)
}

// Validate validates code with the server's table, or with the built-in
// table named by dialect when it is not empty.
func (c *Client) Validate(ctx context.Context, code []byte, dialect string) (*Result, error) {
	return c.call(ctx, server.ValidateProcedure, programRequest(code, dialect, nil))
}

// ExecuteOptions are the optional Execute request fields.
type ExecuteOptions struct {
	Dialect string
	Steps   int
	Trace   bool
}

// Execute runs code on the server.
func (c *Client) Execute(ctx context.Context, code []byte, opts ExecuteOptions) (*Result, error) {
	extra := map[string]any{"trace": opts.Trace}
	if opts.Steps > 0 {
		extra["steps"] = opts.Steps
	}
	return c.call(ctx, server.ExecuteProcedure, programRequest(code, opts.Dialect, extra))
}

// Disassemble returns the server's listing of code.
func (c *Client) Disassemble(ctx context.Context, code []byte) (string, error) {
	resp := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, server.DisassembleProcedure, wrapperspb.Bytes(code), resp); err != nil {
		return "", fmt.Errorf("client: disassemble: %w", err)
	}
	return resp.GetValue(), nil
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (*Result, error) {
	msg, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, msg, resp); err != nil {
		return nil, fmt.Errorf("client: %s: %w", method, err)
	}
	return &Result{Fields: resp.AsMap()}, nil
}

func programRequest(code []byte, dialect string, extra map[string]any) map[string]any {
	req := map[string]any{"code": hex.EncodeToString(code)}
	if dialect != "" {
		req["dialect"] = dialect
	}
	for k, v := range extra {
		req[k] = v
	}
	return req
}
