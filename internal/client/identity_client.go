package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-approval-routing/internal/errors"
)

// ResolveApproversMethod is the identity service RPC used to expand specs.
// Request: {"spec": "<kind>:<name>"}. Response: {"user_ids": ["..."]}.
const ResolveApproversMethod = "/platform.v1.IdentityService/ResolveApprovers"

// IdentityGRPCClient resolves approver specs against a remote identity
// service. Messages are google.protobuf.Struct values.
type IdentityGRPCClient struct {
	conn *grpc.ClientConn
}

// NewIdentityGRPCClient dials the identity gRPC service and returns a client.
// Extra dial options are appended after the defaults.
func NewIdentityGRPCClient(addr string, opts ...grpc.DialOption) (*IdentityGRPCClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &IdentityGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *IdentityGRPCClient) Close() error {
	return c.conn.Close()
}

// ResolveApprovers implements service.IdentityResolver.
func (c *IdentityGRPCClient) ResolveApprovers(ctx context.Context, spec string) ([]string, error) {
	if _, _, err := ParseApproverSpec(spec); err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]interface{}{"spec": spec})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to build identity request")
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ResolveApproversMethod, req, resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("identity lookup failed for %s", spec))
	}

	list := resp.GetFields()["user_ids"].GetListValue()
	ids := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		if id := v.GetStringValue(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
