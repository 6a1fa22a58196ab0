package client

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/pesio-ai/be-approval-routing/internal/middleware"
)

var requestIDKey = strings.ToLower(middleware.RequestIDHeader)

// forwardMetadata copies the caller's incoming gRPC metadata onto outgoing
// calls. Requests that arrived over HTTP carry no metadata; their request id
// is taken from the context instead.
func forwardMetadata(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	out, _ := metadata.FromOutgoingContext(ctx)
	out = out.Copy()

	if in, ok := metadata.FromIncomingContext(ctx); ok {
		for k, v := range in {
			if len(out.Get(k)) == 0 {
				out.Set(k, v...)
			}
		}
	}
	if len(out.Get(requestIDKey)) == 0 {
		if id := middleware.RequestIDFromContext(ctx); id != "" {
			out.Set(requestIDKey, id)
		}
	}

	if out.Len() > 0 {
		ctx = metadata.NewOutgoingContext(ctx, out)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}
