package handler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-approval-routing/internal/middleware"
)

const requestIDMetadataKey = "x-request-id"

// UnaryServerInterceptor tags each call with a request id, recovers panics
// and logs the outcome.
func UnaryServerInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		start := time.Now()

		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(requestIDMetadataKey); len(ids) > 0 {
				requestID = ids[0]
			}
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = middleware.WithRequestID(ctx, requestID)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("method", info.FullMethod).Str("request_id", requestID).
					Msg("Recovered from panic in gRPC handler")
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}

			code := status.Code(err)
			ev := log.Info()
			if code == codes.Internal || code == codes.Unknown {
				ev = log.Error().Err(err)
			}
			ev.Str("method", info.FullMethod).
				Str("code", code.String()).
				Dur("duration", time.Since(start)).
				Str("request_id", requestID).
				Msg("gRPC request")
		}()

		return handler(ctx, req)
	}
}
