package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const requestIDKey = "x-request-id"

type loggerKey struct{}

// LoggerFromContext returns the request-scoped logger set by the logging
// interceptors, or fallback outside of an RPC.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return fallback
}

// UnaryLoggingInterceptor logs each call once it returns. Caller mistakes log
// at warn so that error level stays meaningful for server faults.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		reqLogger := logger.With(zap.String("method", info.FullMethod), zap.String("request_id", requestID(ctx)))
		ctx = context.WithValue(ctx, loggerKey{}, reqLogger)

		resp, err := handler(ctx, req)

		code := status.Code(err)
		reqLogger.Check(levelFor(code), "unary RPC").Write(
			zap.Duration("duration", time.Since(start)),
			zap.String("code", code.String()),
			zap.Error(err),
		)
		return resp, err
	}
}

// StreamLoggingInterceptor logs uploads and downloads at start and finish.
func StreamLoggingInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		ctx := ss.Context()
		reqLogger := logger.With(zap.String("method", info.FullMethod), zap.String("request_id", requestID(ctx)))

		reqLogger.Debug("stream RPC started",
			zap.Bool("is_client_stream", info.IsClientStream),
			zap.Bool("is_server_stream", info.IsServerStream),
		)

		err := handler(srv, &wrappedStream{ServerStream: ss, ctx: context.WithValue(ctx, loggerKey{}, reqLogger)})

		code := status.Code(err)
		reqLogger.Check(levelFor(code), "stream RPC").Write(
			zap.Duration("duration", time.Since(start)),
			zap.String("code", code.String()),
			zap.Error(err),
		)
		return err
	}
}

func levelFor(code codes.Code) zapcore.Level {
	switch code {
	case codes.OK:
		return zapcore.InfoLevel
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.PermissionDenied,
		codes.Unauthenticated, codes.ResourceExhausted, codes.FailedPrecondition, codes.Canceled:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// requestID returns the client's x-request-id, or a fresh one when absent.
func requestID(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if ids := md.Get(requestIDKey); len(ids) > 0 && ids[0] != "" {
		return ids[0]
	}
	return uuid.NewString()
}
