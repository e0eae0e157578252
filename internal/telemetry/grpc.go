package telemetry

import (
	"context"
	"log/slog"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"google.golang.org/grpc"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// GRPCServerInterceptor logs finished calls. Health checks are only logged when they fail.
func GRPCServerInterceptor() grpc.ServerOption {
	opts := []logging.Option{
		logging.WithLogOnEvents(logging.FinishCall),
	}

	logged := logging.UnaryServerInterceptor(grpcLogger(slog.Default()), opts...)

	return grpc.ChainUnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info.FullMethod == healthCheckMethod {
			resp, err := handler(ctx, req)
			if err != nil {
				slog.WarnContext(ctx, "grpc: health check failed", "error", err)
			}
			return resp, err
		}
		return logged(ctx, req, info, handler)
	})
}

func grpcLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), "grpc: "+msg, fields...)
	})
}
