package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"scholardock/pkg/logger"
)

func UnaryLogging(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info("grpc call",
			logger.String("method", info.FullMethod),
			logger.String("code", status.Code(err).String()),
			logger.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}

func StreamLogging(log logger.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		log.Info("grpc stream",
			logger.String("method", info.FullMethod),
			logger.String("code", status.Code(err).String()),
			logger.Duration("duration", time.Since(start)),
		)
		return err
	}
}
