package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"scholardock/internal/app"
	"scholardock/internal/grpcserver"
	"scholardock/pkg/logger"
	"scholardock/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $SCHOLARDOCK_CONFIG)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := utils.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := app.New(cfg, log, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.Recover(ctx); err != nil {
		log.Warn("recover batches failed", logger.Error(err))
	}
	cancel()

	listener, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcserver.UnaryLogging(log)),
		grpc.ChainStreamInterceptor(grpcserver.StreamLogging(log)),
	)
	grpcserver.RegisterPipelineServer(srv, grpcserver.NewServer(a.Dispatcher, a.Extractions, a.Hub))

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info("shutdown signal received", logger.String("signal", sig.String()))

		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			srv.Stop()
		}
	}()

	log.Info("gRPC server listening", logger.String("addr", cfg.Server.GRPCAddr))
	if err := srv.Serve(listener); err != nil {
		return fmt.Errorf("grpc server stopped: %w", err)
	}
	return nil
}
