package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"

	"scholardock/internal/app"
	"scholardock/internal/grpcserver"
	"scholardock/pkg/logger"
	"scholardock/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $SCHOLARDOCK_CONFIG)")
	withGRPC := flag.Bool("grpc", true, "also serve the gRPC API on server.grpc_addr")
	flag.Parse()

	if err := run(*configPath, *withGRPC); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, withGRPC bool) error {
	cfg, err := utils.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(cfg, log, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	recoverCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.Recover(recoverCtx); err != nil {
		log.Warn("recover batches failed", logger.Error(err))
	}
	cancel()

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcSrv *grpc.Server
	if withGRPC {
		grpcSrv = grpc.NewServer(
			grpc.ChainUnaryInterceptor(grpcserver.UnaryLogging(log)),
			grpc.ChainStreamInterceptor(grpcserver.StreamLogging(log)),
		)
		grpcserver.RegisterPipelineServer(grpcSrv, grpcserver.NewServer(a.Dispatcher, a.Extractions, a.Hub))
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	if grpcSrv != nil {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("gRPC server listening", logger.String("addr", cfg.Server.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("HTTP API server listening", logger.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", logger.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", logger.Error(err))
	}

	log.Info("shutting down servers")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", logger.Error(err))
	}
	if grpcSrv != nil {
		stopGRPC(shutdownCtx, grpcSrv)
	}

	wg.Wait()
	log.Info("servers stopped")
	return nil
}

// stopGRPC drains in-flight calls; open batch watches are cut at the
// deadline.
func stopGRPC(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
	}
}
