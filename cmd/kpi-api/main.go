package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/query"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file.")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetLevel(cfg.Log.Level)
	if len(cfg.Log.Outputs) > 0 {
		if err := logger.SetOutput(cfg.Log.Outputs); err != nil {
			logger.Fatalf("Failed to open log outputs %v: %v", cfg.Log.Outputs, err)
		}
	}
	defer logger.Sync()

	chCfg := clickHouseConfig(cfg)
	if chCfg == nil {
		logger.Fatalf("No ClickHouse configured under api.clickhouse or an enabled clickhouse mirror. API server cannot start.")
	}

	// Initialize querier with the found config
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	querier, err := query.NewClickHouseQuerier(ctx, *chCfg)
	cancel()
	if err != nil {
		logger.Fatalf("Failed to create querier: %v", err)
	}
	defer querier.Close()

	// Start HTTP server
	server := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           newRouter(&APIHandler{querier: querier}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	// Health service for orchestrators
	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	if cfg.API.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.API.GRPCAddr)
		if err != nil {
			logger.Fatalf("Could not listen on %s: %v", cfg.API.GRPCAddr, err)
		}
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			logger.Infof("gRPC health server starting on %s", cfg.API.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Errorf("gRPC server stopped: %v", err)
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("API server shutting down...")
	healthSrv.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	grpcServer.GracefulStop()
	logger.Infof("API server exited.")
}

// clickHouseConfig prefers api.clickhouse and falls back to the first
// enabled clickhouse mirror.
func clickHouseConfig(cfg *config.Config) *config.ClickHouseConfig {
	if cfg.API.ClickHouse.Host != "" {
		return &cfg.API.ClickHouse
	}
	for i := range cfg.Mirrors {
		if cfg.Mirrors[i].Enabled && cfg.Mirrors[i].Type == "clickhouse" {
			return &cfg.Mirrors[i].ClickHouse
		}
	}
	return nil
}
