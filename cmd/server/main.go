package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"yuzu/arbiter/internal/api"
	"yuzu/arbiter/internal/config"
	"yuzu/arbiter/internal/filler"
	"yuzu/arbiter/internal/health"
	"yuzu/arbiter/internal/logging"
	"yuzu/arbiter/internal/loop"
	"yuzu/arbiter/internal/store"
	"yuzu/arbiter/internal/stt"
	"yuzu/arbiter/internal/workerws"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := logging.New(logging.LogConfig{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat})
	if err != nil {
		panic(err)
	}
	defer logging.Sync(logger)
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("warning", w))
	}

	st := store.New()
	reg := workerws.NewRegistry()
	cls := filler.New(cfg.Filler.Options())

	opts := []loop.Option{loop.WithSTTIdleTimeout(time.Duration(cfg.Loop.STTIdleSec) * time.Second)}
	if cfg.Deepgram.APIKey != "" {
		opts = append(opts, loop.WithDeepgram(stt.LoadDGConfig(cfg.Deepgram), cfg.Deepgram.APIKey))
	} else {
		logger.Info("DEEPGRAM_API_KEY not set; transcripts must come from the worker")
	}
	disp := loop.New(reg, st, cls, logger, cfg.Loop.TTSTimeoutSec, opts...)

	h := api.NewHandlers(cfg, st, disp, logger)
	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h))
	mux.Handle("/metrics", promhttp.Handler())
	// WS worker route
	wss := workerws.NewServer(cfg, st, reg, logger)
	wss.OnMessage = disp.OnMessage
	wss.OnAudio = disp.OnAudio
	wss.OnDisconnect = disp.OnDisconnect
	mux.HandleFunc("/ws/worker", wss.HandleWorkerWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC health service mirrors /readyz
	kap := keepalive.ServerParameters{
		Time:    30 * time.Second,
		Timeout: 10 * time.Second,
	}
	gs := grpc.NewServer(grpc.KeepaliveParams(kap))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go watchReadiness(ctx, cfg, hs, logger)
	go disp.ReapIdle(ctx, 10*time.Second)

	l, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
	}
	go func() {
		logger.Info("grpc health listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := gs.Serve(l); err != nil {
			logger.Warn("grpc serve", zap.Error(err))
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("shutdown signal received; stopping server")
		stop()
		hs.Shutdown()
		disp.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		gs.GracefulStop()
	}()

	logger.Info("server starting", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

// watchReadiness refreshes the gRPC serving status from the health checks.
func watchReadiness(ctx context.Context, cfg config.Config, hs *grpchealth.Server, logger *zap.Logger) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status := health.CheckAll(cctx, cfg)
		cancel()
		serving := healthpb.HealthCheckResponse_SERVING
		if !status.OK {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("not ready", zap.String("report", status.String()))
		}
		hs.SetServingStatus("", serving)

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func logMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}
