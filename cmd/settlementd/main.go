package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ArtaPay/artapay-sc/internal/api"
	"github.com/ArtaPay/artapay-sc/internal/audit"
	"github.com/ArtaPay/artapay-sc/internal/config"
	"github.com/ArtaPay/artapay-sc/internal/logging"
	"github.com/ArtaPay/artapay-sc/internal/metrics"
	"github.com/ArtaPay/artapay-sc/internal/sponsor"
)

func main() {
	boot, _ := zap.NewProduction()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("config load failed", zap.Error(err))
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		boot.Fatal("logger init failed", zap.Error(err))
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Settlement core (ledger + oracle, pool, paymaster, settlement) ────────
	core, err := buildComponents(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal("component init failed", zap.Error(err))
	}

	// ── Sponsor signer (signing key → paymasterAndData) ───────────────────────
	key, err := parseSigningKey(cfg.Sponsor.SigningKey)
	if err != nil {
		log.Fatal("sponsor key", zap.Error(err))
	}
	signer := sponsor.NewSigner(
		key,
		core.paymaster.Address(),
		time.Duration(cfg.Sponsor.ValiditySec)*time.Second,
		cfg.Sponsor.QuotaPerHour,
		rdb,
		log,
	)
	if err := core.bootstrap(ctx, cfg, signer.Address(), log); err != nil {
		log.Fatal("ledger bootstrap failed", zap.Error(err))
	}

	// ── Subscribers (event log, metrics, audit queue) ─────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, core.tokens)

	core.state.Subscribe(logEvents(log))
	core.state.Subscribe(m.Observe)
	core.state.Subscribe(audit.NewPublisher(rdb, log).Publish)

	go audit.Run(ctx, rdb, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	api.NewHandler(api.Deps{
		State:      core.state,
		Tokens:     core.tokens,
		Oracle:     core.oracle,
		Pool:       core.pool,
		Paymaster:  core.paymaster,
		Settlement: core.settlement,
		Sponsor:    signer,
		Redis:      rdb,
		Metrics:    m,
		Gatherer:   reg,
	}, log).Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── gRPC health ───────────────────────────────────────────────────────────
	gs, hs := newHealthServer()
	if cfg.Server.GRPCPort != 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			log.Fatal("gRPC listen failed", zap.Error(err))
		}
		go func() {
			log.Info("gRPC health server starting", zap.Int("port", cfg.Server.GRPCPort))
			if err := gs.Serve(lis); err != nil {
				log.Error("gRPC server error", zap.Error(err))
			}
		}()
	}

	log.Info("settlement core ready",
		zap.String("chain_id", core.state.ChainID().String()),
		zap.String("sponsor_signer", signer.Address().Hex()),
		zap.Int("currencies", len(core.oracle.Currencies())),
	)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	hs.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	gs.GracefulStop()
	log.Info("shutdown complete")
}

// newHealthServer returns a gRPC server exposing the standard health service,
// reporting SERVING until Shutdown is called on the health server.
func newHealthServer() (*grpc.Server, *health.Server) {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}
