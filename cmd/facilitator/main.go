package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TheGreatAxios/x402-facilitator/internal/chain"
	"github.com/TheGreatAxios/x402-facilitator/internal/config"
	"github.com/TheGreatAxios/x402-facilitator/internal/nonce"
	"github.com/TheGreatAxios/x402-facilitator/internal/registry"
	"github.com/TheGreatAxios/x402-facilitator/internal/server"
	"github.com/TheGreatAxios/x402-facilitator/internal/settle"
	"github.com/TheGreatAxios/x402-facilitator/internal/verify"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Network registry + chain clients ──────────────────────────────────────
	reg := registry.New()

	networks, err := cfg.Networks()
	if err != nil {
		log.Fatal("network config invalid", zap.Error(err))
	}
	pool := chain.NewPool()
	defer pool.Close()
	for chainID, rpcURL := range networks {
		client, err := chain.NewClient(rpcURL, chainID, cfg.Chain.WalletPrivateKey)
		if err != nil {
			log.Fatal("chain client init failed", zap.Int64("chainId", chainID), zap.Error(err))
		}
		pool.Add(client)
		log.Info("network configured", zap.Int64("chainId", chainID))
	}

	// ── Nonce tracker (memory by default, redis for shared state) ─────────────
	var tracker nonce.Tracker
	switch cfg.Nonce.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping failed", zap.Error(err))
		}
		tracker = nonce.NewRedisTracker(rdb, time.Duration(cfg.Nonce.TTLSec)*time.Second)
	default:
		tracker = nonce.NewMemoryTracker(
			time.Duration(cfg.Nonce.TTLSec)*time.Second,
			time.Duration(cfg.Nonce.SweepIntervalSec)*time.Second,
		)
	}
	defer tracker.Close() //nolint:errcheck

	// ── Engine, executor, queue, workers ──────────────────────────────────────
	engine := verify.NewEngine(tracker, pool, reg)
	engine.SetDefaultChainID(cfg.Chain.DefaultChainID)
	executor := settle.NewExecutor(pool, reg)
	executor.SetDefaultChainID(cfg.Chain.DefaultChainID)
	queue := settle.NewQueue(cfg.Queue.MaxRetries, time.Duration(cfg.Queue.RetryDelayMs)*time.Millisecond)

	worker := settle.NewWorker(
		queue,
		executor,
		time.Duration(cfg.Queue.PollIntervalMs)*time.Millisecond,
		cfg.Queue.Workers,
		log,
	)
	go worker.Run(ctx)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	server.New(engine, executor, queue, reg, time.Duration(cfg.Verify.GracePeriodSec)*time.Second, log).Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("facilitator listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := queue.Close(); err != nil {
		log.Error("queue close error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
