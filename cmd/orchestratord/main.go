// Package main provides orchestratord - the cross-chain atomic swap
// orchestrator daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/baseswap/orchestrator/internal/api"
	"github.com/baseswap/orchestrator/internal/auditlog"
	"github.com/baseswap/orchestrator/internal/chainclient"
	"github.com/baseswap/orchestrator/internal/config"
	"github.com/baseswap/orchestrator/internal/eventbus"
	"github.com/baseswap/orchestrator/internal/eventmonitor"
	"github.com/baseswap/orchestrator/internal/quote"
	"github.com/baseswap/orchestrator/internal/secretmgr"
	"github.com/baseswap/orchestrator/internal/session"
	"github.com/baseswap/orchestrator/internal/sessionmgr"
	"github.com/baseswap/orchestrator/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logging.New(&logging.Config{
		Level:      cfg.LogLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)
	log.Infof("orchestratord %s (commit: %s)", version, commit)

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatal("failed to create state directory", "path", cfg.StateDir, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := session.NewStore()
	secrets := secretmgr.New(store)
	bus := eventbus.New()

	src, err := chainclient.NewSourceChainClient(cfg.SrcChainRPC, common.HexToAddress(cfg.SrcEscrowContract), cfg.SrcConfirmations, cfg.StateDir)
	if err != nil {
		log.Fatal("failed to initialize source chain client", "error", err)
	}
	defer src.Close()
	log.Info("source chain client initialized", "rpc", cfg.SrcChainRPC, "contract", cfg.SrcEscrowContract)

	dst, err := chainclient.NewDestinationChainClient(cfg.DstChainRPC, cfg.DstHTLCContract, cfg.DstConfirmations, cfg.StateDir)
	if err != nil {
		log.Fatal("failed to initialize destination chain client", "error", err)
	}
	defer dst.Close()
	log.Info("destination chain client initialized", "rpc", cfg.DstChainRPC, "contract", cfg.DstHTLCContract)

	monitor, err := eventmonitor.New(src, dst, store, bus, cfg.StateDir)
	if err != nil {
		log.Fatal("failed to initialize event monitor", "error", err)
	}

	sessions := sessionmgr.New(store, secrets, bus, cfg.StateDir, cfg.SessionDefaultTTL)

	auditDBPath := filepath.Join(cfg.StateDir, "audit.db")
	audit, err := auditlog.Open(auditDBPath)
	if err != nil {
		log.Fatal("failed to open audit log", "path", auditDBPath, "error", err)
	}
	defer audit.Close()
	auditlog.Attach(ctx, bus, audit)
	log.Info("audit log attached", "path", auditDBPath)

	// Reconcile persisted sessions before accepting traffic, so in-flight
	// swaps resume their workers and timeout timers against the same
	// deadlines they had before restart.
	persisted, err := session.ReadAllSnapshots(cfg.StateDir)
	if err != nil {
		log.Fatal("failed to read persisted sessions", "error", err)
	}
	if err := sessions.Restore(persisted); err != nil {
		log.Fatal("failed to restore sessions", "error", err)
	}
	log.Info("session reconciliation complete", "restored", len(persisted))

	apiKeys := make(map[string]bool, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		apiKeys[k] = true
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := api.New(addr, api.Deps{
		Store:                    store,
		Sessions:                 sessions,
		Secrets:                  secrets,
		Quotes:                   quote.New(),
		Bus:                      bus,
		Audit:                    audit,
		Src:                      src,
		Dst:                      dst,
		APIKeys:                  apiKeys,
		MaxSubscribersPerSession: cfg.MaxSubscribersPerSession,
	})

	go monitor.Run(ctx)
	go sessions.Run(ctx, monitor.Events())

	go func() {
		log.Info("API server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && ctx.Err() == nil {
			log.Fatal("API server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("error during API server shutdown", "error", err)
	}

	log.Info("goodbye")
}
