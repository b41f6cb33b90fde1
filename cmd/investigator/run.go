package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaundiverse/fear-investigator/internal/audit"
	"github.com/kaundiverse/fear-investigator/internal/channels/telegram"
	"github.com/kaundiverse/fear-investigator/internal/config"
	"github.com/kaundiverse/fear-investigator/internal/cron"
	"github.com/kaundiverse/fear-investigator/internal/gateway"
	statushttp "github.com/kaundiverse/fear-investigator/internal/http"
	"github.com/kaundiverse/fear-investigator/internal/llm"
	. "github.com/kaundiverse/fear-investigator/internal/logging"
	"github.com/kaundiverse/fear-investigator/internal/metrics"
	"github.com/kaundiverse/fear-investigator/internal/prompts"
)

const shutdownTimeout = 15 * time.Second

// RunCmd runs the bot until SIGINT or SIGTERM.
type RunCmd struct{}

func (c *RunCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}
	initLogging(g, cfg)
	L_info("investigator starting", "version", version, "config", cfg.Path, "models", len(cfg.LLM.Chain))

	store, err := prompts.NewStore(cfg.Prompts.File)
	if err != nil {
		return err
	}

	sink, err := audit.Open(cfg.Audit.Sink, cfg.Audit.Path)
	if err != nil {
		return err
	}
	auditLog := audit.NewLogger(sink)

	gw := gateway.New(gateway.Options{
		Chain:               cfg.LLM.Chain,
		MaxAttemptsPerModel: cfg.LLM.MaxAttemptsPerModel,
		ConcludeAfter:       cfg.Session.ConcludeAfter,
		HardCeiling:         cfg.Session.HardCeiling,
		LockTimeout:         cfg.Guard.LockTimeout,
	}, newOrchestrator(cfg), store, auditLog, nil)

	bot, err := telegram.New(cfg.Telegram)
	if err != nil {
		auditLog.Close()
		return err
	}
	gw.SetReplier(bot)
	bot.Attach(gw)

	sched := cron.New()
	if ttl := cfg.Session.IdleTTL; ttl > 0 {
		if err := sched.Add("session-sweep", cfg.Session.SweepSchedule, func() { gw.SweepIdle(ttl) }); err != nil {
			auditLog.Close()
			return err
		}
	}
	sched.Start()

	var watcher *prompts.Watcher
	if cfg.Prompts.File != "" && cfg.Prompts.Watch {
		if watcher, err = prompts.NewWatcher(store, 0); err != nil {
			L_warn("prompts: hot reload disabled", "error", err)
		} else {
			watcher.Start()
		}
	}

	var status *statushttp.Server
	if cfg.Metrics.Listen != "" {
		status = statushttp.NewServer(cfg.Metrics.Listen, metrics.GetInstance().Handler(), func() any { return gw.Health() })
		if err := status.Start(); err != nil {
			L_warn("http: status server disabled", "addr", cfg.Metrics.Listen, "error", err)
			status = nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot.Start()
	L_info("investigator ready")
	<-ctx.Done()

	SetShuttingDown()
	L_info("investigator shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	bot.Stop()
	if err := sched.Stop(shutdownCtx); err != nil {
		L_warn("cron: stop incomplete", "error", err)
	}
	if watcher != nil {
		watcher.Stop()
	}
	if status != nil {
		status.Stop(shutdownCtx)
	}
	if err := auditLog.Close(); err != nil {
		L_warn("audit: close failed", "error", err)
	}
	L_info("investigator stopped", "sessions", gw.Sessions().Count())
	return nil
}

func newOrchestrator(cfg *config.Config) *llm.Orchestrator {
	registry := llm.NewRegistry(llm.Credentials{
		APIKey:  cfg.LLM.APIKey,
		Referer: cfg.LLM.Referer,
		Title:   cfg.LLM.Title,
	}, cfg.LLM.Timeouts)

	client := llm.NewClient(cfg.LLM.BaseURL,
		llm.WithRetryAfterUnit(cfg.LLM.Backoff.RetryAfterUnit),
		llm.WithDump(cfg.LLM.DumpRequests),
	)

	b := cfg.LLM.Backoff
	return llm.NewOrchestrator(registry, client, llm.Options{
		Backoff: llm.Backoff{
			Base:         b.Base,
			RateLimitCap: b.RateLimitCap,
			ServerCap:    b.ServerCap,
			Jitter:       b.Jitter,
		},
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		Accept:            gateway.AcceptReply,
	})
}
