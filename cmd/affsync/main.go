package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AngelCh415/affilka-etl/internal/app"
	"github.com/AngelCh415/affilka-etl/internal/config"
	"github.com/AngelCh415/affilka-etl/internal/ingest"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath  = flag.String("config", os.Getenv("AFFSYNC_CONFIG"), "path to YAML config")
		fromStr  = flag.String("from", "", "start date YYYY-MM-DD (default: first of current month)")
		toStr    = flag.String("to", "", "end date YYYY-MM-DD (default: today)")
		daysBack = flag.Int("days-back", 0, "load the last N days instead of from/to")
		dryRun   = flag.Bool("dry-run", false, "load into memory only, write nothing")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	logger := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	from, to, err := ingest.ResolveRange(*fromStr, *toStr, *daysBack, time.Now())
	if err != nil {
		logger.Error("bad date range", slog.Any("err", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, prometheus.NewRegistry(), *dryRun)
	if err != nil {
		logger.Error("startup failed", slog.Any("err", err))
		return 1
	}
	defer a.Close()

	sum, err := a.ETL.RunAll(ctx, from, to)
	if err != nil {
		logger.Error("run failed", slog.String("run_id", sum.RunID), slog.Any("err", err))
		return 1
	}
	if sum.AllFailed() {
		logger.Error("every account failed", slog.String("run_id", sum.RunID), slog.Int("accounts", sum.Accounts))
		return 1
	}
	return 0
}
