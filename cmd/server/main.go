package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AngelCh415/affilka-etl/internal/app"
	"github.com/AngelCh415/affilka-etl/internal/config"
	"github.com/AngelCh415/affilka-etl/internal/httpx"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Getenv("AFFSYNC_CONFIG"))
	if err != nil {
		slog.Error("config", slog.String("err", err.Error()))
		return 1
	}

	logger := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Build(ctx, cfg, logger, reg, false)
	if err != nil {
		logger.Error("startup failed", slog.String("err", err.Error()))
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", slog.String("err", err.Error()))
		}
	}()

	r := httpx.NewRouter(httpx.Deps{
		Log:      logger,
		Runner:   a.ETL,
		Totals:   a.Totals,
		Gatherer: reg,
		Ready:    a.Store,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server", slog.String("port", cfg.Port), slog.Int("accounts", len(cfg.Accounts)))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("err", err.Error()))
		return 1
	}
	return 0
}
