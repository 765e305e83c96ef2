package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AngelCh415/affilka-etl/internal/config"
	"github.com/AngelCh415/affilka-etl/internal/metrics"
	"github.com/AngelCh415/affilka-etl/internal/models"
	"github.com/AngelCh415/affilka-etl/internal/report"
	"github.com/AngelCh415/affilka-etl/internal/runlock"
	"github.com/AngelCh415/affilka-etl/internal/store"
	"github.com/AngelCh415/affilka-etl/internal/transform"
	"github.com/AngelCh415/affilka-etl/internal/utils"
)

var ErrNoAccounts = errors.New("ingest: no accounts configured")

// FactStore is the destination the pipeline writes to.
type FactStore interface {
	DiscoverSchema(ctx context.Context) (store.Schema, error)
	Upsert(ctx context.Context, schema store.Schema, recs []models.AggregatedRecord, accountID string) (int, error)
	Enrich(ctx context.Context, schema store.Schema, from, to *time.Time) (int64, error)
}

// ReportFetcher returns one report for the account it was built for.
type ReportFetcher interface {
	FetchReport(ctx context.Context, p ReportParams) (*models.Report, error)
}

type ETL struct {
	c    HTTPClient
	st   FactStore
	lock runlock.Locker
	log  *slog.Logger
	cfg  config.Config
	prom *metrics.Pipeline

	newFetcher func(acct config.Account, log *slog.Logger) ReportFetcher
}

func NewETL(c HTTPClient, st FactStore, lock runlock.Locker, log *slog.Logger, cfg config.Config, prom *metrics.Pipeline) *ETL {
	if lock == nil {
		lock = runlock.Noop{}
	}
	e := &ETL{c: c, st: st, lock: lock, log: log, cfg: cfg, prom: prom}
	e.newFetcher = func(acct config.Account, log *slog.Logger) ReportFetcher {
		b := utils.NewBackoff(500*time.Millisecond, cfg.MaxRetries)
		return NewClient(e.c, acct, b, log, e.prom)
	}
	return e
}

// AccountResult counts what one account contributed to a run.
type AccountResult struct {
	AccountID  string `json:"account_id"`
	Parsed     int    `json:"parsed"`
	Dropped    int    `json:"dropped"`
	Aggregated int    `json:"aggregated"`
	Upserted   int    `json:"upserted"`
	Enriched   int64  `json:"enriched"`
	Error      string `json:"error,omitempty"`
}

type RunSummary struct {
	RunID    string          `json:"run_id"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Accounts int             `json:"accounts"`
	Failed   int             `json:"failed"`
	Upserted int             `json:"upserted"`
	Enriched int64           `json:"enriched"`
	Results  []AccountResult `json:"results"`
}

// AllFailed reports whether no account completed.
func (s RunSummary) AllFailed() bool { return s.Accounts > 0 && s.Failed == s.Accounts }

func (e *ETL) params(from, to time.Time) ReportParams {
	r := e.cfg.Report
	return ReportParams{
		From:               from,
		To:                 to,
		Columns:            r.Columns,
		GroupBy:            r.GroupBy,
		Async:              r.Async,
		ConversionCurrency: r.ConversionCurrency,
		ExchangeRatesDate:  r.ExchangeRatesDate,
	}
}

// ProcessAccount runs fetch, parse, normalize, aggregate, upsert and a scoped
// enrichment for one account. Enrichment failures are logged, not returned.
func (e *ETL) ProcessAccount(ctx context.Context, schema store.Schema, acct config.Account, from, to time.Time, log *slog.Logger) (AccountResult, error) {
	res := AccountResult{AccountID: acct.ID}

	rep, err := e.newFetcher(acct, log).FetchReport(ctx, e.params(from, to))
	if err != nil {
		return res, err
	}

	flat, stats := report.ParseWithStats(rep, log)
	res.Parsed = stats.Parsed
	norm, dropped := transform.NormalizeRecords(flat, log)
	res.Dropped = stats.Dropped + dropped
	recs := transform.Aggregate(norm)
	res.Aggregated = len(recs)
	e.prom.AddRows(metrics.StageParsed, res.Parsed)
	e.prom.AddRows(metrics.StageDropped, res.Dropped)
	e.prom.AddRows(metrics.StageAggregated, res.Aggregated)

	if len(recs) == 0 {
		log.Info("nothing to load", slog.Int("rows", stats.Rows))
		return res, nil
	}

	n, err := e.st.Upsert(ctx, schema, recs, acct.ID)
	if err != nil {
		return res, fmt.Errorf("upsert: %w", err)
	}
	res.Upserted = n
	e.prom.AddRows(metrics.StageUpserted, n)

	enriched, err := e.st.Enrich(ctx, schema, &from, &to)
	if err != nil {
		log.Warn("enrichment failed", slog.Any("err", err))
	} else {
		res.Enriched = enriched
		e.prom.AddRows(metrics.StageEnriched, int(enriched))
	}

	log.Info("account loaded",
		slog.Int("parsed", res.Parsed),
		slog.Int("dropped", res.Dropped),
		slog.Int("aggregated", res.Aggregated),
		slog.Int("upserted", res.Upserted),
		slog.Int64("enriched", res.Enriched))
	return res, nil
}

// RunAll loads every configured account for from..to one after another, then
// runs one enrichment pass over the whole range. Account failures are logged
// and counted; only run-level failures are returned.
func (e *ETL) RunAll(ctx context.Context, from, to time.Time) (RunSummary, error) {
	from, to = models.Day(from), models.Day(to)
	sum := RunSummary{
		RunID:    uuid.NewString(),
		From:     from.Format(time.DateOnly),
		To:       to.Format(time.DateOnly),
		Accounts: len(e.cfg.Accounts),
	}
	log := e.log.With(slog.String("run_id", sum.RunID))
	started := time.Now()

	if len(e.cfg.Accounts) == 0 {
		e.prom.RunDone(started, "error")
		return sum, ErrNoAccounts
	}
	if to.Before(from) {
		e.prom.RunDone(started, "error")
		return sum, fmt.Errorf("invalid range %s..%s", sum.From, sum.To)
	}

	release, err := e.lock.Acquire(ctx)
	if err != nil {
		e.prom.RunDone(started, "error")
		return sum, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release run lock", slog.Any("err", err))
		}
	}()

	schema, err := e.st.DiscoverSchema(ctx)
	if err != nil {
		e.prom.RunDone(started, "error")
		return sum, fmt.Errorf("discover schema: %w", err)
	}
	log.Info("run started",
		slog.String("from", sum.From),
		slog.String("to", sum.To),
		slog.Int("accounts", sum.Accounts),
		slog.Any("columns", schema.Columns))

	for _, acct := range e.cfg.Accounts {
		if err := ctx.Err(); err != nil {
			e.prom.RunDone(started, "error")
			return sum, err
		}
		alog := log.With(slog.String("account", acct.ID))
		res, err := e.ProcessAccount(ctx, schema, acct, from, to, alog)
		e.prom.AccountDone(err)
		if err != nil {
			alog.Error("account failed", slog.Any("err", err))
			res.Error = err.Error()
			sum.Failed++
		}
		sum.Upserted += res.Upserted
		sum.Results = append(sum.Results, res)
	}

	n, err := e.st.Enrich(ctx, schema, &from, &to)
	if err != nil {
		log.Warn("final enrichment failed", slog.Any("err", err))
	} else {
		sum.Enriched = n
		e.prom.AddRows(metrics.StageEnriched, int(n))
	}

	status := "ok"
	switch {
	case sum.AllFailed():
		status = "failed"
	case sum.Failed > 0:
		status = "partial"
	}
	e.prom.RunDone(started, status)
	log.Info("run finished",
		slog.String("status", status),
		slog.Int("failed", sum.Failed),
		slog.Int("upserted", sum.Upserted),
		slog.Int64("enriched", sum.Enriched),
		slog.Duration("took", time.Since(started)))
	return sum, nil
}
