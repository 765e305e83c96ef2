package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AngelCh415/affilka-etl/internal/ingest"
	"github.com/AngelCh415/affilka-etl/internal/metrics"
	"github.com/AngelCh415/affilka-etl/internal/runlock"
	"github.com/AngelCh415/affilka-etl/internal/utils"
)

// Runner starts a pipeline run over a date range.
type Runner interface {
	RunAll(ctx context.Context, from, to time.Time) (ingest.RunSummary, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Log      *slog.Logger
	Runner   Runner
	Totals   *metrics.Service
	Gatherer prometheus.Gatherer
	Ready    Pinger
	Now      func() time.Time
}

func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(d.Log))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready.Ping(ctx); err != nil {
				http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})

	if d.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.Post("/sync/run", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		daysBack := 0
		if v := q.Get("days_back"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "bad days_back", 400)
				return
			}
			daysBack = n
		}
		from, to, err := ingest.ResolveRange(q.Get("from"), q.Get("to"), daysBack, d.Now())
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		sum, err := d.Runner.RunAll(r.Context(), from, to)
		switch {
		case errors.Is(err, runlock.ErrLocked):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case errors.Is(err, ingest.ErrNoAccounts):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		case err != nil:
			http.Error(w, err.Error(), 502)
			return
		}
		if sum.AllFailed() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(502)
		}
		writeJSON(w, sum)
	})

	mux.Get("/facts/daily", func(w http.ResponseWriter, r *http.Request) {
		rows, err := d.Totals.Totals(r.Context(), r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		writeJSON(w, rows)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}
