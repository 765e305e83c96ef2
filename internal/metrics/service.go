package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/AngelCh415/affilka-etl/internal/models"
	"github.com/AngelCh415/affilka-etl/internal/store"
)

// FactReader is the read side of a fact store.
type FactReader interface {
	DiscoverSchema(ctx context.Context) (store.Schema, error)
	DailyTotals(ctx context.Context, schema store.Schema, from, to time.Time) ([]models.DailyTotals, error)
}

type Service struct {
	st  FactReader
	now func() time.Time
}

func NewService(st FactReader) *Service { return &Service{st: st, now: time.Now} }

// Totals answers per-day totals for from..to (inclusive, YYYY-MM-DD). Missing
// bounds default to the current month so far.
func (s *Service) Totals(ctx context.Context, v url.Values) ([]models.DailyTotals, error) {
	today := models.Day(s.now())
	from, err := dateParam(v.Get("from"), today.AddDate(0, 0, 1-today.Day()))
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to, err := dateParam(v.Get("to"), today)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("range %s..%s is empty", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	limit := atoiDef(v.Get("limit"), 100)
	offset := atoiDef(v.Get("offset"), 0)

	schema, err := s.st.DiscoverSchema(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.st.DailyTotals(ctx, schema, from, to)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].DepSum = round2(rows[i].DepSum)
		rows[i].NGR = round2(rows[i].NGR)
		rows[i].CPA = round2(rows[i].CPA)
		if rows[i].DepCnt > 0 {
			rows[i].AvgDeposit = round2(rows[i].DepSum / rows[i].DepCnt)
		}
		if rows[i].Clicks > 0 {
			rows[i].FTDRate = round3(rows[i].FTD / float64(rows[i].Clicks))
		}
	}
	limit, offset = clampLimitOffset(limit, offset, len(rows))
	return paginate(rows, limit, offset), nil
}

func dateParam(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func paginate[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func atoiDef(s string, d int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

func clampLimitOffset(limit, offset, n int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset > n {
		offset = n
	}
	return limit, offset
}

func round2(f float64) float64 { return roundTo(f, 100) }
func round3(f float64) float64 { return roundTo(f, 1000) }

func roundTo(f, scale float64) float64 {
	if f < 0 {
		return -roundTo(-f, scale)
	}
	return float64(int64(f*scale+0.5)) / scale
}
