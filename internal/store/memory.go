package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AngelCh415/affilka-etl/internal/models"
)

// DefaultColumns is the fact table layout the memory store assumes when none
// is configured.
var DefaultColumns = []string{
	"period_date", "clickid", "source", "account_id",
	"ftd", "dep_cnt", "dep_sum", "ngr", "cpa",
	"buyer_id", "offer_id", "creative_id",
}

// MemoryStore keeps fact rows in process with the same upsert and enrichment
// contract as PostgresStore. Used by tests, dry runs and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	opts   Options
	schema Schema
	rows   map[models.FactKey]*models.FactRow
	dims   map[string]models.ClickDims // keyed by normalized click id; nil means no view
	log    *slog.Logger
}

func NewMemoryStore(opts Options, columns ...string) *MemoryStore {
	opts = opts.withDefaults()
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	return &MemoryStore{
		opts:   opts,
		schema: NewSchema(opts.Table, columns),
		rows:   make(map[models.FactKey]*models.FactRow),
		log:    slog.Default(),
	}
}

// WithLogger sets the logger used for the same events PostgresStore reports.
func (s *MemoryStore) WithLogger(log *slog.Logger) *MemoryStore {
	if log != nil {
		s.log = log
	}
	return s
}

func (s *MemoryStore) Source() string { return s.opts.Source }

func (s *MemoryStore) Ping(context.Context) error { return nil }

// SetClickDims installs the identifier mapping used by Enrich.
func (s *MemoryStore) SetClickDims(dims map[string]models.ClickDims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dims = make(map[string]models.ClickDims, len(dims))
	for k, v := range dims {
		s.dims[normalizeKey(k)] = v
	}
}

func (s *MemoryStore) DiscoverSchema(context.Context) (Schema, error) {
	return s.schema, nil
}

func (s *MemoryStore) factKey(keys Keys, rec models.AggregatedRecord, accountID string) models.FactKey {
	k := models.FactKey{PeriodDate: models.Day(rec.Key.PeriodDate), ClickID: rec.Key.ClickID}
	if keys.Source {
		k.Source = s.opts.Source
	}
	if keys.AccountID {
		k.AccountID = accountID
	}
	return k
}

// Upsert overwrites metrics of existing rows and inserts new ones. Dimensions
// of an existing row are left alone.
func (s *MemoryStore) Upsert(_ context.Context, schema Schema, recs []models.AggregatedRecord, accountID string) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	keys, err := schema.Keys(accountID)
	if err != nil {
		s.log.Error("upsert aborted", slog.String("table", schema.Table), slog.Any("columns", schema.Columns), slog.Any("err", err))
		return 0, err
	}
	has := func(field string) bool {
		_, ok := schema.PhysicalFor(field)
		return ok
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		k := s.factKey(keys, rec, accountID)
		row, ok := s.rows[k]
		if !ok {
			row = &models.FactRow{Key: k}
			s.rows[k] = row
		}
		if has(FieldFTD) {
			row.FTD = rec.FTD
		}
		if has(FieldDepCnt) {
			row.DepCnt = rec.DepCnt
		}
		if has(FieldDepSum) {
			row.DepSum = rec.DepSum
		}
		if has(FieldNGR) {
			row.NGR = rec.NGR
		}
		if has(FieldCPA) {
			row.CPA = rec.CPA
		}
	}
	s.log.Info("upserted facts",
		slog.String("table", schema.Table),
		slog.String("account_id", accountID),
		slog.Int("rows", len(recs)))
	return len(recs), nil
}

// Enrich fills NULL dimensions of this source's rows from the installed mapping.
func (s *MemoryStore) Enrich(_ context.Context, schema Schema, from, to *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims == nil {
		s.log.Warn("mapping view not found, skipping enrichment", slog.String("view", s.opts.MappingView))
		return 0, nil
	}
	dims := schema.Dimensions()
	if len(dims) == 0 {
		s.log.Warn("fact table has no dimension columns, skipping enrichment", slog.String("table", schema.Table))
		return 0, nil
	}
	keys, err := schema.Keys("")
	if err != nil {
		return 0, err
	}

	var n int64
	for _, row := range s.rows {
		if keys.Source && row.Key.Source != s.opts.Source {
			continue
		}
		if !inRange(row.Key.PeriodDate, from, to) {
			continue
		}
		m, ok := s.dims[normalizeKey(row.Key.ClickID)]
		if !ok {
			continue
		}
		matched := false
		for _, d := range dims {
			slot, val := dimSlot(row, &m, d)
			if *slot == nil {
				matched = true
				if val != nil {
					*slot = val
				}
			}
		}
		if matched {
			n++
		}
	}
	s.log.Info("enriched facts", slog.String("view", s.opts.MappingView), slog.Int64("rows", n))
	return n, nil
}

func dimSlot(row *models.FactRow, m *models.ClickDims, col string) (**string, *string) {
	switch col {
	case "buyer_id":
		return &row.BuyerID, m.BuyerID
	case "offer_id":
		return &row.OfferID, m.OfferID
	default:
		return &row.CreativeID, m.CreativeID
	}
}

// Rows returns a copy of every stored row ordered by key.
func (s *MemoryStore) Rows() []models.FactRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FactRow, 0, len(s.rows))
	for _, v := range s.rows {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if !a.PeriodDate.Equal(b.PeriodDate) {
			return a.PeriodDate.Before(b.PeriodDate)
		}
		if a.ClickID != b.ClickID {
			return a.ClickID < b.ClickID
		}
		return a.AccountID < b.AccountID
	})
	return out
}

// Get looks up one row by its natural key.
func (s *MemoryStore) Get(k models.FactKey) (models.FactRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k.PeriodDate = models.Day(k.PeriodDate)
	row, ok := s.rows[k]
	if !ok {
		return models.FactRow{}, false
	}
	return *row, true
}

// DailyTotals mirrors PostgresStore.DailyTotals over the in-memory rows.
func (s *MemoryStore) DailyTotals(_ context.Context, schema Schema, from, to time.Time) ([]models.DailyTotals, error) {
	if _, err := schema.Keys(""); err != nil {
		return nil, err
	}
	type acc struct {
		t        models.DailyTotals
		clicks   map[string]struct{}
		accounts map[string]struct{}
	}
	f, t := models.Day(from), models.Day(to)
	byDay := map[time.Time]*acc{}

	s.mu.RLock()
	for _, row := range s.rows {
		if row.Key.Source != "" && row.Key.Source != s.opts.Source {
			continue
		}
		if !inRange(row.Key.PeriodDate, &f, &t) {
			continue
		}
		a, ok := byDay[row.Key.PeriodDate]
		if !ok {
			a = &acc{clicks: map[string]struct{}{}, accounts: map[string]struct{}{}}
			a.t.Date = row.Key.PeriodDate.Format(time.DateOnly)
			byDay[row.Key.PeriodDate] = a
		}
		a.clicks[row.Key.ClickID] = struct{}{}
		if row.Key.AccountID != "" {
			a.accounts[row.Key.AccountID] = struct{}{}
		}
		a.t.FTD += row.FTD
		a.t.DepCnt += row.DepCnt
		a.t.DepSum += row.DepSum
		a.t.NGR += row.NGR
		a.t.CPA += row.CPA
	}
	s.mu.RUnlock()

	out := make([]models.DailyTotals, 0, len(byDay))
	for _, a := range byDay {
		a.t.Clicks = len(a.clicks)
		a.t.Accounts = len(a.accounts)
		out = append(out, a.t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func inRange(d time.Time, from, to *time.Time) bool {
	if from != nil && d.Before(models.Day(*from)) {
		return false
	}
	if to != nil && d.After(models.Day(*to)) {
		return false
	}
	return true
}

func normalizeKey(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
