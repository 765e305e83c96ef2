package store

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/affilka-etl/internal/models"
)

func ptr(s string) *string { return &s }

func TestMemoryUpsert_OverwritesMetrics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	schema, err := s.DiscoverSchema(ctx)
	require.NoError(t, err)

	key := models.AggregateKey{PeriodDate: jan5, ClickID: "a"}
	_, err = s.Upsert(ctx, schema, []models.AggregatedRecord{{Key: key, FTD: 1, DepSum: 100}}, "account_1")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, schema, []models.AggregatedRecord{{Key: key, FTD: 1, DepSum: 150}}, "account_1")
	require.NoError(t, err)

	rows := s.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 150.0, rows[0].DepSum)
	assert.Equal(t, models.FactKey{PeriodDate: jan5, ClickID: "a", Source: "affilka", AccountID: "account_1"}, rows[0].Key)
}

func TestMemoryUpsert_AccountsAreDistinct(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	schema, _ := s.DiscoverSchema(ctx)
	rec := []models.AggregatedRecord{{Key: models.AggregateKey{PeriodDate: jan5, ClickID: "a"}, DepCnt: 1}}

	_, err := s.Upsert(ctx, schema, rec, "account_1")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, schema, rec, "account_2")
	require.NoError(t, err)
	assert.Len(t, s.Rows(), 2)
}

func TestMemoryUpsert_NoKeyColumns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{}, "period_date", "ftd")
	schema, _ := s.DiscoverSchema(ctx)

	n, err := s.Upsert(ctx, schema, []models.AggregatedRecord{{Key: models.AggregateKey{PeriodDate: jan5, ClickID: "a"}}}, "account_1")
	assert.ErrorIs(t, err, ErrNoKeyColumns)
	assert.Zero(t, n)
	assert.Empty(t, s.Rows())
}

func TestMemoryStore_LogsLikePostgres(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	noKeys := NewMemoryStore(Options{}, "period_date", "ftd").WithLogger(log)
	schema, _ := noKeys.DiscoverSchema(ctx)
	_, err := noKeys.Upsert(ctx, schema, []models.AggregatedRecord{{Key: models.AggregateKey{PeriodDate: jan5, ClickID: "a"}}}, "account_1")
	require.ErrorIs(t, err, ErrNoKeyColumns)
	assert.Contains(t, buf.String(), `"msg":"upsert aborted"`)
	assert.Contains(t, buf.String(), `"level":"ERROR"`)

	buf.Reset()
	s := NewMemoryStore(Options{}).WithLogger(log)
	schema, _ = s.DiscoverSchema(ctx)
	n, err := s.Enrich(ctx, schema, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, buf.String(), `"msg":"mapping view not found, skipping enrichment"`)
	assert.Contains(t, buf.String(), `"view":"v_click_dims"`)

	buf.Reset()
	bare := NewMemoryStore(Options{}, "period_date", "clickid").WithLogger(log)
	bare.SetClickDims(map[string]models.ClickDims{"a": {OfferID: ptr("1")}})
	schema, _ = bare.DiscoverSchema(ctx)
	_, err = bare.Enrich(ctx, schema, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "fact table has no dimension columns")
}

func TestMemoryEnrich(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	schema, _ := s.DiscoverSchema(ctx)
	feb1 := jan5.AddDate(0, 0, 27)

	_, err := s.Upsert(ctx, schema, []models.AggregatedRecord{
		{Key: models.AggregateKey{PeriodDate: jan5, ClickID: "a"}},
		{Key: models.AggregateKey{PeriodDate: jan5, ClickID: "b"}},
		{Key: models.AggregateKey{PeriodDate: feb1, ClickID: "a"}},
	}, "account_1")
	require.NoError(t, err)

	n, err := s.Enrich(ctx, schema, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "no mapping installed")

	s.SetClickDims(map[string]models.ClickDims{
		" A ": {BuyerID: ptr("7"), OfferID: ptr("42")},
	})
	to := jan5
	n, err = s.Enrich(ctx, schema, nil, &to)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	row, ok := s.Get(models.FactKey{PeriodDate: jan5, ClickID: "a", Source: "affilka", AccountID: "account_1"})
	require.True(t, ok)
	assert.Equal(t, "7", *row.BuyerID)
	assert.Equal(t, "42", *row.OfferID)
	assert.Nil(t, row.CreativeID)

	later, _ := s.Get(models.FactKey{PeriodDate: feb1, ClickID: "a", Source: "affilka", AccountID: "account_1"})
	assert.Nil(t, later.OfferID, "outside the requested range")
}

func TestMemoryEnrich_KeepsExistingDimensions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	schema, _ := s.DiscoverSchema(ctx)
	_, err := s.Upsert(ctx, schema, []models.AggregatedRecord{{Key: models.AggregateKey{PeriodDate: jan5, ClickID: "a"}}}, "")
	require.NoError(t, err)

	s.SetClickDims(map[string]models.ClickDims{"a": {OfferID: ptr("1")}})
	_, err = s.Enrich(ctx, schema, nil, nil)
	require.NoError(t, err)

	s.SetClickDims(map[string]models.ClickDims{"a": {OfferID: ptr("2"), BuyerID: ptr("9")}})
	_, err = s.Enrich(ctx, schema, nil, nil)
	require.NoError(t, err)

	row, ok := s.Get(models.FactKey{PeriodDate: jan5, ClickID: "a", Source: "affilka"})
	require.True(t, ok)
	assert.Equal(t, "1", *row.OfferID)
	assert.Equal(t, "9", *row.BuyerID)

	// Dimensions survive a metric overwrite.
	_, err = s.Upsert(ctx, schema, []models.AggregatedRecord{{Key: models.AggregateKey{PeriodDate: jan5, ClickID: "a"}, NGR: 5}}, "")
	require.NoError(t, err)
	row, _ = s.Get(models.FactKey{PeriodDate: jan5, ClickID: "a", Source: "affilka"})
	assert.Equal(t, "1", *row.OfferID)
	assert.Equal(t, 5.0, row.NGR)
}

func TestMemoryDailyTotals(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	schema, _ := s.DiscoverSchema(ctx)
	_, _ = s.Upsert(ctx, schema, []models.AggregatedRecord{
		{Key: models.AggregateKey{PeriodDate: jan5, ClickID: "a"}, FTD: 1, DepSum: 10},
		{Key: models.AggregateKey{PeriodDate: jan5, ClickID: "b"}, DepSum: 5},
	}, "account_1")
	_, _ = s.Upsert(ctx, schema, []models.AggregatedRecord{
		{Key: models.AggregateKey{PeriodDate: jan5, ClickID: "a"}, DepSum: 1},
		{Key: models.AggregateKey{PeriodDate: jan5.AddDate(0, 0, 1), ClickID: "c"}, NGR: 3},
	}, "account_2")

	out, err := s.DailyTotals(ctx, schema, jan5, jan5.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.DailyTotals{Date: "2026-01-05", Clicks: 2, FTD: 1, DepSum: 16, Accounts: 2}, out[0])
	assert.Equal(t, "2026-01-06", out[1].Date)
	assert.Equal(t, 3.0, out[1].NGR)
}
