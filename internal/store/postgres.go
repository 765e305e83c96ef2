package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/AngelCh415/affilka-etl/internal/models"
)

// Options names the tables the stores work against.
type Options struct {
	Table       string
	MappingView string
	Source      string
}

func (o Options) withDefaults() Options {
	if o.Table == "" {
		o.Table = DefaultTable
	}
	if o.MappingView == "" {
		o.MappingView = DefaultMappingView
	}
	if o.Source == "" {
		o.Source = DefaultSource
	}
	return o
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

type PostgresStore struct {
	db   *sql.DB
	opts Options
	log  *slog.Logger
}

func NewPostgresStore(db *sql.DB, opts Options, log *slog.Logger) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{db: db, opts: opts.withDefaults(), log: log}
}

func (p *PostgresStore) Source() string { return p.opts.Source }

// Ping reports whether the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

const columnsQuery = `SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

// DiscoverSchema reads the fact table's live column list.
func (p *PostgresStore) DiscoverSchema(ctx context.Context) (Schema, error) {
	rows, err := p.db.QueryContext(ctx, columnsQuery, p.opts.Table)
	if err != nil {
		return Schema{}, fmt.Errorf("discover schema of %s: %w", p.opts.Table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return Schema{}, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return Schema{}, fmt.Errorf("discover schema of %s: %w", p.opts.Table, err)
	}
	if len(cols) == 0 {
		return Schema{}, fmt.Errorf("discover schema: table %s has no columns or does not exist", p.opts.Table)
	}
	return NewSchema(p.opts.Table, cols), nil
}

func upsertQuery(table string, plan writePlan) string {
	cols := make([]string, len(plan.columns))
	params := make([]string, len(plan.columns))
	for i, c := range plan.columns {
		cols[i] = pq.QuoteIdentifier(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	keys := plan.keys.Columns()
	for i, k := range keys {
		keys[i] = pq.QuoteIdentifier(k)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		pq.QuoteIdentifier(table), strings.Join(cols, ", "), strings.Join(params, ", "), strings.Join(keys, ", "))
	if len(plan.updates) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}
	sets := make([]string, len(plan.updates))
	for i, c := range plan.updates {
		q := pq.QuoteIdentifier(c)
		sets[i] = q + " = EXCLUDED." + q
	}
	b.WriteString("DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

// Upsert writes aggregated records in a single transaction. A row whose natural
// key already exists has its metrics overwritten; dimension columns are never
// touched. On any error nothing from the batch is committed.
func (p *PostgresStore) Upsert(ctx context.Context, schema Schema, recs []models.AggregatedRecord, accountID string) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	plan, err := schema.plan(accountID)
	if err != nil {
		p.log.Error("upsert aborted", slog.String("table", schema.Table), slog.Any("columns", schema.Columns), slog.Any("err", err))
		return 0, err
	}
	query := upsertQuery(schema.Table, plan)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, plan.values(rec, p.opts.Source, accountID)...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("upsert %s/%s: %w", rec.Key.PeriodDate.Format("2006-01-02"), rec.Key.ClickID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	p.log.Info("upserted facts",
		slog.String("table", schema.Table),
		slog.String("account_id", accountID),
		slog.Int("rows", len(recs)))
	return len(recs), nil
}

const viewExistsQuery = `SELECT EXISTS (SELECT 1 FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = $1)`

// enrichQuery fills NULL dimension columns from the mapping view. Values
// already present are kept.
func enrichQuery(schema Schema, view, source string, keys Keys, dims []string, from, to *time.Time) (string, []any) {
	sets := make([]string, len(dims))
	nulls := make([]string, len(dims))
	for i, d := range dims {
		q := pq.QuoteIdentifier(d)
		sets[i] = fmt.Sprintf("%s = COALESCE(f.%s, v.%s)", q, q, q)
		nulls[i] = fmt.Sprintf("f.%s IS NULL", q)
	}
	click := pq.QuoteIdentifier(keys.ClickID)
	date := pq.QuoteIdentifier(keys.Date)

	where := []string{
		fmt.Sprintf("LOWER(TRIM(f.%s)) = LOWER(TRIM(v.clickid))", click),
		"v.clickid IS NOT NULL",
		"(" + strings.Join(nulls, " OR ") + ")",
	}
	var args []any
	if keys.Source {
		args = append(args, source)
		where = append(where, fmt.Sprintf("f.%s = $%d", pq.QuoteIdentifier(colSource), len(args)))
	}
	if from != nil {
		args = append(args, models.Day(*from))
		where = append(where, fmt.Sprintf("f.%s >= $%d", date, len(args)))
	}
	if to != nil {
		args = append(args, models.Day(*to))
		where = append(where, fmt.Sprintf("f.%s <= $%d", date, len(args)))
	}

	q := fmt.Sprintf("UPDATE %s AS f SET %s FROM %s AS v WHERE %s",
		pq.QuoteIdentifier(schema.Table),
		strings.Join(sets, ", "),
		pq.QuoteIdentifier(view),
		strings.Join(where, " AND "))
	return q, args
}

// Enrich fills missing buyer, offer and creative ids on this source's rows by
// joining the mapping view on normalized click id. A missing view or a schema
// without dimension columns is a no-op.
func (p *PostgresStore) Enrich(ctx context.Context, schema Schema, from, to *time.Time) (int64, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx, viewExistsQuery, p.opts.MappingView).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check mapping view: %w", err)
	}
	if !exists {
		p.log.Warn("mapping view not found, skipping enrichment", slog.String("view", p.opts.MappingView))
		return 0, nil
	}
	dims := schema.Dimensions()
	if len(dims) == 0 {
		p.log.Warn("fact table has no dimension columns, skipping enrichment", slog.String("table", schema.Table))
		return 0, nil
	}
	keys, err := schema.Keys("")
	if err != nil {
		return 0, err
	}

	query, args := enrichQuery(schema, p.opts.MappingView, p.opts.Source, keys, dims, from, to)
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("enrich %s: %w", schema.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("enrich rows affected: %w", err)
	}
	p.log.Info("enriched facts", slog.String("view", p.opts.MappingView), slog.Int64("rows", n))
	return n, nil
}

// DailyTotals sums this source's facts per day over an inclusive range.
func (p *PostgresStore) DailyTotals(ctx context.Context, schema Schema, from, to time.Time) ([]models.DailyTotals, error) {
	keys, err := schema.Keys("")
	if err != nil {
		return nil, err
	}
	sum := func(field string) string {
		if col, ok := schema.PhysicalFor(field); ok {
			return fmt.Sprintf("COALESCE(SUM(f.%s), 0)", pq.QuoteIdentifier(col))
		}
		return "0"
	}
	accounts := "0"
	if schema.Has(colAccountID) {
		accounts = fmt.Sprintf("COUNT(DISTINCT f.%s)", pq.QuoteIdentifier(colAccountID))
	}
	date := pq.QuoteIdentifier(keys.Date)
	where := fmt.Sprintf("f.%s >= $1 AND f.%s <= $2", date, date)
	args := []any{models.Day(from), models.Day(to)}
	if keys.Source {
		where += fmt.Sprintf(" AND f.%s = $3", pq.QuoteIdentifier(colSource))
		args = append(args, p.opts.Source)
	}

	query := fmt.Sprintf(`SELECT f.%s, COUNT(DISTINCT f.%s), %s, %s, %s, %s, %s, %s
FROM %s AS f WHERE %s GROUP BY 1 ORDER BY 1`,
		date, pq.QuoteIdentifier(keys.ClickID),
		sum(FieldFTD), sum(FieldDepCnt), sum(FieldDepSum), sum(FieldNGR), sum(FieldCPA), accounts,
		pq.QuoteIdentifier(schema.Table), where)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily totals: %w", err)
	}
	defer rows.Close()

	var out []models.DailyTotals
	for rows.Next() {
		var (
			t   models.DailyTotals
			day time.Time
		)
		if err := rows.Scan(&day, &t.Clicks, &t.FTD, &t.DepCnt, &t.DepSum, &t.NGR, &t.CPA, &t.Accounts); err != nil {
			return nil, fmt.Errorf("scan daily totals: %w", err)
		}
		t.Date = day.Format(time.DateOnly)
		out = append(out, t)
	}
	return out, rows.Err()
}
