package store

import (
	"errors"
	"time"

	"github.com/AngelCh415/affilka-etl/internal/models"
)

const (
	DefaultTable       = "fact_click_month"
	DefaultMappingView = "v_click_dims"
	DefaultSource      = "affilka"
)

var ErrNoKeyColumns = errors.New("store: schema has no date-like or identifier-like key column")

var (
	DateColumns      = []string{"period_date", "period", "date"}
	ClickIDColumns   = []string{"clickid", "click_id"}
	DimensionColumns = []string{"buyer_id", "offer_id", "creative_id"}
)

const (
	colSource    = "source"
	colAccountID = "account_id"
)

// Canonical field names carried by an aggregated record.
const (
	FieldPeriodDate = "period_date"
	FieldClickID    = "clickid"
	FieldFTD        = "ftd"
	FieldDepCnt     = "dep_cnt"
	FieldDepSum     = "dep_sum"
	FieldNGR        = "ngr"
	FieldCPA        = "cpa"
)

// Alias lists the physical column names a canonical field may be stored under.
type Alias struct {
	Field    string
	Physical []string
}

var FieldAliases = []Alias{
	{FieldPeriodDate, DateColumns},
	{FieldClickID, ClickIDColumns},
	{FieldFTD, []string{"ftd", "ftd_count", "first_deposits_count"}},
	{FieldDepCnt, []string{"dep_cnt", "deposits_count", "dep_count"}},
	{FieldDepSum, []string{"dep_sum", "deposits_sum", "dep_sum_amount"}},
	{FieldNGR, []string{"ngr"}},
	{FieldCPA, []string{"cpa", "partner_income", "clean_net_revenue"}},
}

var physicalToField = func() map[string]string {
	m := make(map[string]string)
	for _, a := range FieldAliases {
		for _, p := range a.Physical {
			if _, ok := m[p]; !ok {
				m[p] = a.Field
			}
		}
	}
	return m
}()

// Schema is the live column set of the fact table, captured once per run.
type Schema struct {
	Table   string
	Columns []string
	set     map[string]struct{}
}

func NewSchema(table string, columns []string) Schema {
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	return Schema{Table: table, Columns: append([]string(nil), columns...), set: set}
}

func (s Schema) Has(col string) bool {
	_, ok := s.set[col]
	return ok
}

// First returns the first candidate present in the schema.
func (s Schema) First(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if s.Has(c) {
			return c, true
		}
	}
	return "", false
}

// Dimensions returns the enrichable dimension columns present in the schema.
func (s Schema) Dimensions() []string {
	var out []string
	for _, c := range DimensionColumns {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// PhysicalFor returns the first column storing a canonical field.
func (s Schema) PhysicalFor(field string) (string, bool) {
	for _, a := range FieldAliases {
		if a.Field == field {
			return s.First(a.Physical...)
		}
	}
	return "", false
}

// Keys is the natural key of a fact row as resolved against a schema.
type Keys struct {
	Date      string
	ClickID   string
	Source    bool
	AccountID bool
}

func (k Keys) Columns() []string {
	cols := []string{k.Date, k.ClickID}
	if k.Source {
		cols = append(cols, colSource)
	}
	if k.AccountID {
		cols = append(cols, colAccountID)
	}
	return cols
}

func (k Keys) isKey(col string) bool {
	switch col {
	case k.Date, k.ClickID:
		return true
	case colSource:
		return k.Source
	case colAccountID:
		return k.AccountID
	}
	return false
}

// Keys probes the schema for the natural key. account_id only joins the key
// when the column exists and an account is given.
func (s Schema) Keys(accountID string) (Keys, error) {
	date, ok := s.First(DateColumns...)
	if !ok {
		return Keys{}, ErrNoKeyColumns
	}
	click, ok := s.First(ClickIDColumns...)
	if !ok {
		return Keys{}, ErrNoKeyColumns
	}
	return Keys{
		Date:      date,
		ClickID:   click,
		Source:    s.Has(colSource),
		AccountID: s.Has(colAccountID) && accountID != "",
	}, nil
}

// writePlan is the column list and value mapping used to persist records.
type writePlan struct {
	keys    Keys
	columns []string
	updates []string
}

func (s Schema) plan(accountID string) (writePlan, error) {
	keys, err := s.Keys(accountID)
	if err != nil {
		return writePlan{}, err
	}
	p := writePlan{keys: keys}
	for _, col := range s.Columns {
		switch {
		case col == colAccountID:
			if accountID == "" {
				continue
			}
		case col == colSource:
		default:
			if _, ok := physicalToField[col]; !ok {
				continue
			}
		}
		p.columns = append(p.columns, col)
		if !keys.isKey(col) {
			p.updates = append(p.updates, col)
		}
	}
	return p, nil
}

// values lays out one record in plan column order.
func (p writePlan) values(rec models.AggregatedRecord, source, accountID string) []any {
	out := make([]any, len(p.columns))
	for i, col := range p.columns {
		switch col {
		case colAccountID:
			out[i] = accountID
		case colSource:
			out[i] = source
		default:
			out[i] = fieldValue(rec, physicalToField[col])
		}
	}
	return out
}

func fieldValue(rec models.AggregatedRecord, field string) any {
	switch field {
	case FieldPeriodDate:
		return dateOnly(rec.Key.PeriodDate)
	case FieldClickID:
		return rec.Key.ClickID
	case FieldFTD:
		return rec.FTD
	case FieldDepCnt:
		return rec.DepCnt
	case FieldDepSum:
		return rec.DepSum
	case FieldNGR:
		return rec.NGR
	case FieldCPA:
		return rec.CPA
	}
	return nil
}

func dateOnly(t time.Time) time.Time { return models.Day(t) }
