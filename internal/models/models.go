package models

import "time"

// RawField is one name/value/type triple of a report row.
type RawField struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
	Type  string `json:"type"`
}

type ReportRows struct {
	Data [][]RawField `json:"data"`
}

// Report is the partner report payload as returned by the API.
type Report struct {
	ReportType string      `json:"report_type"`
	Rows       *ReportRows `json:"rows"`
}

type FlatRecord struct {
	PeriodDate time.Time
	ClickID    string
	CampaignID string
	FTD        float64
	DepCnt     float64
	DepSum     float64
	NGR        float64
	CPA        float64
	Extra      map[string]Value // debug only, keys prefixed with "_"
}

type AggregateKey struct {
	PeriodDate time.Time
	ClickID    string
}

type AggregatedRecord struct {
	Key    AggregateKey
	FTD    float64
	DepCnt float64
	DepSum float64
	NGR    float64
	CPA    float64
}

type FactKey struct {
	PeriodDate time.Time
	ClickID    string
	Source     string
	AccountID  string
}

type FactRow struct {
	Key        FactKey
	FTD        float64
	DepCnt     float64
	DepSum     float64
	NGR        float64
	CPA        float64
	BuyerID    *string
	OfferID    *string
	CreativeID *string
}

// ClickDims is what the identifier mapping source knows about a click.
type ClickDims struct {
	BuyerID    *string
	OfferID    *string
	CreativeID *string
}

// DailyTotals is the per-day summary served by the totals query.
type DailyTotals struct {
	Date     string  `json:"date"`
	Clicks   int     `json:"clicks"`
	FTD      float64 `json:"ftd"`
	DepCnt   float64 `json:"dep_cnt"`
	DepSum   float64 `json:"dep_sum"`
	NGR      float64 `json:"ngr"`
	CPA      float64 `json:"cpa"`
	Accounts int     `json:"accounts"`

	// derived
	AvgDeposit float64 `json:"avg_deposit,omitempty"`
	FTDRate    float64 `json:"ftd_rate,omitempty"`
}

// Day truncates t to its calendar date at UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
