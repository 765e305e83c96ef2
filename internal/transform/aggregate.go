package transform

import (
	"math"
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/AngelCh415/affilka-etl/internal/models"
)

// sums accumulate in decimal so the result does not depend on input order.
type sums struct {
	ftd                      float64
	depCnt, depSum, ngr, cpa decimal.Decimal
}

func (s *sums) add(r models.FlatRecord) {
	s.ftd = max(s.ftd, finite(r.FTD))
	s.depCnt = s.depCnt.Add(decimal.NewFromFloat(finite(r.DepCnt)))
	s.depSum = s.depSum.Add(decimal.NewFromFloat(finite(r.DepSum)))
	s.ngr = s.ngr.Add(decimal.NewFromFloat(finite(r.NGR)))
	s.cpa = s.cpa.Add(decimal.NewFromFloat(finite(r.CPA)))
}

// finite maps NaN and the infinities to 0; decimal cannot represent them.
func finite(f float64) float64 {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}

func toFloat(d decimal.Decimal) float64 { return finite(d.InexactFloat64()) }

// Aggregate collapses normalized records into one row per (period date, click id).
// FTD is a flag and keeps the maximum; every other metric is summed.
func Aggregate(recs []models.FlatRecord) []models.AggregatedRecord {
	groups := make(map[models.AggregateKey]*sums, len(recs))
	for _, r := range recs {
		k := models.AggregateKey{PeriodDate: models.Day(r.PeriodDate), ClickID: r.ClickID}
		s, ok := groups[k]
		if !ok {
			s = &sums{}
			groups[k] = s
		}
		s.add(r)
	}

	out := lo.MapToSlice(groups, func(k models.AggregateKey, s *sums) models.AggregatedRecord {
		return models.AggregatedRecord{
			Key:    k,
			FTD:    s.ftd,
			DepCnt: toFloat(s.depCnt),
			DepSum: toFloat(s.depSum),
			NGR:    toFloat(s.ngr),
			CPA:    toFloat(s.cpa),
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Key.PeriodDate.Equal(out[j].Key.PeriodDate) {
			return out[i].Key.PeriodDate.Before(out[j].Key.PeriodDate)
		}
		return out[i].Key.ClickID < out[j].Key.ClickID
	})
	return out
}
