package report

import (
	"log/slog"
	"strings"
	"time"

	"github.com/AngelCh415/affilka-etl/internal/models"
)

// Stats counts what a parse pass kept and dropped.
type Stats struct {
	Rows    int
	Parsed  int
	Dropped int
}

// Parse flattens a partner report into records keyed by date and click identifier.
// Rows without a resolvable date or identifier are dropped with a warning.
func Parse(rep *models.Report, log *slog.Logger) []models.FlatRecord {
	out, _ := ParseWithStats(rep, log)
	return out
}

func ParseWithStats(rep *models.Report, log *slog.Logger) ([]models.FlatRecord, Stats) {
	var st Stats
	if log == nil {
		log = slog.Default()
	}
	if rep == nil || rep.Rows == nil {
		log.Warn("report has no rows container")
		return nil, st
	}
	if len(rep.Rows.Data) == 0 {
		log.Warn("report has no rows.data entries", slog.String("report_type", rep.ReportType))
		return nil, st
	}

	out := make([]models.FlatRecord, 0, len(rep.Rows.Data))
	for i, row := range rep.Rows.Data {
		st.Rows++
		rec, ok := parseRow(row, log)
		if !ok {
			st.Dropped++
			log.Warn("row dropped: missing period date or click id",
				slog.Int("row", i),
				slog.Bool("has_date", !rec.PeriodDate.IsZero()),
				slog.Bool("has_clickid", rec.ClickID != ""))
			continue
		}
		out = append(out, rec)
	}
	st.Parsed = len(out)
	log.Info("report parsed", slog.Int("rows", st.Rows), slog.Int("parsed", st.Parsed), slog.Int("dropped", st.Dropped))
	return out, st
}

func parseRow(row []models.RawField, log *slog.Logger) (models.FlatRecord, bool) {
	rec := models.FlatRecord{}
	bestTier := len(IdentifierTiers)

	for _, f := range row {
		if f.Name == "" {
			continue
		}

		if tier, ok := identifierTier[f.Name]; ok {
			if isCampaignField(f.Name) {
				if s, ok := f.Value.Text(); ok {
					rec.CampaignID = s
				}
			}
			if tier < bestTier {
				if id, ok := acceptIdentifier(f.Value); ok {
					rec.ClickID = id
					bestTier = tier
				}
			}
			continue
		}

		if f.Name == dateField {
			if d, ok := parseDate(f.Value); ok {
				rec.PeriodDate = d
			} else {
				log.Warn("unparseable report date", slog.Any("value", f.Value.Interface()))
			}
			continue
		}

		if mf, ok := MetricFields[f.Name]; ok {
			n := Coerce(f.Value)
			if mf.amount {
				n = Amount(f.Value)
			}
			setMetric(&rec, mf.metric, n)
			continue
		}

		if rec.Extra == nil {
			rec.Extra = make(map[string]models.Value)
		}
		rec.Extra["_"+f.Name] = f.Value
	}

	return rec, !rec.PeriodDate.IsZero() && rec.ClickID != ""
}

func setMetric(rec *models.FlatRecord, m Metric, n float64) {
	switch m {
	case MetricFTD:
		rec.FTD = n
	case MetricDepCnt:
		rec.DepCnt = n
	case MetricDepSum:
		rec.DepSum = n
	case MetricNGR:
		rec.NGR = n
	case MetricCPA:
		rec.CPA = n
	}
}

// acceptIdentifier trims a candidate and rejects empty and sentinel values.
func acceptIdentifier(v models.Value) (string, bool) {
	s, ok := v.Text()
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if IsSentinel(s) {
		return "", false
	}
	return s, true
}

// IsSentinel reports whether an identifier is empty or a null placeholder.
func IsSentinel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none":
		return true
	}
	return false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate reads an ISO-8601 date or timestamp and keeps its calendar date.
func parseDate(v models.Value) (time.Time, bool) {
	if v.Kind != models.KindString {
		return time.Time{}, false
	}
	s := strings.TrimSpace(v.String)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Day(t), true
		}
	}
	return time.Time{}, false
}
