package transform

import (
	"log/slog"
	"strings"

	"github.com/AngelCh415/affilka-etl/internal/models"
)

// Normalize canonicalizes a click identifier. The second result is false when
// nothing usable is left.
func Normalize(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == "none" || s == "null" {
		return "", false
	}
	return s, true
}

// NormalizeRecords rewrites each record's click id into canonical form and drops
// the ones that normalize to nothing.
func NormalizeRecords(recs []models.FlatRecord, log *slog.Logger) ([]models.FlatRecord, int) {
	if log == nil {
		log = slog.Default()
	}
	out := make([]models.FlatRecord, 0, len(recs))
	dropped := 0
	for _, r := range recs {
		id, ok := Normalize(r.ClickID)
		if !ok {
			dropped++
			log.Warn("record dropped: click id normalizes to empty",
				slog.String("clickid", r.ClickID),
				slog.String("period_date", r.PeriodDate.Format("2006-01-02")))
			continue
		}
		if r.PeriodDate.IsZero() {
			dropped++
			log.Warn("record dropped: missing period date", slog.String("clickid", id))
			continue
		}
		r.ClickID = id
		out = append(out, r)
	}
	return out, dropped
}
