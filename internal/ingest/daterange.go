package ingest

import (
	"fmt"
	"time"

	"github.com/AngelCh415/affilka-etl/internal/models"
)

// ResolveRange turns optional YYYY-MM-DD bounds into a run range. With
// daysBack > 0 the range is today-daysBack..today; otherwise missing bounds
// default to the first of the current month and today.
func ResolveRange(fromStr, toStr string, daysBack int, now time.Time) (time.Time, time.Time, error) {
	today := models.Day(now)
	if daysBack > 0 {
		if fromStr != "" || toStr != "" {
			return time.Time{}, time.Time{}, fmt.Errorf("days-back cannot be combined with from/to")
		}
		return today.AddDate(0, 0, -daysBack), today, nil
	}

	from := today.AddDate(0, 0, 1-today.Day())
	to := today
	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.DateOnly, fromStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.DateOnly, toStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("from %s is after to %s", fromStr, toStr)
	}
	return from, to, nil
}
