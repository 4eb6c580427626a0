// Package report answers dashboard and breakdown queries over the analytics
// tables. Every report is a named function with typed rows.
package report

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultWindow = 30 * 24 * time.Hour
	topLimit      = 10
	dateLayout    = "2006-01-02"
)

// ErrInvalidRange is returned for unparsable or inverted date ranges.
var ErrInvalidRange = errors.New("report: invalid date range")

// DateRange is an inclusive time window in UTC.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParseRange reads optional start/end values, either dates or RFC 3339
// timestamps. A date-only end covers that whole day. Missing bounds default
// to the trailing 30 days through now.
func ParseRange(start, end string, now time.Time) (DateRange, error) {
	now = now.UTC()
	r := DateRange{Start: now.Add(-defaultWindow), End: now}

	if end = strings.TrimSpace(end); end != "" {
		t, dateOnly, err := parseBound(end)
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: endDate %q", ErrInvalidRange, end)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		r.End = t
		r.Start = t.Add(-defaultWindow)
	}
	if start = strings.TrimSpace(start); start != "" {
		t, _, err := parseBound(start)
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: startDate %q", ErrInvalidRange, start)
		}
		r.Start = t
	}
	if r.Start.After(r.End) {
		return DateRange{}, fmt.Errorf("%w: start after end", ErrInvalidRange)
	}
	return r, nil
}

func parseBound(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}

// DefaultRange is the trailing 30 days through now.
func DefaultRange(now time.Time) DateRange {
	now = now.UTC()
	return DateRange{Start: now.Add(-defaultWindow), End: now}
}

// Share is one group of a breakdown with its percentage of the total.
type Share struct {
	Key        string  `json:"key"        gorm:"column:group_key"`
	Count      int64   `json:"count"      gorm:"column:total"`
	Percentage float64 `json:"percentage" gorm:"-"`
}

// Service runs reports against the analytics tables.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

func NewService(db *gorm.DB, now func() time.Time, logger *zap.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     db,
		now:    func() time.Time { return now().UTC() },
		logger: logger.Named("Report"),
	}
}

// Now is the service clock in UTC.
func (s *Service) Now() time.Time { return s.now() }

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func percent(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round2(float64(part) * 100 / float64(total))
}

func withPercentages(rows []Share, total int64) []Share {
	for i := range rows {
		rows[i].Percentage = percent(rows[i].Count, total)
	}
	return rows
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
