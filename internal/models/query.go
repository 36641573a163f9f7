package models

import (
	"fmt"
	"time"
)

// DefaultRecentLimit is the number of records returned by a recent-history query without a limit.
const DefaultRecentLimit = 50

// MaxHistoryLimit caps a single history query.
const MaxHistoryLimit = 1000

// HistoryFilter narrows a history search. Zero values mean "no constraint".
// From and To bound the processing timestamp inclusively.
type HistoryFilter struct {
	DocumentType string    `json:"document_type,omitempty"`
	From         time.Time `json:"from,omitempty"`
	To           time.Time `json:"to,omitempty"`
	Limit        int       `json:"limit,omitempty"`
}

// Validate checks the filter and clamps its limit. A zero limit stays unlimited.
func (f *HistoryFilter) Validate() error {
	if f.Limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return fmt.Errorf("date range is inverted: %s after %s", f.From.Format(time.RFC3339), f.To.Format(time.RFC3339))
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	return nil
}

// ParseFilterTime accepts RFC 3339 or a bare local date. With endOfDay a bare date
// covers the whole day, for use as an inclusive upper bound. Empty input is the zero time.
func ParseFilterTime(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
