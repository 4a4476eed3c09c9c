// Package calendar provides a deterministic, file-backed reference
// implementation of the classify.CalendarLookup port. The real
// economic-calendar ingester is an out-of-scope external collaborator
// (§1); this adapter exists so the engine can run end-to-end in tests,
// replay, and small deployments without one.
package calendar

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

type event struct {
	currency string
	at       time.Time
}

// CSVCalendar loads a flat `currency,event_time_utc` CSV into memory and
// answers MinutesToNextEvent by binary search, entirely in-process —
// matching the classifier's requirement that the lookup be a pure
// function of its inputs once constructed.
type CSVCalendar struct {
	byCurrency map[string][]time.Time
}

// LoadCSV reads a two-column CSV (header: currency,event_time_utc) and
// returns a calendar sorted per currency for efficient lookup.
func LoadCSV(path string) (*CSVCalendar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: open %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("calendar: read %q: %w", path, err)
	}
	if len(rows) == 0 {
		return &CSVCalendar{byCurrency: map[string][]time.Time{}}, nil
	}

	byCurrency := map[string][]time.Time{}
	for _, row := range rows[1:] {
		if len(row) != 2 {
			return nil, fmt.Errorf("calendar: %q: expected 2 columns, got %d", path, len(row))
		}
		currency := strings.ToUpper(strings.TrimSpace(row[0]))
		at, err := time.Parse(time.RFC3339, row[1])
		if err != nil {
			return nil, fmt.Errorf("calendar: %q: bad event_time_utc %q: %w", path, row[1], err)
		}
		byCurrency[currency] = append(byCurrency[currency], at.UTC())
	}
	for _, times := range byCurrency {
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	}
	return &CSVCalendar{byCurrency: byCurrency}, nil
}

// MinutesToNextEvent implements classify.CalendarLookup.
func (c *CSVCalendar) MinutesToNextEvent(symbolCurrency string, at time.Time) (float64, bool) {
	times := c.byCurrency[strings.ToUpper(symbolCurrency)]
	if len(times) == 0 {
		return 0, false
	}
	idx := sort.Search(len(times), func(i int) bool { return times[i].After(at) })
	if idx == len(times) {
		return 0, false
	}
	return times[idx].Sub(at).Minutes(), true
}
