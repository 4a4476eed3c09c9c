package classify

import (
	"testing"
	"time"

	"github.com/dmarsh/reentry-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedCalendar(minutes float64, ok bool) CalendarLookup {
	return CalendarLookupFunc(func(string, time.Time) (float64, bool) { return minutes, ok })
}

func TestClassify_EcoDurationBucket(t *testing.T) {
	opened := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    domain.DurationBucket
	}{
		{"zero duration buckets FLASH", 0, domain.DurationFlash},
		{"5min exactly is FLASH", 5 * time.Minute, domain.DurationFlash},
		{"5min1s is QUICK", 5*time.Minute + time.Second, domain.DurationQuick},
		{"15min exactly is QUICK", 15 * time.Minute, domain.DurationQuick},
		{"15min1s is LONG", 15*time.Minute + time.Second, domain.DurationLong},
		{"30min exactly is LONG", 30 * time.Minute, domain.DurationLong},
		{"30min1s is EXTENDED", 30*time.Minute + time.Second, domain.DurationExtended},
	}

	c := New(fixedCalendar(0, false))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := domain.ClosedTradeEvent{
				Generation:  domain.GenO,
				Signal:      domain.SignalEcoHigh,
				Outcome:     domain.OutcomeWin,
				OpenedAtUTC: opened,
				ClosedAtUTC: opened.Add(tt.elapsed),
			}
			id, err := c.Classify(event)
			require.NoError(t, err)
			_, _, dur, _, _, err := id.Parts()
			require.NoError(t, err)
			assert.Equal(t, tt.want, dur)
		})
	}
}

func TestClassify_NonEcoSignalHasNoDurationSegment(t *testing.T) {
	opened := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(fixedCalendar(0, false))
	event := domain.ClosedTradeEvent{
		Generation:  domain.GenO,
		Signal:      domain.SignalAllIndicators,
		Outcome:     domain.OutcomeWin,
		OpenedAtUTC: opened,
		ClosedAtUTC: opened.Add(2 * time.Hour),
	}
	id, err := c.Classify(event)
	require.NoError(t, err)
	assert.Equal(t, "O:ALL_INDICATORS:EXTENDED:WIN", string(id))
}

func TestClassify_ProximityBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		minutes float64
		ok      bool
		want    domain.Proximity
	}{
		{"5min exactly is IMMEDIATE", 5, true, domain.ProximityImmediate},
		{"5min1 is SHORT", 5.01, true, domain.ProximityShort},
		{"60min exactly is SHORT", 60, true, domain.ProximityShort},
		{"61min is LONG", 61, true, domain.ProximityLong},
		{"240min exactly is LONG", 240, true, domain.ProximityLong},
		{"241min is EXTENDED", 241, true, domain.ProximityExtended},
		{"missing calendar data is EXTENDED", 0, false, domain.ProximityExtended},
	}

	opened := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(fixedCalendar(tt.minutes, tt.ok))
			event := domain.ClosedTradeEvent{
				Generation:  domain.GenO,
				Signal:      domain.SignalAllIndicators,
				Outcome:     domain.OutcomeWin,
				OpenedAtUTC: opened,
				ClosedAtUTC: opened,
			}
			id, err := c.Classify(event)
			require.NoError(t, err)
			_, _, _, prox, _, err := id.Parts()
			require.NoError(t, err)
			assert.Equal(t, tt.want, prox)
		})
	}
}

func TestClassify_InvalidSignalIsFatal(t *testing.T) {
	c := New(fixedCalendar(0, false))
	event := domain.ClosedTradeEvent{
		Generation: domain.GenO,
		Signal:     domain.SignalClass("NOT_A_SIGNAL"),
		Outcome:    domain.OutcomeWin,
	}
	_, err := c.Classify(event)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidSignal)
}

func TestClassify_InvalidGenerationIsFatal(t *testing.T) {
	c := New(fixedCalendar(0, false))
	event := domain.ClosedTradeEvent{
		Generation: domain.Generation("R7"),
		Signal:     domain.SignalAllIndicators,
		Outcome:    domain.OutcomeWin,
	}
	_, err := c.Classify(event)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidGeneration)
}

func TestClassify_ParseThenFormatIsIdentity(t *testing.T) {
	raw := "R1:ECO_HIGH:QUICK:SHORT:LOSS"
	id, err := domain.ParseCombinationId(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, id.String())
}
