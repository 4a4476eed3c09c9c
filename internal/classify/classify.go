// Package classify buckets a closed trade into the finite combination
// key the Matrix Store resolves (§4.1). It is a pure function of its
// inputs: no I/O, no state, fully deterministic.
package classify

import (
	"fmt"
	"time"

	"github.com/dmarsh/reentry-engine/internal/domain"
)

// CalendarLookup is the pure-function port the classifier uses to
// derive proximity. Implementations must be pure in (symbolCurrency, at)
// — the economic-calendar ingester that backs it in production is out
// of scope for this core (§1).
type CalendarLookup interface {
	// MinutesToNextEvent returns the minutes from at to the next
	// same-currency high/medium event, or ok=false if there is none
	// known (stale or missing calendar data).
	MinutesToNextEvent(symbolCurrency string, at time.Time) (minutes float64, ok bool)
}

// CalendarLookupFunc adapts a plain function to CalendarLookup.
type CalendarLookupFunc func(symbolCurrency string, at time.Time) (float64, bool)

func (f CalendarLookupFunc) MinutesToNextEvent(symbolCurrency string, at time.Time) (float64, bool) {
	return f(symbolCurrency, at)
}

// Classifier derives a domain.CombinationId from a closed-trade event.
type Classifier struct {
	calendar CalendarLookup
}

// New builds a Classifier bound to a calendar lookup.
func New(calendar CalendarLookup) *Classifier {
	return &Classifier{calendar: calendar}
}

// Classify maps a closed trade to its canonical combination id.
//
// InvalidSignal and InvalidGeneration are fatal for the current event —
// the caller (the orchestrator) is responsible for terminating the
// chain with reason CLASSIFY_FAILURE when Classify returns an error.
func (c *Classifier) Classify(event domain.ClosedTradeEvent) (domain.CombinationId, error) {
	if !event.Generation.Valid() {
		return "", fmt.Errorf("classify: %w: %q", domain.ErrInvalidGeneration, event.Generation)
	}
	if !event.Signal.Valid() {
		return "", fmt.Errorf("classify: %w: %q", domain.ErrInvalidSignal, event.Signal)
	}
	if !event.Outcome.Valid() {
		return "", fmt.Errorf("classify: %w: %q", domain.ErrInvalidOutcome, event.Outcome)
	}

	var dur domain.DurationBucket
	if event.Signal.IsEco() {
		dur = DurationBucketFor(event.ClosedAtUTC.Sub(event.OpenedAtUTC))
	}

	prox := c.proximityFor(event)

	return domain.NewCombinationId(event.Generation, event.Signal, dur, prox, event.Outcome)
}

// DurationBucketFor buckets a holding duration per §3.1/§8.3: boundaries
// are inclusive on the upper edge, and a zero (same-tick) duration
// buckets into FLASH.
func DurationBucketFor(d time.Duration) domain.DurationBucket {
	switch {
	case d <= 5*time.Minute:
		return domain.DurationFlash
	case d <= 15*time.Minute:
		return domain.DurationQuick
	case d <= 30*time.Minute:
		return domain.DurationLong
	default:
		return domain.DurationExtended
	}
}

// ProximityFor buckets minutes-to-next-event per §3.1/§8.3: boundaries
// are inclusive on the upper edge. Missing data degrades to EXTENDED
// rather than failing — the classifier must never fail on stale
// calendar data.
func ProximityFor(minutes float64, ok bool) domain.Proximity {
	if !ok {
		return domain.ProximityExtended
	}
	switch {
	case minutes <= 5:
		return domain.ProximityImmediate
	case minutes <= 60:
		return domain.ProximityShort
	case minutes <= 240:
		return domain.ProximityLong
	default:
		return domain.ProximityExtended
	}
}

// symbolCurrency extracts the base currency from an FX symbol as its
// first 3 characters (e.g. "EURUSD" -> "EUR"). Symbols shorter than 3
// characters are passed through unchanged; the calendar lookup treats an unrecognized currency
// the same as "no event known."
func symbolCurrency(symbol string) string {
	if len(symbol) >= 3 {
		return symbol[:3]
	}
	return symbol
}

func (c *Classifier) proximityFor(event domain.ClosedTradeEvent) domain.Proximity {
	if c.calendar == nil {
		return domain.ProximityExtended
	}
	minutes, ok := c.calendar.MinutesToNextEvent(symbolCurrency(event.Symbol), event.ClosedAtUTC)
	return ProximityFor(minutes, ok)
}
