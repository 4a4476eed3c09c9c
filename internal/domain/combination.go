package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// CombinationId is the canonical classification key for a closed trade:
//
//	gen ":" sig [ ":" dur ] ":" prox ":" outc
//
// The dur segment is present iff sig is an ECO-class signal. Producers
// must canonicalize before comparing or persisting — the regex below is
// the single source of truth for what a legal key looks like.
type CombinationId string

var combinationPattern = regexp.MustCompile(
	`^(O|R1|R2):(ECO_HIGH|ECO_MED|ANTICIPATION_1HR|ANTICIPATION_8HR|EQUITY_OPEN_ASIA|EQUITY_OPEN_EUROPE|EQUITY_OPEN_USA|ALL_INDICATORS)` +
		`(:(FLASH|QUICK|LONG|EXTENDED))?` +
		`:(IMMEDIATE|SHORT|LONG|EXTENDED)` +
		`:(WIN|LOSS|BE|SKIP|REJECT|CANCEL)$`,
)

// NewCombinationId builds and canonicalizes a CombinationId from its
// typed parts. dur must be empty unless sig is ECO-class, and must be
// non-empty when it is.
func NewCombinationId(gen Generation, sig SignalClass, dur DurationBucket, prox Proximity, outc Outcome) (CombinationId, error) {
	if !gen.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidGeneration, gen)
	}
	if !sig.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSignal, sig)
	}
	if !outc.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, outc)
	}

	parts := []string{string(gen), string(sig)}
	if sig.IsEco() {
		if dur == "" {
			return "", fmt.Errorf("combination: signal %s requires a duration bucket", sig)
		}
		parts = append(parts, string(dur))
	} else if dur != "" {
		return "", fmt.Errorf("combination: signal %s must not carry a duration bucket", sig)
	}
	parts = append(parts, string(prox), string(outc))

	id := CombinationId(strings.Join(parts, ":"))
	if !combinationPattern.MatchString(string(id)) {
		return "", fmt.Errorf("combination: %q does not match the canonical grammar", id)
	}
	return id, nil
}

// ParseCombinationId validates a raw string against the combination
// grammar and returns it typed. Parse-then-format is the identity on
// valid inputs — ParseCombinationId never rewrites a well-formed key.
func ParseCombinationId(s string) (CombinationId, error) {
	if !combinationPattern.MatchString(s) {
		return "", fmt.Errorf("combination: %q does not match the canonical grammar", s)
	}
	return CombinationId(s), nil
}

// Parts splits a valid CombinationId back into its typed components.
func (c CombinationId) Parts() (gen Generation, sig SignalClass, dur DurationBucket, prox Proximity, outc Outcome, err error) {
	fields := strings.Split(string(c), ":")
	switch len(fields) {
	case 4:
		gen, sig, prox, outc = Generation(fields[0]), SignalClass(fields[1]), Proximity(fields[2]), Outcome(fields[3])
	case 5:
		gen, sig, dur, prox, outc = Generation(fields[0]), SignalClass(fields[1]), DurationBucket(fields[2]), Proximity(fields[3]), Outcome(fields[4])
	default:
		err = fmt.Errorf("combination: %q has %d fields, want 4 or 5", c, len(fields))
		return
	}
	if !gen.Valid() {
		err = fmt.Errorf("%w: %q", ErrInvalidGeneration, gen)
		return
	}
	if !sig.Valid() {
		err = fmt.Errorf("%w: %q", ErrInvalidSignal, sig)
		return
	}
	if !outc.Valid() {
		err = fmt.Errorf("%w: %q", ErrInvalidOutcome, outc)
		return
	}
	return
}

func (c CombinationId) String() string { return string(c) }

// Generation is a convenience accessor over Parts for the gen segment,
// used by the matrix store to enforce the R2-terminal invariant without
// requiring every caller to destructure the full tuple.
func (c CombinationId) Generation() Generation {
	gen, _, _, _, _, err := c.Parts()
	if err != nil {
		return ""
	}
	return gen
}
