package domain

import "regexp"

// ParameterSetId is a stable slug identifying a ParameterSet in the
// registry: PS-[a-z0-9-]+.
type ParameterSetId string

var parameterSetIdPattern = regexp.MustCompile(`^PS-[a-z0-9-]+$`)

func (id ParameterSetId) Valid() bool {
	return parameterSetIdPattern.MatchString(string(id))
}

func (id ParameterSetId) String() string { return string(id) }

// MaxRiskCapPercent is the system-wide hard ceiling on per-trade risk.
// It is a constant, never user-settable (§3.2 invariants).
const MaxRiskCapPercent = 3.5

// ATR holds the ATR-derived distance parameters shared by stop-loss and
// take-profit when their respective method is ATR.
type ATR struct {
	Multiple  float64
	Period    int
	Timeframe Timeframe
}

// StraddleDistances holds the two pending-order offsets used when
// EntryOrderType is STRADDLE.
type StraddleDistances struct {
	BuyStopDistancePips  float64
	SellStopDistancePips float64
}

// TrailingStop is an optional post-entry stop management rule.
type TrailingStop struct {
	Enabled       bool
	ActivatePips  float64
	TrailStepPips float64
}

// BreakevenRule is an optional move-to-breakeven rule.
type BreakevenRule struct {
	Enabled       bool
	TriggerPips   float64
	OffsetPips    float64
}

// VolatilityGate is an optional volatility-based entry filter.
type VolatilityGate struct {
	Enabled      bool
	MinATRPips   float64
	MaxATRPips   float64
	ATRPeriod    int
	ATRTimeframe Timeframe
}

// ParameterSet is the validated attribute bag a MatrixEntry resolves to.
// Fields are grouped by the method tag that makes them meaningful — the
// tagged-variant shape §9 calls for, instead of a flat dictionary of
// optional fields that can be "present but meaningless."
type ParameterSet struct {
	ParameterSetId    ParameterSetId
	Description       string // <= 200 chars
	GlobalRiskPercent float64
	RiskMultiplier    float64 // default 1.00

	StopLossMethod   StopLossMethod
	StopLossPips     float64 // required iff FIXED
	StopLossPercent  float64 // required iff PERCENT
	StopLossATR      ATR     // required iff ATR

	TakeProfitMethod  TakeProfitMethod
	TakeProfitPips    float64 // required iff FIXED
	TakeProfitRR      float64 // required iff RR
	TakeProfitATR     ATR     // required iff ATR

	EntryOrderType EntryMethod
	Straddle       StraddleDistances // required iff STRADDLE

	Trailing   TrailingStop
	Breakeven  BreakevenRule
	VolGate    VolatilityGate

	ReentryRiskMethod ReentryRiskMethod // optional

	// Extra is not filled by the catalog loader: additional properties
	// the schema permits are accepted and dropped, and the parameter log
	// does not echo them.
	Extra map[string]any
}
