// Package risk implements the reentry engine's risk-derived sizing
// algorithm (§4.4): effective risk percentage composition, chain-budget
// clamping, and lot derivation. Every intermediate value is a
// decimal.Decimal — see other_examples/07ff2077_web3guy0-polybot__risk-gate.go
// for the same discipline applied to a live-trading risk gate.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dmarsh/reentry-engine/internal/domain"
)

var (
	maxRiskCap        = decimal.NewFromFloat(domain.MaxRiskCapPercent)
	breakoutMinPips   = decimal.NewFromInt(20)
	outcomeModWin     = decimal.NewFromFloat(1.0)
	outcomeModLoss    = decimal.NewFromFloat(0.7)
	outcomeModBE      = decimal.NewFromFloat(0.9) // the six-bucket {3} -> 0.9 case, reachable via BE
)

// genDefaultReduction is the generation default reduction of §4.4 step 2,
// keyed by the *target* generation of the reentry being sized (the
// generation one step past the trade that just closed).
func genDefaultReduction(gen domain.Generation) decimal.Decimal {
	switch gen {
	case domain.GenO:
		return decimal.NewFromFloat(1.0)
	case domain.GenR1:
		return decimal.NewFromFloat(0.8)
	case domain.GenR2:
		return decimal.NewFromFloat(0.5)
	default:
		return decimal.Zero
	}
}

// outcomeModifier is §4.4 step 3. WIN/SKIP -> 1.0, BE -> 0.9,
// LOSS/REJECT/CANCEL -> 0.7. BE carries the documented {3} -> 0.9 bucket per §9's open
// question resolution, kept distinct from WIN/SKIP's {4,5,6} -> 1.0.
func outcomeModifier(o domain.Outcome) decimal.Decimal {
	switch o {
	case domain.OutcomeWin, domain.OutcomeSkip:
		return outcomeModWin
	case domain.OutcomeBE:
		return outcomeModBE
	case domain.OutcomeLoss, domain.OutcomeReject, domain.OutcomeCancel:
		return outcomeModLoss
	default:
		return decimal.Zero
	}
}

// ClassifyBreakout derives the breakout classification of §4.4 step 4
// from the realized pips and elapsed minutes of the trade that triggered
// this reentry. It does not look at the outcome: Size calls it, and
// applies the resulting override, only when the outcome is profitable.
func ClassifyBreakout(realizedPips, elapsedMinutes float64) domain.BreakoutClass {
	pips := decimal.NewFromFloat(realizedPips).Abs()
	if pips.LessThan(breakoutMinPips) {
		return domain.BreakoutNone
	}
	switch {
	case elapsedMinutes <= 5:
		return domain.BreakoutFlash
	case elapsedMinutes <= 15:
		return domain.BreakoutFast
	case elapsedMinutes <= 30:
		return domain.BreakoutNormal
	default:
		return domain.BreakoutNone
	}
}

// breakoutOverride returns the override multiplier for a breakout class
// at a given target generation, and whether one is defined at all. Only
// R1 values are documented for FAST/NORMAL; FLASH additionally documents
// an R2 value (noted in the spec as practically unreachable since a
// trade already at R2 never reenters again).
func breakoutOverride(class domain.BreakoutClass, gen domain.Generation) (decimal.Decimal, bool) {
	switch class {
	case domain.BreakoutFlash:
		switch gen {
		case domain.GenR1:
			return decimal.NewFromFloat(1.0), true
		case domain.GenR2:
			return decimal.NewFromFloat(0.8), true
		}
	case domain.BreakoutFast:
		if gen == domain.GenR1 {
			return decimal.NewFromFloat(0.9), true
		}
	case domain.BreakoutNormal:
		if gen == domain.GenR1 {
			return decimal.NewFromFloat(0.7), true
		}
	}
	return decimal.Zero, false
}

// SizingRequest is the input to Size (§4.4).
type SizingRequest struct {
	AccountBalanceNow       float64
	ParameterSet            domain.ParameterSet
	ChainMaxLossPct         float64 // ChainState.MaxChainLossPct
	ChainCumulativeUsedPct  float64 // ChainState.CumulativeUsedRiskPct
	StopLossPipsEffective   float64
	InstrumentPipValuePerLot float64
	Generation              domain.Generation // target generation of the reentry being sized
	Outcome                 domain.Outcome    // outcome of the trade that triggered this reentry
	RealizedPips            float64
	ElapsedMinutes          float64
	BrokerMinLot            float64
	BrokerMaxLot            float64
	BrokerLotStep           float64
}

// SizingDecision is the output of Size. When Terminated is non-empty the
// caller must treat this as an END_TRADING result and must not place an
// order — Lots is meaningless in that case.
type SizingDecision struct {
	Lots               float64
	ActualRiskPct      float64
	ActualRiskAmount   float64
	RawRiskPct         float64
	CappedByChainBudget bool
	ClassificationUsed domain.BreakoutClass
	RoundedDown        bool
	Terminated         domain.ChainTerminationReason
}

// Size runs the full §4.4 algorithm. Generation must be GenR1 or GenR2;
// the engine must never be called for any other target generation.
func Size(req SizingRequest) (SizingDecision, error) {
	if req.Generation != domain.GenR1 && req.Generation != domain.GenR2 {
		return SizingDecision{}, fmt.Errorf("risk.Size: generation %q must not be sized — the engine is never called beyond R2", req.Generation)
	}
	if !req.Outcome.Valid() {
		return SizingDecision{}, fmt.Errorf("risk.Size: %w: %q", domain.ErrInvalidOutcome, req.Outcome)
	}

	// Step 1: base effective risk%.
	globalRisk := decimal.NewFromFloat(req.ParameterSet.GlobalRiskPercent)
	multiplier := decimal.NewFromFloat(req.ParameterSet.RiskMultiplier)
	if multiplier.IsZero() {
		multiplier = decimal.NewFromFloat(1.0)
	}
	rawBase := decimal.Min(globalRisk.Mul(multiplier), maxRiskCap)

	// Steps 2-4: compose the multiplier.
	m := genDefaultReduction(req.Generation).Mul(outcomeModifier(req.Outcome))
	breakoutClass := domain.BreakoutNone
	if req.Outcome.Profitable() {
		breakoutClass = ClassifyBreakout(req.RealizedPips, req.ElapsedMinutes)
		if override, ok := breakoutOverride(breakoutClass, req.Generation); ok && override.GreaterThan(m) {
			m = override
		}
	}

	// Step 5: compose candidate risk pct.
	p := decimal.Min(rawBase.Mul(m), maxRiskCap)
	rawRiskPct, _ := p.Float64()

	// Step 6: chain budget.
	remaining := decimal.NewFromFloat(req.ChainMaxLossPct).Sub(decimal.NewFromFloat(req.ChainCumulativeUsedPct))
	cappedByBudget := false
	if p.GreaterThan(remaining) {
		p = remaining
		cappedByBudget = true
	}
	if p.LessThanOrEqual(decimal.Zero) {
		return SizingDecision{
			RawRiskPct:          rawRiskPct,
			CappedByChainBudget: true,
			ClassificationUsed:  breakoutClass,
			Terminated:          domain.ReasonChainBudgetExhausted,
		}, nil
	}

	// Step 7: lot derivation.
	balance := decimal.NewFromFloat(req.AccountBalanceNow)
	stopPips := decimal.NewFromFloat(req.StopLossPipsEffective)
	pipValue := decimal.NewFromFloat(req.InstrumentPipValuePerLot)

	riskAmount := balance.Mul(p).Div(decimal.NewFromInt(100))
	denom := stopPips.Mul(pipValue)
	if denom.LessThanOrEqual(decimal.Zero) {
		return SizingDecision{}, fmt.Errorf("risk.Size: non-positive stop distance * pip value")
	}
	rawLots := riskAmount.Div(denom)

	step := decimal.NewFromFloat(req.BrokerLotStep)
	if step.LessThanOrEqual(decimal.Zero) {
		return SizingDecision{}, fmt.Errorf("risk.Size: broker lot step must be positive")
	}
	lots := truncateToStep(rawLots, step)
	roundedDown := !lots.Equal(rawLots)

	minLot := decimal.NewFromFloat(req.BrokerMinLot)
	maxLot := decimal.NewFromFloat(req.BrokerMaxLot)
	if lots.LessThan(minLot) {
		lots = decimal.Zero
	} else if lots.GreaterThan(maxLot) {
		lots = maxLot
	}

	if lots.LessThanOrEqual(decimal.Zero) {
		return SizingDecision{
			RawRiskPct:          rawRiskPct,
			CappedByChainBudget: cappedByBudget,
			ClassificationUsed:  breakoutClass,
			RoundedDown:         roundedDown,
			Terminated:          domain.ReasonSubMinLot,
		}, nil
	}

	// Step 8: back-solve actuals.
	actualRiskAmount := lots.Mul(stopPips).Mul(pipValue)
	actualRiskPct := actualRiskAmount.Div(balance).Mul(decimal.NewFromInt(100))

	lotsF, _ := lots.Float64()
	actualAmountF, _ := actualRiskAmount.Float64()
	actualPctF, _ := actualRiskPct.Float64()

	return SizingDecision{
		Lots:                lotsF,
		ActualRiskPct:       actualPctF,
		ActualRiskAmount:    actualAmountF,
		RawRiskPct:          rawRiskPct,
		CappedByChainBudget: cappedByBudget,
		ClassificationUsed:  breakoutClass,
		RoundedDown:         roundedDown,
	}, nil
}

// truncateToStep rounds x down toward zero to the nearest multiple of
// step — never up, per §4.4's explicit "round down" rule for lot sizing.
func truncateToStep(x, step decimal.Decimal) decimal.Decimal {
	steps := x.Div(step).Truncate(0)
	return steps.Mul(step)
}
