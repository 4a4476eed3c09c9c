package paramset

import (
	"fmt"

	"github.com/dmarsh/reentry-engine/internal/domain"
)

// Issue is one schema or cross-field violation, carrying an E1xxx code
// (§7) that appears in the ValidationError text; no bus row is emitted
// for it.
type Issue struct {
	Code    string
	Field   string
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Code, i.Field, i.Message)
}

// ValidationError aggregates one or more Issues. Errors.Is matches
// domain.ErrSchemaViolation.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return e.Issues[0].String()
	}
	s := fmt.Sprintf("%d validation issues", len(e.Issues))
	for _, iss := range e.Issues {
		s += "; " + iss.String()
	}
	return s
}

func (e *ValidationError) Unwrap() error { return domain.ErrSchemaViolation }

func inRange(v, lo, hi float64) bool { return v >= lo && v <= hi }

// Validate checks a ParameterSet against the §6.1 schema plus the §4.3
// cross-field rules. Returns nil iff the set is legal.
func Validate(ps domain.ParameterSet) error {
	var issues []Issue
	add := func(code, field, msg string) {
		issues = append(issues, Issue{Code: code, Field: field, Message: msg})
	}

	if !ps.ParameterSetId.Valid() {
		add("E1001", "parameter_set_id", "must match ^PS-[a-z0-9-]+$")
	}
	if len(ps.Description) > 200 {
		add("E1002", "description", "must be <= 200 chars")
	}
	if !inRange(ps.GlobalRiskPercent, 0.01, 3.50) {
		add("E1010", "global_risk_percent", "must be in [0.01, 3.50]")
	}
	if ps.RiskMultiplier != 0 && !inRange(ps.RiskMultiplier, 0.10, 3.00) {
		add("E1011", "risk_multiplier", "must be in [0.10, 3.00]")
	}

	if !ps.StopLossMethod.Valid() {
		add("E1020", "stop_loss_method", "must be FIXED, ATR, or PERCENT")
	}
	switch ps.StopLossMethod {
	case domain.StopLossFixed:
		if !inRange(ps.StopLossPips, 5, 1000) {
			add("E1021", "stop_loss_pips", "required in [5, 1000] when stop_loss_method=FIXED")
		}
	case domain.StopLossPercent:
		if !inRange(ps.StopLossPercent, 0.05, 10.0) {
			add("E1022", "stop_loss_percent", "required in [0.05, 10.0] when stop_loss_method=PERCENT")
		}
	case domain.StopLossATR:
		validateATR(ps.StopLossATR, "sl_atr", add)
	}

	if !ps.TakeProfitMethod.Valid() {
		add("E1030", "take_profit_method", "must be FIXED, RR, or ATR")
	}
	switch ps.TakeProfitMethod {
	case domain.TakeProfitFixed:
		if !inRange(ps.TakeProfitPips, 5, 1000) {
			add("E1031", "take_profit_pips", "required in [5, 1000] when take_profit_method=FIXED")
		}
		if ps.StopLossMethod == domain.StopLossFixed && ps.TakeProfitPips <= ps.StopLossPips {
			add("E1032", "take_profit_pips", "must be > stop_loss_pips when both methods are FIXED")
		}
	case domain.TakeProfitRR:
		if ps.TakeProfitRR <= 0 {
			add("E1033", "take_profit_rr", "required and > 0 when take_profit_method=RR")
		}
	case domain.TakeProfitATR:
		validateATR(ps.TakeProfitATR, "tp_atr", add)
	}

	if !ps.EntryOrderType.Valid() {
		add("E1040", "entry_order_type", "must be MARKET, BUY_STOP_ONLY, SELL_STOP_ONLY, or STRADDLE")
	}
	if ps.EntryOrderType == domain.EntryStraddle {
		if ps.Straddle.BuyStopDistancePips <= 0 || ps.Straddle.SellStopDistancePips <= 0 {
			add("E1041", "straddle", "both straddle distances must be set and positive when entry_order_type=STRADDLE")
		}
	}

	if ps.ReentryRiskMethod != "" && !ps.ReentryRiskMethod.Valid() {
		add("E1050", "reentry_risk_method", "must be one of MAINTAIN_ORIGINAL, MAINTAIN_PERCENT, REDUCE_PROGRESSIVE, CHAIN_RISK_BUDGET")
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func validateATR(a domain.ATR, prefix string, add func(code, field, msg string)) {
	if !inRange(a.Multiple, 0.5, 10.0) {
		add("E1060", prefix+"_multiple", "required in [0.5, 10.0]")
	}
	if a.Period < 5 || a.Period > 200 {
		add("E1061", prefix+"_period", "required in [5, 200]")
	}
	if !a.Timeframe.Valid() {
		add("E1062", prefix+"_timeframe", "required, must be a valid timeframe")
	}
}
