package paramset

import "github.com/dmarsh/reentry-engine/internal/domain"

// wireSet mirrors the §6.1 JSON shape a parameter set is authored in.
// Field names are the spec's own snake_case keys; conversion into
// domain.ParameterSet happens in toDomain, which is also where defaults
// (risk_multiplier = 1.00) get applied.
type wireSet struct {
	ParameterSetId    string  `json:"parameter_set_id"`
	Description       string  `json:"description,omitempty"`
	GlobalRiskPercent float64 `json:"global_risk_percent"`
	RiskMultiplier    *float64 `json:"risk_multiplier,omitempty"`

	StopLossMethod  string   `json:"stop_loss_method"`
	StopLossPips    *float64 `json:"stop_loss_pips,omitempty"`
	StopLossPercent *float64 `json:"stop_loss_percent,omitempty"`
	SLATRMultiple   *float64 `json:"sl_atr_multiple,omitempty"`
	SLATRPeriod     *int     `json:"sl_atr_period,omitempty"`
	SLATRTimeframe  string   `json:"sl_atr_timeframe,omitempty"`

	TakeProfitMethod string   `json:"take_profit_method"`
	TakeProfitPips   *float64 `json:"take_profit_pips,omitempty"`
	TakeProfitRR     *float64 `json:"take_profit_rr,omitempty"`
	TPATRMultiple    *float64 `json:"tp_atr_multiple,omitempty"`
	TPATRPeriod      *int     `json:"tp_atr_period,omitempty"`
	TPATRTimeframe   string   `json:"tp_atr_timeframe,omitempty"`

	EntryOrderType       string   `json:"entry_order_type"`
	BuyStopDistancePips  *float64 `json:"buy_stop_distance_pips,omitempty"`
	SellStopDistancePips *float64 `json:"sell_stop_distance_pips,omitempty"`

	TrailingEnabled   bool    `json:"trailing_enabled,omitempty"`
	TrailingActivate  float64 `json:"trailing_activate_pips,omitempty"`
	TrailingStep      float64 `json:"trailing_step_pips,omitempty"`

	BreakevenEnabled bool    `json:"breakeven_enabled,omitempty"`
	BreakevenTrigger float64 `json:"breakeven_trigger_pips,omitempty"`
	BreakevenOffset  float64 `json:"breakeven_offset_pips,omitempty"`

	VolGateEnabled      bool    `json:"vol_gate_enabled,omitempty"`
	VolGateMinATRPips   float64 `json:"vol_gate_min_atr_pips,omitempty"`
	VolGateMaxATRPips   float64 `json:"vol_gate_max_atr_pips,omitempty"`
	VolGateATRPeriod    int     `json:"vol_gate_atr_period,omitempty"`
	VolGateATRTimeframe string  `json:"vol_gate_atr_timeframe,omitempty"`

	ReentryRiskMethod string `json:"reentry_risk_method,omitempty"`

	Extra map[string]any `json:"-"`
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// toDomain converts the wire shape into a domain.ParameterSet, applying
// the risk_multiplier default. It performs no validation — Validate is
// the single source of truth for what makes a parameter set legal.
func (w wireSet) toDomain() domain.ParameterSet {
	return domain.ParameterSet{
		ParameterSetId:    domain.ParameterSetId(w.ParameterSetId),
		Description:       w.Description,
		GlobalRiskPercent: w.GlobalRiskPercent,
		RiskMultiplier:    floatOr(w.RiskMultiplier, 1.0),

		StopLossMethod:  domain.StopLossMethod(w.StopLossMethod),
		StopLossPips:    floatOr(w.StopLossPips, 0),
		StopLossPercent: floatOr(w.StopLossPercent, 0),
		StopLossATR: domain.ATR{
			Multiple:  floatOr(w.SLATRMultiple, 0),
			Period:    intOr(w.SLATRPeriod, 0),
			Timeframe: domain.Timeframe(w.SLATRTimeframe),
		},

		TakeProfitMethod: domain.TakeProfitMethod(w.TakeProfitMethod),
		TakeProfitPips:   floatOr(w.TakeProfitPips, 0),
		TakeProfitRR:     floatOr(w.TakeProfitRR, 0),
		TakeProfitATR: domain.ATR{
			Multiple:  floatOr(w.TPATRMultiple, 0),
			Period:    intOr(w.TPATRPeriod, 0),
			Timeframe: domain.Timeframe(w.TPATRTimeframe),
		},

		EntryOrderType: domain.EntryMethod(w.EntryOrderType),
		Straddle: domain.StraddleDistances{
			BuyStopDistancePips:  floatOr(w.BuyStopDistancePips, 0),
			SellStopDistancePips: floatOr(w.SellStopDistancePips, 0),
		},

		Trailing: domain.TrailingStop{
			Enabled:       w.TrailingEnabled,
			ActivatePips:  w.TrailingActivate,
			TrailStepPips: w.TrailingStep,
		},
		Breakeven: domain.BreakevenRule{
			Enabled:     w.BreakevenEnabled,
			TriggerPips: w.BreakevenTrigger,
			OffsetPips:  w.BreakevenOffset,
		},
		VolGate: domain.VolatilityGate{
			Enabled:      w.VolGateEnabled,
			MinATRPips:   w.VolGateMinATRPips,
			MaxATRPips:   w.VolGateMaxATRPips,
			ATRPeriod:    w.VolGateATRPeriod,
			ATRTimeframe: domain.Timeframe(w.VolGateATRTimeframe),
		},

		ReentryRiskMethod: domain.ReentryRiskMethod(w.ReentryRiskMethod),
		Extra:             w.Extra,
	}
}
