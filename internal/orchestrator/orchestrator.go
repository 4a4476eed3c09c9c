// Package orchestrator is the Decision Orchestrator (§4.7): the glue
// that drives the single-threaded cooperative event loop — tail
// responses, classify, resolve, size, emit, track ACKs, and advance or
// terminate chains. It owns no business rules of its own; everything
// here is sequencing and failure routing across the other components.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dmarsh/reentry-engine/internal/bus"
	"github.com/dmarsh/reentry-engine/internal/calendar"
	"github.com/dmarsh/reentry-engine/internal/classify"
	"github.com/dmarsh/reentry-engine/internal/domain"
	"github.com/dmarsh/reentry-engine/internal/ledger"
	"github.com/dmarsh/reentry-engine/internal/matrix"
	"github.com/dmarsh/reentry-engine/internal/paramset"
	"github.com/dmarsh/reentry-engine/internal/risk"
)

// State is one of the §4.7 state machine's named states. The constants
// only name the states; nothing logs, reports or switches on them — the
// actual control flow in Run/tick is Go control flow, not a state table.
type State string

const (
	StateIdle          State = "Idle"
	StateClassifying   State = "Classifying"
	StateResolving     State = "Resolving"
	StateSizing        State = "Sizing"
	StateEmitting      State = "Emitting"
	StateAwaitingAck   State = "AwaitingAck"
	StateChainUpdating State = "ChainUpdating"
	StateTerminal      State = "Terminal"
)

// BalanceLookup supplies the current account balance for a symbol — an
// out-of-scope external collaborator per §1 (broker connectivity).
type BalanceLookup interface {
	BalanceNow(symbol string) (float64, error)
}

// Config bundles the tunables the orchestrator needs from the loaded
// engine configuration (ack grace, max chain duration, broker lot
// constants) without taking a dependency on the config package itself.
type Config struct {
	AckGrace         time.Duration
	MaxChainDuration time.Duration
	BrokerMinLot     float64
	BrokerMaxLot     float64
	BrokerLotStep    float64
	PipValuePerLot   float64
}

// Orchestrator wires every other component together.
type Orchestrator struct {
	cfg          Config
	classify     *classify.Classifier
	matrix       *matrix.Store
	params       *paramset.Registry
	ledger       *ledger.Ledger
	bus          *bus.SignalBus
	tail         *bus.TailReader
	closedTrades *bus.ClosedTradeTailReader
	balances     BalanceLookup
	pending      map[string]pendingAck // chain_id -> tentative trade awaiting ACK
	now          func() time.Time

	matrixMtime time.Time // last observed mtime of matrix.Store.Path(), for the §4.2 reload poll
}

type pendingAck struct {
	since         time.Time
	combinationID domain.CombinationId
}

// New assembles an Orchestrator. calendarLookup may be nil (the `run`
// command passes nil when no calendar file is given); every trade then
// classifies with EXTENDED proximity. closedTrades may be nil in
// tests that drive HandleClosedTrade directly instead of through Run.
func New(cfg Config, calendarLookup *calendar.CSVCalendar, matrixStore *matrix.Store, params *paramset.Registry, chainLedger *ledger.Ledger, signalBus *bus.SignalBus, tail *bus.TailReader, closedTrades *bus.ClosedTradeTailReader, balances BalanceLookup) *Orchestrator {
	// A typed nil *calendar.CSVCalendar boxed into the CalendarLookup
	// interface would not compare equal to nil inside classify, so the
	// nil check happens here instead, before the interface is built.
	var cal classify.CalendarLookup
	if calendarLookup != nil {
		cal = calendarLookup
	}
	o := &Orchestrator{
		cfg:          cfg,
		classify:     classify.New(cal),
		matrix:       matrixStore,
		params:       params,
		ledger:       chainLedger,
		bus:          signalBus,
		tail:         tail,
		closedTrades: closedTrades,
		balances:     balances,
		pending:      make(map[string]pendingAck),
		now:          func() time.Time { return time.Now().UTC() },
	}
	if matrixStore != nil {
		if info, err := os.Stat(matrixStore.Path()); err == nil {
			o.matrixMtime = info.ModTime()
		}
	}
	return o
}

// Run polls the response stream and the ACK-timeout/chain-expiry timers
// on a fixed interval until ctx is cancelled — the single cooperative
// loop §5 mandates. No new events are accepted once ctx is done; the
// loop drains by simply returning after its current tick completes.
func (o *Orchestrator) Run(ctx context.Context, pollInterval time.Duration) error {
	slog.Info("orchestrator starting", "poll_interval", pollInterval)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator stopped")
			return nil
		case <-ticker.C:
			if err := o.tick(ctx); err != nil {
				if errors.Is(err, domain.ErrBusContention) {
					// BusFatal (§7): Emit already retried internally and
					// still failed. New emissions stop here; the ledger
					// is untouched and the process exits non-zero so the
					// CLI can map this to exit code 12.
					slog.Error("bus contention exhausted, stopping", "err", err)
					return err
				}
				slog.Error("orchestrator tick failed", "err", err)
			}
		}
	}
}

// tick is one loop iteration: drain newly arrived closed-trade events
// and response rows, then service the ACK-timeout and chain-expiry
// timers. A BusFatal error from the closed-trade decision path aborts
// the tick immediately and propagates to Run; everything else is
// logged and the loop continues, since classify/matrix/sizing failures
// already have in-band chain-termination handling.
func (o *Orchestrator) tick(ctx context.Context) error {
	o.pollMatrixReload()

	if o.closedTrades != nil {
		events, err := o.closedTrades.Poll()
		if err != nil {
			return fmt.Errorf("orchestrator: closed trades poll: %w", err)
		}
		for _, event := range events {
			if err := o.HandleClosedTrade(ctx, event); err != nil {
				if errors.Is(err, domain.ErrBusContention) {
					return fmt.Errorf("orchestrator: handle closed trade %s: %w", event.TradeId, err)
				}
				slog.Error("handle closed trade failed", "trade_id", event.TradeId, "symbol", event.Symbol, "err", err)
			}
		}
	}

	rows, err := o.tail.Poll()
	if err != nil {
		return fmt.Errorf("orchestrator: tail poll: %w", err)
	}
	for _, row := range rows {
		if err := o.handleResponse(ctx, row); err != nil {
			slog.Error("handle response failed", "action", row.Action, "symbol", row.Symbol, "err", err)
		}
	}

	o.checkAckTimeouts()
	expired, err := o.ledger.GCExpired(o.now(), o.cfg.MaxChainDuration)
	if err != nil {
		slog.Error("gc expired chains failed", "err", err)
	}
	for _, ec := range expired {
		if err := o.emitCancelPending(ctx, ec); err != nil {
			if errors.Is(err, domain.ErrBusContention) {
				return fmt.Errorf("orchestrator: cancel_pending %s: %w", ec.ChainId, err)
			}
			slog.Error("emit cancel_pending failed", "chain_id", ec.ChainId, "symbol", ec.Symbol, "err", err)
		}
	}
	return nil
}

// pollMatrixReload is the "change-notification" §4.2 leaves external,
// resolved per SPEC_FULL as an mtime poll once per tick: no reload
// attempt is made unless the file's mtime has actually advanced, and a
// rejected reload leaves the previously loaded matrix serving.
func (o *Orchestrator) pollMatrixReload() {
	if o.matrix == nil {
		return
	}
	info, err := os.Stat(o.matrix.Path())
	if err != nil {
		slog.Error("matrix reload: stat failed", "path", o.matrix.Path(), "err", err)
		return
	}
	if !info.ModTime().After(o.matrixMtime) {
		return
	}
	o.matrixMtime = info.ModTime()

	if err := o.matrix.Reload(); err != nil {
		slog.Error("MATRIX_RELOAD_REJECT", "path", o.matrix.Path(), "err", err)
		return
	}
	slog.Info("matrix reloaded", "path", o.matrix.Path())
}

// emitCancelPending tells the execution adapter to cancel any order still
// outstanding for a chain GCExpired just terminated for DURATION_EXPIRED
// (§4.5) — the chain is already gone from the ledger by this point, so
// nothing here can roll the termination back.
func (o *Orchestrator) emitCancelPending(ctx context.Context, ec ledger.ExpiredChain) error {
	payload := map[string]any{
		"chain_id": ec.ChainId,
		"reason":   domain.ReasonDurationExpired,
	}
	row, err := bus.BuildSignalRow(ec.Symbol, ec.CombinationId, domain.ActionCancelPending, "", payload, o.now())
	if err != nil {
		return fmt.Errorf("orchestrator: build cancel_pending: %w", err)
	}
	return o.bus.Emit(ctx, row)
}

func (o *Orchestrator) checkAckTimeouts() {
	now := o.now()
	for chainID, p := range o.pending {
		if now.Sub(p.since) > o.cfg.AckGrace {
			slog.Warn("ack timeout", "chain_id", chainID, "combination_id", p.combinationID)
			if err := o.ledger.OnAckTimeout(chainID); err != nil {
				slog.Error("ack timeout rollback failed", "chain_id", chainID, "err", err)
			}
			delete(o.pending, chainID)
		}
	}
}

func (o *Orchestrator) handleResponse(ctx context.Context, row domain.ResponseRow) error {
	switch row.Action {
	case domain.ActionAckTrade:
		return o.onAckTrade(row)
	case domain.ActionRejectTrade:
		return o.onRejectTrade(row)
	case domain.ActionAckUpdate, domain.ActionCancelled, domain.ActionHeartbeatResp, domain.ActionRejectSet:
		// ACK_UPDATE just confirms the paired UPDATE_PARAMS row sizeAndEmit
		// sent; the chain's own state only advances on ACK_TRADE/REJECT_TRADE.
		slog.Debug("response noted, no chain action required", "action", row.Action, "symbol", row.Symbol)
		return nil
	default:
		return fmt.Errorf("unrecognized response action %q", row.Action)
	}
}

func (o *Orchestrator) onAckTrade(row domain.ResponseRow) error {
	chainID := chainIDFor(row.Symbol, row.CombinationId)
	if err := o.ledger.OnAck(chainID); err != nil {
		return err
	}
	delete(o.pending, chainID)
	return nil
}

func (o *Orchestrator) onRejectTrade(row domain.ResponseRow) error {
	chainID := chainIDFor(row.Symbol, row.CombinationId)
	delete(o.pending, chainID)
	return o.ledger.OnReject(chainID, row.EACode)
}

// chainIDFor is the ledger lookup key for a bus response. trade_responses.csv
// carries no chain_id column (§6.2), so correlation falls back to symbol —
// valid because §3.2 guarantees at most one active chain per symbol at a
// time. combinationID is accepted for future disambiguation but unused
// today; it documents the correlation intent at the call sites.
func chainIDFor(symbol string, combinationID domain.CombinationId) string {
	return symbol
}

// HandleClosedTrade is the core decision path (§4.7, Idle→...→Terminal):
// classify the closed trade, resolve the matrix, size if REENTRY, emit
// the signal pair, and track the chain. Errors are routed per §7's
// taxonomy: classify failures terminate the chain; sizing terminations
// (CHAIN_BUDGET_EXHAUSTED, SUB_MIN_LOT) terminate the chain without a
// bus error; bus contention is retried inside bus.Emit already.
func (o *Orchestrator) HandleClosedTrade(ctx context.Context, event domain.ClosedTradeEvent) error {
	chainID := chainIDFor(event.Symbol, "")
	if event.ChainId != "" {
		chainID = event.ChainId
	}

	combinationID, err := o.classify.Classify(event)
	if err != nil {
		slog.Error("classify failed", "trade_id", event.TradeId, "err", err)
		if _, ok := o.ledger.Get(chainID); ok {
			return o.ledger.OnClassifyFailure(chainID)
		}
		return nil
	}

	if event.Generation == domain.GenR2 {
		resp, err := o.matrix.Resolve(combinationID)
		if err != nil {
			return err
		}
		if resp.IsReentry() {
			return fmt.Errorf("orchestrator: %w: R2 combination %q resolved to REENTRY", domain.ErrMatrixR2NotTerminal, combinationID)
		}
		return o.terminateIfOpen(chainID, domain.ReasonEndTrading)
	}

	resp, err := o.matrix.Resolve(combinationID)
	if err != nil {
		return err
	}
	if !resp.IsReentry() {
		return o.terminateIfOpen(chainID, resp.TerminationReason)
	}

	return o.sizeAndEmit(ctx, chainID, combinationID, resp, event)
}

func (o *Orchestrator) terminateIfOpen(chainID string, reason domain.ChainTerminationReason) error {
	if _, ok := o.ledger.Get(chainID); !ok {
		return nil
	}
	switch reason {
	case domain.ReasonChainBudgetExhausted:
		return o.ledger.OnChainBudgetExhausted(chainID)
	case domain.ReasonSubMinLot:
		return o.ledger.OnSubMinLot(chainID)
	default:
		return o.ledger.OnEndTrading(chainID)
	}
}

func (o *Orchestrator) sizeAndEmit(ctx context.Context, chainID string, combinationID domain.CombinationId, resp domain.MatrixResponse, event domain.ClosedTradeEvent) error {
	ps, err := o.params.Get(resp.ParameterSetId)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	nextGen, ok := event.Generation.Next()
	if !ok {
		return fmt.Errorf("orchestrator: %q is terminal, must not reach sizing", event.Generation)
	}

	balance := event.LastKnownBalance
	if o.balances != nil {
		if b, err := o.balances.BalanceNow(event.Symbol); err == nil {
			balance = b
		}
	}

	chainState, existed := o.ledger.Get(chainID)
	maxChainLossPct := domain.ChainLossPctFor(event.Generation == domain.GenO && event.Profitable())
	if existed {
		maxChainLossPct = chainState.MaxChainLossPct
	}

	dec, err := risk.Size(risk.SizingRequest{
		AccountBalanceNow:        balance,
		ParameterSet:             ps,
		ChainMaxLossPct:          maxChainLossPct,
		ChainCumulativeUsedPct:   chainState.CumulativeUsedRiskPct,
		// stop_loss_pips is taken as already resolved to pips: when
		// StopLossMethod is ATR or PERCENT, the (out-of-scope) execution
		// adapter that knows the instrument's current ATR/price echoes the
		// effective pip distance back; this field is that value, not the
		// ParameterSet's static configuration.
		StopLossPipsEffective:    ps.StopLossPips,
		InstrumentPipValuePerLot: o.cfg.PipValuePerLot,
		Generation:               nextGen,
		Outcome:                  event.Outcome,
		RealizedPips:             math.Abs(event.RealizedPips),
		ElapsedMinutes:           event.ElapsedMinutes(),
		BrokerMinLot:             o.cfg.BrokerMinLot,
		BrokerMaxLot:             o.cfg.BrokerMaxLot,
		BrokerLotStep:            o.cfg.BrokerLotStep,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: sizing: %w", err)
	}
	if dec.Terminated != "" {
		if !existed {
			return nil // never opened, nothing to terminate
		}
		return o.terminateIfOpen(chainID, dec.Terminated)
	}

	updateParamsPayload := map[string]any{
		"parameter_set_id":   ps.ParameterSetId,
		"global_risk_percent": ps.GlobalRiskPercent,
		"risk_multiplier":    ps.RiskMultiplier,
		"stop_loss_method":   ps.StopLossMethod,
		"stop_loss_pips":     ps.StopLossPips,
		"take_profit_method": ps.TakeProfitMethod,
		"take_profit_pips":   ps.TakeProfitPips,
		"entry_order_type":   ps.EntryOrderType,
	}
	updateRow, err := bus.BuildSignalRow(event.Symbol, combinationID, domain.ActionUpdateParams, ps.ParameterSetId, updateParamsPayload, o.now())
	if err != nil {
		return fmt.Errorf("orchestrator: build update_params: %w", err)
	}
	if err := o.bus.Emit(ctx, updateRow); err != nil {
		return fmt.Errorf("orchestrator: emit update_params: %w", err)
	}

	tradeSignalPayload := map[string]any{
		"lots":             dec.Lots,
		"actual_risk_pct":  dec.ActualRiskPct,
		"parameter_set_id": ps.ParameterSetId,
		"generation":       nextGen,
	}
	row, err := bus.BuildSignalRow(event.Symbol, combinationID, domain.ActionTradeSignal, ps.ParameterSetId, tradeSignalPayload, o.now())
	if err != nil {
		return fmt.Errorf("orchestrator: build trade_signal: %w", err)
	}
	if err := o.bus.Emit(ctx, row); err != nil {
		return fmt.Errorf("orchestrator: emit trade_signal: %w", err)
	}

	if _, err := o.ledger.OnSignalEmitted(chainID, event.Symbol, event.TradeId, nextGen, combinationID, dec.ActualRiskPct, maxChainLossPct); err != nil {
		return fmt.Errorf("orchestrator: on signal emitted: %w", err)
	}
	o.pending[chainID] = pendingAck{since: o.now(), combinationID: combinationID}
	return nil
}
