// Package ledger owns ChainState: creation on the first REENTRY decision
// for an original trade, the tentative-then-ACKed risk increment, and
// termination bookkeeping. Live state lives in memory; every transition
// is also appended to chain_history.csv, from which Replay rebuilds an
// audit view. The live ledger is not rebuilt from that history: New
// starts with no chains, so chains in flight when a process stops are
// not resumed by the next one.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmarsh/reentry-engine/internal/csvio"
	"github.com/dmarsh/reentry-engine/internal/domain"
)

var historyHeader = []string{
	"timestamp_utc", "event", "chain_id", "symbol", "original_trade_id",
	"generation", "combination_id", "risk_pct", "cumulative_used_risk_pct",
	"status", "termination_reason",
}

// Ledger is the single owner of every ChainState in the engine.
// Terminated chains are dropped from the live map right after their
// history row is appended, whether or not that append succeeded — only
// the file retains them past that point.
type Ledger struct {
	mu          sync.Mutex
	chains      map[string]*domain.ChainState
	historyPath string
	index       *AuditIndex
	now         func() time.Time
}

// New opens (or creates) the chain_history.csv at historyPath and starts
// with an empty live map: chains recorded in an existing history are not
// loaded. Replay reads that history into an audit view only.
func New(historyPath string) (*Ledger, error) {
	if err := csvio.EnsureHeader(historyPath, historyHeader); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return &Ledger{
		chains:      make(map[string]*domain.ChainState),
		historyPath: historyPath,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetAuditIndex attaches the queryable SQLite index that mirrors every
// history row as it's appended. Optional — a Ledger with no index
// attached still writes a fully authoritative chain_history.csv; the
// index can always be rebuilt from it later via Replay and Rebuild.
func (l *Ledger) SetAuditIndex(index *AuditIndex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = index
}

// OnSignalEmitted creates the chain (if this is the first REENTRY off an
// original trade) or advances an existing one, recording risk_pct as a
// tentative increment that OnAck must confirm before it counts against
// the chain budget.
func (l *Ledger) OnSignalEmitted(chainID, symbol, originalTradeID string, gen domain.Generation, combinationID domain.CombinationId, tentativeRiskPct, maxChainLossPct float64) (*domain.ChainState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.chains[chainID]
	if !ok {
		c = &domain.ChainState{
			ChainId:         chainID,
			Symbol:          symbol,
			OriginalTradeId: originalTradeID,
			MaxChainLossPct: maxChainLossPct,
			OpenedAtUTC:     l.now(),
			Status:          domain.ChainActive,
		}
		l.chains[chainID] = c
	}
	c.CurrentGeneration = gen
	c.CombinationHistory = append(c.CombinationHistory, combinationID)
	c.PendingRiskPct = tentativeRiskPct
	c.PendingSince = l.now()

	if err := l.appendHistory("SIGNAL_EMITTED", c, combinationID, tentativeRiskPct, ""); err != nil {
		return c, err
	}
	return c, nil
}

// OnAck confirms the pending risk increment into cumulative_used_risk_pct.
// Called only on ACK_TRADE — §4.4's ordering guarantee that the chain
// budget is never debited before the execution adapter confirms the fill.
func (l *Ledger) OnAck(chainID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.chains[chainID]
	if !ok {
		return fmt.Errorf("ledger: ack for unknown chain %q", chainID)
	}
	c.CumulativeUsedRiskPct += c.PendingRiskPct
	c.PendingRiskPct = 0
	c.PendingSince = time.Time{}

	return l.appendHistory("ACK_TRADE", c, "", 0, "")
}

// OnReject rolls back the pending increment without touching cumulative
// usage and terminates the chain with REJECT_TRADE.
func (l *Ledger) OnReject(chainID, code string) error {
	return l.terminate(chainID, domain.ReasonRejectTrade, code)
}

// OnAckTimeout rolls back a pending increment that never confirmed
// within the configured ACK grace period and terminates the chain.
func (l *Ledger) OnAckTimeout(chainID string) error {
	return l.terminate(chainID, domain.ReasonAckTimeout, "")
}

// OnEndTrading terminates a chain whose matrix resolution was
// END_TRADING rather than a sizing or bus failure.
func (l *Ledger) OnEndTrading(chainID string) error {
	return l.terminate(chainID, domain.ReasonEndTrading, "")
}

// OnClassifyFailure terminates a chain whose closing trade could not be
// classified (InvalidSignal / InvalidGeneration, §4.1).
func (l *Ledger) OnClassifyFailure(chainID string) error {
	return l.terminate(chainID, domain.ReasonClassifyFailure, "")
}

// OnChainBudgetExhausted and OnSubMinLot record the two sizing-driven
// termination reasons from §4.4 step 6/7.
func (l *Ledger) OnChainBudgetExhausted(chainID string) error {
	return l.terminate(chainID, domain.ReasonChainBudgetExhausted, "")
}

func (l *Ledger) OnSubMinLot(chainID string) error {
	return l.terminate(chainID, domain.ReasonSubMinLot, "")
}

func (l *Ledger) terminate(chainID string, reason domain.ChainTerminationReason, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.chains[chainID]
	if !ok {
		return fmt.Errorf("ledger: terminate unknown chain %q", chainID)
	}
	c.PendingRiskPct = 0
	c.PendingSince = time.Time{}
	c.Status = domain.ChainTerminated
	c.TerminationReason = reason

	err := l.appendHistory("CHAIN_TERMINATED", c, "", 0, detail)
	delete(l.chains, chainID) // purged from live memory, retained in history (§3.2)
	return err
}

// ExpiredChain identifies a chain GCExpired terminated, carrying just
// enough to let the caller emit CANCEL_PENDING for its outstanding
// order: the chain is already gone from the live map by the time
// GCExpired returns, so Symbol/CombinationId must travel with the id.
type ExpiredChain struct {
	ChainId       string
	Symbol        string
	CombinationId domain.CombinationId // last entry of CombinationHistory, zero value if none was ever emitted
}

// GCExpired terminates every chain whose OpenedAtUTC is older than
// maxDuration as of now, with reason DURATION_EXPIRED. Returns the
// chains it terminated so the caller can emit CANCEL_PENDING for their
// outstanding orders (§4.5); a per-chain history-append failure does not
// abort the rest of the sweep, and the first such error is returned.
func (l *Ledger) GCExpired(now time.Time, maxDuration time.Duration) ([]ExpiredChain, error) {
	l.mu.Lock()
	var expired []ExpiredChain
	for id, c := range l.chains {
		if now.Sub(c.OpenedAtUTC) > maxDuration {
			ec := ExpiredChain{ChainId: id, Symbol: c.Symbol}
			if n := len(c.CombinationHistory); n > 0 {
				ec.CombinationId = c.CombinationHistory[n-1]
			}
			expired = append(expired, ec)
		}
	}
	l.mu.Unlock()

	var firstErr error
	for _, ec := range expired {
		if err := l.terminate(ec.ChainId, domain.ReasonDurationExpired, ""); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return expired, firstErr
}

// Get returns a snapshot copy of a live chain's state, or false if the
// chain doesn't exist (never created, or already terminated).
func (l *Ledger) Get(chainID string) (domain.ChainState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[chainID]
	if !ok {
		return domain.ChainState{}, false
	}
	return *c, true
}

// appendHistory must be called with l.mu held.
func (l *Ledger) appendHistory(event string, c *domain.ChainState, combinationID domain.CombinationId, riskPct float64, detail string) error {
	at := l.now()
	reason := joinReason(c.TerminationReason, detail)
	row := []string{
		at.Format(time.RFC3339),
		event,
		c.ChainId,
		c.Symbol,
		c.OriginalTradeId,
		string(c.CurrentGeneration),
		string(combinationID),
		fmt.Sprintf("%.6f", riskPct),
		fmt.Sprintf("%.6f", c.CumulativeUsedRiskPct),
		string(c.Status),
		reason,
	}
	if err := csvio.AppendRow(l.historyPath, row, csvio.DefaultLockTimeout); err != nil {
		return fmt.Errorf("ledger: append history: %w", err)
	}

	if l.index != nil {
		err := l.index.Insert(context.Background(), IndexRow{
			TimestampUTC:          at,
			Event:                 event,
			ChainId:               c.ChainId,
			Symbol:                c.Symbol,
			OriginalTradeId:       c.OriginalTradeId,
			Generation:            string(c.CurrentGeneration),
			CombinationId:         string(combinationID),
			RiskPct:               riskPct,
			CumulativeUsedRiskPct: c.CumulativeUsedRiskPct,
			Status:                string(c.Status),
			TerminationReason:     reason,
		})
		if err != nil {
			// chain_history.csv just above is the record of truth; a
			// stale index is recoverable via Replay+Rebuild, so this
			// never fails the transition itself.
			slog.Warn("ledger: audit index insert failed", "chain_id", c.ChainId, "event", event, "error", err)
		}
	}
	return nil
}

func joinReason(reason domain.ChainTerminationReason, detail string) string {
	if detail == "" {
		return string(reason)
	}
	return string(reason) + ":" + detail
}
