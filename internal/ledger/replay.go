package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmarsh/reentry-engine/internal/csvio"
	"github.com/dmarsh/reentry-engine/internal/domain"
)

// ReplayResult is the outcome of replaying chain_history.csv: the final
// live chain map (terminated chains already purged, exactly as a live
// Ledger would hold them) and the full row-by-row audit trail suitable
// for AuditIndex.Rebuild.
type ReplayResult struct {
	Chains map[string]domain.ChainState
	Rows   []IndexRow
}

// Replay reconstructs ledger state from historyPath alone, without
// requiring the original ClosedTradeEvent stream that produced it — the
// `replay` CLI subcommand's contract (§6.3, §8.1 determinism). It is a
// pure function of the file's contents: re-running it against the same
// file always yields the same Chains/Rows.
//
// MaxChainLossPct is not carried by chain_history.csv (§6.2 only logs
// cumulative_used_risk_pct, not the budget ceiling it's measured
// against), so replayed ChainState values leave it zero; callers that
// need it re-derive it from domain.ChainLossPctFor and the original
// trade's outcome, which chain_history.csv also doesn't carry. This
// limits Replay to an audit/diagnostic reconstruction, not a
// resume-from-crash one — crash recovery instead relies on the live
// process never having exited mid-chain, per §4.5.
func Replay(historyPath string) (*ReplayResult, error) {
	rows, err := csvio.ReadAll(historyPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: replay: %w", err)
	}
	if len(rows) == 0 {
		return &ReplayResult{Chains: map[string]domain.ChainState{}}, nil
	}
	if err := checkHistoryHeader(rows[0]); err != nil {
		return nil, fmt.Errorf("ledger: replay: %w", err)
	}

	chains := map[string]*domain.ChainState{}
	var indexRows []IndexRow

	for i, row := range rows[1:] {
		rec, err := parseHistoryRow(row)
		if err != nil {
			return nil, fmt.Errorf("ledger: replay: row %d: %w", i+2, err)
		}
		indexRows = append(indexRows, rec.toIndexRow())

		c, ok := chains[rec.chainID]
		if !ok {
			c = &domain.ChainState{
				ChainId:         rec.chainID,
				Symbol:          rec.symbol,
				OriginalTradeId: rec.originalTradeID,
				OpenedAtUTC:     rec.at,
				Status:          domain.ChainActive,
			}
			chains[rec.chainID] = c
		}
		c.CurrentGeneration = rec.generation
		c.CumulativeUsedRiskPct = rec.cumulativeUsedRiskPct

		switch rec.event {
		case "SIGNAL_EMITTED":
			c.CombinationHistory = append(c.CombinationHistory, rec.combinationID)
			c.PendingRiskPct = rec.riskPct
			c.PendingSince = rec.at
		case "ACK_TRADE":
			c.PendingRiskPct = 0
			c.PendingSince = time.Time{}
		case "CHAIN_TERMINATED":
			c.PendingRiskPct = 0
			c.Status = domain.ChainTerminated
			c.TerminationReason = rec.terminationReason
			delete(chains, rec.chainID)
		}
	}

	out := make(map[string]domain.ChainState, len(chains))
	for id, c := range chains {
		out[id] = *c
	}
	return &ReplayResult{Chains: out, Rows: indexRows}, nil
}

func checkHistoryHeader(got []string) error {
	if len(got) != len(historyHeader) {
		return fmt.Errorf("unexpected history header %v", got)
	}
	for i, h := range historyHeader {
		if got[i] != h {
			return fmt.Errorf("unexpected history header column %d: got %q want %q", i, got[i], h)
		}
	}
	return nil
}

type historyRecord struct {
	at                    time.Time
	event                 string
	chainID               string
	symbol                string
	originalTradeID       string
	generation            domain.Generation
	combinationID         domain.CombinationId
	riskPct               float64
	cumulativeUsedRiskPct float64
	status                string
	terminationReason     domain.ChainTerminationReason
}

func parseHistoryRow(row []string) (historyRecord, error) {
	if len(row) != len(historyHeader) {
		return historyRecord{}, fmt.Errorf("expected %d columns, got %d", len(historyHeader), len(row))
	}
	at, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return historyRecord{}, fmt.Errorf("bad timestamp_utc %q: %w", row[0], err)
	}
	riskPct, err := strconv.ParseFloat(row[7], 64)
	if err != nil {
		return historyRecord{}, fmt.Errorf("bad risk_pct %q: %w", row[7], err)
	}
	cumPct, err := strconv.ParseFloat(row[8], 64)
	if err != nil {
		return historyRecord{}, fmt.Errorf("bad cumulative_used_risk_pct %q: %w", row[8], err)
	}
	reason, _, _ := strings.Cut(row[10], ":")
	return historyRecord{
		at:                    at.UTC(),
		event:                 row[1],
		chainID:               row[2],
		symbol:                row[3],
		originalTradeID:       row[4],
		generation:            domain.Generation(row[5]),
		combinationID:         domain.CombinationId(row[6]),
		riskPct:               riskPct,
		cumulativeUsedRiskPct: cumPct,
		status:                row[9],
		terminationReason:     domain.ChainTerminationReason(reason),
	}, nil
}

func (r historyRecord) toIndexRow() IndexRow {
	return IndexRow{
		TimestampUTC:          r.at,
		Event:                 r.event,
		ChainId:               r.chainID,
		Symbol:                r.symbol,
		OriginalTradeId:       r.originalTradeID,
		Generation:            string(r.generation),
		CombinationId:         string(r.combinationID),
		RiskPct:               r.riskPct,
		CumulativeUsedRiskPct: r.cumulativeUsedRiskPct,
		Status:                r.status,
		TerminationReason:     string(r.terminationReason),
	}
}
