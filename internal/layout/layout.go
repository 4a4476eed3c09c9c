// Package layout names and creates the fixed directory structure §6.2
// requires under a reentry root:
//
//	<root>/reentry/bridge/   trading_signals.csv, trade_responses.csv, closed_trades.csv
//	<root>/reentry/logs/     parameter_log.csv, chain_history.csv
//	<root>/reentry/config/   matrix_map.csv, parameter_sets.json, parameters.schema.json
//
// closed_trades.csv is not named by §6.2 — the spec places the
// execution adapter that produces ClosedTradeEvent out of scope (§1)
// without specifying the wire format it uses to hand one to the core.
// It lives in bridge/ alongside the other adapter-facing files because
// it shares their contract: adapter writes, core tails, append-only.
package layout

import (
	"os"
	"path/filepath"
)

// Layout resolves every well-known file path under a root.
type Layout struct {
	Root string
}

func New(root string) Layout { return Layout{Root: root} }

func (l Layout) base() string { return filepath.Join(l.Root, "reentry") }

func (l Layout) TradingSignalsCSV() string  { return filepath.Join(l.base(), "bridge", "trading_signals.csv") }
func (l Layout) TradeResponsesCSV() string  { return filepath.Join(l.base(), "bridge", "trade_responses.csv") }
func (l Layout) ClosedTradesCSV() string    { return filepath.Join(l.base(), "bridge", "closed_trades.csv") }
func (l Layout) ParameterLogCSV() string    { return filepath.Join(l.base(), "logs", "parameter_log.csv") }
func (l Layout) ChainHistoryCSV() string    { return filepath.Join(l.base(), "logs", "chain_history.csv") }
func (l Layout) AuditIndexDB() string       { return filepath.Join(l.base(), "logs", "audit_index.sqlite") }
func (l Layout) MatrixMapCSV() string       { return filepath.Join(l.base(), "config", "matrix_map.csv") }
func (l Layout) ParameterSetsJSON() string  { return filepath.Join(l.base(), "config", "parameter_sets.json") }
func (l Layout) ParametersSchemaJSON() string {
	return filepath.Join(l.base(), "config", "parameters.schema.json")
}

// EnsureDirs creates bridge/, logs/, and config/ under the root if they
// don't already exist. It never creates the files themselves — the bus,
// ledger and registry create the CSVs they write via csvio.EnsureHeader;
// matrix_map.csv, parameter_sets.json and trade_responses.csv are only
// read.
func (l Layout) EnsureDirs() error {
	for _, sub := range []string{"bridge", "logs", "config"} {
		if err := os.MkdirAll(filepath.Join(l.base(), sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}
