package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// AuditIndex is a queryable index over chain_history.csv. It is strictly
// additive: chain_history.csv (via Ledger) is the authoritative record,
// and AuditIndex can always be rebuilt from it. It exists because
// grepping a CSV for "which chains exhausted their budget last week"
// does not scale once the history file runs into the hundreds of
// thousands of rows — the same motivation the teacher's SQLiteStorage
// had for indexing scan cycles instead of re-parsing logs.
type AuditIndex struct {
	db *sql.DB
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS chain_events (
    id                       INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_utc            DATETIME NOT NULL,
    event                    TEXT     NOT NULL,
    chain_id                 TEXT     NOT NULL,
    symbol                   TEXT     NOT NULL,
    original_trade_id        TEXT     NOT NULL,
    generation               TEXT     NOT NULL,
    combination_id           TEXT,
    risk_pct                 REAL     NOT NULL DEFAULT 0,
    cumulative_used_risk_pct REAL     NOT NULL DEFAULT 0,
    status                   TEXT     NOT NULL,
    termination_reason       TEXT
);

CREATE INDEX IF NOT EXISTS idx_chain_events_chain ON chain_events(chain_id);
CREATE INDEX IF NOT EXISTS idx_chain_events_at    ON chain_events(timestamp_utc DESC);
CREATE INDEX IF NOT EXISTS idx_chain_events_term  ON chain_events(termination_reason);
`

// OpenAuditIndex opens (or creates) the SQLite file at path and applies
// the schema. Pure-Go driver, no cgo, matching the teacher's choice.
func OpenAuditIndex(path string) (*AuditIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open audit index %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: apply audit index schema: %w", err)
	}
	return &AuditIndex{db: db}, nil
}

func (a *AuditIndex) Close() error { return a.db.Close() }

// IndexRow mirrors one line of chain_history.csv, already parsed.
type IndexRow struct {
	TimestampUTC          time.Time
	Event                 string
	ChainId               string
	Symbol                string
	OriginalTradeId       string
	Generation            string
	CombinationId         string
	RiskPct               float64
	CumulativeUsedRiskPct float64
	Status                string
	TerminationReason     string
}

// Insert records one history row. Ledger calls this alongside its CSV
// append so the index never drifts from the authoritative file; Rebuild
// exists for the case where it does (crash between the two writes).
func (a *AuditIndex) Insert(ctx context.Context, r IndexRow) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO chain_events
			(timestamp_utc, event, chain_id, symbol, original_trade_id, generation,
			 combination_id, risk_pct, cumulative_used_risk_pct, status, termination_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TimestampUTC, r.Event, r.ChainId, r.Symbol, r.OriginalTradeId, r.Generation,
		r.CombinationId, r.RiskPct, r.CumulativeUsedRiskPct, r.Status, r.TerminationReason,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert audit row: %w", err)
	}
	return nil
}

// Rebuild truncates the index and replays every row, used after a
// `replay` run and any time the index is suspected stale relative to
// chain_history.csv.
func (a *AuditIndex) Rebuild(ctx context.Context, rows []IndexRow) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: rebuild audit index: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chain_events`); err != nil {
		return fmt.Errorf("ledger: rebuild audit index: clear: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chain_events
			(timestamp_utc, event, chain_id, symbol, original_trade_id, generation,
			 combination_id, risk_pct, cumulative_used_risk_pct, status, termination_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("ledger: rebuild audit index: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.TimestampUTC, r.Event, r.ChainId, r.Symbol, r.OriginalTradeId, r.Generation,
			r.CombinationId, r.RiskPct, r.CumulativeUsedRiskPct, r.Status, r.TerminationReason,
		); err != nil {
			return fmt.Errorf("ledger: rebuild audit index: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: rebuild audit index: commit: %w", err)
	}
	return nil
}

// TerminationCounts returns how many chains ended with each reason,
// across the whole indexed history — the query the `run --report`
// diagnostic table is built from.
func (a *AuditIndex) TerminationCounts(ctx context.Context) (map[string]int, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT termination_reason, COUNT(*)
		FROM chain_events
		WHERE event = 'CHAIN_TERMINATED' AND termination_reason IS NOT NULL
		GROUP BY termination_reason`)
	if err != nil {
		return nil, fmt.Errorf("ledger: termination counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("ledger: termination counts: scan: %w", err)
		}
		out[reason] = count
	}
	return out, rows.Err()
}
