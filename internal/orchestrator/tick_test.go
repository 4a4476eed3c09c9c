package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmarsh/reentry-engine/internal/bus"
	"github.com/dmarsh/reentry-engine/internal/domain"
	"github.com/dmarsh/reentry-engine/internal/ledger"
	"github.com/dmarsh/reentry-engine/internal/matrix"
	"github.com/dmarsh/reentry-engine/internal/paramset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedTradeHarness is newHarness plus a wired ClosedTradeTailReader, for
// the tests that must go through tick/Run rather than HandleClosedTrade
// directly.
type closedTradeHarness struct {
	*testHarness
	closedTradesPath string
	matrixPath       string
	paramsPath       string
}

func newClosedTradeHarness(t *testing.T) *closedTradeHarness {
	t.Helper()
	dir := t.TempDir()

	catalogPath := filepath.Join(dir, "parameter_sets.json")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0o644))
	params, err := paramset.New(catalogPath, filepath.Join(dir, "parameter_log.csv"))
	require.NoError(t, err)

	matrixPath := filepath.Join(dir, "matrix_map.csv")
	writeFullMatrix(t, matrixPath, nil)
	store, err := matrix.Load(matrixPath, params)
	require.NoError(t, err)

	chainLedger, err := ledger.New(filepath.Join(dir, "chain_history.csv"))
	require.NoError(t, err)

	signalsPath := filepath.Join(dir, "trading_signals.csv")
	signalBus, err := bus.NewSignalBus(signalsPath)
	require.NoError(t, err)

	responsesPath := filepath.Join(dir, "trade_responses.csv")
	require.NoError(t, os.WriteFile(responsesPath, []byte(
		"version,timestamp_utc,symbol,combination_id,action,status,ea_code,detail_json\n",
	), 0o644))
	tail, err := bus.NewTailReader(responsesPath)
	require.NoError(t, err)

	closedTradesPath := filepath.Join(dir, "closed_trades.csv")
	closedTrades, err := bus.NewClosedTradeTailReader(closedTradesPath)
	require.NoError(t, err)

	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	orch := New(Config{
		AckGrace:         30 * time.Second,
		MaxChainDuration: 24 * time.Hour,
		BrokerMinLot:     0.01,
		BrokerMaxLot:     100,
		BrokerLotStep:    0.01,
		PipValuePerLot:   10,
	}, nil, store, params, chainLedger, signalBus, tail, closedTrades, nil)
	orch.now = func() time.Time { return fixedNow }

	return &closedTradeHarness{
		testHarness:      &testHarness{orch: orch, ledger: chainLedger, bus: signalBus, signalsPath: signalsPath, now: fixedNow},
		closedTradesPath: closedTradesPath,
		matrixPath:       matrixPath,
		paramsPath:       catalogPath,
	}
}

func appendClosedTradeRow(t *testing.T, path string, row string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(row + "\n")
	require.NoError(t, err)
}

func TestTick_PollsClosedTradesAndEmitsSignal(t *testing.T) {
	h := newClosedTradeHarness(t)
	appendClosedTradeRow(t, h.closedTradesPath,
		"T-1,,EURUSD,ALL_INDICATORS,2026-01-01T11:50:00Z,2026-01-01T12:00:00Z,WIN,25,250,100,O,10000")

	require.NoError(t, h.orch.tick(context.Background()))

	state, ok := h.ledger.Get("EURUSD")
	require.True(t, ok)
	assert.Equal(t, domain.GenR1, state.CurrentGeneration)

	raw, err := os.ReadFile(h.signalsPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "TRADE_SIGNAL")
}

func TestTick_DoesNotReprocessClosedTradeAfterOffsetAdvances(t *testing.T) {
	h := newClosedTradeHarness(t)
	appendClosedTradeRow(t, h.closedTradesPath,
		"T-1,,EURUSD,ALL_INDICATORS,2026-01-01T11:50:00Z,2026-01-01T12:00:00Z,WIN,25,250,100,O,10000")

	require.NoError(t, h.orch.tick(context.Background()))
	require.Len(t, h.orch.pending, 1)

	// A second tick with no new rows must not re-emit or re-advance the chain.
	require.NoError(t, h.orch.tick(context.Background()))
	assert.Len(t, h.orch.pending, 1)
}

func TestTick_ClosedTradeBusContentionAbortsTick(t *testing.T) {
	h := newClosedTradeHarness(t)
	appendClosedTradeRow(t, h.closedTradesPath,
		"T-1,,EURUSD,ALL_INDICATORS,2026-01-01T11:50:00Z,2026-01-01T12:00:00Z,WIN,25,250,100,O,10000")

	// Pre-seize the signal bus's advisory lock sidecar so bus.Emit exhausts
	// its retries and returns a BusFatal (contention) error.
	lockPath := h.signalsPath + ".lock"
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))
	defer os.Remove(lockPath)

	err := h.orch.tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBusContention)

	// The chain must not have advanced past Idle — the emit never succeeded.
	_, ok := h.ledger.Get("EURUSD")
	assert.False(t, ok)
}

func TestRun_StopsOnBusFatalAndPropagatesError(t *testing.T) {
	h := newClosedTradeHarness(t)
	appendClosedTradeRow(t, h.closedTradesPath,
		"T-1,,EURUSD,ALL_INDICATORS,2026-01-01T11:50:00Z,2026-01-01T12:00:00Z,WIN,25,250,100,O,10000")

	lockPath := h.signalsPath + ".lock"
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))
	defer os.Remove(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := h.orch.Run(ctx, 5*time.Millisecond)
	require.Error(t, err, "Run must return a non-nil error on BusFatal instead of looping forever")
	assert.True(t, errors.Is(err, domain.ErrBusContention))
}

func TestTick_ExpiredChainEmitsCancelPending(t *testing.T) {
	h := newClosedTradeHarness(t)
	_, err := h.ledger.OnSignalEmitted("EURUSD", "EURUSD", "T-orig", domain.GenO, "O:ALL_INDICATORS:EXTENDED:WIN", 1.0, domain.StandardChainLossPct)
	require.NoError(t, err)

	// The chain's OpenedAtUTC is stamped by the ledger's own real-time
	// clock (OnSignalEmitted takes no explicit time); advance the
	// orchestrator's clock past MaxChainDuration from here so GCExpired
	// picks it up regardless of wall-clock skew in the test run.
	h.orch.now = func() time.Time { return time.Now().UTC().Add(h.orch.cfg.MaxChainDuration + time.Hour) }

	require.NoError(t, h.orch.tick(context.Background()))

	_, ok := h.ledger.Get("EURUSD")
	assert.False(t, ok, "GCExpired must terminate the chain")

	raw, err := os.ReadFile(h.signalsPath)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "CANCEL_PENDING")
	assert.Contains(t, body, "EURUSD")
}

func TestTick_ReloadsMatrixWhenMtimeAdvances(t *testing.T) {
	h := newClosedTradeHarness(t)

	endTradingID, err := domain.NewCombinationId(domain.GenR1, domain.SignalAllIndicators, "", domain.ProximityExtended, domain.OutcomeLoss)
	require.NoError(t, err)

	before, err := h.orch.matrix.Resolve(endTradingID)
	require.NoError(t, err)
	require.True(t, before.IsReentry(), "fixture must start as REENTRY so the reload's effect is observable")

	writeFullMatrix(t, h.matrixPath, map[domain.CombinationId]bool{endTradingID: true})
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(h.matrixPath, future, future))

	require.NoError(t, h.orch.tick(context.Background()))

	after, err := h.orch.matrix.Resolve(endTradingID)
	require.NoError(t, err)
	assert.False(t, after.IsReentry(), "tick must have reloaded the matrix after the mtime advanced")
}

func TestTick_RejectedMatrixReloadKeepsPreviousMatrixServing(t *testing.T) {
	h := newClosedTradeHarness(t)

	endTradingID, err := domain.NewCombinationId(domain.GenR1, domain.SignalAllIndicators, "", domain.ProximityExtended, domain.OutcomeLoss)
	require.NoError(t, err)
	before, err := h.orch.matrix.Resolve(endTradingID)
	require.NoError(t, err)

	// Truncate to an empty file: parseAndValidate rejects this outright.
	require.NoError(t, os.WriteFile(h.matrixPath, nil, 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(h.matrixPath, future, future))

	require.NoError(t, h.orch.tick(context.Background()), "a rejected reload must not fail the tick")

	after, err := h.orch.matrix.Resolve(endTradingID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a rejected reload must leave the previously loaded matrix serving")
}
