package paramset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmarsh/reentry-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCatalog = `[
  {
    "parameter_set_id": "PS-fast-scalp",
    "description": "tight stop, fixed take profit",
    "global_risk_percent": 2.0,
    "stop_loss_method": "FIXED",
    "stop_loss_pips": 20,
    "take_profit_method": "FIXED",
    "take_profit_pips": 40,
    "entry_order_type": "MARKET"
  },
  {
    "parameter_set_id": "PS-straddle-news",
    "global_risk_percent": 1.5,
    "stop_loss_method": "PERCENT",
    "stop_loss_percent": 0.5,
    "take_profit_method": "RR",
    "take_profit_rr": 2.0,
    "entry_order_type": "STRADDLE",
    "buy_stop_distance_pips": 15,
    "sell_stop_distance_pips": 15
  }
]`

const invalidCatalog = `[
  {
    "parameter_set_id": "not a valid id",
    "global_risk_percent": 2.0,
    "stop_loss_method": "FIXED",
    "stop_loss_pips": 20,
    "take_profit_method": "FIXED",
    "take_profit_pips": 40,
    "entry_order_type": "MARKET"
  }
]`

func writeCatalog(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "parameter_sets.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNew_LoadsAndLogs(t *testing.T) {
	dir := t.TempDir()
	catalog := writeCatalog(t, dir, validCatalog)
	logPath := filepath.Join(dir, "parameter_log.csv")

	reg, err := New(catalog, logPath)
	require.NoError(t, err)

	ps, err := reg.Get("PS-fast-scalp")
	require.NoError(t, err)
	assert.Equal(t, domain.StopLossFixed, ps.StopLossMethod)
	assert.InDelta(t, 1.0, ps.RiskMultiplier, 1e-9) // default applied

	rows, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(rows), "PS-fast-scalp")
	assert.Contains(t, string(rows), "PS-straddle-news")
}

func TestNew_RejectsInvalidCatalogOnFirstLoad(t *testing.T) {
	dir := t.TempDir()
	catalog := writeCatalog(t, dir, invalidCatalog)

	_, err := New(catalog, filepath.Join(dir, "parameter_log.csv"))
	assert.Error(t, err)
}

func TestGet_UnknownIdIsError(t *testing.T) {
	dir := t.TempDir()
	catalog := writeCatalog(t, dir, validCatalog)
	reg, err := New(catalog, filepath.Join(dir, "parameter_log.csv"))
	require.NoError(t, err)

	_, err = reg.Get("PS-does-not-exist")
	assert.ErrorIs(t, err, domain.ErrUnknownParameterSet)
}

func TestReload_RejectedReloadKeepsPreviousCatalog(t *testing.T) {
	dir := t.TempDir()
	catalog := writeCatalog(t, dir, validCatalog)
	reg, err := New(catalog, filepath.Join(dir, "parameter_log.csv"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(catalog, []byte(invalidCatalog), 0o644))
	err = reg.Reload()
	assert.Error(t, err)

	// The last-known-good catalog is still being served.
	ps, err := reg.Get("PS-fast-scalp")
	require.NoError(t, err)
	assert.Equal(t, domain.ParameterSetId("PS-fast-scalp"), ps.ParameterSetId)
}

func TestReload_AcceptsNewValidCatalog(t *testing.T) {
	dir := t.TempDir()
	catalog := writeCatalog(t, dir, validCatalog)
	reg, err := New(catalog, filepath.Join(dir, "parameter_log.csv"))
	require.NoError(t, err)

	updated := `[{
      "parameter_set_id": "PS-only-one-left",
      "global_risk_percent": 1.0,
      "stop_loss_method": "FIXED",
      "stop_loss_pips": 30,
      "take_profit_method": "FIXED",
      "take_profit_pips": 60,
      "entry_order_type": "MARKET"
    }]`
	require.NoError(t, os.WriteFile(catalog, []byte(updated), 0o644))
	require.NoError(t, reg.Reload())

	_, err = reg.Get("PS-fast-scalp")
	assert.ErrorIs(t, err, domain.ErrUnknownParameterSet)

	ps, err := reg.Get("PS-only-one-left")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ps.GlobalRiskPercent, 1e-9)
}

func TestDuplicateParameterSetIdRejected(t *testing.T) {
	dir := t.TempDir()
	dup := `[
      {"parameter_set_id": "PS-dup", "global_risk_percent": 1.0, "stop_loss_method": "FIXED", "stop_loss_pips": 20, "take_profit_method": "FIXED", "take_profit_pips": 40, "entry_order_type": "MARKET"},
      {"parameter_set_id": "PS-dup", "global_risk_percent": 1.5, "stop_loss_method": "FIXED", "stop_loss_pips": 25, "take_profit_method": "FIXED", "take_profit_pips": 50, "entry_order_type": "MARKET"}
    ]`
	catalog := writeCatalog(t, dir, dup)
	_, err := New(catalog, filepath.Join(dir, "parameter_log.csv"))
	assert.Error(t, err)
}
