package matrix

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmarsh/reentry-engine/internal/domain"
	"github.com/dmarsh/reentry-engine/internal/paramset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `[{
  "parameter_set_id": "PS-default",
  "global_risk_percent": 1.0,
  "stop_loss_method": "FIXED",
  "stop_loss_pips": 20,
  "take_profit_method": "FIXED",
  "take_profit_pips": 40,
  "entry_order_type": "MARKET"
}]`

func testRegistry(t *testing.T, dir string) *paramset.Registry {
	t.Helper()
	catalog := filepath.Join(dir, "parameter_sets.json")
	require.NoError(t, os.WriteFile(catalog, []byte(testCatalog), 0o644))
	reg, err := paramset.New(catalog, filepath.Join(dir, "parameter_log.csv"))
	require.NoError(t, err)
	return reg
}

// writeFullMatrix writes every legal combination: R2 -> END_TRADING,
// everything else -> REENTRY against PS-default. mutate, if non-nil, is
// applied to the row slice for the given combination before writing,
// letting individual tests corrupt one row.
func writeFullMatrix(t *testing.T, path string, mutate func(id domain.CombinationId, row []string) []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	for _, id := range AllLegalCombinations() {
		var row []string
		if id.Generation() == domain.GenR2 {
			row = []string{string(id), "END_TRADING", "", ""}
		} else {
			row = []string{string(id), "REENTRY", "PS-default", ""}
		}
		if mutate != nil {
			row = mutate(id, row)
		}
		require.NoError(t, w.Write(row))
	}
	w.Flush()
	require.NoError(t, w.Error())
}

func TestLoad_FullValidMatrix(t *testing.T) {
	dir := t.TempDir()
	reg := testRegistry(t, dir)
	path := filepath.Join(dir, "matrix_map.csv")
	writeFullMatrix(t, path, nil)

	store, err := Load(path, reg)
	require.NoError(t, err)

	resp, err := store.Resolve("R1:ECO_HIGH:FLASH:IMMEDIATE:WIN")
	require.NoError(t, err)
	assert.True(t, resp.IsReentry())
	assert.Equal(t, domain.ParameterSetId("PS-default"), resp.ParameterSetId)

	resp, err = store.Resolve("R2:ALL_INDICATORS:EXTENDED:LOSS")
	require.NoError(t, err)
	assert.False(t, resp.IsReentry())
}

func TestLoad_MissingEntryIsFatal(t *testing.T) {
	dir := t.TempDir()
	reg := testRegistry(t, dir)
	path := filepath.Join(dir, "matrix_map.csv")

	all := AllLegalCombinations()
	skip := all[len(all)/2]

	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	for _, id := range all {
		if id == skip {
			continue
		}
		var row []string
		if id.Generation() == domain.GenR2 {
			row = []string{string(id), "END_TRADING", "", ""}
		} else {
			row = []string{string(id), "REENTRY", "PS-default", ""}
		}
		require.NoError(t, w.Write(row))
	}
	w.Flush()
	require.NoError(t, w.Error())
	f.Close()

	_, err = Load(path, reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMatrixIncomplete)
	var reloadErr *ReloadError
	require.ErrorAs(t, err, &reloadErr)
	found := false
	for _, p := range reloadErr.Problems {
		if strings.Contains(p, string(skip)) {
			found = true
		}
	}
	assert.True(t, found, "expected missing-entry diagnostic to name %q", skip)
}

func TestLoad_R2MustBeEndTrading(t *testing.T) {
	dir := t.TempDir()
	reg := testRegistry(t, dir)
	path := filepath.Join(dir, "matrix_map.csv")
	writeFullMatrix(t, path, func(id domain.CombinationId, row []string) []string {
		if id.Generation() == domain.GenR2 {
			return []string{string(id), "REENTRY", "PS-default", ""}
		}
		return row
	})

	_, err := Load(path, reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMatrixReloadReject)
}

func TestLoad_UnknownParameterSetRejected(t *testing.T) {
	dir := t.TempDir()
	reg := testRegistry(t, dir)
	path := filepath.Join(dir, "matrix_map.csv")
	tampered := false
	writeFullMatrix(t, path, func(id domain.CombinationId, row []string) []string {
		if !tampered && row[1] == "REENTRY" {
			tampered = true
			return []string{row[0], row[1], "PS-does-not-exist", row[3]}
		}
		return row
	})

	_, err := Load(path, reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownParameterSet)
}

func TestLoad_DuplicateCombinationRejected(t *testing.T) {
	dir := t.TempDir()
	reg := testRegistry(t, dir)
	path := filepath.Join(dir, "matrix_map.csv")
	writeFullMatrix(t, path, nil)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("R1:ECO_HIGH:FLASH:IMMEDIATE:WIN,REENTRY,PS-default,dup\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Load(path, reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMatrixReloadReject)
}

func TestReload_RejectedReloadKeepsPreviousMap(t *testing.T) {
	dir := t.TempDir()
	reg := testRegistry(t, dir)
	path := filepath.Join(dir, "matrix_map.csv")
	writeFullMatrix(t, path, nil)

	store, err := Load(path, reg)
	require.NoError(t, err)

	// Corrupt the file in place, then reload.
	require.NoError(t, os.WriteFile(path, []byte("combination_id,response_type,parameter_set_id,notes\n"), 0o644))
	err = store.Reload()
	require.Error(t, err)

	resp, err := store.Resolve("R1:ECO_HIGH:FLASH:IMMEDIATE:WIN")
	require.NoError(t, err)
	assert.True(t, resp.IsReentry())
}
