package calendar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCSV_FindsNextEventByCurrency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"currency,event_time_utc\n"+
			"USD,2026-01-01T14:30:00Z\n"+
			"USD,2026-01-01T10:00:00Z\n"+
			"EUR,2026-01-01T12:00:00Z\n",
	), 0o644))

	cal, err := LoadCSV(path)
	require.NoError(t, err)

	minutes, ok := cal.MinutesToNextEvent("USD", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.InDelta(t, 60, minutes, 1e-6)
}

func TestMinutesToNextEvent_NoFutureEventReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"currency,event_time_utc\nUSD,2026-01-01T00:00:00Z\n",
	), 0o644))

	cal, err := LoadCSV(path)
	require.NoError(t, err)

	_, ok := cal.MinutesToNextEvent("USD", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestMinutesToNextEvent_UnknownCurrencyReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.csv")
	require.NoError(t, os.WriteFile(path, []byte("currency,event_time_utc\n"), 0o644))

	cal, err := LoadCSV(path)
	require.NoError(t, err)

	_, ok := cal.MinutesToNextEvent("JPY", time.Now())
	assert.False(t, ok)
}
