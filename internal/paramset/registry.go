package paramset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmarsh/reentry-engine/internal/csvio"
	"github.com/dmarsh/reentry-engine/internal/domain"
)

// Registry holds the validated parameter set catalog loaded from the
// config/parameter_sets.json file described in §6.1. A reload that fails
// validation leaves the previously loaded, known-good catalog in place
// and reports the rejection rather than taking the engine down.
type Registry struct {
	mu       sync.RWMutex
	sets     map[domain.ParameterSetId]domain.ParameterSet
	path     string
	logPath  string
}

// New loads catalogPath once at startup. A catalog that fails to
// validate on first load is fatal — there is no "previous" version to
// fall back to yet.
func New(catalogPath, parameterLogPath string) (*Registry, error) {
	r := &Registry{path: catalogPath, logPath: parameterLogPath}
	sets, err := loadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	for _, ps := range sets {
		if err := Validate(ps); err != nil {
			return nil, fmt.Errorf("paramset: %s: %w", ps.ParameterSetId, err)
		}
	}
	r.sets = sets
	if err := r.logAll(time.Time{}); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the validated set for id, or ErrUnknownParameterSet if the
// matrix references something the catalog doesn't carry.
func (r *Registry) Get(id domain.ParameterSetId) (domain.ParameterSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.sets[id]
	if !ok {
		return domain.ParameterSet{}, fmt.Errorf("%w: %s", domain.ErrUnknownParameterSet, id)
	}
	return ps, nil
}

// Reload re-reads the catalog file. On any validation failure the whole
// reload is rejected and the previously loaded catalog keeps serving —
// matching the matrix store's own last-known-good discipline (§4.7).
func (r *Registry) Reload() error {
	sets, err := loadCatalog(r.path)
	if err != nil {
		return fmt.Errorf("paramset: reload: %w", err)
	}
	for _, ps := range sets {
		if err := Validate(ps); err != nil {
			return fmt.Errorf("paramset: reload rejected, %s: %w", ps.ParameterSetId, err)
		}
	}

	r.mu.Lock()
	r.sets = sets
	r.mu.Unlock()

	return r.logAll(time.Time{})
}

// All returns a snapshot copy of the loaded catalog.
func (r *Registry) All() map[domain.ParameterSetId]domain.ParameterSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.ParameterSetId]domain.ParameterSet, len(r.sets))
	for k, v := range r.sets {
		out[k] = v
	}
	return out
}

func loadCatalog(path string) (map[domain.ParameterSetId]domain.ParameterSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("paramset: read %q: %w", path, err)
	}

	var wire []wireSet
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("paramset: parse %q: %w", path, err)
	}

	out := make(map[domain.ParameterSetId]domain.ParameterSet, len(wire))
	for _, w := range wire {
		ps := w.toDomain()
		if _, dup := out[ps.ParameterSetId]; dup {
			return nil, fmt.Errorf("paramset: duplicate parameter_set_id %q in %q", ps.ParameterSetId, path)
		}
		out[ps.ParameterSetId] = ps
	}
	return out, nil
}

var logHeader = []string{
	"timestamp_utc", "parameter_set_id", "global_risk_percent", "risk_multiplier",
	"stop_loss_method", "take_profit_method", "entry_order_type", "status",
}

// logAll appends one row per loaded set to logs/parameter_log.csv,
// recording that this version of the catalog passed validation — the
// "definition" of that file's behavior supplementing §6.2 (SPEC_FULL §12).
func (r *Registry) logAll(at time.Time) error {
	if r.logPath == "" {
		return nil
	}
	if err := csvio.EnsureHeader(r.logPath, logHeader); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	for _, ps := range r.sets {
		row := []string{
			at.UTC().Format(time.RFC3339),
			string(ps.ParameterSetId),
			fmt.Sprintf("%.4f", ps.GlobalRiskPercent),
			fmt.Sprintf("%.4f", ps.RiskMultiplier),
			string(ps.StopLossMethod),
			string(ps.TakeProfitMethod),
			string(ps.EntryOrderType),
			"OK",
		}
		if err := csvio.AppendRow(r.logPath, row, csvio.DefaultLockTimeout); err != nil {
			return fmt.Errorf("paramset: parameter_log append: %w", err)
		}
	}
	return nil
}

// DefaultCatalogPath and DefaultParameterLogPath lay out the registry's
// two files under a reentry root per §6.2's directory convention.
func DefaultCatalogPath(root string) string {
	return filepath.Join(root, "reentry", "config", "parameter_sets.json")
}

func DefaultParameterLogPath(root string) string {
	return filepath.Join(root, "reentry", "logs", "parameter_log.csv")
}
