package matrix

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dmarsh/reentry-engine/internal/csvio"
	"github.com/dmarsh/reentry-engine/internal/domain"
	"github.com/dmarsh/reentry-engine/internal/paramset"
)

var header = []string{"combination_id", "response_type", "parameter_set_id", "notes"}

// Store is the in-memory combination_id -> MatrixResponse map. A reload
// is transactional: the new file must fully validate (every legal
// combination present, no duplicates, every R2 row terminal, every
// referenced parameter set known to the registry) before it replaces
// the live map. A failed reload leaves the previous map serving and
// returns a *ReloadError describing what was wrong — the caller is
// expected to log it and emit a MATRIX_RELOAD_REJECT diagnostic.
type Store struct {
	mu      sync.RWMutex
	entries map[domain.CombinationId]domain.MatrixResponse
	path    string
	sets    *paramset.Registry
}

// ReloadError wraps domain.ErrMatrixReloadReject (together with the
// more specific sentinel of the first problem found, where one applies)
// with the list of rows that failed.
type ReloadError struct {
	Err      error
	Problems []string
}

func (e *ReloadError) Error() string {
	s := e.Err.Error()
	for _, p := range e.Problems {
		s += "; " + p
	}
	return s
}

func (e *ReloadError) Unwrap() error { return e.Err }

// Load reads and validates path, the matrix's first load. Unlike
// Reload, a failed first load is fatal — there is no previous map.
func Load(path string, sets *paramset.Registry) (*Store, error) {
	s := &Store{path: path, sets: sets}
	entries, err := parseAndValidate(path, sets)
	if err != nil {
		return nil, err
	}
	s.entries = entries
	return s, nil
}

// Path returns the file this Store loads and reloads from, so a caller
// doing its own mtime-poll (the orchestrator's event-loop tick) knows
// what to stat without duplicating the path it was constructed with.
func (s *Store) Path() string { return s.path }

// Resolve looks up id. Every legal CombinationId is guaranteed present
// once a Store loads successfully — Resolve never returns "not found".
func (s *Store) Resolve(id domain.CombinationId) (domain.MatrixResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[id]
	if !ok {
		return domain.MatrixResponse{}, fmt.Errorf("matrix: %w: %q", domain.ErrMatrixIncomplete, id)
	}
	return r, nil
}

// Reload re-parses the file at s.path. On any validation failure the
// live map is left untouched and a *ReloadError is returned.
func (s *Store) Reload() error {
	entries, err := parseAndValidate(s.path, s.sets)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

func parseAndValidate(path string, sets *paramset.Registry) (map[domain.CombinationId]domain.MatrixResponse, error) {
	rows, err := csvio.ReadAll(path)
	if err != nil {
		return nil, &ReloadError{Err: domain.ErrMatrixReloadReject, Problems: []string{err.Error()}}
	}
	if len(rows) == 0 {
		return nil, &ReloadError{Err: domain.ErrMatrixIncomplete, Problems: []string{"matrix file is empty"}}
	}
	if err := checkHeader(rows[0]); err != nil {
		return nil, &ReloadError{Err: domain.ErrMatrixReloadReject, Problems: []string{err.Error()}}
	}

	entries := make(map[domain.CombinationId]domain.MatrixResponse, len(rows)-1)
	var problems []string
	var causes []error // specific sentinels, in the order their problems were found

	for i, row := range rows[1:] {
		lineNo := i + 2
		if len(row) != 4 {
			problems = append(problems, fmt.Sprintf("line %d: expected 4 columns, got %d", lineNo, len(row)))
			continue
		}
		rawID, rawKind, rawSetID, notes := row[0], row[1], row[2], row[3]

		id, err := domain.ParseCombinationId(rawID)
		if err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		if _, dup := entries[id]; dup {
			problems = append(problems, fmt.Sprintf("line %d: %v: %q", lineNo, domain.ErrMatrixDuplicate, id))
			causes = append(causes, domain.ErrMatrixDuplicate)
			continue
		}

		resp, err := parseResponse(rawKind, rawSetID, notes, id, sets)
		if err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %v", lineNo, err))
			for _, sentinel := range []error{domain.ErrMatrixR2NotTerminal, domain.ErrUnknownParameterSet} {
				if errors.Is(err, sentinel) {
					causes = append(causes, sentinel)
				}
			}
			continue
		}
		entries[id] = resp
	}

	for _, id := range AllLegalCombinations() {
		if _, ok := entries[id]; !ok {
			problems = append(problems, fmt.Sprintf("missing entry for %q", id))
			causes = append(causes, domain.ErrMatrixIncomplete)
		}
	}

	if len(problems) > 0 {
		kind := domain.ErrMatrixReloadReject
		if len(causes) > 0 {
			kind = fmt.Errorf("%w: %w", domain.ErrMatrixReloadReject, causes[0])
		}
		return nil, &ReloadError{Err: kind, Problems: problems}
	}
	return entries, nil
}

func parseResponse(rawKind, rawSetID, notes string, id domain.CombinationId, sets *paramset.Registry) (domain.MatrixResponse, error) {
	switch domain.ResponseKind(rawKind) {
	case domain.ResponseEndTrading:
		if rawSetID != "" {
			return domain.MatrixResponse{}, fmt.Errorf("%q: END_TRADING rows must leave parameter_set_id empty", id)
		}
		return domain.MatrixResponse{Kind: domain.ResponseEndTrading, Notes: notes, TerminationReason: domain.ReasonEndTrading}, nil

	case domain.ResponseReentry:
		if id.Generation() == domain.GenR2 {
			return domain.MatrixResponse{}, fmt.Errorf("%q: %w", id, domain.ErrMatrixR2NotTerminal)
		}
		setID := domain.ParameterSetId(rawSetID)
		if !setID.Valid() {
			return domain.MatrixResponse{}, fmt.Errorf("%q: invalid parameter_set_id %q", id, rawSetID)
		}
		if sets != nil {
			if _, err := sets.Get(setID); err != nil {
				return domain.MatrixResponse{}, fmt.Errorf("%q: %w", id, err)
			}
		}
		return domain.MatrixResponse{Kind: domain.ResponseReentry, ParameterSetId: setID, Notes: notes}, nil

	default:
		return domain.MatrixResponse{}, fmt.Errorf("%q: response_type must be REENTRY or END_TRADING, got %q", id, rawKind)
	}
}

func checkHeader(got []string) error {
	if len(got) != len(header) {
		return fmt.Errorf("matrix: header has %d columns, want %d", len(got), len(header))
	}
	for i, h := range header {
		if got[i] != h {
			return fmt.Errorf("matrix: header column %d is %q, want %q", i, got[i], h)
		}
	}
	return nil
}
