package bus

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmarsh/reentry-engine/internal/domain"
)

var responseHeader = []string{
	"version", "timestamp_utc", "symbol", "combination_id", "action",
	"status", "ea_code", "detail_json",
}

// TailReader reads trade_responses.csv incrementally from a durable
// byte offset, resuming across restarts via a "<path>.offset" sidecar.
// Rows are always returned in file order — the §5 ordering guarantee
// for events from a single response file.
type TailReader struct {
	path       string
	offsetPath string
	offset     int64
	sawHeader  bool
}

// NewTailReader opens path and resumes from the offset sidecar if one
// exists; otherwise it starts at the beginning of the file.
func NewTailReader(path string) (*TailReader, error) {
	t := &TailReader{path: path, offsetPath: path + ".offset"}
	if raw, err := os.ReadFile(t.offsetPath); err == nil {
		off, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("bus: corrupt offset sidecar %q: %w", t.offsetPath, perr)
		}
		t.offset = off
		t.sawHeader = off > 0
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("bus: read offset sidecar %q: %w", t.offsetPath, err)
	}
	return t, nil
}

// Poll reads every complete line appended since the last call (or since
// NewTailReader, on the first call), parses it into a ResponseRow, and
// advances + persists the offset up to the last complete line consumed.
// A trailing partial line (no terminating newline yet) is left unread —
// the next Poll will pick it up once it's complete.
func (t *TailReader) Poll() ([]domain.ResponseRow, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("bus: tail open %q: %w", t.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, 0); err != nil {
		return nil, fmt.Errorf("bus: tail seek %q: %w", t.path, err)
	}

	r := bufio.NewReader(f)
	var rows []domain.ResponseRow
	advanced := t.offset

	for {
		line, err := r.ReadString('\n')
		if len(line) == 0 {
			break
		}
		if !strings.HasSuffix(line, "\n") {
			// Partial trailing line — do not consume, wait for the rest.
			break
		}
		advanced += int64(len(line))

		if !t.sawHeader {
			t.sawHeader = true
			continue // this line is the header row, not data
		}

		row, perr := parseResponseLine(line)
		if perr != nil {
			return nil, fmt.Errorf("bus: tail parse %q: %w", t.path, perr)
		}
		rows = append(rows, row)

		if err != nil {
			break
		}
	}

	if advanced != t.offset {
		if err := t.persistOffset(advanced); err != nil {
			return nil, err
		}
		t.offset = advanced
	}
	return rows, nil
}

func (t *TailReader) persistOffset(offset int64) error {
	tmp := t.offsetPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(offset, 10)), 0o644); err != nil {
		return fmt.Errorf("bus: persist offset: %w", err)
	}
	if err := os.Rename(tmp, t.offsetPath); err != nil {
		return fmt.Errorf("bus: persist offset rename: %w", err)
	}
	return nil
}

func parseResponseLine(line string) (domain.ResponseRow, error) {
	cr := csv.NewReader(strings.NewReader(line))
	fields, err := cr.Read()
	if err != nil {
		return domain.ResponseRow{}, err
	}
	if len(fields) != len(responseHeader) {
		return domain.ResponseRow{}, fmt.Errorf("expected %d columns, got %d", len(responseHeader), len(fields))
	}
	if fields[0] != domain.SchemaVersion {
		return domain.ResponseRow{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedVersion, fields[0])
	}
	ts, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return domain.ResponseRow{}, fmt.Errorf("bad timestamp %q: %w", fields[1], err)
	}
	var combinationID domain.CombinationId
	if fields[3] != "" {
		var err error
		combinationID, err = domain.ParseCombinationId(fields[3])
		if err != nil {
			return domain.ResponseRow{}, err
		}
	}
	return domain.ResponseRow{
		Version:       fields[0],
		TimestampUTC:  ts,
		Symbol:        fields[2],
		CombinationId: combinationID,
		Action:        domain.ResponseAction(fields[4]),
		Status:        domain.ResponseStatus(fields[5]),
		EACode:        fields[6],
		DetailJSON:    fields[7],
	}, nil
}
