// Package csvio implements the atomicity discipline §4.6 requires of
// every CSV file the engine writes: full-file rewrites go through a
// temp-file-then-rename, normal appends go through an advisory lock plus
// fsync, and nothing is ever edited in place.
package csvio

import (
	"fmt"
	"encoding/csv"
	"os"
	"time"

	"github.com/dmarsh/reentry-engine/internal/domain"
)

// ErrContention is returned when an append lock could not be acquired
// within the configured window (§4.6 backpressure / BUS_CONTENTION). It
// is domain.ErrBusContention itself, not a parallel sentinel, so
// errors.Is matches all the way up through bus.Emit to the CLI's exit
// code mapping (§6.3, code 12).
var ErrContention = domain.ErrBusContention

// DefaultLockTimeout is the "default 2 s" window named in §4.6.
const DefaultLockTimeout = 2 * time.Second

// EnsureHeader creates path with the given header if it doesn't exist
// yet. If it exists, the header is left untouched — schema migration is
// a full rewrite via RewriteAtomic, never an in-place edit.
func EnsureHeader(path string, header []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("csvio: stat %q: %w", path, err)
	}
	return RewriteAtomic(path, header, nil)
}

// AppendRow appends one row to path under an advisory lock, fsyncs the
// file, and releases the lock. It never opens the file for anything but
// appending — no seeks, no truncation.
func AppendRow(path string, row []string, timeout time.Duration) error {
	lock, err := acquireLock(path, timeout)
	if err != nil {
		return err
	}
	defer lock.release()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("csvio: open %q for append: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.UseCRLF = false
	if err := w.Write(row); err != nil {
		return fmt.Errorf("csvio: write row to %q: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csvio: flush %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("csvio: fsync %q: %w", path, err)
	}
	return nil
}

// RewriteAtomic replaces path wholesale: write a temp file, flush+fsync
// it, then atomically rename it over the target. EnsureHeader uses it to
// create a file with its header row.
func RewriteAtomic(path string, header []string, rows [][]string) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("csvio: create %q: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	if header != nil {
		if err := w.Write(header); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("csvio: write header to %q: %w", tmp, err)
		}
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("csvio: write row to %q: %w", tmp, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("csvio: flush %q: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("csvio: fsync %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("csvio: close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("csvio: rename %q to %q: %w", tmp, path, err)
	}
	return nil
}

// ReadAll reads every row of path (including the header at index 0). A
// missing file returns an empty slice, not an error — callers that need
// "file must exist" should stat first.
func ReadAll(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("csvio: open %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csvio: read %q: %w", path, err)
	}
	return rows, nil
}
