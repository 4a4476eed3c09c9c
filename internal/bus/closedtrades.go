package bus

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmarsh/reentry-engine/internal/csvio"
	"github.com/dmarsh/reentry-engine/internal/domain"
)

var closedTradeHeader = []string{
	"trade_id", "chain_id", "symbol", "signal", "opened_at_utc", "closed_at_utc",
	"outcome", "realized_pips", "realized_pnl_quote", "pnl_account_ccy",
	"generation", "last_known_balance",
}

// ClosedTradeTailReader tails closed_trades.csv the same way TailReader
// tails trade_responses.csv (§4.6's discipline applied to the one other
// adapter-to-core stream the engine reads): durable byte offset,
// file-order delivery, partial trailing lines left for the next Poll.
type ClosedTradeTailReader struct {
	path       string
	offsetPath string
	offset     int64
	sawHeader  bool
}

// NewClosedTradeTailReader opens path, creating it with the header row
// if it doesn't exist yet, and resumes from its offset sidecar.
func NewClosedTradeTailReader(path string) (*ClosedTradeTailReader, error) {
	if err := csvio.EnsureHeader(path, closedTradeHeader); err != nil {
		return nil, fmt.Errorf("bus: %w", err)
	}
	t := &ClosedTradeTailReader{path: path, offsetPath: path + ".offset"}
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

// Poll returns every ClosedTradeEvent appended since the last call.
func (t *ClosedTradeTailReader) Poll() ([]domain.ClosedTradeEvent, error) {
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
	var events []domain.ClosedTradeEvent
	advanced := t.offset

	for {
		line, err := r.ReadString('\n')
		if len(line) == 0 {
			break
		}
		if !strings.HasSuffix(line, "\n") {
			break
		}
		advanced += int64(len(line))

		if !t.sawHeader {
			t.sawHeader = true
			continue
		}

		event, perr := parseClosedTradeLine(line)
		if perr != nil {
			return nil, fmt.Errorf("bus: tail parse %q: %w", t.path, perr)
		}
		events = append(events, event)

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
	return events, nil
}

func (t *ClosedTradeTailReader) persistOffset(offset int64) error {
	tmp := t.offsetPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(offset, 10)), 0o644); err != nil {
		return fmt.Errorf("bus: persist offset: %w", err)
	}
	if err := os.Rename(tmp, t.offsetPath); err != nil {
		return fmt.Errorf("bus: persist offset rename: %w", err)
	}
	return nil
}

func parseClosedTradeLine(line string) (domain.ClosedTradeEvent, error) {
	cr := csv.NewReader(strings.NewReader(line))
	f, err := cr.Read()
	if err != nil {
		return domain.ClosedTradeEvent{}, err
	}
	if len(f) != len(closedTradeHeader) {
		return domain.ClosedTradeEvent{}, fmt.Errorf("expected %d columns, got %d", len(closedTradeHeader), len(f))
	}

	openedAt, err := time.Parse(time.RFC3339, f[4])
	if err != nil {
		return domain.ClosedTradeEvent{}, fmt.Errorf("bad opened_at_utc %q: %w", f[4], err)
	}
	closedAt, err := time.Parse(time.RFC3339, f[5])
	if err != nil {
		return domain.ClosedTradeEvent{}, fmt.Errorf("bad closed_at_utc %q: %w", f[5], err)
	}
	signal, err := domain.ParseSignalClass(f[3])
	if err != nil {
		return domain.ClosedTradeEvent{}, err
	}
	outcome, err := domain.ParseOutcome(f[6])
	if err != nil {
		return domain.ClosedTradeEvent{}, err
	}
	generation, err := domain.ParseGeneration(f[10])
	if err != nil {
		return domain.ClosedTradeEvent{}, err
	}
	realizedPips, err := strconv.ParseFloat(f[7], 64)
	if err != nil {
		return domain.ClosedTradeEvent{}, fmt.Errorf("bad realized_pips %q: %w", f[7], err)
	}
	realizedPnL, err := strconv.ParseFloat(f[8], 64)
	if err != nil {
		return domain.ClosedTradeEvent{}, fmt.Errorf("bad realized_pnl_quote %q: %w", f[8], err)
	}
	pnlAccountCcy, err := strconv.ParseFloat(f[9], 64)
	if err != nil {
		return domain.ClosedTradeEvent{}, fmt.Errorf("bad pnl_account_ccy %q: %w", f[9], err)
	}
	lastKnownBalance, err := strconv.ParseFloat(f[11], 64)
	if err != nil {
		return domain.ClosedTradeEvent{}, fmt.Errorf("bad last_known_balance %q: %w", f[11], err)
	}

	return domain.ClosedTradeEvent{
		TradeId:          f[0],
		ChainId:          f[1],
		Symbol:           f[2],
		Signal:           signal,
		OpenedAtUTC:      openedAt,
		ClosedAtUTC:      closedAt,
		Outcome:          outcome,
		RealizedPips:     realizedPips,
		RealizedPnLQuote: realizedPnL,
		PnLAccountCcy:    pnlAccountCcy,
		Generation:       generation,
		LastKnownBalance: lastKnownBalance,
	}, nil
}
