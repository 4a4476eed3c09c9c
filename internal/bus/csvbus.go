// Package bus implements the CSV Signal Bus (§4.6): the sole transport
// between the decision engine and the external execution adapter. Emit
// is an atomic, fsync'd append with lock-contention backoff; Tail reads
// trade_responses.csv from a durable offset, strictly in file order.
package bus

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dmarsh/reentry-engine/internal/csvio"
	"github.com/dmarsh/reentry-engine/internal/domain"
	"golang.org/x/time/rate"
)

var signalHeader = []string{
	"version", "timestamp_utc", "symbol", "combination_id", "action",
	"parameter_set_id", "json_payload_sha256", "json_payload",
}

const (
	maxEmitRetries  = 3
	baseRetryWait   = 200 * time.Millisecond
	emitLimiterRate = 20 // emits/sec sustained, well above expected chain throughput
	emitLimiterBurst = 5
)

// SignalBus owns trading_signals.csv. One SignalBus per process — the
// rate limiter's whole point is to keep a single writer's retries from
// hammering the lock while the execution adapter is mid-read.
type SignalBus struct {
	path    string
	limiter *rate.Limiter
}

// NewSignalBus ensures the header exists and returns a bus ready to
// emit against path.
func NewSignalBus(path string) (*SignalBus, error) {
	if err := csvio.EnsureHeader(path, signalHeader); err != nil {
		return nil, fmt.Errorf("bus: %w", err)
	}
	return &SignalBus{
		path:    path,
		limiter: rate.NewLimiter(emitLimiterRate, emitLimiterBurst),
	}, nil
}

// Emit appends one SignalRow, retrying BUS_CONTENTION with exponential
// backoff up to maxEmitRetries (§4.6 backpressure, §8.4 scenario 5).
// Every retry writes byte-identical content — the row is built once.
func (b *SignalBus) Emit(ctx context.Context, row domain.SignalRow) error {
	row.Version = domain.SchemaVersion
	csvRow := []string{
		row.Version,
		row.TimestampUTC.UTC().Format(time.RFC3339),
		row.Symbol,
		string(row.CombinationId),
		string(row.Action),
		string(row.ParameterSetId),
		row.JSONPayloadSHA256,
		row.JSONPayload,
	}

	var lastErr error
	for attempt := 0; attempt <= maxEmitRetries; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("bus: emit: rate limiter: %w", err)
		}

		err := csvio.AppendRow(b.path, csvRow, csvio.DefaultLockTimeout)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == maxEmitRetries {
			break
		}
		b.sleep(ctx, attempt)
	}
	return fmt.Errorf("bus: emit: exhausted %d retries: %w", maxEmitRetries, lastErr)
}

func (b *SignalBus) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// BuildSignalRow canonicalizes payload, hashes it, and returns a fully
// populated SignalRow ready for Emit.
func BuildSignalRow(symbol string, combinationID domain.CombinationId, action domain.SignalAction, parameterSetID domain.ParameterSetId, payload any, at time.Time) (domain.SignalRow, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return domain.SignalRow{}, err
	}
	return domain.SignalRow{
		Version:           domain.SchemaVersion,
		TimestampUTC:      at,
		Symbol:            symbol,
		CombinationId:     combinationID,
		Action:            action,
		ParameterSetId:    parameterSetID,
		JSONPayloadSHA256: HashPayload(canonical),
		JSONPayload:       canonical,
	}, nil
}
