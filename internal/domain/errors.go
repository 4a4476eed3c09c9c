package domain

import "errors"

// Sentinel errors used across the engine. Callers wrap these with
// fmt.Errorf("...: %w", ...) for context; errors.Is still matches.
var (
	ErrInvalidSignal     = errors.New("invalid signal class")
	ErrInvalidGeneration = errors.New("invalid generation")
	ErrInvalidOutcome    = errors.New("invalid outcome")

	ErrMatrixIncomplete    = errors.New("matrix incomplete")
	ErrMatrixDuplicate     = errors.New("duplicate combination_id in matrix")
	ErrMatrixR2NotTerminal = errors.New("R2 combination does not resolve to END_TRADING")
	ErrMatrixReloadReject  = errors.New("matrix reload rejected")
	ErrUnknownParameterSet = errors.New("matrix references unknown parameter_set_id")

	ErrSchemaViolation = errors.New("schema violation")

	ErrBusContention       = errors.New("bus contention")
	ErrUnsupportedVersion  = errors.New("unsupported schema version")
	ErrPayloadChecksumFail = errors.New("payload checksum mismatch")
)
