package domain

import "time"

// ResponseKind distinguishes the two shapes a MatrixResponse can take.
type ResponseKind string

const (
	ResponseReentry     ResponseKind = "REENTRY"
	ResponseEndTrading  ResponseKind = "END_TRADING"
)

// MatrixResponse is the tagged union the Matrix Store resolves a
// CombinationId to: either a REENTRY carrying a ParameterSetId, or an
// END_TRADING carrying a termination reason.
type MatrixResponse struct {
	Kind            ResponseKind
	ParameterSetId  ParameterSetId // set iff Kind == ResponseReentry
	SizeRelation    string         // never set by the matrix store: matrix_map.csv has no such column
	Notes           string
	TerminationReason ChainTerminationReason // set iff Kind == ResponseEndTrading
}

func (r MatrixResponse) IsReentry() bool { return r.Kind == ResponseReentry }

// MatrixEntry is one row of the persisted combination_id -> response
// mapping, as authored by the (out-of-scope) matrix editor.
type MatrixEntry struct {
	CombinationId  CombinationId
	Response       MatrixResponse
	Notes          string
	UserModified   bool
	LastUpdatedUTC time.Time
}
