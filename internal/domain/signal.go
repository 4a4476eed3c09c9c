package domain

import "time"

// SchemaVersion is the wire-format version stamped on every row of both
// CSV bus files (§6.2). Rows with a mismatched version are rejected.
const SchemaVersion = "3.0"

// SignalAction enumerates the action column of trading_signals.csv.
type SignalAction string

const (
	ActionUpdateParams  SignalAction = "UPDATE_PARAMS"
	ActionTradeSignal   SignalAction = "TRADE_SIGNAL"
	ActionCancelPending SignalAction = "CANCEL_PENDING"
	ActionHeartbeat     SignalAction = "HEARTBEAT"
)

// SignalRow is one row the core appends to trading_signals.csv.
type SignalRow struct {
	Version             string
	TimestampUTC        time.Time
	Symbol              string
	CombinationId       CombinationId
	Action              SignalAction
	ParameterSetId      ParameterSetId
	JSONPayloadSHA256   string
	JSONPayload         string // canonical JSON, already hashed into JSONPayloadSHA256
}

// ResponseAction enumerates the action column of trade_responses.csv.
type ResponseAction string

const (
	ActionAckUpdate   ResponseAction = "ACK_UPDATE"
	ActionAckTrade    ResponseAction = "ACK_TRADE"
	ActionRejectSet   ResponseAction = "REJECT_SET"
	ActionRejectTrade ResponseAction = "REJECT_TRADE"
	ActionCancelled   ResponseAction = "CANCELLED"
	ActionHeartbeatResp ResponseAction = "HEARTBEAT"
)

// ResponseStatus enumerates the status column of trade_responses.csv.
type ResponseStatus string

const (
	StatusOK      ResponseStatus = "OK"
	StatusError   ResponseStatus = "ERROR"
	StatusWarning ResponseStatus = "WARNING"
)

// ResponseRow is one row the execution adapter appends to
// trade_responses.csv and the core tails.
type ResponseRow struct {
	Version       string
	TimestampUTC  time.Time
	Symbol        string
	CombinationId CombinationId
	Action        ResponseAction
	Status        ResponseStatus
	EACode        string
	DetailJSON    string
}
