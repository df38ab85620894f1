package log

// Canonical field name constants for structured logging.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldSessionID = "session_id"
	FieldWallet    = "wallet"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldChannelID = "channel_id"
	FieldChainID   = "chain_id"
	FieldTxHash    = "tx_hash"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldReason    = "reason"
	FieldErrorKind = "error_kind"
)
