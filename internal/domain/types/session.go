package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State is a step of the payer session state machine.
type State uint8

const (
	// StateIdle means no session key, no transport.
	StateIdle State = iota
	// StateConnecting means the transport is being opened.
	StateConnecting
	// StateAuthenticating means the auth handshake is in flight.
	StateAuthenticating
	// StateAuthenticated means the counterparty issued an auth token.
	StateAuthenticated
	// StateFetchingChannels means existing channels are being listed.
	StateFetchingChannels
	// StateCreatingChannel means a channel is being created or confirmed on-chain.
	StateCreatingChannel
	// StateChannelReady means an open channel is known and payments may be made.
	StateChannelReady
	// StateDepositing means wallet funds are moving into the ledger.
	StateDepositing
	// StatePaying means a transfer request is awaiting confirmation.
	StatePaying
	// StatePaid means the last transfer settled; the channel remains ready.
	StatePaid
	// StateClosingChannel means a channel close is in flight.
	StateClosingChannel
	// StateError means the last operation failed; see Snapshot.Error.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateFetchingChannels:
		return "fetching_channels"
	case StateCreatingChannel:
		return "creating_channel"
	case StateChannelReady:
		return "channel_ready"
	case StateDepositing:
		return "depositing"
	case StatePaying:
		return "paying"
	case StatePaid:
		return "paid"
	case StateClosingChannel:
		return "closing_channel"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrorInfo is the last error classification shown to the UI.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Op      string    `json:"op,omitempty"`
	Message string    `json:"message"`
}

// Snapshot is the UI-facing view of a session. It is a copy; mutating it has no effect.
type Snapshot struct {
	SessionID     SessionID       `json:"session_id,omitempty"`
	State         State           `json:"state"`
	Wallet        common.Address  `json:"wallet"`
	SessionKey    *common.Address `json:"session_key,omitempty"`
	Authenticated bool            `json:"authenticated"`
	TokenExpiry   *time.Time      `json:"token_expiry,omitempty"`
	Error         *ErrorInfo      `json:"error,omitempty"`
	Channel       *Channel        `json:"channel,omitempty"`
	Ledger        []Balance       `json:"ledger_balances"`
	WalletFunds   []WalletBalance `json:"wallet_balances"`
	Assets        []AssetInfo     `json:"network_assets,omitempty"`
	LastPayment   *Payment        `json:"last_payment,omitempty"`
	PendingCalls  int             `json:"pending_calls"`
	Version       uint64          `json:"version"`
}

// Live reports whether the snapshot describes an authenticated, usable session.
func (s Snapshot) Live() bool {
	return s.Authenticated && s.State != StateIdle
}
