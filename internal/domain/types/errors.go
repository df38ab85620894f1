package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session errors.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// KindTransport covers connection and send failures. Recoverable by reconnect.
	KindTransport
	// KindAuth covers rejected credentials. Recoverable only by a fresh session.
	KindAuth
	// KindChannelConflict is absorbed by the session: the existing channel is adopted.
	KindChannelConflict
	// KindChain covers on-chain submission or confirmation failures.
	KindChain
	// KindPayment covers transfers the counterparty rejected.
	KindPayment
	// KindProtocol covers malformed or unexpected messages. Requires reconnect.
	KindProtocol
	// KindChannel covers channel operations the counterparty refused.
	KindChannel
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindChannelConflict:
		return "channel_conflict"
	case KindChain:
		return "chain"
	case KindPayment:
		return "payment"
	case KindProtocol:
		return "protocol"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// SessionFatal reports whether an error of this kind invalidates the whole session.
func (k ErrorKind) SessionFatal() bool {
	switch k {
	case KindTransport, KindAuth, KindProtocol:
		return true
	default:
		return false
	}
}

// Error is a classified session error.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels, so errors.Is(err, ErrKindPayment) works.
func (e *Error) Is(target error) bool {
	var k kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

// Info returns the UI-facing classification.
func (e *Error) Info() *ErrorInfo {
	return &ErrorInfo{Kind: e.Kind, Op: e.Op, Message: e.Message}
}

type kindSentinel struct{ kind ErrorKind }

func (k kindSentinel) Error() string { return k.kind.String() + " error" }

// Kind sentinels for errors.Is.
var (
	ErrKindTransport       error = kindSentinel{KindTransport}
	ErrKindAuth            error = kindSentinel{KindAuth}
	ErrKindChannelConflict error = kindSentinel{KindChannelConflict}
	ErrKindChain           error = kindSentinel{KindChain}
	ErrKindPayment         error = kindSentinel{KindPayment}
	ErrKindProtocol        error = kindSentinel{KindProtocol}
	ErrKindChannel         error = kindSentinel{KindChannel}
)

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Local rejections. These never change session state.
var (
	ErrNoWallet                = errors.New("wallet not connected")
	ErrNotConnected            = errors.New("session not connected")
	ErrBusy                    = errors.New("another operation is in progress")
	ErrNoChannel               = errors.New("no open channel")
	ErrInsufficientFunds       = errors.New("insufficient ledger balance")
	ErrInsufficientWalletFunds = errors.New("insufficient wallet balance")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInvalidRecipient        = errors.New("invalid recipient")
	ErrUnknownAsset            = errors.New("unknown asset")
	ErrSessionClosed           = errors.New("session closed")
)
