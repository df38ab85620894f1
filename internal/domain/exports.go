package domain

import (
	interfaces "nitropay/internal/domain/interfaces"
	types "nitropay/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	SessionID         = types.SessionID
	ChainID           = types.ChainID
	ChannelID         = types.ChannelID
	AssetSymbol       = types.AssetSymbol
	AssetInfo         = types.AssetInfo
	State             = types.State
	Snapshot          = types.Snapshot
	ErrorInfo         = types.ErrorInfo
	ErrorKind         = types.ErrorKind
	Error             = types.Error
	Channel           = types.Channel
	ChannelStatus     = types.ChannelStatus
	ChannelDefinition = types.ChannelDefinition
	ChannelState      = types.ChannelState
	Allocation        = types.Allocation
	Balance           = types.Balance
	WalletBalance     = types.WalletBalance
	PayRequest        = types.PayRequest
	Payment           = types.Payment
	TxStatus          = types.TxStatus
	ChainTx           = types.ChainTx
	DepositTx         = types.DepositTx
	CreateChannelTx   = types.CreateChannelTx
	CloseChannelTx    = types.CloseChannelTx
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	WalletSigner      = interfaces.WalletSigner
	SessionKey        = interfaces.SessionKey
	SessionKeyFactory = interfaces.SessionKeyFactory
	ChainReader       = interfaces.ChainReader
	ChainWriter       = interfaces.ChainWriter
	Chain             = interfaces.Chain
	Transport         = interfaces.Transport
	TransportFactory  = interfaces.TransportFactory
	SessionController = interfaces.SessionController
	IdentityService   = interfaces.IdentityService
	WalletKeyStore    = interfaces.WalletKeyStore
)

// Session states.
const (
	StateIdle             = types.StateIdle
	StateConnecting       = types.StateConnecting
	StateAuthenticating   = types.StateAuthenticating
	StateAuthenticated    = types.StateAuthenticated
	StateFetchingChannels = types.StateFetchingChannels
	StateCreatingChannel  = types.StateCreatingChannel
	StateChannelReady     = types.StateChannelReady
	StateDepositing       = types.StateDepositing
	StatePaying           = types.StatePaying
	StatePaid             = types.StatePaid
	StateClosingChannel   = types.StateClosingChannel
	StateError            = types.StateError
)

// Channel statuses.
const (
	ChannelPending = types.ChannelPending
	ChannelOpen    = types.ChannelOpen
	ChannelClosed  = types.ChannelClosed
)

// Chain transaction statuses.
const (
	TxPending   = types.TxPending
	TxConfirmed = types.TxConfirmed
	TxFailed    = types.TxFailed
)

// Error kinds.
const (
	KindUnknown         = types.KindUnknown
	KindTransport       = types.KindTransport
	KindAuth            = types.KindAuth
	KindChannelConflict = types.KindChannelConflict
	KindChain           = types.KindChain
	KindPayment         = types.KindPayment
	KindProtocol        = types.KindProtocol
	KindChannel         = types.KindChannel
)

// Error sentinels and constructors.
var (
	ErrKindTransport       = types.ErrKindTransport
	ErrKindAuth            = types.ErrKindAuth
	ErrKindChannelConflict = types.ErrKindChannelConflict
	ErrKindChain           = types.ErrKindChain
	ErrKindPayment         = types.ErrKindPayment
	ErrKindProtocol        = types.ErrKindProtocol
	ErrKindChannel         = types.ErrKindChannel

	ErrNoWallet                = types.ErrNoWallet
	ErrNotConnected            = types.ErrNotConnected
	ErrBusy                    = types.ErrBusy
	ErrNoChannel               = types.ErrNoChannel
	ErrInsufficientFunds       = types.ErrInsufficientFunds
	ErrInsufficientWalletFunds = types.ErrInsufficientWalletFunds
	ErrInvalidAmount           = types.ErrInvalidAmount
	ErrInvalidRecipient        = types.ErrInvalidRecipient
	ErrUnknownAsset            = types.ErrUnknownAsset
	ErrSessionClosed           = types.ErrSessionClosed

	NewError = types.NewError
	Errorf   = types.Errorf
	KindOf   = types.KindOf
)
