package rpc

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Method names an RPC method or push.
type Method string

const (
	MethodAuthRequest       Method = "auth_request"
	MethodAuthChallenge     Method = "auth_challenge"
	MethodAuthVerify        Method = "auth_verify"
	MethodGetChannels       Method = "get_channels"
	MethodCreateChannel     Method = "create_channel"
	MethodCloseChannel      Method = "close_channel"
	MethodResizeChannel     Method = "resize_channel"
	MethodGetLedgerBalances Method = "get_ledger_balances"
	MethodTransfer          Method = "transfer"
	MethodGetAssets         Method = "get_assets"
	MethodAssets            Method = "assets"
	MethodPing              Method = "ping"
	MethodPong              Method = "pong"
	MethodBalanceUpdate     Method = "bu"
	MethodChannelUpdate     Method = "cu"
	MethodError             Method = "error"
)

// Push reports whether the method is sent by the counterparty unprompted.
func (m Method) Push() bool {
	switch m {
	case MethodBalanceUpdate, MethodChannelUpdate, MethodAssets:
		return true
	default:
		return false
	}
}

// Allowance caps how much of an asset the session key may move.
type Allowance struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// AuthRequestParams opens the authentication handshake. The request is unsigned.
type AuthRequestParams struct {
	Address     common.Address `json:"address"`
	SessionKey  common.Address `json:"session_key"`
	Application string         `json:"application"`
	Allowances  []Allowance    `json:"allowances"`
	ExpiresAt   uint64         `json:"expires_at"`
	Scope       string         `json:"scope"`
}

// AuthVerifyParams answers a challenge, or reuses a previously issued token.
type AuthVerifyParams struct {
	Challenge string `json:"challenge,omitempty"`
	JWT       string `json:"jwt,omitempty"`
}

// GetChannelsParams lists channels of a participant.
type GetChannelsParams struct {
	Participant common.Address `json:"participant"`
	Status      string         `json:"status,omitempty"`
}

// CreateChannelParams asks the counterparty to propose a channel.
type CreateChannelParams struct {
	ChainID uint64         `json:"chain_id"`
	Token   common.Address `json:"token"`
}

// CloseChannelParams asks the counterparty for a final state.
type CloseChannelParams struct {
	ChannelID        string         `json:"channel_id"`
	FundsDestination common.Address `json:"funds_destination"`
}

// ResizeChannelParams moves funds between a channel and the ledger.
type ResizeChannelParams struct {
	ChannelID        string           `json:"channel_id"`
	AllocateAmount   *decimal.Decimal `json:"allocate_amount,omitempty"`
	ResizeAmount     *decimal.Decimal `json:"resize_amount,omitempty"`
	FundsDestination common.Address   `json:"funds_destination"`
}

// GetLedgerBalancesParams queries ledger balances, by default of the caller.
type GetLedgerBalancesParams struct {
	AccountID string `json:"account_id,omitempty"`
}

// TransferAllocation is one asset leg of a transfer.
type TransferAllocation struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferParams moves ledger funds to destination.
type TransferParams struct {
	Destination common.Address       `json:"destination"`
	Allocations []TransferAllocation `json:"allocations"`
	Reference   string               `json:"reference,omitempty"`
}

// GetAssetsParams filters the asset list by chain.
type GetAssetsParams struct {
	ChainID uint64 `json:"chain_id,omitempty"`
}

// ErrorParams is the body of an error response.
type ErrorParams struct {
	Error string `json:"error"`
}
