package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SessionID identifies one payer session for logging and correlation.
type SessionID string

// String returns the string form of the session identifier.
func (id SessionID) String() string { return string(id) }

// ChainID identifies a settlement chain (EIP-155 chain id).
type ChainID uint64

// ChannelID is the 0x-prefixed 32-byte channel identifier assigned by the counterparty.
type ChannelID string

// String returns the string form of the channel identifier.
func (id ChannelID) String() string { return string(id) }

// Hash returns the channel id as a 32-byte hash.
func (id ChannelID) Hash() common.Hash { return common.HexToHash(string(id)) }

// AssetSymbol names an asset on the clearing network (e.g. "ytest.usd").
type AssetSymbol string

// String returns the string form of the symbol.
func (s AssetSymbol) String() string { return string(s) }

// AssetInfo declares an asset and the unit its on-chain quantities are expressed in.
// Protocol amounts are decimal strings in human units; on-chain amounts are integers
// scaled by Decimals. Units are never inferred from magnitude.
type AssetInfo struct {
	Symbol   AssetSymbol    `json:"symbol" yaml:"symbol"`
	Token    common.Address `json:"token" yaml:"token"`
	ChainID  ChainID        `json:"chain_id" yaml:"chain_id"`
	Decimals int32          `json:"decimals" yaml:"decimals"`
}

// ToRaw converts a human-unit amount to on-chain integer units.
func (a AssetInfo) ToRaw(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(a.Decimals).Truncate(0)
}

// FromRaw converts an on-chain integer quantity to human units.
func (a AssetInfo) FromRaw(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-a.Decimals)
}
