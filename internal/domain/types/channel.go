package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ChannelStatus is the lifecycle of an escrow channel.
type ChannelStatus string

const (
	ChannelPending ChannelStatus = "pending"
	ChannelOpen    ChannelStatus = "open"
	ChannelClosed  ChannelStatus = "closed"
)

// Channel is the on-chain-backed escrow the payer holds with the counterparty.
type Channel struct {
	ID            ChannelID      `json:"channel_id"`
	ChainID       ChainID        `json:"chain_id"`
	Token         common.Address `json:"token"`
	Status        ChannelStatus  `json:"status"`
	Version       uint64         `json:"version"`
	FundingTxHash string         `json:"funding_tx_hash,omitempty"`
}

// ChannelDefinition is the fixed part of a channel as agreed on-chain.
type ChannelDefinition struct {
	Participants []common.Address
	Adjudicator  common.Address
	Challenge    uint64
	Nonce        uint64
}

// Allocation assigns an on-chain quantity of a token to a destination.
type Allocation struct {
	Destination common.Address
	Token       common.Address
	Amount      decimal.Decimal
}

// ChannelState is a versioned channel state both parties sign.
type ChannelState struct {
	Intent      uint8
	Version     uint64
	Data        []byte
	Allocations []Allocation
}
