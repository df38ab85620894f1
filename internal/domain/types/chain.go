package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus is the confirmation state of a submitted chain transaction.
type TxStatus uint8

const (
	TxPending TxStatus = iota
	TxConfirmed
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChainTx is an on-chain write the core asks the chain capability to perform.
// The set of variants is closed.
type ChainTx interface {
	Chain() ChainID
	chainTx()
}

// DepositTx moves wallet funds into the custody contract, crediting the ledger.
type DepositTx struct {
	ChainID ChainID
	Token   common.Address
	Amount  *big.Int // on-chain units
}

// CreateChannelTx opens a channel on-chain with both signatures over the initial state.
type CreateChannelTx struct {
	ChainID         ChainID
	Channel         ChannelDefinition
	State           ChannelState
	UserSignature   []byte
	ServerSignature []byte
}

// CloseChannelTx finalises a channel with the mutually signed final state.
type CloseChannelTx struct {
	ChainID         ChainID
	ChannelID       ChannelID
	State           ChannelState
	UserSignature   []byte
	ServerSignature []byte
}

func (t DepositTx) Chain() ChainID       { return t.ChainID }
func (t CreateChannelTx) Chain() ChainID { return t.ChainID }
func (t CloseChannelTx) Chain() ChainID  { return t.ChainID }

func (DepositTx) chainTx()       {}
func (CreateChannelTx) chainTx() {}
func (CloseChannelTx) chainTx()  {}
