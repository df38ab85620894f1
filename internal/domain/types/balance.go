package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Balance is an off-network ledger balance as reported by the counterparty.
type Balance struct {
	Asset  AssetSymbol     `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// WalletBalance is an on-chain token balance of the connected wallet, in human units.
type WalletBalance struct {
	Asset   AssetSymbol     `json:"asset"`
	ChainID ChainID         `json:"chain_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// PayRequest is a payment intent from the UI.
type PayRequest struct {
	Recipient common.Address  `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	// Asset defaults to the session asset when empty.
	Asset AssetSymbol `json:"asset,omitempty"`
	// Reference is caller metadata (an invoice id) carried with the transfer.
	Reference string `json:"reference,omitempty"`
}

// Payment records a transfer confirmed by the counterparty.
type Payment struct {
	TransferID  string          `json:"transfer_id,omitempty"`
	Recipient   common.Address  `json:"recipient"`
	Asset       AssetSymbol     `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference,omitempty"`
	ConfirmedAt time.Time       `json:"confirmed_at"`
}
