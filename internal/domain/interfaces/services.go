package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	domaintypes "nitropay/internal/domain/types"
)

// SessionController drives one payer from wallet connected to payment settled.
// This is the only contract the UI layer depends on.
type SessionController interface {
	Connect(ctx context.Context) error
	Disconnect()
	OpenChannel(ctx context.Context) (domaintypes.Channel, error)
	CloseChannel(ctx context.Context) error
	Deposit(ctx context.Context, amount decimal.Decimal) (string, error)
	Pay(ctx context.Context, req domaintypes.PayRequest) (domaintypes.Payment, error)
	RefreshBalances(ctx context.Context) error
	Snapshot() domaintypes.Snapshot
	Subscribe() (<-chan domaintypes.Snapshot, func())
}

// IdentityService creates and unlocks the local development wallet.
type IdentityService interface {
	GenerateWallet(passphrase string) (common.Address, error)
	ImportWallet(passphrase string, key []byte) (common.Address, error)
	UnlockWallet(passphrase string) (WalletSigner, error)
	WalletAddress() (common.Address, error)
}
