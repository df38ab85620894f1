package interfaces

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	domaintypes "nitropay/internal/domain/types"
)

// WalletSigner is the interactive wallet. It is asked to sign once per session,
// during authentication.
type WalletSigner interface {
	Address() common.Address
	// SignWithWallet signs payload. For authentication the payload is an
	// EIP-712 typed-data JSON document, as passed to eth_signTypedData_v4.
	SignWithWallet(ctx context.Context, payload []byte) ([]byte, error)
}

// SessionKey is an ephemeral key owned by exactly one session.
type SessionKey interface {
	Address() common.Address
	// SignWithSessionKey produces a verifiable signature over payload.
	SignWithSessionKey(payload []byte) ([]byte, error)
	// Destroy wipes the private material. The key is unusable afterwards.
	Destroy()
}

// SessionKeyFactory creates fresh session keys.
type SessionKeyFactory interface {
	NewSessionKey() (SessionKey, error)
}

// ChainReader reads on-chain state.
type ChainReader interface {
	// BalanceOf returns the on-chain balance of owner in token units.
	// The zero token address means the chain's native asset.
	BalanceOf(ctx context.Context, chain domaintypes.ChainID, token, owner common.Address) (*big.Int, error)
	TransactionStatus(ctx context.Context, chain domaintypes.ChainID, txHash string) (domaintypes.TxStatus, error)
}

// ChainWriter submits on-chain transactions and returns their hash.
type ChainWriter interface {
	SubmitTransaction(ctx context.Context, tx domaintypes.ChainTx) (string, error)
}

// Chain bundles both chain capabilities.
type Chain interface {
	ChainReader
	ChainWriter
}
