package crypto

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"nitropay/internal/domain"
)

// LocalWallet is a wallet backed by a private key held in memory. It stands in
// for a browser or hardware wallet in the CLI and in tests.
type LocalWallet struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

// NewLocalWallet wraps priv.
func NewLocalWallet(priv *ecdsa.PrivateKey) *LocalWallet {
	return &LocalWallet{priv: priv, addr: ethcrypto.PubkeyToAddress(priv.PublicKey)}
}

// GenerateWallet creates a wallet with a fresh key.
func GenerateWallet() (*LocalWallet, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewLocalWallet(priv), nil
}

// WalletFromBytes decodes a raw 32-byte private key.
func WalletFromBytes(raw []byte) (*LocalWallet, error) {
	priv, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: wallet key: %w", err)
	}
	return NewLocalWallet(priv), nil
}

// Address implements domain.WalletSigner.
func (w *LocalWallet) Address() common.Address { return w.addr }

// PrivateKey exposes the key to the chain adapter, which signs transactions.
func (w *LocalWallet) PrivateKey() *ecdsa.PrivateKey { return w.priv }

// Bytes returns the raw private key. Callers should Wipe it after use.
func (w *LocalWallet) Bytes() []byte { return ethcrypto.FromECDSA(w.priv) }

// SignWithWallet signs an EIP-712 typed-data document. Payloads that are not
// typed data are signed as personal messages.
func (w *LocalWallet) SignWithWallet(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var td apitypes.TypedData
	if err := json.Unmarshal(payload, &td); err == nil && td.PrimaryType != "" {
		hash, _, err := apitypes.TypedDataAndHash(td)
		if err != nil {
			return nil, fmt.Errorf("crypto: hash typed data: %w", err)
		}
		return signHash(common.BytesToHash(hash), w.priv)
	}
	return signHash(common.BytesToHash(accounts.TextHash(payload)), w.priv)
}

var _ domain.WalletSigner = (*LocalWallet)(nil)
