package interfaces

import "github.com/ethereum/go-ethereum/common"

// WalletKeyStore persists the local development wallet key, encrypted at rest.
type WalletKeyStore interface {
	SaveWalletKey(passphrase string, key []byte) error
	LoadWalletKey(passphrase string) ([]byte, error)
	// WalletAddress returns the cleartext address recorded alongside the key.
	WalletAddress() (common.Address, bool, error)
}
