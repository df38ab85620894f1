package identity

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/ethereum/go-ethereum/common"

	"nitropay/internal/crypto"
	"nitropay/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
	// ErrWalletExists is returned when a wallet key is already stored.
	ErrWalletExists = errors.New("a wallet already exists; refusing to overwrite it")
	// ErrNoWallet is returned when no wallet has been created yet.
	ErrNoWallet = errors.New("no wallet; run init first")
)

// Service manages the local development wallet: a secp256k1 key kept
// encrypted on disk that plays the part of the user's interactive wallet.
type Service struct {
	store domain.WalletKeyStore
}

// New returns an identity service backed by the given store.
func New(s domain.WalletKeyStore) *Service { return &Service{store: s} }

// GenerateWallet creates a new wallet key, saves it encrypted with the
// passphrase and returns its address.
func (s *Service) GenerateWallet(passphrase string) (common.Address, error) {
	w, err := crypto.GenerateWallet()
	if err != nil {
		return common.Address{}, err
	}
	raw := w.Bytes()
	defer crypto.Wipe(raw)
	return s.ImportWallet(passphrase, raw)
}

// ImportWallet stores an existing raw private key, e.g. a pre-funded test account.
func (s *Service) ImportWallet(passphrase string, key []byte) (common.Address, error) {
	if !isSecurePassphrase(passphrase) {
		return common.Address{}, ErrWeakPassphrase
	}
	if _, ok, err := s.store.WalletAddress(); err != nil {
		return common.Address{}, err
	} else if ok {
		return common.Address{}, ErrWalletExists
	}
	w, err := crypto.WalletFromBytes(key)
	if err != nil {
		return common.Address{}, err
	}
	if err := s.store.SaveWalletKey(passphrase, key); err != nil {
		return common.Address{}, err
	}
	return w.Address(), nil
}

// UnlockWallet decrypts the wallet key and returns a signer for it.
func (s *Service) UnlockWallet(passphrase string) (domain.WalletSigner, error) {
	return s.Unlock(passphrase)
}

// Unlock is UnlockWallet returning the concrete wallet, which the chain
// adapter needs to sign transactions.
func (s *Service) Unlock(passphrase string) (*crypto.LocalWallet, error) {
	raw, err := s.store.LoadWalletKey(passphrase)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	return crypto.WalletFromBytes(raw)
}

// WalletAddress returns the stored wallet's address without unlocking it.
func (s *Service) WalletAddress() (common.Address, error) {
	addr, ok, err := s.store.WalletAddress()
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, ErrNoWallet
	}
	return addr, nil
}

// Fingerprint returns a short fingerprint of the wallet address.
func (s *Service) Fingerprint() (string, error) {
	addr, err := s.WalletAddress()
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(addr), nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
