package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nitropay/internal/domain"
)

const walletFilename = "wallet.json.enc"

// ErrNoWalletKey is returned when no wallet key has been saved yet.
var ErrNoWalletKey = errors.New("store: no wallet key")

// WalletFileStore persists the encrypted wallet key to disk.
type WalletFileStore struct {
	dir string
	kdf ScryptParams
	mu  sync.Mutex
}

// Option configures a WalletFileStore.
type Option func(*WalletFileStore)

// WithScrypt overrides the key-derivation parameters for new writes.
func WithScrypt(p ScryptParams) Option {
	return func(s *WalletFileStore) { s.kdf = p }
}

// NewWalletFileStore returns a store rooted at dir.
func NewWalletFileStore(dir string, opts ...Option) *WalletFileStore {
	s := &WalletFileStore{dir: dir, kdf: DefaultScrypt}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *WalletFileStore) path() string { return filepath.Join(s.dir, walletFilename) }

// SaveWalletKey encrypts a raw secp256k1 key and writes it atomically.
func (s *WalletFileStore) SaveWalletKey(passphrase string, key []byte) error {
	priv, err := ethcrypto.ToECDSA(key)
	if err != nil {
		return fmt.Errorf("store: invalid wallet key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(priv.PublicKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	ct, err := seal(passphrase, key, addr.Hex(), s.kdf)
	if err != nil {
		return err
	}
	return writeFile(s.path(), ct, 0o600)
}

// LoadWalletKey reads and decrypts the wallet key.
func (s *WalletFileStore) LoadWalletKey(passphrase string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(s.path())
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNoWalletKey
	}
	return open(passphrase, b)
}

// WalletAddress returns the address recorded next to the ciphertext without
// decrypting it.
func (s *WalletFileStore) WalletAddress() (common.Address, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(s.path())
	if err != nil || b == nil {
		return common.Address{}, false, err
	}
	env, err := parseEnvelope(b)
	if err != nil {
		return common.Address{}, false, err
	}
	if !common.IsHexAddress(env.Address) {
		return common.Address{}, false, fmt.Errorf("store: bad address %q", env.Address)
	}
	return common.HexToAddress(env.Address), true, nil
}

// Compile-time assertion that WalletFileStore implements domain.WalletKeyStore.
var _ domain.WalletKeyStore = (*WalletFileStore)(nil)
