package crypto

import (
	"crypto/ecdsa"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nitropay/internal/domain"
)

// ErrKeyDestroyed is returned when signing with a destroyed key.
var ErrKeyDestroyed = errors.New("crypto: session key destroyed")

// SessionKey is an ephemeral secp256k1 key owned by one session.
type SessionKey struct {
	mu   sync.Mutex
	priv *ecdsa.PrivateKey
	addr common.Address
}

// NewSessionKey generates a fresh session key.
func NewSessionKey() (*SessionKey, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &SessionKey{priv: priv, addr: ethcrypto.PubkeyToAddress(priv.PublicKey)}, nil
}

// Address returns the key's Ethereum address. It stays valid after Destroy.
func (k *SessionKey) Address() common.Address { return k.addr }

// SignWithSessionKey signs keccak256(payload).
func (k *SessionKey) SignWithSessionKey(payload []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.priv == nil {
		return nil, ErrKeyDestroyed
	}
	return signHash(ethcrypto.Keccak256Hash(payload), k.priv)
}

// Destroy wipes the private scalar. Safe to call more than once.
func (k *SessionKey) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	WipeKey(k.priv)
	k.priv = nil
}

// Destroyed reports whether Destroy has been called.
func (k *SessionKey) Destroyed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.priv == nil
}

// SessionKeyFactory produces secp256k1 session keys.
type SessionKeyFactory struct{}

// NewSessionKey implements domain.SessionKeyFactory.
func (SessionKeyFactory) NewSessionKey() (domain.SessionKey, error) {
	return NewSessionKey()
}

var (
	_ domain.SessionKey        = (*SessionKey)(nil)
	_ domain.SessionKeyFactory = SessionKeyFactory{}
)
