package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nitropay/internal/store"
)

var fastKDF = store.WithScrypt(store.ScryptParams{N: 1 << 10, R: 8, P: 1})

func TestWallet_SaveLoad_OK(t *testing.T) {
	home := t.TempDir()
	s := store.NewWalletFileStore(home, fastKDF)

	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	raw := ethcrypto.FromECDSA(priv)

	require.NoError(t, s.SaveWalletKey("pass", raw))

	got, err := s.LoadWalletKey("pass")
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	addr, ok, err := s.WalletAddress()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ethcrypto.PubkeyToAddress(priv.PublicKey), addr)

	info, err := os.Stat(filepath.Join(home, "wallet.json.enc"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWallet_WrongPassphrase_Fails(t *testing.T) {
	s := store.NewWalletFileStore(t.TempDir(), fastKDF)
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	require.NoError(t, s.SaveWalletKey("correct", ethcrypto.FromECDSA(priv)))
	_, err = s.LoadWalletKey("wrong")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestWallet_Missing(t *testing.T) {
	s := store.NewWalletFileStore(t.TempDir(), fastKDF)
	_, err := s.LoadWalletKey("x")
	require.ErrorIs(t, err, store.ErrNoWalletKey)

	_, ok, err := s.WalletAddress()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWallet_TamperedAddressFails(t *testing.T) {
	home := t.TempDir()
	s := store.NewWalletFileStore(home, fastKDF)
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, s.SaveWalletKey("pass", ethcrypto.FromECDSA(priv)))

	path := filepath.Join(home, "wallet.json.enc")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()
	tampered := []byte(strings.Replace(string(b), addr, "0x0000000000000000000000000000000000000001", 1))
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	_, err = s.LoadWalletKey("pass")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestWallet_RejectsInvalidKey(t *testing.T) {
	s := store.NewWalletFileStore(t.TempDir(), fastKDF)
	require.Error(t, s.SaveWalletKey("pass", []byte{1, 2, 3}))
}
