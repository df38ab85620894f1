package identity_test

import (
	"context"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nitropay/internal/services/identity"
	"nitropay/internal/store"
)

const strong = "Correct-Horse-42"

func newService(t *testing.T) *identity.Service {
	t.Helper()
	return identity.New(store.NewWalletFileStore(t.TempDir(),
		store.WithScrypt(store.ScryptParams{N: 1 << 10, R: 8, P: 1})))
}

func TestGenerateAndUnlock(t *testing.T) {
	svc := newService(t)

	addr, err := svc.GenerateWallet(strong)
	require.NoError(t, err)

	got, err := svc.WalletAddress()
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	w, err := svc.UnlockWallet(strong)
	require.NoError(t, err)
	assert.Equal(t, addr, w.Address())

	sig, err := w.SignWithWallet(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	fp, err := svc.Fingerprint()
	require.NoError(t, err)
	assert.Len(t, fp, 20)
}

func TestWeakPassphraseRejected(t *testing.T) {
	svc := newService(t)
	for _, p := range []string{"short", "alllowercase123!", "NoDigitsHere!!", "NoSymbols12345"} {
		_, err := svc.GenerateWallet(p)
		require.ErrorIs(t, err, identity.ErrWeakPassphrase, p)
	}
}

func TestImportRefusesOverwrite(t *testing.T) {
	svc := newService(t)
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	addr, err := svc.ImportWallet(strong, ethcrypto.FromECDSA(priv))
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(priv.PublicKey), addr)

	_, err = svc.GenerateWallet(strong)
	require.ErrorIs(t, err, identity.ErrWalletExists)
}

func TestNoWallet(t *testing.T) {
	svc := newService(t)
	_, err := svc.WalletAddress()
	require.ErrorIs(t, err, identity.ErrNoWallet)
}

func TestUnlockWrongPassphrase(t *testing.T) {
	svc := newService(t)
	_, err := svc.GenerateWallet(strong)
	require.NoError(t, err)
	_, err = svc.UnlockWallet("Wrong-Horse-42")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}
