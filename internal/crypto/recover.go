package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned for signatures that are not 65 bytes with a valid recovery id.
var ErrBadSignature = errors.New("crypto: bad signature")

// Recover returns the address that produced sig over hash.
func Recover(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	norm := make([]byte, len(sig))
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	if norm[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrBadSignature, sig[64])
	}
	pub, err := ethcrypto.SigToPub(hash.Bytes(), norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RecoverPayload returns the address that signed keccak256(payload).
func RecoverPayload(payload, sig []byte) (common.Address, error) {
	return Recover(ethcrypto.Keccak256Hash(payload), sig)
}

// VerifyPayload reports whether want signed payload.
func VerifyPayload(want common.Address, payload, sig []byte) bool {
	got, err := RecoverPayload(payload, sig)
	return err == nil && got == want
}

func signHash(hash common.Hash, priv *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := ethcrypto.Sign(hash.Bytes(), priv)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignPayload signs keccak256(payload) with priv, producing a signature with V in {27, 28}.
func SignPayload(priv *ecdsa.PrivateKey, payload []byte) ([]byte, error) {
	return signHash(ethcrypto.Keccak256Hash(payload), priv)
}
