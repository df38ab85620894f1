package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// The current supported version of the encrypted key format stored on disk.
const keystoreFormatVersion = 1

// ErrWrongPassphrase is returned when the passphrase is incorrect or the
// ciphertext has been modified.
var ErrWrongPassphrase = errors.New("store: wrong passphrase or corrupted wallet key")

// envelope is the on-disk JSON structure holding the ciphertext and KDF parameters.
type envelope struct {
	V       int    `json:"v"`
	Address string `json:"address"`
	Salt    []byte `json:"salt"`
	N       int    `json:"scrypt_N"`
	R       int    `json:"scrypt_r"`
	P       int    `json:"scrypt_p"`
	Cipher  []byte `json:"cipher"`
}

// ScryptParams tunes key derivation. Lower N only in tests.
type ScryptParams struct {
	N, R, P int
}

// DefaultScrypt is used unless a store is built with WithScrypt.
var DefaultScrypt = ScryptParams{N: 1 << 15, R: 8, P: 1}

// seal derives a key from passphrase and encrypts raw. The address is bound as
// associated data so the plaintext header cannot be swapped.
func seal(passphrase string, raw []byte, address string, kdf ScryptParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt[:], kdf.N, kdf.R, kdf.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte // zero nonce; salt-bound key is unique per write
	ct := aead.Seal(nil, nonce[:], raw, associatedData(salt[:], address))

	return json.MarshalIndent(envelope{
		V:       keystoreFormatVersion,
		Address: address,
		Salt:    salt[:],
		N:       kdf.N,
		R:       kdf.R,
		P:       kdf.P,
		Cipher:  ct,
	}, "", "  ")
}

// open decrypts an envelope using a key derived from passphrase.
func open(passphrase string, b []byte) ([]byte, error) {
	env, err := parseEnvelope(b)
	if err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), env.Salt, env.N, env.R, env.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], env.Cipher, associatedData(env.Salt, env.Address))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

func parseEnvelope(b []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, fmt.Errorf("store: decode wallet key: %w", err)
	}
	if env.V > keystoreFormatVersion {
		return envelope{}, fmt.Errorf("store: unsupported keystore version %d", env.V)
	}
	return env, nil
}

func associatedData(salt []byte, address string) []byte {
	ad := make([]byte, 0, len(salt)+len(address))
	ad = append(ad, salt...)
	return append(ad, address...)
}
