package eip712

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"nitropay/internal/crypto"
	"nitropay/internal/protocol/rpc"
)

// ErrSignerMismatch is returned when a policy signature was not made by the wallet.
var ErrSignerMismatch = errors.New("eip712: signer does not match wallet")

// Policy binds a wallet, a session key, spending allowances and an expiry to
// one authentication challenge.
type Policy struct {
	Application string
	Challenge   string
	Scope       string
	Wallet      common.Address
	SessionKey  common.Address
	ExpiresAt   uint64
	Allowances  []rpc.Allowance
}

var policyTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
	},
	"Policy": {
		{Name: "challenge", Type: "string"},
		{Name: "scope", Type: "string"},
		{Name: "wallet", Type: "address"},
		{Name: "session_key", Type: "address"},
		{Name: "expires_at", Type: "uint64"},
		{Name: "allowances", Type: "Allowance[]"},
	},
	"Allowance": {
		{Name: "asset", Type: "string"},
		{Name: "amount", Type: "string"},
	},
}

// TypedData returns the policy as EIP-712 typed data.
func (p Policy) TypedData() apitypes.TypedData {
	allowances := make([]interface{}, 0, len(p.Allowances))
	for _, a := range p.Allowances {
		allowances = append(allowances, map[string]interface{}{
			"asset":  a.Asset,
			"amount": a.Amount.String(),
		})
	}
	return apitypes.TypedData{
		Types:       policyTypes,
		PrimaryType: "Policy",
		Domain:      apitypes.TypedDataDomain{Name: p.Application},
		Message: apitypes.TypedDataMessage{
			"challenge":   p.Challenge,
			"scope":       p.Scope,
			"wallet":      p.Wallet.Hex(),
			"session_key": p.SessionKey.Hex(),
			"expires_at":  strconv.FormatUint(p.ExpiresAt, 10),
			"allowances":  allowances,
		},
	}
}

// JSON returns the typed-data document handed to the wallet.
func (p Policy) JSON() ([]byte, error) {
	b, err := json.Marshal(p.TypedData())
	if err != nil {
		return nil, fmt.Errorf("eip712: encode policy: %w", err)
	}
	return b, nil
}

// Hash returns the EIP-712 digest the wallet signs.
func (p Policy) Hash() (common.Hash, error) {
	h, _, err := apitypes.TypedDataAndHash(p.TypedData())
	if err != nil {
		return common.Hash{}, fmt.Errorf("eip712: hash policy: %w", err)
	}
	return common.BytesToHash(h), nil
}

// Signer recovers the address that signed the policy.
func (p Policy) Signer(sig []byte) (common.Address, error) {
	h, err := p.Hash()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.Recover(h, sig)
}

// Verify checks that sig was produced by p.Wallet.
func (p Policy) Verify(sig []byte) error {
	got, err := p.Signer(sig)
	if err != nil {
		return err
	}
	if got != p.Wallet {
		return fmt.Errorf("%w: got %s want %s", ErrSignerMismatch, got.Hex(), p.Wallet.Hex())
	}
	return nil
}
