package channelstate

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nitropay/internal/crypto"
	"nitropay/internal/domain"
	"nitropay/internal/protocol/rpc"
)

// State intents.
const (
	IntentOperate    uint8 = 0
	IntentInitialize uint8 = 1
	IntentResize     uint8 = 2
	IntentFinalize   uint8 = 3
)

var (
	addressTy    = mustType("address", nil)
	addressesTy  = mustType("address[]", nil)
	uint8Ty      = mustType("uint8", nil)
	uint64Ty     = mustType("uint64", nil)
	uint256Ty    = mustType("uint256", nil)
	bytes32Ty    = mustType("bytes32", nil)
	bytesTy      = mustType("bytes", nil)
	allocationTy = mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "destination", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
	})

	channelArgs = abi.Arguments{
		{Type: addressesTy}, {Type: addressTy}, {Type: uint64Ty}, {Type: uint64Ty}, {Type: uint256Ty},
	}
	stateArgs = abi.Arguments{
		{Type: bytes32Ty}, {Type: uint8Ty}, {Type: uint256Ty}, {Type: bytesTy}, {Type: allocationTy},
	}
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	ty, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("channelstate: abi type %s: %v", t, err))
	}
	return ty
}

// abiAllocation mirrors the Allocation tuple; field names follow the ABI components.
type abiAllocation struct {
	Destination common.Address
	Token       common.Address
	Amount      *big.Int
}

// ChannelID derives the id of def on chain.
func ChannelID(def domain.ChannelDefinition, chain domain.ChainID) (domain.ChannelID, error) {
	packed, err := channelArgs.Pack(
		def.Participants,
		def.Adjudicator,
		def.Challenge,
		def.Nonce,
		new(big.Int).SetUint64(uint64(chain)),
	)
	if err != nil {
		return "", fmt.Errorf("channelstate: pack channel: %w", err)
	}
	return domain.ChannelID(ethcrypto.Keccak256Hash(packed).Hex()), nil
}

// Pack returns the bytes both parties sign for st in channel id.
func Pack(id domain.ChannelID, st domain.ChannelState) ([]byte, error) {
	allocs := make([]abiAllocation, 0, len(st.Allocations))
	for _, a := range st.Allocations {
		if a.Amount.IsNegative() {
			return nil, fmt.Errorf("channelstate: negative allocation for %s", a.Destination.Hex())
		}
		allocs = append(allocs, abiAllocation{
			Destination: a.Destination,
			Token:       a.Token,
			Amount:      a.Amount.BigInt(),
		})
	}
	data := st.Data
	if data == nil {
		data = []byte{}
	}
	packed, err := stateArgs.Pack(
		[32]byte(id.Hash()),
		st.Intent,
		new(big.Int).SetUint64(st.Version),
		data,
		allocs,
	)
	if err != nil {
		return nil, fmt.Errorf("channelstate: pack state: %w", err)
	}
	return packed, nil
}

// Sign packs st and signs it with sign.
func Sign(id domain.ChannelID, st domain.ChannelState, sign func([]byte) ([]byte, error)) ([]byte, error) {
	packed, err := Pack(id, st)
	if err != nil {
		return nil, err
	}
	return sign(packed)
}

// VerifySigner reports whether want signed st for channel id.
func VerifySigner(id domain.ChannelID, st domain.ChannelState, sig []byte, want common.Address) error {
	packed, err := Pack(id, st)
	if err != nil {
		return err
	}
	got, err := crypto.RecoverPayload(packed, sig)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("channelstate: state signed by %s, want %s", got.Hex(), want.Hex())
	}
	return nil
}

// FromWire converts a proposed state to the domain form.
func FromWire(s rpc.UnsignedState) domain.ChannelState {
	st := domain.ChannelState{
		Intent:  s.Intent,
		Version: s.Version,
		Data:    []byte(s.StateData),
	}
	for _, a := range s.Allocations {
		st.Allocations = append(st.Allocations, domain.Allocation{
			Destination: a.Destination,
			Token:       a.Token,
			Amount:      a.Amount,
		})
	}
	return st
}

// ToWire converts a domain state to its wire form.
func ToWire(st domain.ChannelState) rpc.UnsignedState {
	s := rpc.UnsignedState{
		Intent:      st.Intent,
		Version:     st.Version,
		StateData:   st.Data,
		Allocations: []rpc.StateAllocation{},
	}
	for _, a := range st.Allocations {
		s.Allocations = append(s.Allocations, rpc.StateAllocation{
			Destination: a.Destination,
			Token:       a.Token,
			Amount:      a.Amount,
		})
	}
	return s
}

// DefinitionFromWire converts a proposed channel definition.
func DefinitionFromWire(d rpc.ChannelDefinition) domain.ChannelDefinition {
	return domain.ChannelDefinition{
		Participants: []common.Address{d.Participants[0], d.Participants[1]},
		Adjudicator:  d.Adjudicator,
		Challenge:    d.Challenge,
		Nonce:        d.Nonce,
	}
}

// SameID compares channel ids case-insensitively.
func SameID(a, b domain.ChannelID) bool {
	return strings.EqualFold(string(a), string(b))
}
