package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const custodyABIJSON = `[
  {"type":"function","name":"deposit","stateMutability":"payable","inputs":[
    {"name":"account","type":"address"},
    {"name":"token","type":"address"},
    {"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"create","stateMutability":"nonpayable","inputs":[
    {"name":"ch","type":"tuple","components":[
      {"name":"participants","type":"address[]"},
      {"name":"adjudicator","type":"address"},
      {"name":"challenge","type":"uint64"},
      {"name":"nonce","type":"uint64"}]},
    {"name":"initial","type":"tuple","components":[
      {"name":"intent","type":"uint8"},
      {"name":"version","type":"uint256"},
      {"name":"data","type":"bytes"},
      {"name":"allocations","type":"tuple[]","components":[
        {"name":"destination","type":"address"},
        {"name":"token","type":"address"},
        {"name":"amount","type":"uint256"}]},
      {"name":"sigs","type":"bytes[]"}]}],
    "outputs":[{"name":"channelId","type":"bytes32"}]},
  {"type":"function","name":"close","stateMutability":"nonpayable","inputs":[
    {"name":"channelId","type":"bytes32"},
    {"name":"candidate","type":"tuple","components":[
      {"name":"intent","type":"uint8"},
      {"name":"version","type":"uint256"},
      {"name":"data","type":"bytes"},
      {"name":"allocations","type":"tuple[]","components":[
        {"name":"destination","type":"address"},
        {"name":"token","type":"address"},
        {"name":"amount","type":"uint256"}]},
      {"name":"sigs","type":"bytes[]"}]},
    {"name":"proofs","type":"tuple[]","components":[
      {"name":"intent","type":"uint8"},
      {"name":"version","type":"uint256"},
      {"name":"data","type":"bytes"},
      {"name":"allocations","type":"tuple[]","components":[
        {"name":"destination","type":"address"},
        {"name":"token","type":"address"},
        {"name":"amount","type":"uint256"}]},
      {"name":"sigs","type":"bytes[]"}]}],
    "outputs":[]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	custodyABI = mustParseABI(custodyABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return parsed
}

// The tuple structs below mirror the custody contract; field names follow the
// ABI component names.

type abiChannel struct {
	Participants []common.Address
	Adjudicator  common.Address
	Challenge    uint64
	Nonce        uint64
}

type abiAllocation struct {
	Destination common.Address
	Token       common.Address
	Amount      *big.Int
}

type abiState struct {
	Intent      uint8
	Version     *big.Int
	Data        []byte
	Allocations []abiAllocation
	Sigs        [][]byte
}
