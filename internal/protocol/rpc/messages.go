package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Message is a decoded response or push. The set of variants is closed.
type Message interface {
	method() Method
}

// AuthChallenge carries the challenge the wallet must sign.
type AuthChallenge struct {
	ChallengeMessage string `json:"challenge_message"`
}

// AuthVerifyResult confirms authentication and carries the issued token.
type AuthVerifyResult struct {
	Address    common.Address `json:"address"`
	SessionKey common.Address `json:"session_key"`
	Success    bool           `json:"success"`
	JWTToken   string         `json:"jwt_token,omitempty"`
}

// ChannelInfo describes a channel as the counterparty tracks it.
type ChannelInfo struct {
	ChannelID   string          `json:"channel_id"`
	Participant common.Address  `json:"participant"`
	Status      string          `json:"status"`
	Token       common.Address  `json:"token"`
	Wallet      common.Address  `json:"wallet"`
	Amount      decimal.Decimal `json:"amount"`
	ChainID     uint64          `json:"chain_id"`
	Adjudicator common.Address  `json:"adjudicator"`
	Challenge   uint64          `json:"challenge"`
	Nonce       uint64          `json:"nonce"`
	Version     uint64          `json:"version"`
	CreatedAt   string          `json:"created_at,omitempty"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
}

// Channels lists a participant's channels.
type Channels struct {
	Channels []ChannelInfo `json:"channels"`
}

// ChannelDefinition is the fixed part of a proposed channel.
type ChannelDefinition struct {
	Participants [2]common.Address `json:"participants"`
	Adjudicator  common.Address    `json:"adjudicator"`
	Challenge    uint64            `json:"challenge"`
	Nonce        uint64            `json:"nonce"`
}

// StateAllocation is one allocation of a channel state, in on-chain units.
type StateAllocation struct {
	Destination common.Address  `json:"destination"`
	Token       common.Address  `json:"token"`
	Amount      decimal.Decimal `json:"amount"`
}

// UnsignedState is a channel state proposed by the counterparty.
type UnsignedState struct {
	Intent      uint8             `json:"intent"`
	Version     uint64            `json:"version"`
	StateData   hexutil.Bytes     `json:"state_data"`
	Allocations []StateAllocation `json:"allocations"`
}

// ChannelOperation answers create_channel, close_channel and resize_channel.
type ChannelOperation struct {
	Op              Method             `json:"-"`
	ChannelID       string             `json:"channel_id"`
	Channel         *ChannelDefinition `json:"channel,omitempty"`
	State           UnsignedState      `json:"state"`
	ServerSignature hexutil.Bytes      `json:"server_signature"`
}

// Balance is one ledger balance in human units.
type Balance struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// LedgerBalances answers get_ledger_balances.
type LedgerBalances struct {
	LedgerBalances []Balance `json:"ledger_balances"`
}

// BalanceUpdate is pushed after the caller's ledger changes.
type BalanceUpdate struct {
	BalanceUpdates []Balance `json:"balance_updates"`
}

// ChannelUpdate is pushed when a channel changes status.
type ChannelUpdate struct {
	ChannelInfo
}

// Transaction is one ledger movement recorded for a transfer.
type Transaction struct {
	ID          uint64          `json:"id"`
	TxType      string          `json:"tx_type"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

// TransferResult confirms a transfer.
type TransferResult struct {
	Transactions []Transaction `json:"transactions"`
}

// Asset describes a network-supported token.
type Asset struct {
	Token    common.Address `json:"token"`
	ChainID  uint64         `json:"chain_id"`
	Symbol   string         `json:"symbol"`
	Decimals int32          `json:"decimals"`
}

// Assets answers get_assets and is pushed on connect.
type Assets struct {
	Assets []Asset `json:"assets"`
}

// Pong answers ping.
type Pong struct{}

// ErrorResponse is the counterparty's generic error envelope.
type ErrorResponse struct {
	Message string
}

// Unknown is a message this package does not recognise.
type Unknown struct {
	Method Method
	Params json.RawMessage
}

func (AuthChallenge) method() Method    { return MethodAuthChallenge }
func (AuthVerifyResult) method() Method { return MethodAuthVerify }
func (Channels) method() Method         { return MethodGetChannels }
func (m ChannelOperation) method() Method {
	if m.Op == "" {
		return MethodCreateChannel
	}
	return m.Op
}
func (LedgerBalances) method() Method { return MethodGetLedgerBalances }
func (BalanceUpdate) method() Method  { return MethodBalanceUpdate }
func (ChannelUpdate) method() Method  { return MethodChannelUpdate }
func (TransferResult) method() Method { return MethodTransfer }
func (Assets) method() Method         { return MethodAssets }
func (Pong) method() Method           { return MethodPong }
func (ErrorResponse) method() Method  { return MethodError }
func (m Unknown) method() Method      { return m.Method }

// MethodOf returns the method a message was decoded from.
func MethodOf(m Message) Method { return m.method() }

// Error implements error so a counterparty refusal can travel as one.
func (e ErrorResponse) Error() string { return e.Message }

// Parse decodes a payload into its message variant.
func Parse(p Payload) (Message, error) {
	switch p.Method {
	case MethodAuthChallenge:
		return decode[AuthChallenge](p)
	case MethodAuthVerify:
		return decode[AuthVerifyResult](p)
	case MethodGetChannels:
		return decode[Channels](p)
	case MethodCreateChannel, MethodCloseChannel, MethodResizeChannel:
		m, err := decode[ChannelOperation](p)
		if err != nil {
			return nil, err
		}
		op := m.(ChannelOperation)
		op.Op = p.Method
		return op, nil
	case MethodGetLedgerBalances:
		return decode[LedgerBalances](p)
	case MethodBalanceUpdate:
		return decode[BalanceUpdate](p)
	case MethodChannelUpdate:
		return decode[ChannelUpdate](p)
	case MethodTransfer:
		return decode[TransferResult](p)
	case MethodGetAssets, MethodAssets:
		return decode[Assets](p)
	case MethodPong:
		return Pong{}, nil
	case MethodError:
		var body ErrorParams
		if err := unmarshalParams(p, &body); err != nil {
			return nil, err
		}
		return ErrorResponse{Message: body.Error}, nil
	default:
		return Unknown{Method: p.Method, Params: p.Params}, nil
	}
}

func decode[T Message](p Payload) (Message, error) {
	var v T
	if err := unmarshalParams(p, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func unmarshalParams(p Payload, v any) error {
	if len(p.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(p.Params, v); err != nil {
		return fmt.Errorf("%w: %s params: %v", ErrMalformedFrame, p.Method, err)
	}
	return nil
}

// DecodeParams decodes request params into v.
func DecodeParams(p Payload, v any) error {
	return unmarshalParams(p, v)
}
