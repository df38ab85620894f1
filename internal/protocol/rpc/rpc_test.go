package rpc_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nitropay/internal/protocol/rpc"
)

func TestRequestEncodesPositionalPayload(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	f, err := rpc.NewRequest(7, rpc.MethodTransfer, rpc.TransferParams{
		Destination: common.HexToAddress("0xB"),
		Allocations: []rpc.TransferAllocation{{Asset: "ytest.usd", Amount: decimal.RequireFromString("10")}},
		Reference:   "inv-42",
	}, now)
	require.NoError(t, err)

	require.NoError(t, f.Sign(func(payload []byte) ([]byte, error) {
		return []byte{0xde, 0xad}, nil
	}))
	raw, err := f.Encode()
	require.NoError(t, err)

	var generic map[string][]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Len(t, generic["req"], 4)
	assert.JSONEq(t, `7`, string(generic["req"][0]))
	assert.JSONEq(t, `"transfer"`, string(generic["req"][1]))
	assert.JSONEq(t, `1700000000123`, string(generic["req"][3]))
	assert.JSONEq(t, `"0xdead"`, string(generic["sig"][0]))

	var params rpc.TransferParams
	require.NoError(t, json.Unmarshal(generic["req"][2], &params))
	assert.Equal(t, "inv-42", params.Reference)
	assert.True(t, params.Allocations[0].Amount.Equal(decimal.NewFromInt(10)))
}

func TestSignCoversPayloadBytes(t *testing.T) {
	f, err := rpc.NewRequest(1, rpc.MethodPing, nil, time.UnixMilli(5))
	require.NoError(t, err)

	var signed []byte
	require.NoError(t, f.Sign(func(payload []byte) ([]byte, error) {
		signed = payload
		return []byte{1}, nil
	}))
	assert.Equal(t, `[1,"ping",{},5]`, string(signed))

	decoded, err := rpc.Decode(mustEncode(t, f))
	require.NoError(t, err)
	again, err := decoded.Req.SigningBytes()
	require.NoError(t, err)
	assert.Equal(t, signed, again)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := map[string]string{
		"not json":      `{{`,
		"no payload":    `{"sig":[]}`,
		"both payloads": `{"req":[1,"ping",{},1],"res":[1,"pong",{},1]}`,
		"short payload": `{"res":[1]}`,
		"bad id":        `{"res":["x","pong",{},1]}`,
		"empty method":  `{"res":[1,"",{},1]}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := rpc.Decode([]byte(in))
			require.ErrorIs(t, err, rpc.ErrMalformedFrame)
		})
	}
}

func TestParseVariants(t *testing.T) {
	cases := []struct {
		frame string
		check func(t *testing.T, m rpc.Message)
	}{
		{`{"res":[1,"auth_challenge",{"challenge_message":"abc"},1]}`, func(t *testing.T, m rpc.Message) {
			assert.Equal(t, rpc.AuthChallenge{ChallengeMessage: "abc"}, m)
		}},
		{`{"res":[2,"auth_verify",{"success":true,"jwt_token":"t"},1]}`, func(t *testing.T, m rpc.Message) {
			v := m.(rpc.AuthVerifyResult)
			assert.True(t, v.Success)
			assert.Equal(t, "t", v.JWTToken)
		}},
		{`{"res":[3,"close_channel",{"channel_id":"0x01","state":{"intent":3,"version":2,"state_data":"0x","allocations":[]},"server_signature":"0x0102"},1]}`, func(t *testing.T, m rpc.Message) {
			op := m.(rpc.ChannelOperation)
			assert.Equal(t, rpc.MethodCloseChannel, rpc.MethodOf(op))
			assert.Equal(t, uint64(2), op.State.Version)
			assert.Equal(t, []byte{1, 2}, []byte(op.ServerSignature))
		}},
		{`{"res":[0,"bu",{"balance_updates":[{"asset":"usdc","amount":"1.5"}]},1]}`, func(t *testing.T, m rpc.Message) {
			bu := m.(rpc.BalanceUpdate)
			require.Len(t, bu.BalanceUpdates, 1)
			assert.Equal(t, "1.5", bu.BalanceUpdates[0].Amount.String())
		}},
		{`{"res":[0,"cu",{"channel_id":"0x02","status":"open","chain_id":11155111},1]}`, func(t *testing.T, m rpc.Message) {
			cu := m.(rpc.ChannelUpdate)
			assert.Equal(t, "open", cu.Status)
			assert.Equal(t, uint64(11155111), cu.ChainID)
		}},
		{`{"res":[4,"error",{"error":"nope"},1]}`, func(t *testing.T, m rpc.Message) {
			assert.Equal(t, "nope", m.(rpc.ErrorResponse).Error())
		}},
		{`{"res":[5,"brand_new",{"x":1},1]}`, func(t *testing.T, m rpc.Message) {
			u := m.(rpc.Unknown)
			assert.Equal(t, rpc.Method("brand_new"), u.Method)
			assert.JSONEq(t, `{"x":1}`, string(u.Params))
		}},
	}
	for _, tc := range cases {
		f, err := rpc.Decode([]byte(tc.frame))
		require.NoError(t, err)
		m, err := rpc.Parse(*f.Res)
		require.NoError(t, err)
		tc.check(t, m)
	}
}

func TestParseBadParams(t *testing.T) {
	f, err := rpc.Decode([]byte(`{"res":[1,"get_ledger_balances",{"ledger_balances":"oops"},1]}`))
	require.NoError(t, err)
	_, err = rpc.Parse(*f.Res)
	require.ErrorIs(t, err, rpc.ErrMalformedFrame)
}

func TestParseConflict(t *testing.T) {
	id := "0xAbCdEf0000000000000000000000000000000000000000000000000000000001"
	got, ok := rpc.ParseConflict("failed: an open channel with broker already exists: " + id)
	require.True(t, ok)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000000000000000000000000000001", got)

	_, ok = rpc.ParseConflict("an open channel with broker already exists")
	assert.False(t, ok)
	_, ok = rpc.ParseConflict("insufficient funds " + id)
	assert.False(t, ok)
}

func TestPushMethods(t *testing.T) {
	assert.True(t, rpc.MethodBalanceUpdate.Push())
	assert.True(t, rpc.MethodChannelUpdate.Push())
	assert.False(t, rpc.MethodTransfer.Push())
}

func mustEncode(t *testing.T, f rpc.Frame) []byte {
	t.Helper()
	b, err := f.Encode()
	require.NoError(t, err)
	return b
}
