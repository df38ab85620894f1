package channelstate_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nitropay/internal/crypto"
	"nitropay/internal/domain"
	"nitropay/internal/protocol/channelstate"
)

var (
	user   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	broker = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	token  = common.HexToAddress("0xDB9F293e3898c9E5536A3be1b0C56c89d2b32DEb")
)

func definition(nonce uint64) domain.ChannelDefinition {
	return domain.ChannelDefinition{
		Participants: []common.Address{user, broker},
		Adjudicator:  common.HexToAddress("0x7c7ccbc98469190849BCC6c926307794fDfB11F2"),
		Challenge:    3600,
		Nonce:        nonce,
	}
}

func TestChannelIDIsDeterministic(t *testing.T) {
	a, err := channelstate.ChannelID(definition(1), 11155111)
	require.NoError(t, err)
	b, err := channelstate.ChannelID(definition(1), 11155111)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, string(a), 66)

	c, err := channelstate.ChannelID(definition(2), 11155111)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := channelstate.ChannelID(definition(1), 84532)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestPackLeadsWithChannelID(t *testing.T) {
	id, err := channelstate.ChannelID(definition(1), 11155111)
	require.NoError(t, err)
	st := domain.ChannelState{
		Intent:  channelstate.IntentInitialize,
		Version: 0,
		Allocations: []domain.Allocation{
			{Destination: user, Token: token, Amount: decimal.NewFromInt(0)},
			{Destination: broker, Token: token, Amount: decimal.NewFromInt(0)},
		},
	}
	packed, err := channelstate.Pack(id, st)
	require.NoError(t, err)
	assert.Equal(t, id.Hash().Bytes(), packed[:32])
	assert.Equal(t, byte(channelstate.IntentInitialize), packed[63])
}

func TestPackRejectsNegativeAllocation(t *testing.T) {
	_, err := channelstate.Pack("0x01", domain.ChannelState{
		Allocations: []domain.Allocation{{Destination: user, Token: token, Amount: decimal.NewFromInt(-1)}},
	})
	require.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	key, err := crypto.NewSessionKey()
	require.NoError(t, err)
	id, err := channelstate.ChannelID(definition(9), 11155111)
	require.NoError(t, err)
	st := domain.ChannelState{Intent: channelstate.IntentFinalize, Version: 4, Data: []byte{1}}

	sig, err := channelstate.Sign(id, st, key.SignWithSessionKey)
	require.NoError(t, err)
	require.NoError(t, channelstate.VerifySigner(id, st, sig, key.Address()))

	st.Version = 5
	require.Error(t, channelstate.VerifySigner(id, st, sig, key.Address()))
}

func TestWireRoundTrip(t *testing.T) {
	st := domain.ChannelState{
		Intent:  channelstate.IntentResize,
		Version: 2,
		Data:    []byte{0xca, 0xfe},
		Allocations: []domain.Allocation{
			{Destination: user, Token: token, Amount: decimal.NewFromInt(10_000_000)},
		},
	}
	back := channelstate.FromWire(channelstate.ToWire(st))
	assert.Equal(t, st.Version, back.Version)
	assert.Equal(t, st.Data, back.Data)
	require.Len(t, back.Allocations, 1)
	assert.True(t, back.Allocations[0].Amount.Equal(st.Allocations[0].Amount))
}
