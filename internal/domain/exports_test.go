package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"nitropay/internal/domain"
	types "nitropay/internal/domain/types"
)

func TestReexportsMatchTypes(t *testing.T) {
	assert.Equal(t, types.StateChannelReady, domain.StateChannelReady)
	assert.Equal(t, types.ChannelOpen, domain.ChannelOpen)
	assert.Equal(t, types.TxFailed, domain.TxFailed)
	assert.ErrorIs(t, domain.ErrBusy, types.ErrBusy)
	assert.Equal(t, "error", domain.StateError.String())
}

func TestKindSentinelsThroughReexports(t *testing.T) {
	err := fmt.Errorf("pay: %w", domain.NewError(domain.KindPayment, "pay", errors.New("rejected")))

	assert.True(t, errors.Is(err, domain.ErrKindPayment))
	assert.False(t, errors.Is(err, domain.ErrKindAuth))
	assert.Equal(t, domain.KindPayment, domain.KindOf(err))
	assert.False(t, domain.KindOf(err).SessionFatal())
	assert.Equal(t, domain.KindAuth, domain.KindOf(domain.Errorf(domain.KindAuth, "connect", "bad %s", "token")))
}
