package session_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nitropay/internal/domain"
	"nitropay/internal/metrics"
	"nitropay/internal/protocol/rpc"
)

func pay(amount int64) domain.PayRequest {
	return domain.PayRequest{Recipient: payee, Amount: decimal.NewFromInt(amount)}
}

func errorTransitions(h *harness) float64 {
	return testutil.ToFloat64(h.metrics.Transitions.WithLabelValues(domain.StateError.String()))
}

func TestPrefundedPaymentNeverEntersError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, withPrefund(5))
	defer h.ctrl.Disconnect()

	h.connect()
	assert.Equal(t, domain.StateAuthenticated, h.ctrl.Snapshot().State)
	h.openChannel()
	require.NoError(t, h.ctrl.RefreshBalances(context.Background()))
	require.True(t, h.ctrl.Tracker().Ledger(usd.Symbol).Equal(decimal.NewFromInt(5)))

	p, err := h.ctrl.Pay(context.Background(), pay(5))
	require.NoError(t, err)
	assert.NotEmpty(t, p.TransferID)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StatePaid, snap.State)
	assert.Nil(t, snap.Error)
	require.NotNil(t, snap.LastPayment)
	assert.Equal(t, payee, snap.LastPayment.Recipient)
	assert.Zero(t, errorTransitions(h))
	assert.True(t, h.node.Ledger(payee, usd.Symbol).Equal(decimal.NewFromInt(5)))
}

func TestDepositThenPaySettlesLedger(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	ch := h.openChannel()
	assert.Equal(t, domain.ChannelOpen, ch.Status)
	assert.NotEmpty(t, ch.FundingTxHash)

	hash, err := h.ctrl.Deposit(context.Background(), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Equal(t, domain.StateChannelReady, h.ctrl.Snapshot().State)
	require.True(t, h.ctrl.Tracker().Ledger(usd.Symbol).Equal(decimal.NewFromInt(10)))
	assert.True(t, h.ctrl.Tracker().Wallet(usd.Symbol, usd.ChainID).Equal(decimal.NewFromInt(90)))

	_, err = h.ctrl.Pay(context.Background(), pay(10))
	require.NoError(t, err)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StatePaid, snap.State)
	assert.True(t, h.ctrl.Tracker().Ledger(usd.Symbol).IsZero())
	assert.Zero(t, errorTransitions(h))
	assert.Equal(t, 1, h.count(rpc.MethodTransfer))
}

func TestOpenChannelAdoptsDiscoveredChannel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()
	id := h.node.OpenChannel(h.wallet.Address(), usd.ChainID, usd.Token)

	h.connect()
	ch := h.openChannel()
	assert.Equal(t, strings.ToLower(id.String()), ch.ID.String())
	assert.Zero(t, h.count(rpc.MethodCreateChannel))
	assert.Empty(t, h.chain.Submitted())
	assert.Equal(t, domain.StateChannelReady, h.ctrl.Snapshot().State)
}

func TestOpenChannelAdoptsConflictingChannel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()
	id := h.node.OpenChannel(h.wallet.Address(), usd.ChainID, usd.Token)
	// Hide the channel from discovery so creation runs into the conflict.
	h.setIntercept(only(rpc.MethodGetChannels, func(req rpc.Frame) []rpc.Frame {
		f, err := rpc.NewResponse(req.Req.RequestID, rpc.MethodGetChannels, rpc.Channels{Channels: []rpc.ChannelInfo{}}, time.Now())
		require.NoError(t, err)
		return []rpc.Frame{f}
	}))

	h.connect()
	ch := h.openChannel()

	assert.Equal(t, strings.ToLower(id.String()), ch.ID.String())
	assert.Equal(t, domain.ChannelOpen, ch.Status)
	assert.Equal(t, 1, h.count(rpc.MethodCreateChannel))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StateChannelReady, snap.State)
	assert.Nil(t, snap.Error)
	assert.Zero(t, errorTransitions(h))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ConflictsRecovered))
}

func TestPayRejectedLocallyWithoutFunds(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	h.openChannel()
	before := h.ctrl.Snapshot()
	sent := h.sentTotal()

	_, err := h.ctrl.Pay(context.Background(), pay(5))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	after := h.ctrl.Snapshot()
	assert.Equal(t, sent, h.sentTotal())
	assert.Equal(t, before.State, after.State)
	assert.Nil(t, after.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Payments.WithLabelValues(metrics.OutcomeRejected)))
}

func TestPayValidatesRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ctrl.Pay(ctx, domain.PayRequest{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidRecipient)
	_, err = h.ctrl.Pay(ctx, pay(0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.ctrl.Pay(ctx, domain.PayRequest{Recipient: payee, Amount: decimal.NewFromInt(1), Asset: "ytest.eur"})
	assert.ErrorIs(t, err, domain.ErrUnknownAsset)
	_, err = h.ctrl.Pay(ctx, pay(1))
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, domain.StateIdle, h.ctrl.Snapshot().State)
}

func TestPayNeedsOpenChannel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, withPrefund(5))
	defer h.ctrl.Disconnect()

	h.connect()
	_, err := h.ctrl.Pay(context.Background(), pay(1))
	require.ErrorIs(t, err, domain.ErrNoChannel)
	assert.Zero(t, h.count(rpc.MethodTransfer))
}

func TestUnmatchedResponseIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	h.openChannel()
	before := h.ctrl.Snapshot()

	f, err := rpc.NewResponse(999, rpc.MethodTransfer, rpc.TransferResult{}, time.Now())
	require.NoError(t, err)
	h.transport().DeliverFrame(f)
	unknown, err := rpc.NewResponse(0, rpc.Method("message"), map[string]string{"text": "hi"}, time.Now())
	require.NoError(t, err)
	h.transport().DeliverFrame(unknown)

	after := h.ctrl.Snapshot()
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Channel, after.Channel)
	assert.Nil(t, after.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Anomalies.WithLabelValues(metrics.ReasonUnmatched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Anomalies.WithLabelValues(metrics.ReasonUnknownKind)))
}

func TestDisconnectForgetsEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)

	h.connect()
	h.openChannel()
	tr := h.transport()

	h.ctrl.Disconnect()

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StateIdle, snap.State)
	assert.False(t, snap.Authenticated)
	assert.Nil(t, snap.SessionKey)
	assert.Nil(t, snap.TokenExpiry)
	assert.Nil(t, snap.Channel)
	assert.Nil(t, snap.Error)
	assert.Empty(t, snap.SessionID)
	assert.Zero(t, snap.PendingCalls)
	assert.True(t, tr.Closed())
	keys := h.keys.all()
	require.Len(t, keys, 1)
	assert.True(t, keys[0].Destroyed())

	// A fresh Connect starts from scratch.
	h.connect()
	assert.Len(t, h.keys.all(), 2)
	assert.Contains(t, h.transport().SentMethods(), rpc.MethodAuthRequest)
	h.ctrl.Disconnect()
}

func TestDisconnectAbortsPendingPayment(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, withPrefund(5))

	h.connect()
	h.openChannel()
	require.NoError(t, h.ctrl.RefreshBalances(context.Background()))
	h.setIntercept(only(rpc.MethodTransfer, func(rpc.Frame) []rpc.Frame { return nil }))

	errc := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Pay(context.Background(), pay(5))
		errc <- err
	}()
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().PendingCalls == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, domain.StatePaying, h.ctrl.Snapshot().State)

	h.ctrl.Disconnect()

	require.Error(t, <-errc)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StateIdle, snap.State)
	assert.Nil(t, snap.Error)
	assert.Nil(t, snap.LastPayment)
	assert.Zero(t, snap.PendingCalls)
}

func TestConcurrentConnectSharesOneSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()
	gate := make(chan struct{})
	h.setGate(gate)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.ctrl.Connect(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool {
		tr := h.factory.Last()
		return tr != nil && tr.Opens() == 1
	}, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, h.factory.Made(), 1)
	assert.Len(t, h.keys.all(), 1)
	assert.Equal(t, 1, h.count(rpc.MethodAuthRequest))
	assert.Equal(t, domain.StateAuthenticated, h.ctrl.Snapshot().State)
}

func TestConnectOnLiveSessionIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	h.connect()
	assert.Len(t, h.factory.Made(), 1)
}

func TestSecondIntentIsBusy(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, withPrefund(5))

	h.connect()
	h.openChannel()
	require.NoError(t, h.ctrl.RefreshBalances(context.Background()))
	h.setIntercept(only(rpc.MethodTransfer, func(rpc.Frame) []rpc.Frame { return nil }))

	errc := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Pay(context.Background(), pay(1))
		errc <- err
	}()
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().State == domain.StatePaying }, time.Second, time.Millisecond)

	_, err := h.ctrl.Pay(context.Background(), pay(1))
	assert.ErrorIs(t, err, domain.ErrBusy)
	_, err = h.ctrl.Deposit(context.Background(), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrBusy)

	h.ctrl.Disconnect()
	require.Error(t, <-errc)
}

func TestTransportDropKeepsSessionForReconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	ch := h.openChannel()
	first := h.transport()
	key := *h.ctrl.Snapshot().SessionKey

	first.Drop(errors.New("connection reset"))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StateError, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, domain.KindTransport, snap.Error.Kind)
	assert.False(t, snap.Authenticated)
	require.NotNil(t, snap.Channel)
	assert.Equal(t, ch.ID, snap.Channel.ID)
	require.NotNil(t, snap.SessionKey)
	assert.Equal(t, key, *snap.SessionKey)

	_, err := h.ctrl.Pay(context.Background(), pay(1))
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	h.connect()
	second := h.transport()
	require.NotSame(t, first, second)
	assert.Equal(t, []rpc.Method{rpc.MethodAuthVerify}, second.SentMethods())
	assert.Len(t, h.keys.all(), 1)

	snap = h.ctrl.Snapshot()
	assert.Equal(t, domain.StateChannelReady, snap.State)
	assert.True(t, snap.Authenticated)
	assert.Nil(t, snap.Error)
}

func TestRefusedTokenFallsBackToWalletSignature(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	h.transport().Drop(errors.New("connection reset"))
	h.setIntercept(func(req rpc.Frame) ([]rpc.Frame, bool) {
		if req.Req.Method != rpc.MethodAuthVerify || !strings.Contains(string(req.Req.Params), "jwt") {
			return nil, false
		}
		return errorReply("token expired")(req), true
	})

	h.connect()
	assert.Equal(t, []rpc.Method{rpc.MethodAuthVerify, rpc.MethodAuthRequest, rpc.MethodAuthVerify},
		h.transport().SentMethods())
	assert.Equal(t, domain.StateAuthenticated, h.ctrl.Snapshot().State)
}

func TestWalletRefusalIsAuthError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, withSigner(func(w domain.WalletSigner) domain.WalletSigner {
		return refusingWallet{w}
	}))
	defer h.ctrl.Disconnect()

	err := h.ctrl.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrKindAuth)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StateError, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, domain.KindAuth, snap.Error.Kind)
	assert.Nil(t, snap.SessionKey)
	assert.False(t, snap.Authenticated)
	require.Len(t, h.keys.all(), 1)
	assert.True(t, h.keys.all()[0].Destroyed())
	tr := h.transport()
	require.Eventually(t, tr.Closed, time.Second, time.Millisecond)
}

func TestRejectedTransferKeepsSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, withPrefund(5))
	defer h.ctrl.Disconnect()

	h.connect()
	h.openChannel()
	require.NoError(t, h.ctrl.RefreshBalances(context.Background()))
	h.setIntercept(only(rpc.MethodTransfer, errorReply("allowance exceeded")))

	_, err := h.ctrl.Pay(context.Background(), pay(1))
	require.ErrorIs(t, err, domain.ErrKindPayment)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StateError, snap.State)
	assert.True(t, snap.Authenticated)
	require.NotNil(t, snap.Channel)

	h.setIntercept(nil)
	_, err = h.ctrl.Pay(context.Background(), pay(1))
	require.NoError(t, err)
	snap = h.ctrl.Snapshot()
	assert.Equal(t, domain.StatePaid, snap.State)
	assert.Nil(t, snap.Error)
	assert.Len(t, h.factory.Made(), 1)
}

func TestChainFailureLeavesChannelPending(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	h.chain.FailNext(errors.New("nonce too low"))
	_, err := h.ctrl.OpenChannel(context.Background())
	require.ErrorIs(t, err, domain.ErrKindChain)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StateError, snap.State)
	assert.True(t, snap.Authenticated)
	require.NotNil(t, snap.Channel)
	assert.Equal(t, domain.ChannelPending, snap.Channel.Status)

	ch := h.openChannel()
	assert.Equal(t, snap.Channel.ID, ch.ID)
	assert.Equal(t, domain.ChannelOpen, ch.Status)
	assert.Equal(t, 1, h.count(rpc.MethodCreateChannel))
	assert.Equal(t, domain.StateChannelReady, h.ctrl.Snapshot().State)
}

func TestRevertedFundingIsResubmitted(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	h.chain.RevertNext()
	_, err := h.ctrl.OpenChannel(context.Background())
	require.ErrorIs(t, err, domain.ErrKindChain)
	require.NotNil(t, h.ctrl.Snapshot().Channel)
	assert.Empty(t, h.ctrl.Snapshot().Channel.FundingTxHash)

	h.openChannel()
	assert.Len(t, h.chain.Submitted(), 2)
}

func TestCloseChannel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	require.ErrorIs(t, h.ctrl.CloseChannel(context.Background()), domain.ErrNoChannel)
	h.openChannel()

	require.NoError(t, h.ctrl.CloseChannel(context.Background()))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StateAuthenticated, snap.State)
	require.NotNil(t, snap.Channel)
	assert.Equal(t, domain.ChannelClosed, snap.Channel.Status)

	var closes int
	for _, tx := range h.chain.Submitted() {
		if _, ok := tx.(domain.CloseChannelTx); ok {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
}

func TestDepositNeedsWalletFunds(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	_, err := h.ctrl.Deposit(context.Background(), decimal.NewFromInt(1000))
	require.ErrorIs(t, err, domain.ErrInsufficientWalletFunds)
	assert.Equal(t, domain.StateAuthenticated, h.ctrl.Snapshot().State)
	assert.Empty(t, h.chain.Submitted())

	_, err = h.ctrl.Deposit(context.Background(), decimal.RequireFromString("0.0000001"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestMalformedFrameIsProtocolError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	h.connect()
	tr := h.transport()
	tr.Deliver([]byte(`{"res":"garbage"}`))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StateError, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, domain.KindProtocol, snap.Error.Kind)
	require.Eventually(t, tr.Closed, time.Second, time.Millisecond)
}

func TestSubscribeCoalescesSnapshots(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.ctrl.Disconnect()

	updates, cancel := h.ctrl.Subscribe()
	first := <-updates
	assert.Equal(t, domain.StateIdle, first.State)

	h.connect()
	latest := <-updates
	assert.Greater(t, latest.Version, first.Version)
	assert.Equal(t, domain.StateAuthenticated, latest.State)

	cancel()
	cancel()
	_, open := <-updates
	assert.False(t, open)
}

func TestOperationsNeedWallet(t *testing.T) {
	h := newHarness(t, withSigner(func(domain.WalletSigner) domain.WalletSigner { return nil }))
	assert.ErrorIs(t, h.ctrl.Connect(context.Background()), domain.ErrNoWallet)
	_, err := h.ctrl.OpenChannel(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoWallet)
}

func TestAnnouncedAssetsAreTracked(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	eurc := domain.AssetInfo{
		Symbol:   "ytest.eurc",
		Token:    common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		ChainID:  usd.ChainID,
		Decimals: 6,
	}
	h := newHarness(t, withNetworkAssets(eurc))
	defer h.ctrl.Disconnect()
	h.chain.Fund(eurc.ChainID, eurc.Token, h.wallet.Address(), big.NewInt(2_500_000))

	h.connect()
	require.Eventually(t, func() bool { return len(h.ctrl.Snapshot().Assets) == 2 }, time.Second, time.Millisecond)
	require.NoError(t, h.ctrl.RefreshBalances(context.Background()))

	assert.True(t, h.ctrl.Tracker().Wallet(eurc.Symbol, eurc.ChainID).Equal(decimal.RequireFromString("2.5")))
	assert.True(t, h.ctrl.Tracker().Wallet(usd.Symbol, usd.ChainID).Equal(decimal.NewFromInt(100)))

	h.ctrl.Disconnect()
	assert.Empty(t, h.ctrl.Snapshot().Assets)
	assert.Empty(t, h.ctrl.Tracker().WalletBalances())
}
