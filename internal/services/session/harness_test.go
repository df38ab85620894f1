package session_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"nitropay/internal/chain/memchain"
	"nitropay/internal/clearnodesim"
	"nitropay/internal/crypto"
	"nitropay/internal/domain"
	"nitropay/internal/metrics"
	"nitropay/internal/protocol/rpc"
	"nitropay/internal/relay/relaytest"
	"nitropay/internal/services/session"
)

var (
	usdToken = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	usd      = domain.AssetInfo{Symbol: "ytest.usd", Token: usdToken, ChainID: 11155111, Decimals: 6}
	payee    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

type keyFactory struct {
	mu   sync.Mutex
	keys []*crypto.SessionKey
}

func (f *keyFactory) NewSessionKey() (domain.SessionKey, error) {
	k, err := crypto.NewSessionKey()
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.keys = append(f.keys, k)
	f.mu.Unlock()
	return k, nil
}

func (f *keyFactory) all() []*crypto.SessionKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*crypto.SessionKey(nil), f.keys...)
}

type refusingWallet struct{ domain.WalletSigner }

func (refusingWallet) SignWithWallet(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("user rejected the request")
}

// interceptor overrides the simulated node for one request. Returning false
// lets the node answer.
type interceptor func(req rpc.Frame) ([]rpc.Frame, bool)

type harness struct {
	t       *testing.T
	wallet  *crypto.LocalWallet
	chain   *memchain.Chain
	node    *clearnodesim.Node
	keys    *keyFactory
	metrics *metrics.Metrics
	ctrl    *session.Controller
	factory *relaytest.Factory

	mu        sync.Mutex
	intercept interceptor
	gate      chan struct{}
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	prefund decimal.Decimal
	signer  func(domain.WalletSigner) domain.WalletSigner
	extra   []domain.AssetInfo
}

func withPrefund(amount int64) harnessOption {
	return func(c *harnessConfig) { c.prefund = decimal.NewFromInt(amount) }
}

func withSigner(wrap func(domain.WalletSigner) domain.WalletSigner) harnessOption {
	return func(c *harnessConfig) { c.signer = wrap }
}

// withNetworkAssets makes the node announce assets the controller was not
// configured with.
func withNetworkAssets(assets ...domain.AssetInfo) harnessOption {
	return func(c *harnessConfig) { c.extra = append(c.extra, assets...) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	var cfg harnessConfig
	for _, o := range opts {
		o(&cfg)
	}

	wallet, err := crypto.GenerateWallet()
	require.NoError(t, err)
	chain := memchain.New(wallet.Address())
	chain.Fund(usd.ChainID, usd.Token, wallet.Address(), big.NewInt(100_000_000))

	simCfg := clearnodesim.Config{Assets: append([]domain.AssetInfo{usd}, cfg.extra...), Chain: chain}
	if cfg.prefund.IsPositive() {
		simCfg.Prefund = []domain.Balance{{Asset: usd.Symbol, Amount: cfg.prefund}}
	}
	node, err := clearnodesim.New(simCfg)
	require.NoError(t, err)

	h := &harness{
		t:       t,
		wallet:  wallet,
		chain:   chain,
		node:    node,
		keys:    &keyFactory{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	h.factory = &relaytest.Factory{Make: h.newTransport}

	var signer domain.WalletSigner = wallet
	if cfg.signer != nil {
		signer = cfg.signer(wallet)
	}
	h.ctrl = session.New(session.Config{
		Application:    "nitropay",
		Scope:          "console",
		SessionTTL:     time.Hour,
		Allowances:     []rpc.Allowance{{Asset: string(usd.Symbol), Amount: decimal.NewFromInt(10)}},
		Asset:          usd,
		RequestTimeout: time.Second,
		ConfirmTimeout: time.Second,
		ConfirmPoll:    time.Millisecond,
	}, session.Deps{
		Wallet:     signer,
		Chain:      chain,
		Transports: h.factory.New,
		Keys:       h.keys,
		Metrics:    h.metrics,
	})
	return h
}

func (h *harness) newTransport() *relaytest.Transport {
	tr := relaytest.New(nil)
	conn := h.node.Conn(func(f rpc.Frame) { tr.DeliverFrame(f) })
	h.mu.Lock()
	tr.OpenGate = h.gate
	h.mu.Unlock()
	tr.Respond = func(req rpc.Frame) []rpc.Frame {
		h.mu.Lock()
		intercept := h.intercept
		h.mu.Unlock()
		if intercept != nil {
			if out, ok := intercept(req); ok {
				return out
			}
		}
		return conn.Handle(req)
	}
	return tr
}

func (h *harness) setIntercept(i interceptor) {
	h.mu.Lock()
	h.intercept = i
	h.mu.Unlock()
}

func (h *harness) setGate(g chan struct{}) {
	h.mu.Lock()
	h.gate = g
	h.mu.Unlock()
}

// only intercepts a single method.
func only(method rpc.Method, reply func(req rpc.Frame) []rpc.Frame) interceptor {
	return func(req rpc.Frame) ([]rpc.Frame, bool) {
		if req.Req.Method != method {
			return nil, false
		}
		return reply(req), true
	}
}

func errorReply(msg string) func(rpc.Frame) []rpc.Frame {
	return func(req rpc.Frame) []rpc.Frame {
		return []rpc.Frame{rpc.NewError(req.Req.RequestID, msg, time.Now())}
	}
}

func (h *harness) transport() *relaytest.Transport {
	tr := h.factory.Last()
	require.NotNil(h.t, tr)
	return tr
}

func (h *harness) connect() {
	h.t.Helper()
	require.NoError(h.t, h.ctrl.Connect(context.Background()))
}

func (h *harness) openChannel() domain.Channel {
	h.t.Helper()
	ch, err := h.ctrl.OpenChannel(context.Background())
	require.NoError(h.t, err)
	return ch
}

func (h *harness) count(method rpc.Method) int {
	n := 0
	for _, tr := range h.factory.Made() {
		for _, m := range tr.SentMethods() {
			if m == method {
				n++
			}
		}
	}
	return n
}

func (h *harness) sentTotal() int {
	n := 0
	for _, tr := range h.factory.Made() {
		n += len(tr.Sent())
	}
	return n
}
