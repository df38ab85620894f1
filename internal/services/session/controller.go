package session

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
	"nitropay/internal/metrics"
	"nitropay/internal/protocol/rpc"
	"nitropay/internal/services/balance"
	"nitropay/internal/services/message"
)

// Config holds the session parameters agreed with the clearing node.
type Config struct {
	Application string
	Scope       string
	// SessionTTL bounds the lifetime of the session key's delegated authority.
	SessionTTL time.Duration
	// Allowances caps what the session key may move without the wallet.
	Allowances []rpc.Allowance
	// Asset is the channel token and the default payment asset.
	Asset domain.AssetInfo
	// Assets lists every asset whose wallet balance is tracked.
	Assets []domain.AssetInfo
	// Broker, when set, pins the counterparty address expected in channel proposals.
	Broker common.Address

	RequestTimeout time.Duration
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
}

// Deps are the capabilities a Controller consumes.
type Deps struct {
	Wallet     domain.WalletSigner
	Chain      domain.Chain
	Transports domain.TransportFactory
	Keys       domain.SessionKeyFactory
	Logger     *zerolog.Logger
	Metrics    *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

const (
	defaultSessionTTL     = time.Hour
	defaultConfirmTimeout = 5 * time.Minute
	defaultConfirmPoll    = 2 * time.Second
	tokenReuseMargin      = 30 * time.Second
)

type connectCall struct {
	done chan struct{}
	err  error
}

// Controller is the payer session state machine.
type Controller struct {
	cfg     Config
	wallet  domain.WalletSigner
	chain   domain.Chain
	dial    domain.TransportFactory
	keys    domain.SessionKeyFactory
	metrics *metrics.Metrics
	now     func() time.Time
	base    zerolog.Logger
	tracker *balance.Tracker

	mu         sync.Mutex
	gen        uint64
	log        zerolog.Logger
	state      domain.State
	sessionID  domain.SessionID
	key        domain.SessionKey
	transport  domain.Transport
	corr       *message.Correlator
	opCtx      context.Context
	opCancel   context.CancelFunc
	token      string
	tokenExp   *time.Time
	authed     bool
	channel    *domain.Channel
	broker     common.Address
	pending    *domain.CreateChannelTx
	errInfo    *domain.ErrorInfo
	assets     []domain.AssetInfo
	payment    *domain.Payment
	busy       bool
	connecting *connectCall
	version    uint64
	subs       map[int]chan domain.Snapshot
	nextSub    int
}

// New builds an idle controller.
func New(cfg Config, deps Deps) *Controller {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = message.DefaultTimeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = defaultConfirmPoll
	}
	if len(cfg.Assets) == 0 && cfg.Asset.Symbol != "" {
		cfg.Assets = []domain.AssetInfo{cfg.Asset}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	l := nplog.Nop()
	if deps.Logger != nil {
		l = *deps.Logger
	}
	l = l.With().Str(nplog.FieldComponent, "session").Logger()

	c := &Controller{
		cfg:     cfg,
		wallet:  deps.Wallet,
		chain:   deps.Chain,
		dial:    deps.Transports,
		keys:    deps.Keys,
		metrics: deps.Metrics,
		now:     deps.Now,
		base:    l,
		log:     l,
		state:   domain.StateIdle,
		subs:    make(map[int]chan domain.Snapshot),
	}
	var walletAddr common.Address
	if deps.Wallet != nil {
		walletAddr = deps.Wallet.Address()
	}
	c.tracker = balance.NewTracker(balance.Config{
		Wallet: walletAddr,
		Chain:  deps.Chain,
		Assets: cfg.Assets,
		Ledger: c.fetchLedger,
		Logger: &l,
	})
	c.tracker.OnChange(c.publish)
	return c
}

// Tracker exposes the balance views backing the snapshot.
func (c *Controller) Tracker() *balance.Tracker { return c.tracker }

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() domain.Snapshot {
	s := domain.Snapshot{
		SessionID:     c.sessionID,
		State:         c.state,
		Authenticated: c.authed,
		Ledger:        c.tracker.LedgerBalances(),
		WalletFunds:   c.tracker.WalletBalances(),
		Assets:        append([]domain.AssetInfo(nil), c.assets...),
		Version:       c.version,
	}
	if c.wallet != nil {
		s.Wallet = c.wallet.Address()
	}
	if c.key != nil {
		addr := c.key.Address()
		s.SessionKey = &addr
	}
	if c.tokenExp != nil && c.token != "" {
		exp := *c.tokenExp
		s.TokenExpiry = &exp
	}
	if c.errInfo != nil {
		e := *c.errInfo
		s.Error = &e
	}
	if c.channel != nil {
		ch := *c.channel
		s.Channel = &ch
	}
	if c.payment != nil {
		p := *c.payment
		s.LastPayment = &p
	}
	if c.corr != nil {
		s.PendingCalls = c.corr.Pending()
	}
	return s
}

// Subscribe returns a channel carrying the latest snapshot after every change,
// starting with the current one. A slow reader sees coalesced snapshots; the
// controller never blocks on it. The returned func unsubscribes and closes the
// channel.
func (c *Controller) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 1)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) publish() {
	c.mu.Lock()
	c.publishLocked()
	c.mu.Unlock()
}

func (c *Controller) publishLocked() {
	c.version++
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// transitionLocked moves to s. Leaving the error state clears the error.
func (c *Controller) transitionLocked(s domain.State) {
	if s != domain.StateError {
		c.errInfo = nil
	}
	if c.state != s {
		c.log.Info().Str(nplog.FieldOldState, c.state.String()).
			Str(nplog.FieldNewState, s.String()).Msg("session transition")
		c.metrics.Transition(s.String())
		c.state = s
	}
	c.publishLocked()
}

// enter moves to s if gen is still the current incarnation.
func (c *Controller) enter(gen uint64, s domain.State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.transitionLocked(s)
	return true
}

// restStateLocked is where a successful intent leaves the session.
func (c *Controller) restStateLocked() domain.State {
	if c.channel != nil && c.channel.Status == domain.ChannelOpen {
		return domain.StateChannelReady
	}
	return domain.StateAuthenticated
}

func (c *Controller) liveLocked() bool {
	return c.corr != nil && c.authed
}

// op is the context of one running intent.
type op struct {
	gen  uint64
	ctx  context.Context
	corr *message.Correlator
	key  domain.SessionKey
	log  zerolog.Logger
	done func()
}

// begin claims the single intent slot. check runs under the lock and may
// reject the intent without any state change.
func (c *Controller) begin(ctx context.Context, name string, check func() error) (*op, error) {
	c.mu.Lock()
	if c.wallet == nil {
		c.mu.Unlock()
		return nil, domain.ErrNoWallet
	}
	if !c.liveLocked() {
		c.mu.Unlock()
		return nil, domain.ErrNotConnected
	}
	if c.busy {
		c.mu.Unlock()
		return nil, domain.ErrBusy
	}
	if check != nil {
		if err := check(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	c.busy = true
	o := &op{gen: c.gen, corr: c.corr, key: c.key, log: c.log.With().Str("op", name).Logger()}
	sessionCtx := c.opCtx
	c.mu.Unlock()
	c.traceIntent(ctx, name)

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sessionCtx, cancel)
	o.ctx = opCtx
	o.done = func() {
		stop()
		cancel()
		c.mu.Lock()
		if c.gen == o.gen {
			c.busy = false
		}
		c.mu.Unlock()
	}
	return o, nil
}

// traceIntent ties the caller's context logger, such as an HTTP request's,
// to this session.
func (c *Controller) traceIntent(ctx context.Context, name string) {
	c.mu.Lock()
	sid := c.sessionID
	c.mu.Unlock()
	l := nplog.WithComponentFromContext(ctx, "session")
	l.Debug().Str(nplog.FieldSessionID, sid.String()).Str("op", name).Msg("intent accepted")
}

// Disconnect aborts everything and returns to idle. The session key is
// destroyed and the auth token, channel and pending requests are forgotten.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.gen++
	t, corr, key := c.transport, c.corr, c.key
	if c.opCancel != nil {
		c.opCancel()
	}
	c.transport, c.corr, c.key = nil, nil, nil
	c.opCtx, c.opCancel = nil, nil
	c.token, c.tokenExp, c.authed = "", nil, false
	c.channel, c.pending, c.broker = nil, nil, common.Address{}
	c.payment, c.busy, c.connecting = nil, false, nil
	c.sessionID = ""
	c.assets = nil
	c.tracker.Reset()
	c.tracker.SetAssets(c.cfg.Assets)
	c.transitionLocked(domain.StateIdle)
	c.log.Info().Msg("session disconnected")
	c.log = c.base
	c.mu.Unlock()

	if corr != nil {
		corr.Reset(domain.ErrSessionClosed)
	}
	if t != nil {
		if err := t.Close(); err != nil {
			c.base.Debug().Err(err).Msg("close transport")
		}
	}
	if key != nil {
		key.Destroy()
	}
}

var _ domain.SessionController = (*Controller)(nil)
