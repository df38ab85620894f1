package clearnodesim

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nitropay/internal/chain/memchain"
	"nitropay/internal/crypto"
	"nitropay/internal/domain"
	"nitropay/internal/protocol/channelstate"
	"nitropay/internal/protocol/rpc"
)

// Config configures a Node.
type Config struct {
	// BrokerKey signs channel states and responses; generated when nil.
	BrokerKey *ecdsa.PrivateKey
	// JWTSecret signs auth tokens; random when empty.
	JWTSecret []byte
	// TokenTTL caps the lifetime of issued tokens.
	TokenTTL    time.Duration
	Assets      []domain.AssetInfo
	Adjudicator common.Address
	// ChallengePeriod is the dispute window written into channel definitions.
	ChallengePeriod uint64
	// Prefund is credited to every wallet the first time it authenticates.
	Prefund []domain.Balance
	// Chain, when set, drives deposits and channel status. Without it, channels
	// open and close as soon as they are requested.
	Chain  *memchain.Chain
	Logger *zerolog.Logger
	Now    func() time.Time
}

type simChannel struct {
	id      domain.ChannelID
	def     domain.ChannelDefinition
	chain   domain.ChainID
	token   common.Address
	wallet  common.Address
	status  domain.ChannelStatus
	version uint64
	created time.Time
	updated time.Time
}

// Node is the simulated clearing node. It is safe for concurrent use.
type Node struct {
	broker    *ecdsa.PrivateKey
	brokerAdr common.Address
	secret    []byte
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	ledger    map[common.Address]map[domain.AssetSymbol]decimal.Decimal
	channels  map[domain.ChannelID]*simChannel
	conns     map[common.Address]map[*Conn]struct{}
	prefunded map[common.Address]bool
	nonce     uint64
	txSeq     uint64
}

// New builds a node and attaches it to cfg.Chain.
func New(cfg Config) (*Node, error) {
	if cfg.BrokerKey == nil {
		key, err := ethcrypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("clearnodesim: broker key: %w", err)
		}
		cfg.BrokerKey = key
	}
	if len(cfg.JWTSecret) == 0 {
		cfg.JWTSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.JWTSecret); err != nil {
			return nil, fmt.Errorf("clearnodesim: jwt secret: %w", err)
		}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.ChallengePeriod == 0 {
		cfg.ChallengePeriod = 3600
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	n := &Node{
		broker:    cfg.BrokerKey,
		brokerAdr: ethcrypto.PubkeyToAddress(cfg.BrokerKey.PublicKey),
		secret:    cfg.JWTSecret,
		cfg:       cfg,
		log:       l.With().Str("component", "clearnodesim").Logger(),
		now:       cfg.Now,
		ledger:    make(map[common.Address]map[domain.AssetSymbol]decimal.Decimal),
		channels:  make(map[domain.ChannelID]*simChannel),
		conns:     make(map[common.Address]map[*Conn]struct{}),
		prefunded: make(map[common.Address]bool),
	}
	if cfg.Chain != nil {
		cfg.Chain.OnDeposit(n.onDeposit)
		cfg.Chain.OnCreate(n.onCreate)
		cfg.Chain.OnClose(n.onClose)
	}
	return n, nil
}

// Broker returns the address that signs channel states.
func (n *Node) Broker() common.Address { return n.brokerAdr }

// Fund credits wallet's ledger directly.
func (n *Node) Fund(wallet common.Address, asset domain.AssetSymbol, amount decimal.Decimal) {
	n.mu.Lock()
	n.creditLocked(wallet, asset, amount)
	n.mu.Unlock()
	n.pushBalances(wallet)
}

// Ledger returns wallet's ledger balance of asset.
func (n *Node) Ledger(wallet common.Address, asset domain.AssetSymbol) decimal.Decimal {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger[wallet][asset]
}

// OpenChannel registers an already open channel for wallet, as if it had been
// created by an earlier session.
func (n *Node) OpenChannel(wallet common.Address, chain domain.ChainID, token common.Address) domain.ChannelID {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := n.newChannelLocked(wallet, wallet, chain, token)
	ch.status = domain.ChannelOpen
	return ch.id
}

func (n *Node) creditLocked(wallet common.Address, asset domain.AssetSymbol, amount decimal.Decimal) {
	balances, ok := n.ledger[wallet]
	if !ok {
		balances = make(map[domain.AssetSymbol]decimal.Decimal)
		n.ledger[wallet] = balances
	}
	balances[asset] = balances[asset].Add(amount)
}

func (n *Node) balancesLocked(wallet common.Address) []rpc.Balance {
	out := make([]rpc.Balance, 0, len(n.ledger[wallet]))
	for asset, amount := range n.ledger[wallet] {
		out = append(out, rpc.Balance{Asset: string(asset), Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func (n *Node) asset(chain domain.ChainID, token common.Address) (domain.AssetInfo, bool) {
	for _, a := range n.cfg.Assets {
		if a.ChainID == chain && a.Token == token {
			return a, true
		}
	}
	return domain.AssetInfo{}, false
}

func (n *Node) newChannelLocked(wallet, participant common.Address, chain domain.ChainID, token common.Address) *simChannel {
	n.nonce++
	def := domain.ChannelDefinition{
		Participants: []common.Address{participant, n.brokerAdr},
		Adjudicator:  n.cfg.Adjudicator,
		Challenge:    n.cfg.ChallengePeriod,
		Nonce:        uint64(n.now().UnixMilli()) + n.nonce,
	}
	id, err := channelstate.ChannelID(def, chain)
	if err != nil {
		// Packing fixed-size values cannot fail.
		panic(err)
	}
	now := n.now().UTC()
	ch := &simChannel{
		id:      domain.ChannelID(id),
		def:     def,
		chain:   chain,
		token:   token,
		wallet:  wallet,
		status:  domain.ChannelPending,
		created: now,
		updated: now,
	}
	n.channels[ch.id] = ch
	return ch
}

func (n *Node) openChannelLocked(wallet common.Address, chain domain.ChainID, token common.Address) *simChannel {
	for _, ch := range n.channels {
		if ch.wallet == wallet && ch.chain == chain && ch.token == token && ch.status == domain.ChannelOpen {
			return ch
		}
	}
	return nil
}

func (n *Node) channelInfo(ch *simChannel) rpc.ChannelInfo {
	return rpc.ChannelInfo{
		ChannelID:   ch.id.String(),
		Participant: ch.def.Participants[0],
		Status:      string(ch.status),
		Token:       ch.token,
		Wallet:      ch.wallet,
		Amount:      decimal.Zero,
		ChainID:     uint64(ch.chain),
		Adjudicator: ch.def.Adjudicator,
		Challenge:   ch.def.Challenge,
		Nonce:       ch.def.Nonce,
		Version:     ch.version,
		CreatedAt:   ch.created.Format(time.RFC3339),
		UpdatedAt:   ch.updated.Format(time.RFC3339),
	}
}

func (n *Node) signState(id domain.ChannelID, st domain.ChannelState) ([]byte, error) {
	return channelstate.Sign(id, st, func(b []byte) ([]byte, error) {
		return crypto.SignPayload(n.broker, b)
	})
}

// respond builds a broker-signed response frame.
func (n *Node) respond(id uint64, method rpc.Method, params any) rpc.Frame {
	f, err := rpc.NewResponse(id, method, params, n.now())
	if err != nil {
		return n.fail(id, "internal error")
	}
	n.sign(&f)
	return f
}

func (n *Node) fail(id uint64, msg string) rpc.Frame {
	f := rpc.NewError(id, msg, n.now())
	n.sign(&f)
	return f
}

func (n *Node) sign(f *rpc.Frame) {
	if err := f.Sign(func(b []byte) ([]byte, error) { return crypto.SignPayload(n.broker, b) }); err != nil {
		n.log.Warn().Err(err).Msg("sign response")
	}
}

func (n *Node) register(wallet common.Address, c *Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.conns[wallet]
	if !ok {
		set = make(map[*Conn]struct{})
		n.conns[wallet] = set
	}
	set[c] = struct{}{}
	if !n.prefunded[wallet] {
		n.prefunded[wallet] = true
		for _, b := range n.cfg.Prefund {
			n.creditLocked(wallet, b.Asset, b.Amount)
		}
	}
}

func (n *Node) unregister(wallet common.Address, c *Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns[wallet], c)
}

func (n *Node) connsOf(wallet common.Address) []*Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Conn, 0, len(n.conns[wallet]))
	for c := range n.conns[wallet] {
		out = append(out, c)
	}
	return out
}

func (n *Node) pushBalances(wallet common.Address) {
	n.mu.Lock()
	balances := n.balancesLocked(wallet)
	n.mu.Unlock()
	frame := n.respond(0, rpc.MethodBalanceUpdate, rpc.BalanceUpdate{BalanceUpdates: balances})
	for _, c := range n.connsOf(wallet) {
		c.deliver(frame)
	}
}

func (n *Node) pushChannel(ch rpc.ChannelInfo) {
	frame := n.respond(0, rpc.MethodChannelUpdate, rpc.ChannelUpdate{ChannelInfo: ch})
	for _, c := range n.connsOf(ch.Wallet) {
		c.deliver(frame)
	}
}

func (n *Node) onDeposit(owner common.Address, tx domain.DepositTx) {
	asset, ok := n.asset(tx.ChainID, tx.Token)
	if !ok {
		n.log.Warn().Str("token", tx.Token.Hex()).Uint64("chain_id", uint64(tx.ChainID)).Msg("deposit of unknown asset")
		return
	}
	amount := asset.FromRaw(decimal.NewFromBigInt(tx.Amount, 0))
	n.mu.Lock()
	n.creditLocked(owner, asset.Symbol, amount)
	n.mu.Unlock()
	n.log.Info().Str("wallet", owner.Hex()).Str("amount", amount.String()).Str("asset", string(asset.Symbol)).Msg("deposit credited")
	n.pushBalances(owner)
}

func (n *Node) onCreate(tx domain.CreateChannelTx) {
	id, err := channelstate.ChannelID(tx.Channel, tx.ChainID)
	if err != nil {
		return
	}
	n.mu.Lock()
	ch, ok := n.channels[id]
	if !ok || ch.status != domain.ChannelPending {
		n.mu.Unlock()
		return
	}
	if err := channelstate.VerifySigner(id, tx.State, tx.UserSignature, ch.def.Participants[0]); err != nil {
		n.mu.Unlock()
		n.log.Warn().Err(err).Str("channel_id", id.String()).Msg("create with bad user signature")
		return
	}
	ch.status = domain.ChannelOpen
	ch.updated = n.now().UTC()
	info := n.channelInfo(ch)
	n.mu.Unlock()
	n.pushChannel(info)
}

func (n *Node) onClose(tx domain.CloseChannelTx) {
	n.mu.Lock()
	ch, ok := n.channels[domain.ChannelID(tx.ChannelID.Hash().Hex())]
	if !ok || ch.status != domain.ChannelOpen {
		n.mu.Unlock()
		return
	}
	if err := channelstate.VerifySigner(ch.id, tx.State, tx.UserSignature, ch.def.Participants[0]); err != nil {
		n.mu.Unlock()
		n.log.Warn().Err(err).Str("channel_id", ch.id.String()).Msg("close with bad user signature")
		return
	}
	ch.status = domain.ChannelClosed
	ch.version = tx.State.Version
	ch.updated = n.now().UTC()
	info := n.channelInfo(ch)
	n.mu.Unlock()
	n.pushChannel(info)
}
