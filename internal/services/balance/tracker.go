package balance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"nitropay/internal/domain"
)

// LedgerFetcher queries the counterparty for the caller's ledger balances.
type LedgerFetcher func(ctx context.Context) ([]domain.Balance, error)

// Config wires a Tracker.
type Config struct {
	Wallet common.Address
	Chain  domain.ChainReader
	// Assets lists the tokens whose wallet balances are tracked.
	Assets []domain.AssetInfo
	Ledger LedgerFetcher
	Logger *zerolog.Logger
}

type walletKey struct {
	asset domain.AssetSymbol
	chain domain.ChainID
}

// Tracker holds the latest known balances.
type Tracker struct {
	wallet common.Address
	chain  domain.ChainReader
	fetch  LedgerFetcher
	log    zerolog.Logger

	mu        sync.RWMutex
	seq       uint64
	assets    []domain.AssetInfo
	ledger    map[domain.AssetSymbol]decimal.Decimal
	ledgerSeq uint64
	funds     map[walletKey]decimal.Decimal
	fundsSeq  uint64
	onChange  func()
}

// NewTracker returns an empty tracker.
func NewTracker(cfg Config) *Tracker {
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Tracker{
		wallet: cfg.Wallet,
		chain:  cfg.Chain,
		fetch:  cfg.Ledger,
		log:    l.With().Str("component", "balance").Logger(),
		assets: append([]domain.AssetInfo(nil), cfg.Assets...),
		ledger: make(map[domain.AssetSymbol]decimal.Decimal),
		funds:  make(map[walletKey]decimal.Decimal),
	}
}

// OnChange registers a callback run after every applied update.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Tracker) stamp() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return t.seq
}

func (t *Tracker) changed() {
	t.mu.RLock()
	fn := t.onChange
	t.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// RefreshLedger re-reads the ledger from the counterparty. Every call runs its
// own fetch under its own ctx; when fetches overlap, the one issued last wins.
func (t *Tracker) RefreshLedger(ctx context.Context) error {
	if t.fetch == nil {
		return fmt.Errorf("balance: no ledger source")
	}
	seq := t.stamp()
	balances, err := t.fetch(ctx)
	if err != nil {
		return err
	}
	t.applyLedger(seq, balances, true)
	return nil
}

// RefreshWallet re-reads on-chain balances of every tracked asset.
func (t *Tracker) RefreshWallet(ctx context.Context) error {
	if t.chain == nil {
		return fmt.Errorf("balance: no chain reader")
	}
	seq := t.stamp()
	t.mu.RLock()
	assets := append([]domain.AssetInfo(nil), t.assets...)
	t.mu.RUnlock()

	amounts := make([]decimal.Decimal, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range assets {
		g.Go(func() error {
			raw, err := t.chain.BalanceOf(gctx, a.ChainID, a.Token, t.wallet)
			if err != nil {
				return fmt.Errorf("balance of %s on %d: %w", a.Symbol, a.ChainID, err)
			}
			amounts[i] = a.FromRaw(decimal.NewFromBigInt(raw, 0))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	t.mu.Lock()
	if seq < t.fundsSeq {
		t.mu.Unlock()
		t.log.Debug().Uint64("seq", seq).Msg("discarding stale wallet result")
		return nil
	}
	t.fundsSeq = seq
	t.funds = make(map[walletKey]decimal.Decimal, len(assets))
	for i, a := range assets {
		t.funds[walletKey{a.Symbol, a.ChainID}] = amounts[i]
	}
	t.mu.Unlock()
	t.changed()
	return nil
}

// Refresh refreshes both views concurrently.
func (t *Tracker) Refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.RefreshLedger(gctx) })
	g.Go(func() error { return t.RefreshWallet(gctx) })
	return g.Wait()
}

// ApplyPush applies a pushed balance update. Listed assets are replaced;
// others are kept.
func (t *Tracker) ApplyPush(balances []domain.Balance) {
	t.applyLedger(t.stamp(), balances, false)
}

func (t *Tracker) applyLedger(seq uint64, balances []domain.Balance, replace bool) {
	t.mu.Lock()
	if seq < t.ledgerSeq {
		t.mu.Unlock()
		t.log.Debug().Uint64("seq", seq).Msg("discarding stale ledger result")
		return
	}
	t.ledgerSeq = seq
	if replace {
		t.ledger = make(map[domain.AssetSymbol]decimal.Decimal, len(balances))
	}
	for _, b := range balances {
		t.ledger[b.Asset] = b.Amount
	}
	t.mu.Unlock()
	t.changed()
}

// SetAssets replaces the tracked asset list, e.g. after the network reports its assets.
func (t *Tracker) SetAssets(assets []domain.AssetInfo) {
	t.mu.Lock()
	t.assets = append([]domain.AssetInfo(nil), assets...)
	t.mu.Unlock()
}

// Reset forgets everything. Results of fetches already in flight are discarded.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.seq++
	t.ledgerSeq, t.fundsSeq = t.seq, t.seq
	t.ledger = make(map[domain.AssetSymbol]decimal.Decimal)
	t.funds = make(map[walletKey]decimal.Decimal)
	t.mu.Unlock()
}

// Ledger returns the latest known ledger balance of asset (zero if unknown).
func (t *Tracker) Ledger(asset domain.AssetSymbol) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ledger[asset]
}

// Wallet returns the latest known wallet balance of asset on chain.
func (t *Tracker) Wallet(asset domain.AssetSymbol, chain domain.ChainID) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.funds[walletKey{asset, chain}]
}

// SufficientFor reports whether the latest ledger covers amount of asset.
func (t *Tracker) SufficientFor(asset domain.AssetSymbol, amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	return t.Ledger(asset).GreaterThanOrEqual(amount)
}

// Shortfall returns how much must reach the ledger before amount can be paid.
func (t *Tracker) Shortfall(asset domain.AssetSymbol, amount decimal.Decimal) decimal.Decimal {
	missing := amount.Sub(t.Ledger(asset))
	if missing.IsNegative() {
		return decimal.Zero
	}
	return missing
}

// LedgerBalances returns the ledger view sorted by asset.
func (t *Tracker) LedgerBalances() []domain.Balance {
	t.mu.RLock()
	out := make([]domain.Balance, 0, len(t.ledger))
	for asset, amount := range t.ledger {
		out = append(out, domain.Balance{Asset: asset, Amount: amount})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// WalletBalances returns the wallet view sorted by asset then chain.
func (t *Tracker) WalletBalances() []domain.WalletBalance {
	t.mu.RLock()
	out := make([]domain.WalletBalance, 0, len(t.funds))
	for k, amount := range t.funds {
		out = append(out, domain.WalletBalance{Asset: k.asset, ChainID: k.chain, Amount: amount})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].ChainID < out[j].ChainID
	})
	return out
}
