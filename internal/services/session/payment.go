package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
	"nitropay/internal/metrics"
	"nitropay/internal/protocol/rpc"
)

// Pay transfers ledger funds to req.Recipient.
//
// The request is refused locally, with nothing sent, when there is no open
// channel or the latest known ledger balance does not cover the amount; the
// caller should deposit first. On success the session is left in the paid
// state, from which further payments may follow.
func (c *Controller) Pay(ctx context.Context, req domain.PayRequest) (domain.Payment, error) {
	if req.Recipient == (common.Address{}) {
		return domain.Payment{}, domain.ErrInvalidRecipient
	}
	if !req.Amount.IsPositive() {
		return domain.Payment{}, domain.ErrInvalidAmount
	}
	if req.Asset == "" {
		req.Asset = c.cfg.Asset.Symbol
	}
	if !c.knownAsset(req.Asset) {
		return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrUnknownAsset, req.Asset)
	}

	o, err := c.begin(ctx, "pay", func() error {
		if c.channel == nil || c.channel.Status != domain.ChannelOpen {
			return domain.ErrNoChannel
		}
		if !c.tracker.SufficientFor(req.Asset, req.Amount) {
			c.metrics.Payment(metrics.OutcomeRejected)
			return fmt.Errorf("%w: need %s %s, have %s", domain.ErrInsufficientFunds,
				req.Amount, req.Asset, c.tracker.Ledger(req.Asset))
		}
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	defer o.done()

	c.enter(o.gen, domain.StatePaying)
	msg, err := o.corr.Call(o.ctx, rpc.MethodTransfer, rpc.TransferParams{
		Destination: req.Recipient,
		Allocations: []rpc.TransferAllocation{{Asset: string(req.Asset), Amount: req.Amount}},
		Reference:   req.Reference,
	})
	if err != nil {
		c.metrics.Payment(metrics.OutcomeError)
		return domain.Payment{}, c.fail(o.gen, classify(err, domain.KindPayment), "pay", err)
	}
	res, ok := msg.(rpc.TransferResult)
	if !ok {
		c.metrics.Payment(metrics.OutcomeError)
		return domain.Payment{}, c.unexpected(o.gen, "pay", rpc.MethodTransfer, msg)
	}

	payment := domain.Payment{
		Recipient:   req.Recipient,
		Asset:       req.Asset,
		Amount:      req.Amount,
		Reference:   req.Reference,
		ConfirmedAt: c.now().UTC(),
	}
	if len(res.Transactions) > 0 {
		payment.TransferID = strconv.FormatUint(res.Transactions[0].ID, 10)
	}
	c.metrics.Payment(metrics.OutcomeOK)
	o.log.Info().Str("transfer_id", payment.TransferID).Str("recipient", req.Recipient.Hex()).
		Str("amount", req.Amount.String()).Str("asset", string(req.Asset)).Msg("payment confirmed")

	if err := c.tracker.RefreshLedger(o.ctx); err != nil {
		o.log.Debug().Err(err).Msg("ledger refresh after payment")
	}

	c.mu.Lock()
	if o.gen == c.gen {
		c.payment = &payment
		c.transitionLocked(domain.StatePaid)
	}
	c.mu.Unlock()
	return payment, nil
}

// Deposit moves amount of the session asset from the wallet into the ledger
// and returns the deposit transaction hash once it is confirmed. The amount
// is in the asset's human units.
func (c *Controller) Deposit(ctx context.Context, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", domain.ErrInvalidAmount
	}
	asset := c.cfg.Asset
	raw := asset.ToRaw(amount)
	if !raw.IsPositive() {
		return "", fmt.Errorf("%w: %s is below one unit of %s", domain.ErrInvalidAmount, amount, asset.Symbol)
	}

	o, err := c.begin(ctx, "deposit", nil)
	if err != nil {
		return "", err
	}
	defer o.done()

	if err := c.tracker.RefreshWallet(o.ctx); err != nil {
		return "", c.fail(o.gen, domain.KindChain, "deposit", err)
	}
	if have := c.tracker.Wallet(asset.Symbol, asset.ChainID); have.LessThan(amount) {
		return "", fmt.Errorf("%w: need %s %s, wallet holds %s",
			domain.ErrInsufficientWalletFunds, amount, asset.Symbol, have)
	}

	c.enter(o.gen, domain.StateDepositing)
	hash, err := c.chain.SubmitTransaction(o.ctx, domain.DepositTx{
		ChainID: asset.ChainID,
		Token:   asset.Token,
		Amount:  raw.BigInt(),
	})
	if err != nil {
		return "", c.fail(o.gen, domain.KindChain, "deposit", err)
	}
	o.log.Info().Str(nplog.FieldTxHash, hash).Str("amount", amount.String()).Msg("deposit submitted")
	if err := c.waitConfirmed(o, asset.ChainID, hash); err != nil {
		return hash, c.fail(o.gen, domain.KindChain, "deposit", err)
	}

	if err := c.tracker.Refresh(o.ctx); err != nil {
		o.log.Debug().Err(err).Msg("balance refresh after deposit")
	}

	c.mu.Lock()
	if o.gen == c.gen {
		c.transitionLocked(c.restStateLocked())
	}
	c.mu.Unlock()
	return hash, nil
}

// RefreshBalances re-reads the ledger and the wallet concurrently. It reads
// only and never changes the session state.
func (c *Controller) RefreshBalances(ctx context.Context) error {
	c.mu.Lock()
	live := c.liveLocked()
	c.mu.Unlock()
	if !live {
		return domain.ErrNotConnected
	}
	return c.tracker.Refresh(ctx)
}

func (c *Controller) fetchLedger(ctx context.Context) ([]domain.Balance, error) {
	c.mu.Lock()
	corr := c.corr
	c.mu.Unlock()
	if corr == nil {
		return nil, domain.ErrNotConnected
	}
	msg, err := corr.Call(ctx, rpc.MethodGetLedgerBalances, rpc.GetLedgerBalancesParams{})
	if err != nil {
		return nil, err
	}
	lb, ok := msg.(rpc.LedgerBalances)
	if !ok {
		return nil, fmt.Errorf("get_ledger_balances answered with %s", rpc.MethodOf(msg))
	}
	return toBalances(lb.LedgerBalances), nil
}

func (c *Controller) knownAsset(symbol domain.AssetSymbol) bool {
	for _, a := range c.cfg.Assets {
		if a.Symbol == symbol {
			return true
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.assets {
		if a.Symbol == symbol {
			return true
		}
	}
	return false
}
