// Package memchain is an in-memory chain used by tests and the development
// simulator. It keeps token balances per (chain, token, owner), confirms
// transactions after a configurable number of status polls, and notifies
// observers of submitted transactions.
package memchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"nitropay/internal/domain"
)

// ErrInsufficientBalance is returned when a deposit exceeds the owner's balance.
var ErrInsufficientBalance = errors.New("memchain: insufficient balance")

type balanceKey struct {
	chain domain.ChainID
	token common.Address
	owner common.Address
}

type txRecord struct {
	status domain.TxStatus
	polls  int
}

// Chain implements domain.Chain in memory.
type Chain struct {
	mu       sync.Mutex
	sender   common.Address
	balances map[balanceKey]*big.Int
	txs      map[string]*txRecord
	seq      uint64

	confirmAfter int
	failNext     error
	revertNext   bool
	submitted    []domain.ChainTx

	onDeposit []func(owner common.Address, tx domain.DepositTx)
	onCreate  []func(tx domain.CreateChannelTx)
	onClose   []func(tx domain.CloseChannelTx)
}

// New returns a chain whose transactions are sent from sender.
func New(sender common.Address) *Chain {
	return &Chain{
		sender:   sender,
		balances: make(map[balanceKey]*big.Int),
		txs:      make(map[string]*txRecord),
	}
}

// Fund credits owner with amount on-chain units of token.
func (c *Chain) Fund(chain domain.ChainID, token, owner common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(balanceKey{chain, token, owner}, amount)
}

func (c *Chain) credit(k balanceKey, amount *big.Int) {
	cur, ok := c.balances[k]
	if !ok {
		cur = new(big.Int)
		c.balances[k] = cur
	}
	cur.Add(cur, amount)
}

// ConfirmAfter keeps new transactions pending for n status polls.
func (c *Chain) ConfirmAfter(n int) {
	c.mu.Lock()
	c.confirmAfter = n
	c.mu.Unlock()
}

// FailNext makes the next submission fail with err.
func (c *Chain) FailNext(err error) {
	c.mu.Lock()
	c.failNext = err
	c.mu.Unlock()
}

// RevertNext makes the next submitted transaction end in TxFailed.
func (c *Chain) RevertNext() {
	c.mu.Lock()
	c.revertNext = true
	c.mu.Unlock()
}

// OnDeposit registers fn to observe deposits once they are accepted.
func (c *Chain) OnDeposit(fn func(owner common.Address, tx domain.DepositTx)) {
	c.mu.Lock()
	c.onDeposit = append(c.onDeposit, fn)
	c.mu.Unlock()
}

// OnCreate registers fn to observe channel creation.
func (c *Chain) OnCreate(fn func(tx domain.CreateChannelTx)) {
	c.mu.Lock()
	c.onCreate = append(c.onCreate, fn)
	c.mu.Unlock()
}

// OnClose registers fn to observe channel close.
func (c *Chain) OnClose(fn func(tx domain.CloseChannelTx)) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Submitted returns every accepted transaction in order.
func (c *Chain) Submitted() []domain.ChainTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChainTx(nil), c.submitted...)
}

// BalanceOf implements domain.ChainReader.
func (c *Chain) BalanceOf(ctx context.Context, chain domain.ChainID, token, owner common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[balanceKey{chain, token, owner}]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// TransactionStatus implements domain.ChainReader.
func (c *Chain) TransactionStatus(ctx context.Context, _ domain.ChainID, txHash string) (domain.TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.TxPending, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.txs[txHash]
	if !ok {
		return domain.TxPending, nil
	}
	if rec.polls > 0 {
		rec.polls--
		return domain.TxPending, nil
	}
	return rec.status, nil
}

// SubmitTransaction implements domain.ChainWriter.
func (c *Chain) SubmitTransaction(ctx context.Context, tx domain.ChainTx) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	if err := c.failNext; err != nil {
		c.failNext = nil
		c.mu.Unlock()
		return "", err
	}
	if dep, ok := tx.(domain.DepositTx); ok {
		if dep.Amount == nil || dep.Amount.Sign() <= 0 {
			c.mu.Unlock()
			return "", fmt.Errorf("memchain: deposit amount must be positive")
		}
		k := balanceKey{dep.ChainID, dep.Token, c.sender}
		cur := c.balances[k]
		if cur == nil || cur.Cmp(dep.Amount) < 0 {
			c.mu.Unlock()
			return "", ErrInsufficientBalance
		}
		cur.Sub(cur, dep.Amount)
	}

	c.seq++
	hash := crypto.Keccak256Hash(c.sender.Bytes(), new(big.Int).SetUint64(c.seq).Bytes()).Hex()
	rec := &txRecord{status: domain.TxConfirmed, polls: c.confirmAfter}
	if c.revertNext {
		rec.status = domain.TxFailed
		c.revertNext = false
	}
	c.txs[hash] = rec
	c.submitted = append(c.submitted, tx)
	reverted := rec.status == domain.TxFailed
	deposits := append([]func(common.Address, domain.DepositTx){}, c.onDeposit...)
	creates := append([]func(domain.CreateChannelTx){}, c.onCreate...)
	closes := append([]func(domain.CloseChannelTx){}, c.onClose...)
	sender := c.sender
	c.mu.Unlock()

	if reverted {
		return hash, nil
	}
	switch t := tx.(type) {
	case domain.DepositTx:
		for _, fn := range deposits {
			fn(sender, t)
		}
	case domain.CreateChannelTx:
		for _, fn := range creates {
			fn(t)
		}
	case domain.CloseChannelTx:
		for _, fn := range closes {
			fn(t)
		}
	}
	return hash, nil
}

var _ domain.Chain = (*Chain)(nil)
