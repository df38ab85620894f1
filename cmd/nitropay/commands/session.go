package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"nitropay/internal/chain/memchain"
	"nitropay/internal/crypto"
	"nitropay/internal/domain"
	"nitropay/internal/services/session"
)

const devChainFunds = 1000

// openSession unlocks the wallet and builds an idle controller.
func openSession(ctx context.Context) (*session.Controller, error) {
	pass, err := requirePassphrase()
	if err != nil {
		return nil, err
	}
	wallet, err := wire.Identity.Unlock(pass)
	if err != nil {
		return nil, err
	}
	ch, err := openChain(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return wire.Session(wallet, ch), nil
}

func openChain(ctx context.Context, wallet *crypto.LocalWallet) (domain.Chain, error) {
	if !devChain {
		return wire.Chain(ctx, wallet)
	}
	c := memchain.New(wallet.Address())
	for _, a := range wire.Config.Assets {
		c.Fund(a.ChainID, a.Token, wallet.Address(), a.ToRaw(decimal.NewFromInt(devChainFunds)).BigInt())
	}
	return c, nil
}

// withSession connects, runs fn and disconnects.
func withSession(ctx context.Context, fn func(*session.Controller) error) error {
	ctrl, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Disconnect()
	if err := ctrl.Connect(ctx); err != nil {
		return err
	}
	return fn(ctrl)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
