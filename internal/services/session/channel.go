package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
	"nitropay/internal/protocol/channelstate"
	"nitropay/internal/protocol/rpc"
	"nitropay/internal/services/message"
)

// ErrTxFailed is returned when a submitted transaction reverts.
var ErrTxFailed = errors.New("session: transaction failed on-chain")

// OpenChannel makes sure an open channel exists for the session asset.
//
// An open channel already known to the counterparty is adopted. Otherwise a
// new one is requested; a conflict answer carries the id of the existing
// channel, which is adopted without a second request. A fresh proposal is
// verified, countersigned with the session key and submitted on-chain, and
// the call returns once the funding transaction is confirmed. If the chain
// step fails the channel stays pending and a later call retries only that step.
func (c *Controller) OpenChannel(ctx context.Context) (domain.Channel, error) {
	var existing *domain.Channel
	var retry *domain.CreateChannelTx
	o, err := c.begin(ctx, "open_channel", func() error {
		if c.channel != nil && c.channel.Status == domain.ChannelOpen {
			ch := *c.channel
			existing = &ch
			return nil
		}
		if c.pending != nil && c.channel != nil && c.channel.Status == domain.ChannelPending {
			tx := *c.pending
			retry = &tx
		}
		return nil
	})
	if err != nil {
		return domain.Channel{}, err
	}
	defer o.done()
	if existing != nil {
		return *existing, nil
	}
	if retry != nil {
		return c.fundChannel(o, *retry)
	}

	asset := c.cfg.Asset
	c.enter(o.gen, domain.StateFetchingChannels)
	msg, err := o.corr.Call(o.ctx, rpc.MethodGetChannels, rpc.GetChannelsParams{
		Participant: c.wallet.Address(),
		Status:      string(domain.ChannelOpen),
	})
	if err != nil {
		return domain.Channel{}, c.fail(o.gen, classify(err, domain.KindChannel), "open_channel", err)
	}
	list, ok := msg.(rpc.Channels)
	if !ok {
		return domain.Channel{}, c.unexpected(o.gen, "open_channel", rpc.MethodGetChannels, msg)
	}
	for _, info := range list.Channels {
		if info.Status == string(domain.ChannelOpen) &&
			domain.ChainID(info.ChainID) == asset.ChainID && info.Token == asset.Token {
			return c.adopt(o, domain.ChannelID(info.ChannelID), info.Version, "discovered")
		}
	}

	c.enter(o.gen, domain.StateCreatingChannel)
	msg, err = o.corr.Call(o.ctx, rpc.MethodCreateChannel, rpc.CreateChannelParams{
		ChainID: uint64(asset.ChainID),
		Token:   asset.Token,
	})
	if err != nil {
		var refusal rpc.ErrorResponse
		if errors.As(err, &refusal) {
			if id, ok := rpc.ParseConflict(refusal.Message); ok {
				c.metrics.ConflictRecovered()
				return c.adopt(o, domain.ChannelID(id), 0, "conflict")
			}
		}
		return domain.Channel{}, c.fail(o.gen, classify(err, domain.KindChannel), "open_channel", err)
	}
	proposal, ok := msg.(rpc.ChannelOperation)
	if !ok || proposal.Channel == nil {
		return domain.Channel{}, c.unexpected(o.gen, "open_channel", rpc.MethodCreateChannel, msg)
	}

	tx, err := c.countersignCreate(o, proposal)
	if err != nil {
		return domain.Channel{}, c.fail(o.gen, domain.KindProtocol, "open_channel", err)
	}

	c.mu.Lock()
	if o.gen != c.gen {
		c.mu.Unlock()
		return domain.Channel{}, domain.ErrSessionClosed
	}
	c.channel = &domain.Channel{
		ID:      domain.ChannelID(proposal.ChannelID),
		ChainID: asset.ChainID,
		Token:   asset.Token,
		Status:  domain.ChannelPending,
		Version: tx.State.Version,
	}
	c.broker = tx.Channel.Participants[1]
	c.pending = &tx
	c.publishLocked()
	c.mu.Unlock()

	return c.fundChannel(o, tx)
}

// countersignCreate checks a channel proposal and signs its initial state.
func (c *Controller) countersignCreate(o *op, proposal rpc.ChannelOperation) (domain.CreateChannelTx, error) {
	def := channelstate.DefinitionFromWire(*proposal.Channel)
	chain := c.cfg.Asset.ChainID
	if def.Participants[0] != o.key.Address() {
		return domain.CreateChannelTx{}, fmt.Errorf("proposal names participant %s, not the session key", def.Participants[0].Hex())
	}
	if c.cfg.Broker != (common.Address{}) && def.Participants[1] != c.cfg.Broker {
		return domain.CreateChannelTx{}, fmt.Errorf("proposal names broker %s, want %s", def.Participants[1].Hex(), c.cfg.Broker.Hex())
	}
	id, err := channelstate.ChannelID(def, chain)
	if err != nil {
		return domain.CreateChannelTx{}, err
	}
	if !channelstate.SameID(id, domain.ChannelID(proposal.ChannelID)) {
		return domain.CreateChannelTx{}, fmt.Errorf("proposal id %s does not match definition %s", proposal.ChannelID, id)
	}
	st := channelstate.FromWire(proposal.State)
	if st.Intent != channelstate.IntentInitialize {
		return domain.CreateChannelTx{}, fmt.Errorf("initial state has intent %d", st.Intent)
	}
	if err := channelstate.VerifySigner(id, st, proposal.ServerSignature, def.Participants[1]); err != nil {
		return domain.CreateChannelTx{}, fmt.Errorf("server signature: %w", err)
	}
	sig, err := channelstate.Sign(id, st, o.key.SignWithSessionKey)
	if err != nil {
		return domain.CreateChannelTx{}, err
	}
	return domain.CreateChannelTx{
		ChainID:         chain,
		Channel:         def,
		State:           st,
		UserSignature:   sig,
		ServerSignature: proposal.ServerSignature,
	}, nil
}

// fundChannel submits the create transaction, if not yet submitted, and waits
// for it to confirm.
func (c *Controller) fundChannel(o *op, tx domain.CreateChannelTx) (domain.Channel, error) {
	c.enter(o.gen, domain.StateCreatingChannel)

	c.mu.Lock()
	hash := ""
	if c.channel != nil {
		hash = c.channel.FundingTxHash
	}
	c.mu.Unlock()

	if hash == "" {
		var err error
		hash, err = c.chain.SubmitTransaction(o.ctx, tx)
		if err != nil {
			return domain.Channel{}, c.fail(o.gen, domain.KindChain, "open_channel", err)
		}
		o.log.Info().Str(nplog.FieldTxHash, hash).Msg("channel funding submitted")
		c.mu.Lock()
		if o.gen == c.gen && c.channel != nil {
			c.channel.FundingTxHash = hash
			c.publishLocked()
		}
		c.mu.Unlock()
	}

	if err := c.waitConfirmed(o, tx.ChainID, hash); err != nil {
		c.mu.Lock()
		if o.gen == c.gen && c.channel != nil && errors.Is(err, ErrTxFailed) {
			c.channel.FundingTxHash = ""
		}
		c.mu.Unlock()
		return domain.Channel{}, c.fail(o.gen, domain.KindChain, "open_channel", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if o.gen != c.gen || c.channel == nil {
		return domain.Channel{}, domain.ErrSessionClosed
	}
	c.channel.Status = domain.ChannelOpen
	c.pending = nil
	c.log.Info().Str(nplog.FieldChannelID, c.channel.ID.String()).Msg("channel open")
	c.transitionLocked(domain.StateChannelReady)
	return *c.channel, nil
}

func (c *Controller) adopt(o *op, id domain.ChannelID, version uint64, how string) (domain.Channel, error) {
	asset := c.cfg.Asset
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.gen != c.gen {
		return domain.Channel{}, domain.ErrSessionClosed
	}
	c.channel = &domain.Channel{
		ID:      domain.ChannelID(strings.ToLower(string(id))),
		ChainID: asset.ChainID,
		Token:   asset.Token,
		Status:  domain.ChannelOpen,
		Version: version,
	}
	c.pending = nil
	c.log.Info().Str(nplog.FieldChannelID, c.channel.ID.String()).Str("how", how).Msg("adopted existing channel")
	c.transitionLocked(domain.StateChannelReady)
	return *c.channel, nil
}

// CloseChannel finalises the open channel: the counterparty proposes a final
// state paying out to the wallet, the session key countersigns it and the
// close is submitted on-chain.
func (c *Controller) CloseChannel(ctx context.Context) error {
	var ch domain.Channel
	var broker common.Address
	o, err := c.begin(ctx, "close_channel", func() error {
		if c.channel == nil || c.channel.Status != domain.ChannelOpen {
			return domain.ErrNoChannel
		}
		ch, broker = *c.channel, c.broker
		return nil
	})
	if err != nil {
		return err
	}
	defer o.done()
	if broker == (common.Address{}) {
		broker = c.cfg.Broker
	}

	c.enter(o.gen, domain.StateClosingChannel)
	msg, err := o.corr.Call(o.ctx, rpc.MethodCloseChannel, rpc.CloseChannelParams{
		ChannelID:        ch.ID.String(),
		FundsDestination: c.wallet.Address(),
	})
	if err != nil {
		return c.fail(o.gen, classify(err, domain.KindChannel), "close_channel", err)
	}
	final, ok := msg.(rpc.ChannelOperation)
	if !ok {
		return c.unexpected(o.gen, "close_channel", rpc.MethodCloseChannel, msg)
	}
	if !channelstate.SameID(domain.ChannelID(final.ChannelID), ch.ID) {
		return c.fail(o.gen, domain.KindProtocol, "close_channel",
			fmt.Errorf("final state for %s, want %s", final.ChannelID, ch.ID))
	}
	st := channelstate.FromWire(final.State)
	if st.Intent != channelstate.IntentFinalize {
		return c.fail(o.gen, domain.KindProtocol, "close_channel", fmt.Errorf("final state has intent %d", st.Intent))
	}
	if broker != (common.Address{}) {
		if err := channelstate.VerifySigner(ch.ID, st, final.ServerSignature, broker); err != nil {
			return c.fail(o.gen, domain.KindProtocol, "close_channel", fmt.Errorf("server signature: %w", err))
		}
	}
	sig, err := channelstate.Sign(ch.ID, st, o.key.SignWithSessionKey)
	if err != nil {
		return c.fail(o.gen, domain.KindProtocol, "close_channel", err)
	}

	hash, err := c.chain.SubmitTransaction(o.ctx, domain.CloseChannelTx{
		ChainID:         ch.ChainID,
		ChannelID:       ch.ID,
		State:           st,
		UserSignature:   sig,
		ServerSignature: final.ServerSignature,
	})
	if err != nil {
		return c.fail(o.gen, domain.KindChain, "close_channel", err)
	}
	o.log.Info().Str(nplog.FieldTxHash, hash).Msg("channel close submitted")
	if err := c.waitConfirmed(o, ch.ChainID, hash); err != nil {
		return c.fail(o.gen, domain.KindChain, "close_channel", err)
	}

	c.mu.Lock()
	if o.gen == c.gen && c.channel != nil {
		c.channel.Status = domain.ChannelClosed
		c.channel.Version = st.Version
		c.broker = common.Address{}
		c.transitionLocked(domain.StateAuthenticated)
	}
	c.mu.Unlock()

	if err := c.tracker.Refresh(o.ctx); err != nil {
		o.log.Debug().Err(err).Msg("balance refresh after close")
	}
	return nil
}

// waitConfirmed polls the chain until hash confirms, fails, or the
// confirmation timeout passes.
func (c *Controller) waitConfirmed(o *op, chain domain.ChainID, hash string) error {
	ctx, cancel := context.WithTimeout(o.ctx, c.cfg.ConfirmTimeout)
	defer cancel()
	ticker := newTicker(c.cfg.ConfirmPoll)
	defer ticker.Stop()

	for {
		status, err := c.chain.TransactionStatus(ctx, chain, hash)
		switch {
		case err != nil:
			o.log.Debug().Err(err).Str(nplog.FieldTxHash, hash).Msg("transaction status")
		case status == domain.TxConfirmed:
			return nil
		case status == domain.TxFailed:
			return fmt.Errorf("%w: %s", ErrTxFailed, hash)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Controller) unexpected(gen uint64, op string, want rpc.Method, got rpc.Message) error {
	name := "nothing"
	if got != nil {
		name = string(rpc.MethodOf(got))
	}
	return c.fail(gen, domain.KindProtocol, op,
		fmt.Errorf("%w: expected %s, got %s", message.ErrUnexpectedResponse, want, name))
}
