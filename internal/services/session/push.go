package session

import (
	"time"

	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
	"nitropay/internal/protocol/channelstate"
	"nitropay/internal/protocol/rpc"
)

// handlePush applies a message the counterparty sent unprompted.
func (c *Controller) handlePush(gen uint64, m rpc.Message) {
	switch p := m.(type) {
	case rpc.BalanceUpdate:
		c.mu.Lock()
		current := gen == c.gen
		c.mu.Unlock()
		if current {
			c.tracker.ApplyPush(toBalances(p.BalanceUpdates))
		}
	case rpc.ChannelUpdate:
		c.applyChannelUpdate(gen, p.ChannelInfo)
	case rpc.Assets:
		assets := make([]domain.AssetInfo, 0, len(p.Assets))
		for _, a := range p.Assets {
			assets = append(assets, domain.AssetInfo{
				Symbol:   domain.AssetSymbol(a.Symbol),
				Token:    a.Token,
				ChainID:  domain.ChainID(a.ChainID),
				Decimals: a.Decimals,
			})
		}
		c.mu.Lock()
		if gen == c.gen {
			c.assets = assets
			c.tracker.SetAssets(mergeAssets(c.cfg.Assets, assets))
			c.publishLocked()
		}
		c.mu.Unlock()
	}
}

// mergeAssets returns configured followed by every announced asset not already
// configured on the same chain. Configured entries keep their declared decimals.
func mergeAssets(configured, announced []domain.AssetInfo) []domain.AssetInfo {
	type key struct {
		symbol domain.AssetSymbol
		chain  domain.ChainID
	}
	seen := make(map[key]bool, len(configured))
	out := append([]domain.AssetInfo(nil), configured...)
	for _, a := range configured {
		seen[key{a.Symbol, a.ChainID}] = true
	}
	for _, a := range announced {
		k := key{a.Symbol, a.ChainID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}

// applyChannelUpdate follows the counterparty's view of the session channel.
// A pending channel may be reported open before the local confirmation wait
// finishes.
func (c *Controller) applyChannelUpdate(gen uint64, info rpc.ChannelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.channel == nil || !channelstate.SameID(c.channel.ID, domain.ChannelID(info.ChannelID)) {
		return
	}
	status := domain.ChannelStatus(info.Status)
	switch {
	case status == domain.ChannelOpen && c.channel.Status == domain.ChannelPending:
		c.channel.Status = domain.ChannelOpen
		c.pending = nil
		if c.state == domain.StateError {
			c.transitionLocked(domain.StateChannelReady)
		}
	case status == domain.ChannelClosed && c.channel.Status != domain.ChannelClosed:
		c.channel.Status = domain.ChannelClosed
		if c.state == domain.StateChannelReady || c.state == domain.StatePaid {
			c.transitionLocked(domain.StateAuthenticated)
		}
	default:
		if info.Version > c.channel.Version {
			c.channel.Version = info.Version
			c.publishLocked()
		}
		return
	}
	if info.Version > c.channel.Version {
		c.channel.Version = info.Version
	}
	c.log.Info().Str(nplog.FieldChannelID, c.channel.ID.String()).
		Str("status", info.Status).Msg("channel update")
	c.publishLocked()
}

func toBalances(in []rpc.Balance) []domain.Balance {
	out := make([]domain.Balance, 0, len(in))
	for _, b := range in {
		out = append(out, domain.Balance{Asset: domain.AssetSymbol(b.Asset), Amount: b.Amount})
	}
	return out
}

func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		d = time.Millisecond
	}
	return time.NewTicker(d)
}
