package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
	"nitropay/internal/protocol/eip712"
	"nitropay/internal/protocol/rpc"
	"nitropay/internal/services/message"
)

// Connect opens the transport and authenticates.
//
// A call made while another Connect is in flight joins it; a call on a live
// session returns immediately. After a transport drop the previous session key
// and auth token are reused when the token is still valid, falling back to a
// full wallet-signed handshake otherwise.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.wallet == nil {
		c.mu.Unlock()
		return domain.ErrNoWallet
	}
	if call := c.connecting; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.liveLocked() {
		c.mu.Unlock()
		return nil
	}
	call := &connectCall{done: make(chan struct{})}
	c.connecting = call
	gen := c.gen
	c.mu.Unlock()

	call.err = c.connect(ctx, gen)
	if call.err == nil {
		c.traceIntent(ctx, "connect")
	}

	c.mu.Lock()
	if c.connecting == call {
		c.connecting = nil
	}
	c.mu.Unlock()
	close(call.done)
	return call.err
}

// connect runs the handshake:
//  1. Reuse or create the session key and build a fresh transport.
//  2. Open the transport.
//  3. Try the stored auth token, if any is still valid.
//  4. Otherwise request a challenge, have the wallet sign the policy and verify it.
func (c *Controller) connect(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	key := c.key
	reuse := key != nil && c.token != ""
	c.mu.Unlock()

	if !reuse {
		fresh, err := c.keys.NewSessionKey()
		if err != nil {
			return c.fail(gen, domain.KindAuth, "connect", fmt.Errorf("create session key: %w", err))
		}
		key = fresh
	}

	t := c.dial()
	corr := message.New(t, message.Options{
		Timeout: c.cfg.RequestTimeout,
		Logger:  &c.base,
		Metrics: c.metrics,
		Now:     c.now,
	})
	corr.SetSigner(key.SignWithSessionKey)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if !reuse {
			key.Destroy()
		}
		return domain.ErrSessionClosed
	}
	if !reuse {
		if c.key != nil {
			c.key.Destroy()
		}
		c.key = key
		c.token, c.tokenExp = "", nil
	}
	if c.sessionID == "" || !reuse {
		c.sessionID = domain.SessionID(uuid.NewString())
	}
	c.log = c.base.With().
		Str(nplog.FieldSessionID, c.sessionID.String()).
		Str(nplog.FieldWallet, c.wallet.Address().Hex()).
		Logger()
	c.transport, c.corr = t, corr
	c.opCtx, c.opCancel = context.WithCancel(context.Background())
	c.busy = false
	token, tokenExp := c.token, c.tokenExp
	log := c.log
	c.transitionLocked(domain.StateConnecting)
	c.mu.Unlock()

	corr.OnUnsolicited(func(m rpc.Message) { c.handlePush(gen, m) })
	corr.OnProtocolError(func(err error) { c.fail(gen, domain.KindProtocol, "receive", err) })
	t.OnClose(func(err error) { c.dropped(gen, err) })

	if err := t.Open(ctx); err != nil {
		return c.fail(gen, domain.KindTransport, "connect", err)
	}
	if !c.enter(gen, domain.StateAuthenticating) {
		return domain.ErrSessionClosed
	}

	if token != "" && (tokenExp == nil || tokenExp.After(c.now().Add(tokenReuseMargin))) {
		err := c.reuseToken(ctx, gen, corr, token)
		if err == nil {
			log.Info().Msg("session resumed with stored token")
			return nil
		}
		if domain.KindOf(err) != domain.KindAuth {
			return err
		}
		log.Info().Err(err).Msg("stored token refused, re-authenticating")
	}
	return c.authenticate(ctx, gen, corr, key)
}

func (c *Controller) reuseToken(ctx context.Context, gen uint64, corr *message.Correlator, token string) error {
	msg, err := corr.Call(ctx, rpc.MethodAuthVerify, rpc.AuthVerifyParams{JWT: token})
	if err != nil {
		if kind := classify(err, domain.KindAuth); kind != domain.KindAuth {
			return c.fail(gen, kind, "authenticate", err)
		}
		return domain.NewError(domain.KindAuth, "authenticate", err)
	}
	res, ok := msg.(rpc.AuthVerifyResult)
	if !ok || !res.Success {
		return domain.Errorf(domain.KindAuth, "authenticate", "token not accepted")
	}
	return c.authenticated(gen, res, token)
}

func (c *Controller) authenticate(ctx context.Context, gen uint64, corr *message.Correlator, key domain.SessionKey) error {
	wallet := c.wallet.Address()
	expiresAt := uint64(c.now().Add(c.cfg.SessionTTL).Unix())
	req := rpc.AuthRequestParams{
		Address:     wallet,
		SessionKey:  key.Address(),
		Application: c.cfg.Application,
		Allowances:  c.cfg.Allowances,
		ExpiresAt:   expiresAt,
		Scope:       c.cfg.Scope,
	}
	if req.Allowances == nil {
		req.Allowances = []rpc.Allowance{}
	}
	msg, err := corr.Call(ctx, rpc.MethodAuthRequest, req, message.Unsigned())
	if err != nil {
		return c.fail(gen, classify(err, domain.KindAuth), "authenticate", err)
	}
	challenge, ok := msg.(rpc.AuthChallenge)
	if !ok || challenge.ChallengeMessage == "" {
		return c.fail(gen, domain.KindProtocol, "authenticate",
			fmt.Errorf("%w: expected auth_challenge, got %s", message.ErrUnexpectedResponse, rpc.MethodOf(msg)))
	}

	policy := eip712.Policy{
		Application: c.cfg.Application,
		Challenge:   challenge.ChallengeMessage,
		Scope:       c.cfg.Scope,
		Wallet:      wallet,
		SessionKey:  key.Address(),
		ExpiresAt:   expiresAt,
		Allowances:  req.Allowances,
	}
	doc, err := policy.JSON()
	if err != nil {
		return c.fail(gen, domain.KindAuth, "authenticate", err)
	}
	sig, err := c.wallet.SignWithWallet(ctx, doc)
	if err != nil {
		return c.fail(gen, domain.KindAuth, "authenticate", fmt.Errorf("wallet signature: %w", err))
	}

	msg, err = corr.Call(ctx, rpc.MethodAuthVerify,
		rpc.AuthVerifyParams{Challenge: challenge.ChallengeMessage}, message.WithSignature(sig))
	if err != nil {
		return c.fail(gen, classify(err, domain.KindAuth), "authenticate", err)
	}
	res, ok := msg.(rpc.AuthVerifyResult)
	if !ok {
		return c.fail(gen, domain.KindProtocol, "authenticate",
			fmt.Errorf("%w: expected auth_verify, got %s", message.ErrUnexpectedResponse, rpc.MethodOf(msg)))
	}
	if !res.Success {
		return c.fail(gen, domain.KindAuth, "authenticate", errors.New("authentication rejected"))
	}
	return c.authenticated(gen, res, res.JWTToken)
}

func (c *Controller) authenticated(gen uint64, res rpc.AuthVerifyResult, token string) error {
	exp := tokenExpiry(token)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return domain.ErrSessionClosed
	}
	c.token, c.tokenExp, c.authed = token, exp, true
	c.log.Info().Str("token", nplog.Redact(token)).Msg("session authenticated")
	c.transitionLocked(domain.StateAuthenticated)
	if c.channel != nil && c.channel.Status == domain.ChannelOpen {
		c.transitionLocked(domain.StateChannelReady)
	}
	return nil
}

// tokenExpiry reads the exp claim without verifying the token; the issuer
// remains the judge of its validity.
func tokenExpiry(token string) *time.Time {
	if token == "" {
		return nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil || claims.ExpiresAt == nil {
		return nil
	}
	exp := claims.ExpiresAt.Time
	return &exp
}

// dropped handles the transport going away underneath the session. The token,
// session key and channel are kept for a later Connect.
func (c *Controller) dropped(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	e := domain.NewError(domain.KindTransport, "receive", cause)
	corr := c.detachLocked(e, false)
	c.mu.Unlock()

	if corr != nil {
		corr.Reset(fmt.Errorf("%w: %w", domain.ErrSessionClosed, cause))
	}
}
