package clearnodesim

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"nitropay/internal/crypto"
	"nitropay/internal/domain"
	"nitropay/internal/protocol/channelstate"
	"nitropay/internal/protocol/eip712"
	"nitropay/internal/protocol/rpc"
)

// tokenClaims is the body of an issued auth token.
type tokenClaims struct {
	Wallet      string `json:"wallet"`
	SessionKey  string `json:"session_key"`
	Application string `json:"application,omitempty"`
	Scope       string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Conn is one client connection to the node.
type Conn struct {
	node *Node
	push func(rpc.Frame)

	mu         sync.Mutex
	wallet     common.Address
	sessionKey common.Address
	authed     bool
	challenge  string
	request    rpc.AuthRequestParams
}

// Conn starts a connection whose pushes are handed to push.
func (n *Node) Conn(push func(rpc.Frame)) *Conn {
	return &Conn{node: n, push: push}
}

func (c *Conn) deliver(f rpc.Frame) {
	if c.push != nil {
		c.push(f)
	}
}

// Close forgets the connection.
func (c *Conn) Close() {
	c.mu.Lock()
	wallet, authed := c.wallet, c.authed
	c.authed = false
	c.mu.Unlock()
	if authed {
		c.node.unregister(wallet, c)
	}
}

// Handle answers one request. The first returned frame is the response; any
// further frames are pushes that follow it.
func (c *Conn) Handle(req rpc.Frame) []rpc.Frame {
	p := req.Req
	if p == nil {
		return nil
	}
	n := c.node
	switch p.Method {
	case rpc.MethodPing:
		return []rpc.Frame{n.respond(p.RequestID, rpc.MethodPong, nil)}
	case rpc.MethodAuthRequest:
		return c.authRequest(*p)
	case rpc.MethodAuthVerify:
		return c.authVerify(req)
	}

	c.mu.Lock()
	authed, wallet, key := c.authed, c.wallet, c.sessionKey
	c.mu.Unlock()
	if !authed {
		return []rpc.Frame{n.fail(p.RequestID, "authentication required")}
	}
	if err := verifyFrame(req, key); err != nil {
		return []rpc.Frame{n.fail(p.RequestID, "invalid signature")}
	}

	switch p.Method {
	case rpc.MethodGetChannels:
		return c.getChannels(*p, wallet)
	case rpc.MethodCreateChannel:
		return c.createChannel(*p, wallet, key)
	case rpc.MethodCloseChannel:
		return c.closeChannel(*p, wallet)
	case rpc.MethodGetLedgerBalances:
		n.mu.Lock()
		balances := n.balancesLocked(wallet)
		n.mu.Unlock()
		return []rpc.Frame{n.respond(p.RequestID, rpc.MethodGetLedgerBalances, rpc.LedgerBalances{LedgerBalances: balances})}
	case rpc.MethodTransfer:
		return c.transfer(*p, wallet)
	case rpc.MethodGetAssets:
		return []rpc.Frame{n.respond(p.RequestID, rpc.MethodGetAssets, n.assets())}
	default:
		return []rpc.Frame{n.fail(p.RequestID, fmt.Sprintf("unsupported method %s", p.Method))}
	}
}

func verifyFrame(f rpc.Frame, signer common.Address) error {
	sigs, err := f.Signatures()
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		return errors.New("unsigned request")
	}
	payload, err := f.Req.SigningBytes()
	if err != nil {
		return err
	}
	if !crypto.VerifyPayload(signer, payload, sigs[0]) {
		return errors.New("signature does not match session key")
	}
	return nil
}

func (n *Node) assets() rpc.Assets {
	out := rpc.Assets{Assets: make([]rpc.Asset, 0, len(n.cfg.Assets))}
	for _, a := range n.cfg.Assets {
		out.Assets = append(out.Assets, rpc.Asset{
			Token:    a.Token,
			ChainID:  uint64(a.ChainID),
			Symbol:   string(a.Symbol),
			Decimals: a.Decimals,
		})
	}
	return out
}

func (c *Conn) authRequest(p rpc.Payload) []rpc.Frame {
	n := c.node
	var params rpc.AuthRequestParams
	if err := rpc.DecodeParams(p, &params); err != nil {
		return []rpc.Frame{n.fail(p.RequestID, "invalid auth_request params")}
	}
	if params.Address == (common.Address{}) || params.SessionKey == (common.Address{}) {
		return []rpc.Frame{n.fail(p.RequestID, "address and session_key are required")}
	}
	challenge := uuid.NewString()
	c.mu.Lock()
	c.challenge, c.request = challenge, params
	c.mu.Unlock()
	return []rpc.Frame{n.respond(p.RequestID, rpc.MethodAuthChallenge, rpc.AuthChallenge{ChallengeMessage: challenge})}
}

func (c *Conn) authVerify(req rpc.Frame) []rpc.Frame {
	n := c.node
	p := *req.Req
	var params rpc.AuthVerifyParams
	if err := rpc.DecodeParams(p, &params); err != nil {
		return []rpc.Frame{n.fail(p.RequestID, "invalid auth_verify params")}
	}

	var wallet, key common.Address
	var token string
	switch {
	case params.JWT != "":
		claims, err := n.parseToken(params.JWT)
		if err != nil {
			return []rpc.Frame{n.fail(p.RequestID, "invalid token")}
		}
		wallet, key = common.HexToAddress(claims.Wallet), common.HexToAddress(claims.SessionKey)
		if err := verifyFrame(req, key); err != nil {
			return []rpc.Frame{n.fail(p.RequestID, "invalid signature")}
		}
		token = params.JWT
	default:
		c.mu.Lock()
		challenge, request := c.challenge, c.request
		c.mu.Unlock()
		if challenge == "" || params.Challenge != challenge {
			return []rpc.Frame{n.fail(p.RequestID, "invalid challenge")}
		}
		sigs, err := req.Signatures()
		if err != nil || len(sigs) == 0 {
			return []rpc.Frame{n.fail(p.RequestID, "missing signature")}
		}
		policy := eip712.Policy{
			Application: request.Application,
			Challenge:   challenge,
			Scope:       request.Scope,
			Wallet:      request.Address,
			SessionKey:  request.SessionKey,
			ExpiresAt:   request.ExpiresAt,
			Allowances:  request.Allowances,
		}
		if err := policy.Verify(sigs[0]); err != nil {
			return []rpc.Frame{n.fail(p.RequestID, "invalid challenge or signature")}
		}
		wallet, key = request.Address, request.SessionKey
		token, err = n.issueToken(request)
		if err != nil {
			return []rpc.Frame{n.fail(p.RequestID, "internal error")}
		}
	}

	c.mu.Lock()
	c.wallet, c.sessionKey, c.authed, c.challenge = wallet, key, true, ""
	c.mu.Unlock()
	n.register(wallet, c)
	n.log.Info().Str("wallet", wallet.Hex()).Str("session_key", key.Hex()).Msg("authenticated")

	n.mu.Lock()
	balances := n.balancesLocked(wallet)
	n.mu.Unlock()
	return []rpc.Frame{
		n.respond(p.RequestID, rpc.MethodAuthVerify, rpc.AuthVerifyResult{
			Address:    wallet,
			SessionKey: key,
			Success:    true,
			JWTToken:   token,
		}),
		n.respond(0, rpc.MethodAssets, n.assets()),
		n.respond(0, rpc.MethodBalanceUpdate, rpc.BalanceUpdate{BalanceUpdates: balances}),
	}
}

func (n *Node) issueToken(req rpc.AuthRequestParams) (string, error) {
	now := n.now()
	exp := now.Add(n.cfg.TokenTTL)
	if req.ExpiresAt > 0 {
		if requested := time.Unix(int64(req.ExpiresAt), 0); requested.Before(exp) {
			exp = requested
		}
	}
	claims := tokenClaims{
		Wallet:      req.Address.Hex(),
		SessionKey:  req.SessionKey.Hex(),
		Application: req.Application,
		Scope:       req.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Address.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(n.secret)
}

func (n *Node) parseToken(raw string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return n.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(n.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Conn) getChannels(p rpc.Payload, wallet common.Address) []rpc.Frame {
	n := c.node
	var params rpc.GetChannelsParams
	if err := rpc.DecodeParams(p, &params); err != nil {
		return []rpc.Frame{n.fail(p.RequestID, "invalid get_channels params")}
	}
	if params.Participant == (common.Address{}) {
		params.Participant = wallet
	}
	n.mu.Lock()
	out := rpc.Channels{Channels: []rpc.ChannelInfo{}}
	for _, ch := range n.channels {
		if ch.wallet != params.Participant {
			continue
		}
		if params.Status != "" && string(ch.status) != params.Status {
			continue
		}
		out.Channels = append(out.Channels, n.channelInfo(ch))
	}
	n.mu.Unlock()
	return []rpc.Frame{n.respond(p.RequestID, rpc.MethodGetChannels, out)}
}

func (c *Conn) createChannel(p rpc.Payload, wallet, key common.Address) []rpc.Frame {
	n := c.node
	var params rpc.CreateChannelParams
	if err := rpc.DecodeParams(p, &params); err != nil {
		return []rpc.Frame{n.fail(p.RequestID, "invalid create_channel params")}
	}
	chain := domain.ChainID(params.ChainID)
	if _, ok := n.asset(chain, params.Token); !ok {
		return []rpc.Frame{n.fail(p.RequestID, fmt.Sprintf("token %s is not supported on chain %d", params.Token.Hex(), params.ChainID))}
	}

	n.mu.Lock()
	if existing := n.openChannelLocked(wallet, chain, params.Token); existing != nil {
		n.mu.Unlock()
		return []rpc.Frame{n.fail(p.RequestID, fmt.Sprintf("%s: %s", rpc.ConflictMarker, existing.id))}
	}
	ch := n.newChannelLocked(wallet, key, chain, params.Token)
	st := domain.ChannelState{
		Intent:  channelstate.IntentInitialize,
		Version: 0,
		Data:    []byte{},
		Allocations: []domain.Allocation{
			{Destination: wallet, Token: params.Token, Amount: decimal.Zero},
			{Destination: n.brokerAdr, Token: params.Token, Amount: decimal.Zero},
		},
	}
	autoOpen := n.cfg.Chain == nil
	if autoOpen {
		ch.status = domain.ChannelOpen
	}
	info := n.channelInfo(ch)
	n.mu.Unlock()

	sig, err := n.signState(ch.id, st)
	if err != nil {
		return []rpc.Frame{n.fail(p.RequestID, "internal error")}
	}
	resp := n.respond(p.RequestID, rpc.MethodCreateChannel, rpc.ChannelOperation{
		ChannelID: ch.id.String(),
		Channel: &rpc.ChannelDefinition{
			Participants: [2]common.Address{ch.def.Participants[0], ch.def.Participants[1]},
			Adjudicator:  ch.def.Adjudicator,
			Challenge:    ch.def.Challenge,
			Nonce:        ch.def.Nonce,
		},
		State:           channelstate.ToWire(st),
		ServerSignature: sig,
	})
	if autoOpen {
		return []rpc.Frame{resp, n.respond(0, rpc.MethodChannelUpdate, rpc.ChannelUpdate{ChannelInfo: info})}
	}
	return []rpc.Frame{resp}
}

func (c *Conn) closeChannel(p rpc.Payload, wallet common.Address) []rpc.Frame {
	n := c.node
	var params rpc.CloseChannelParams
	if err := rpc.DecodeParams(p, &params); err != nil {
		return []rpc.Frame{n.fail(p.RequestID, "invalid close_channel params")}
	}
	id := domain.ChannelID(strings.ToLower(params.ChannelID))
	n.mu.Lock()
	ch, ok := n.channels[id]
	if !ok || ch.wallet != wallet {
		n.mu.Unlock()
		return []rpc.Frame{n.fail(p.RequestID, fmt.Sprintf("channel %s not found", params.ChannelID))}
	}
	if ch.status != domain.ChannelOpen {
		n.mu.Unlock()
		return []rpc.Frame{n.fail(p.RequestID, fmt.Sprintf("channel %s is %s", params.ChannelID, ch.status))}
	}
	dest := params.FundsDestination
	if dest == (common.Address{}) {
		dest = wallet
	}
	st := domain.ChannelState{
		Intent:  channelstate.IntentFinalize,
		Version: ch.version + 1,
		Data:    []byte{},
		Allocations: []domain.Allocation{
			{Destination: dest, Token: ch.token, Amount: decimal.Zero},
			{Destination: n.brokerAdr, Token: ch.token, Amount: decimal.Zero},
		},
	}
	autoClose := n.cfg.Chain == nil
	if autoClose {
		ch.status = domain.ChannelClosed
		ch.version = st.Version
		ch.updated = n.now().UTC()
	}
	info := n.channelInfo(ch)
	n.mu.Unlock()

	sig, err := n.signState(ch.id, st)
	if err != nil {
		return []rpc.Frame{n.fail(p.RequestID, "internal error")}
	}
	resp := n.respond(p.RequestID, rpc.MethodCloseChannel, rpc.ChannelOperation{
		ChannelID:       ch.id.String(),
		State:           channelstate.ToWire(st),
		ServerSignature: sig,
	})
	if autoClose {
		return []rpc.Frame{resp, n.respond(0, rpc.MethodChannelUpdate, rpc.ChannelUpdate{ChannelInfo: info})}
	}
	return []rpc.Frame{resp}
}

func (c *Conn) transfer(p rpc.Payload, wallet common.Address) []rpc.Frame {
	n := c.node
	var params rpc.TransferParams
	if err := rpc.DecodeParams(p, &params); err != nil {
		return []rpc.Frame{n.fail(p.RequestID, "invalid transfer params")}
	}
	if params.Destination == (common.Address{}) || len(params.Allocations) == 0 {
		return []rpc.Frame{n.fail(p.RequestID, "destination and allocations are required")}
	}
	if params.Destination == wallet {
		return []rpc.Frame{n.fail(p.RequestID, "cannot transfer to self")}
	}

	n.mu.Lock()
	for _, a := range params.Allocations {
		if !a.Amount.IsPositive() {
			n.mu.Unlock()
			return []rpc.Frame{n.fail(p.RequestID, fmt.Sprintf("invalid amount %s", a.Amount))}
		}
		if have := n.ledger[wallet][domain.AssetSymbol(a.Asset)]; have.LessThan(a.Amount) {
			n.mu.Unlock()
			return []rpc.Frame{n.fail(p.RequestID, fmt.Sprintf("insufficient funds: %s %s available, %s requested", have, a.Asset, a.Amount))}
		}
	}
	now := n.now().UTC().Format(time.RFC3339)
	result := rpc.TransferResult{Transactions: make([]rpc.Transaction, 0, len(params.Allocations))}
	for _, a := range params.Allocations {
		asset := domain.AssetSymbol(a.Asset)
		n.creditLocked(wallet, asset, a.Amount.Neg())
		n.creditLocked(params.Destination, asset, a.Amount)
		n.txSeq++
		result.Transactions = append(result.Transactions, rpc.Transaction{
			ID:          n.txSeq,
			TxType:      "transfer",
			FromAccount: wallet.Hex(),
			ToAccount:   params.Destination.Hex(),
			Asset:       a.Asset,
			Amount:      a.Amount,
			Reference:   params.Reference,
			CreatedAt:   now,
		})
	}
	senderBalances := n.balancesLocked(wallet)
	n.mu.Unlock()

	n.log.Info().Str("from", wallet.Hex()).Str("to", params.Destination.Hex()).
		Str("reference", params.Reference).Msg("transfer settled")
	n.pushBalances(params.Destination)
	return []rpc.Frame{
		n.respond(p.RequestID, rpc.MethodTransfer, result),
		n.respond(0, rpc.MethodBalanceUpdate, rpc.BalanceUpdate{BalanceUpdates: senderBalances}),
	}
}
