package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"nitropay/internal/domain"
)

// ErrUnknownChain is returned for chains without a configured endpoint.
var ErrUnknownChain = errors.New("chain: unknown chain")

// EVMClient defines the subset of the Ethereum RPC used by the adapter.
type EVMClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Network describes one settlement chain.
type Network struct {
	ChainID       domain.ChainID `yaml:"chain_id"`
	RPCURL        string         `yaml:"rpc_url"`
	Custody       common.Address `yaml:"custody"`
	Adjudicator   common.Address `yaml:"adjudicator"`
	Confirmations uint64         `yaml:"confirmations"`
}

type network struct {
	cfg    Network
	client EVMClient
}

// Client implements domain.Chain for a set of networks.
type Client struct {
	key      *ecdsa.PrivateKey
	from     common.Address
	networks map[domain.ChainID]*network
	log      zerolog.Logger

	// PollInterval paces receipt polling while waiting for an approval.
	PollInterval time.Duration

	mu sync.Mutex // serialises nonce allocation
}

// DialEVMClient initialises an EVM RPC client for the provided endpoint.
func DialEVMClient(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// Dial connects to every network.
func Dial(ctx context.Context, key *ecdsa.PrivateKey, networks []Network, logger zerolog.Logger) (*Client, error) {
	clients := make(map[domain.ChainID]EVMClient, len(networks))
	for _, n := range networks {
		c, err := DialEVMClient(ctx, n.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", n.ChainID, err)
		}
		clients[n.ChainID] = c
	}
	return New(key, networks, clients, logger), nil
}

// New builds a client over already-connected EVM clients.
func New(key *ecdsa.PrivateKey, networks []Network, clients map[domain.ChainID]EVMClient, logger zerolog.Logger) *Client {
	c := &Client{
		key:          key,
		from:         gethcrypto.PubkeyToAddress(key.PublicKey),
		networks:     make(map[domain.ChainID]*network, len(networks)),
		log:          logger.With().Str("component", "chain").Logger(),
		PollInterval: 2 * time.Second,
	}
	for _, n := range networks {
		c.networks[n.ChainID] = &network{cfg: n, client: clients[n.ChainID]}
	}
	return c
}

func (c *Client) network(id domain.ChainID) (*network, error) {
	n, ok := c.networks[id]
	if !ok || n.client == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, id)
	}
	return n, nil
}

// BalanceOf returns owner's balance of token; the zero token is the native asset.
func (c *Client) BalanceOf(ctx context.Context, chain domain.ChainID, token, owner common.Address) (*big.Int, error) {
	n, err := c.network(chain)
	if err != nil {
		return nil, err
	}
	if token == (common.Address{}) {
		return n.client.BalanceAt(ctx, owner, nil)
	}
	return c.callUint(ctx, n, token, "balanceOf", owner)
}

func (c *Client) callUint(ctx context.Context, n *network, token common.Address, method string, args ...any) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := n.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected %T", method, vals[0])
	}
	return v, nil
}

// TransactionStatus reports whether txHash is mined with enough confirmations.
func (c *Client) TransactionStatus(ctx context.Context, chain domain.ChainID, txHash string) (domain.TxStatus, error) {
	n, err := c.network(chain)
	if err != nil {
		return domain.TxPending, err
	}
	receipt, err := n.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return domain.TxPending, nil
		}
		return domain.TxPending, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil {
		return domain.TxPending, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return domain.TxFailed, nil
	}
	if want := n.cfg.Confirmations; want > 1 {
		header, err := n.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return domain.TxPending, fmt.Errorf("fetch head: %w", err)
		}
		if header == nil || header.Number == nil || receipt.BlockNumber == nil {
			return domain.TxPending, nil
		}
		confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
		confirmed.Add(confirmed, big.NewInt(1))
		if confirmed.Cmp(new(big.Int).SetUint64(want)) < 0 {
			return domain.TxPending, nil
		}
	}
	return domain.TxConfirmed, nil
}

// SubmitTransaction sends tx and returns its hash.
func (c *Client) SubmitTransaction(ctx context.Context, tx domain.ChainTx) (string, error) {
	n, err := c.network(tx.Chain())
	if err != nil {
		return "", err
	}
	switch t := tx.(type) {
	case domain.DepositTx:
		return c.deposit(ctx, n, t)
	case domain.CreateChannelTx:
		data, err := custodyABI.Pack("create", toABIChannel(t.Channel), toABIState(t.State, t.UserSignature, t.ServerSignature))
		if err != nil {
			return "", fmt.Errorf("pack create: %w", err)
		}
		return c.send(ctx, n, n.cfg.Custody, nil, data)
	case domain.CloseChannelTx:
		data, err := custodyABI.Pack("close", [32]byte(t.ChannelID.Hash()),
			toABIState(t.State, t.UserSignature, t.ServerSignature), []abiState{})
		if err != nil {
			return "", fmt.Errorf("pack close: %w", err)
		}
		return c.send(ctx, n, n.cfg.Custody, nil, data)
	default:
		return "", fmt.Errorf("chain: unsupported transaction %T", tx)
	}
}

func (c *Client) deposit(ctx context.Context, n *network, t domain.DepositTx) (string, error) {
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return "", fmt.Errorf("deposit amount must be positive")
	}
	var value *big.Int
	if t.Token == (common.Address{}) {
		value = t.Amount
	} else {
		allowance, err := c.callUint(ctx, n, t.Token, "allowance", c.from, n.cfg.Custody)
		if err != nil {
			return "", err
		}
		if allowance.Cmp(t.Amount) < 0 {
			data, err := erc20ABI.Pack("approve", n.cfg.Custody, t.Amount)
			if err != nil {
				return "", err
			}
			hash, err := c.send(ctx, n, t.Token, nil, data)
			if err != nil {
				return "", fmt.Errorf("approve: %w", err)
			}
			if err := c.waitMined(ctx, n, hash); err != nil {
				return "", fmt.Errorf("approve %s: %w", hash, err)
			}
		}
	}
	data, err := custodyABI.Pack("deposit", c.from, t.Token, t.Amount)
	if err != nil {
		return "", fmt.Errorf("pack deposit: %w", err)
	}
	return c.send(ctx, n, n.cfg.Custody, value, data)
}

func (c *Client) waitMined(ctx context.Context, n *network, hash string) error {
	interval := c.PollInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.TransactionStatus(ctx, n.cfg.ChainID, hash)
		if err != nil {
			return err
		}
		switch status {
		case domain.TxConfirmed:
			return nil
		case domain.TxFailed:
			return fmt.Errorf("transaction reverted")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) send(ctx context.Context, n *network, to common.Address, value *big.Int, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	nonce, err := n.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	tip, err := n.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("gas tip: %w", err)
	}
	head, err := n.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := n.client.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Value: value, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	gas = gas * 12 / 10

	chainID := new(big.Int).SetUint64(uint64(n.cfg.ChainID))
	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := n.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	hash := signed.Hash().Hex()
	c.log.Info().Uint64("chain_id", uint64(n.cfg.ChainID)).Str("tx_hash", hash).
		Str("to", to.Hex()).Msg("transaction submitted")
	return hash, nil
}

func toABIChannel(d domain.ChannelDefinition) abiChannel {
	return abiChannel{
		Participants: d.Participants,
		Adjudicator:  d.Adjudicator,
		Challenge:    d.Challenge,
		Nonce:        d.Nonce,
	}
}

func toABIState(st domain.ChannelState, sigs ...[]byte) abiState {
	out := abiState{
		Intent:      st.Intent,
		Version:     new(big.Int).SetUint64(st.Version),
		Data:        st.Data,
		Allocations: make([]abiAllocation, 0, len(st.Allocations)),
	}
	if out.Data == nil {
		out.Data = []byte{}
	}
	for _, a := range st.Allocations {
		out.Allocations = append(out.Allocations, abiAllocation{
			Destination: a.Destination,
			Token:       a.Token,
			Amount:      a.Amount.BigInt(),
		})
	}
	for _, s := range sigs {
		if len(s) > 0 {
			out.Sigs = append(out.Sigs, s)
		}
	}
	if out.Sigs == nil {
		out.Sigs = [][]byte{}
	}
	return out
}

// Address returns the account that signs transactions.
func (c *Client) Address() common.Address { return c.from }

var _ domain.Chain = (*Client)(nil)
