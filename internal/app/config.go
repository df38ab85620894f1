package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"nitropay/internal/chain"
	"nitropay/internal/domain"
	"nitropay/internal/protocol/rpc"
	"nitropay/internal/services/session"
)

// Sandbox deployment defaults.
const (
	DefaultClearnodeURL = "wss://clearnet-sandbox.yellow.com/ws"
	DefaultApplication  = "nitropay"
	DefaultScope        = "console"
	DefaultListen       = "127.0.0.1:8787"
	SepoliaChainID      = domain.ChainID(11155111)
)

var (
	sepoliaUSD         = common.HexToAddress("0xDB9F293e3898c9E5536A3be1b0C56c89d2b32DEb")
	sepoliaCustody     = common.HexToAddress("0x019B65A265EB3363822f2752141b3dF16131b262")
	sepoliaAdjudicator = common.HexToAddress("0x7c7ccbc98469190849BCC6c926307794fDfB11F2")
)

// APIConfig configures `nitropay serve`.
type APIConfig struct {
	Listen      string `yaml:"listen"`
	IntentLimit int    `yaml:"intent_limit"`
}

// Config holds runtime wiring options for building the app.
type Config struct {
	Home         string `yaml:"home"`          // wallet keystore directory, e.g. $HOME/.nitropay
	ClearnodeURL string `yaml:"clearnode_url"` // clearing node WebSocket endpoint
	Application  string `yaml:"application"`
	Scope        string `yaml:"scope"`
	// SessionTTL bounds the session key's delegated authority.
	SessionTTL time.Duration `yaml:"session_ttl"`
	// Allowance caps what the session key may move of Asset.
	Allowance decimal.Decimal    `yaml:"allowance"`
	Asset     domain.AssetSymbol `yaml:"asset"`
	Assets    []domain.AssetInfo `yaml:"assets"`
	Networks  []chain.Network    `yaml:"networks"`
	// Broker pins the counterparty address expected in channel proposals.
	Broker common.Address `yaml:"broker"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	ConfirmPoll    time.Duration `yaml:"confirm_poll"`
	SendRate       float64       `yaml:"send_rate"`
	SendBurst      int           `yaml:"send_burst"`

	API      APIConfig `yaml:"api"`
	LogLevel string    `yaml:"log_level"`

	overrides map[string]string
}

// Default returns the sandbox configuration.
func Default() Config {
	home := ".nitropay"
	if dir, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(dir, ".nitropay")
	}
	return Config{
		Home:         home,
		ClearnodeURL: DefaultClearnodeURL,
		Application:  DefaultApplication,
		Scope:        DefaultScope,
		SessionTTL:   time.Hour,
		Allowance:    decimal.NewFromInt(1000),
		Asset:        "ytest.usd",
		Assets: []domain.AssetInfo{
			{Symbol: "ytest.usd", Token: sepoliaUSD, ChainID: SepoliaChainID, Decimals: 6},
			{Symbol: "ETH", ChainID: SepoliaChainID, Decimals: 18},
		},
		Networks: []chain.Network{{
			ChainID:       SepoliaChainID,
			RPCURL:        "https://ethereum-sepolia-rpc.publicnode.com",
			Custody:       sepoliaCustody,
			Adjudicator:   sepoliaAdjudicator,
			Confirmations: 1,
		}},
		RequestTimeout: 30 * time.Second,
		ConfirmTimeout: 5 * time.Minute,
		ConfirmPoll:    2 * time.Second,
		SendRate:       20,
		SendBurst:      5,
		API:            APIConfig{Listen: DefaultListen, IntentLimit: 60},
	}
}

// Load reads the defaults, then path (if non-empty), then the environment,
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config %s contains multiple documents or trailing content", path)
	}
	return nil
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.ClearnodeURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errs = append(errs, fmt.Errorf("clearnode_url %q must be a ws:// or wss:// URL", c.ClearnodeURL))
	}
	if c.Application == "" {
		errs = append(errs, errors.New("application is required"))
	}
	if c.Home == "" {
		errs = append(errs, errors.New("home is required"))
	}
	for name, d := range map[string]time.Duration{
		"session_ttl":     c.SessionTTL,
		"request_timeout": c.RequestTimeout,
		"confirm_timeout": c.ConfirmTimeout,
		"confirm_poll":    c.ConfirmPoll,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Allowance.IsNegative() {
		errs = append(errs, errors.New("allowance must not be negative"))
	}
	if c.SendRate < 0 {
		errs = append(errs, errors.New("send_rate must not be negative"))
	}

	seen := make(map[domain.AssetSymbol]bool, len(c.Assets))
	for _, a := range c.Assets {
		switch {
		case a.Symbol == "":
			errs = append(errs, errors.New("asset without symbol"))
		case seen[a.Symbol]:
			errs = append(errs, fmt.Errorf("asset %s declared twice", a.Symbol))
		case a.Decimals < 0 || a.Decimals > 36:
			errs = append(errs, fmt.Errorf("asset %s: decimals %d out of range", a.Symbol, a.Decimals))
		case a.ChainID == 0:
			errs = append(errs, fmt.Errorf("asset %s: chain_id is required", a.Symbol))
		}
		seen[a.Symbol] = true
	}
	asset, ok := c.AssetInfo()
	if !ok {
		errs = append(errs, fmt.Errorf("asset %q is not declared in assets", c.Asset))
	}

	nets := make(map[domain.ChainID]bool, len(c.Networks))
	for _, n := range c.Networks {
		if nets[n.ChainID] {
			errs = append(errs, fmt.Errorf("network %d declared twice", n.ChainID))
		}
		nets[n.ChainID] = true
		if n.Custody == (common.Address{}) {
			errs = append(errs, fmt.Errorf("network %d: custody address is required", n.ChainID))
		}
	}
	if ok && !nets[asset.ChainID] {
		errs = append(errs, fmt.Errorf("asset %s: no network for chain %d", asset.Symbol, asset.ChainID))
	}

	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}
	return errors.Join(errs...)
}

// AssetInfo returns the declaration of the session asset.
func (c Config) AssetInfo() (domain.AssetInfo, bool) {
	for _, a := range c.Assets {
		if a.Symbol == c.Asset {
			return a, true
		}
	}
	return domain.AssetInfo{}, false
}

// Network returns the settlement chain with the given id.
func (c Config) Network(id domain.ChainID) (chain.Network, bool) {
	for _, n := range c.Networks {
		if n.ChainID == id {
			return n, true
		}
	}
	return chain.Network{}, false
}

// SessionConfig derives the controller parameters.
func (c Config) SessionConfig() session.Config {
	asset, _ := c.AssetInfo()
	return session.Config{
		Application:    c.Application,
		Scope:          c.Scope,
		SessionTTL:     c.SessionTTL,
		Allowances:     []rpc.Allowance{{Asset: string(asset.Symbol), Amount: c.Allowance}},
		Asset:          asset,
		Assets:         append([]domain.AssetInfo(nil), c.Assets...),
		Broker:         c.Broker,
		RequestTimeout: c.RequestTimeout,
		ConfirmTimeout: c.ConfirmTimeout,
		ConfirmPoll:    c.ConfirmPoll,
	}
}
