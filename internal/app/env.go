package app

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"nitropay/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NITROPAY_"

type lookupFunc func(key string) (string, bool)

// applyEnv overrides c from NITROPAY_* variables. Empty values are ignored.
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup, applied: make(map[string]string)}
	defer func() { c.overrides = e.applied }()
	e.str("HOME", &c.Home)
	e.str("CLEARNODE_URL", &c.ClearnodeURL)
	e.str("APPLICATION", &c.Application)
	e.str("SCOPE", &c.Scope)
	e.duration("SESSION_TTL", &c.SessionTTL)
	e.decimal("ALLOWANCE", &c.Allowance)
	var asset string
	if e.str("ASSET", &asset) {
		c.Asset = domain.AssetSymbol(asset)
	}
	e.address("BROKER", &c.Broker)
	e.duration("REQUEST_TIMEOUT", &c.RequestTimeout)
	e.duration("CONFIRM_TIMEOUT", &c.ConfirmTimeout)
	e.duration("CONFIRM_POLL", &c.ConfirmPoll)
	e.float("SEND_RATE", &c.SendRate)
	e.str("API_LISTEN", &c.API.Listen)
	e.str("LOG_LEVEL", &c.LogLevel)

	var rpcURL string
	if e.str("RPC_URL", &rpcURL) {
		asset, ok := c.AssetInfo()
		if !ok {
			e.errs = append(e.errs, fmt.Errorf("%sRPC_URL: asset %q is not declared", EnvPrefix, c.Asset))
		}
		for i := range c.Networks {
			if ok && c.Networks[i].ChainID == asset.ChainID {
				c.Networks[i].RPCURL = rpcURL
			}
		}
	}
	return errors.Join(e.errs...)
}

type envReader struct {
	lookup  lookupFunc
	applied map[string]string
	errs    []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	e.applied[key] = v
	return v, true
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
}

func (e *envReader) str(key string, dst *string) bool {
	v, ok := e.get(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) decimal(key string, dst *decimal.Decimal) {
	if v, ok := e.get(key); ok {
		d, err := decimal.NewFromString(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) address(key string, dst *common.Address) {
	if v, ok := e.get(key); ok {
		if !common.IsHexAddress(v) {
			e.fail(key, fmt.Errorf("%q is not an address", v))
			return
		}
		*dst = common.HexToAddress(v)
	}
}

// EnvOverrides returns the NITROPAY_* variables Load applied, keyed without
// the prefix.
func (c Config) EnvOverrides() map[string]string {
	return maps.Clone(c.overrides)
}
