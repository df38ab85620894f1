package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nitropay/internal/domain"
	"nitropay/internal/metrics"
	"nitropay/internal/protocol/rpc"
)

var (
	// ErrTimeout is returned when no response arrives within the request timeout.
	ErrTimeout = errors.New("message: request timed out")
	// ErrUnexpectedResponse is returned when a response does not fit the request.
	ErrUnexpectedResponse = errors.New("message: unexpected response")
	// ErrSend wraps transport failures while sending a request.
	ErrSend = errors.New("message: send failed")
)

// DefaultTimeout bounds how long a request waits for its response.
const DefaultTimeout = 30 * time.Second

// Options configures a Correlator.
type Options struct {
	Timeout time.Duration
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
	// Now is the clock used for request timestamps; defaults to time.Now.
	Now func() time.Time
}

type result struct {
	msg rpc.Message
	err error
}

type pending struct {
	method   rpc.Method
	issuedAt time.Time
	done     chan result
}

// Correlator matches responses to requests over one transport.
type Correlator struct {
	transport domain.Transport
	timeout   time.Duration
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu          sync.Mutex
	nextID      uint64
	pending     map[uint64]*pending
	signer      rpc.Signer
	unsolicited func(rpc.Message)
	onProtocol  func(error)
	closedErr   error
}

// New returns a Correlator reading from t. It registers itself as t's message
// handler, so it must be built before t is opened.
func New(t domain.Transport, opts Options) *Correlator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	c := &Correlator{
		transport: t,
		timeout:   opts.Timeout,
		log:       l.With().Str("component", "correlator").Logger(),
		metrics:   opts.Metrics,
		now:       opts.Now,
		pending:   make(map[uint64]*pending),
	}
	t.OnMessage(c.Dispatch)
	return c
}

// SetSigner sets the signer used for requests that do not carry their own signature.
func (c *Correlator) SetSigner(s rpc.Signer) {
	c.mu.Lock()
	c.signer = s
	c.mu.Unlock()
}

// OnUnsolicited registers the handler for pushes.
func (c *Correlator) OnUnsolicited(h func(rpc.Message)) {
	c.mu.Lock()
	c.unsolicited = h
	c.mu.Unlock()
}

// OnProtocolError registers the handler for undecodable frames.
func (c *Correlator) OnProtocolError(h func(error)) {
	c.mu.Lock()
	c.onProtocol = h
	c.mu.Unlock()
}

// CallOption adjusts how one request is signed.
type CallOption func(*callConfig)

type callConfig struct {
	unsigned   bool
	signatures [][]byte
}

// Unsigned sends the request without any signature.
func Unsigned() CallOption {
	return func(c *callConfig) { c.unsigned = true }
}

// WithSignature attaches a precomputed signature instead of signing the payload.
func WithSignature(sig []byte) CallOption {
	return func(c *callConfig) { c.signatures = append(c.signatures, sig) }
}

// Call sends a request and waits for the matching response.
//
// A counterparty error response is returned as an rpc.ErrorResponse error.
// Once sent, a request cannot be withdrawn: cancelling ctx or timing out only
// stops waiting for it.
func (c *Correlator) Call(ctx context.Context, method rpc.Method, params any, opts ...CallOption) (rpc.Message, error) {
	var cfg callConfig
	for _, o := range opts {
		o(&cfg)
	}

	c.mu.Lock()
	if c.closedErr != nil {
		err := c.closedErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	signer := c.signer
	c.mu.Unlock()

	frame, err := rpc.NewRequest(id, method, params, c.now())
	if err != nil {
		return nil, err
	}
	switch {
	case len(cfg.signatures) > 0:
		for _, sig := range cfg.signatures {
			if err := frame.Sign(func([]byte) ([]byte, error) { return sig, nil }); err != nil {
				return nil, err
			}
		}
	case !cfg.unsigned && signer != nil:
		if err := frame.Sign(signer); err != nil {
			return nil, err
		}
	}
	raw, err := frame.Encode()
	if err != nil {
		return nil, err
	}

	p := &pending{method: method, issuedAt: time.Now(), done: make(chan result, 1)}
	c.mu.Lock()
	if c.closedErr != nil {
		err := c.closedErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = p
	n := len(c.pending)
	c.mu.Unlock()
	c.metrics.SetPending(n)

	if err := c.transport.Send(ctx, raw); err != nil {
		c.remove(id)
		c.metrics.Request(string(method), metrics.OutcomeSendError, 0)
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}
	c.log.Debug().Uint64("request_id", id).Str("method", string(method)).Msg("request sent")

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		took := time.Since(p.issuedAt)
		outcome := metrics.OutcomeOK
		if r.err != nil {
			outcome = metrics.OutcomeError
			if errors.Is(r.err, context.Canceled) || isClosed(r.err) {
				outcome = metrics.OutcomeCancelled
			}
		}
		c.metrics.Request(string(method), outcome, took)
		return r.msg, r.err
	case <-timer.C:
		c.remove(id)
		c.metrics.Request(string(method), metrics.OutcomeTimeout, 0)
		c.log.Warn().Uint64("request_id", id).Str("method", string(method)).
			Dur("timeout", c.timeout).Msg("request timed out")
		return nil, fmt.Errorf("%s: %w", method, ErrTimeout)
	case <-ctx.Done():
		c.remove(id)
		c.metrics.Request(string(method), metrics.OutcomeCancelled, 0)
		return nil, ctx.Err()
	}
}

func isClosed(err error) bool {
	var ce closedError
	return errors.As(err, &ce)
}

type closedError struct{ err error }

func (e closedError) Error() string { return e.err.Error() }
func (e closedError) Unwrap() error { return e.err }

func (c *Correlator) remove(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	n := len(c.pending)
	c.mu.Unlock()
	c.metrics.SetPending(n)
}

// Dispatch handles one inbound frame. It is safe to call concurrently with Call.
func (c *Correlator) Dispatch(data []byte) {
	frame, err := rpc.Decode(data)
	if err != nil {
		c.metrics.Anomaly(metrics.ReasonMalformed)
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("malformed frame")
		c.mu.Lock()
		h := c.onProtocol
		c.mu.Unlock()
		if h != nil {
			h(err)
		}
		return
	}
	if frame.Res == nil {
		c.metrics.Anomaly(metrics.ReasonUnknownKind)
		c.log.Debug().Str("method", string(frame.Req.Method)).Msg("ignoring inbound request")
		return
	}
	res := *frame.Res

	if solicited(res.Method) {
		c.mu.Lock()
		p, ok := c.pending[res.RequestID]
		if ok {
			delete(c.pending, res.RequestID)
		}
		n := len(c.pending)
		c.mu.Unlock()
		if ok {
			c.metrics.SetPending(n)
			p.done <- c.resolve(p, res)
			return
		}
	}

	msg, err := rpc.Parse(res)
	if err != nil {
		c.metrics.Anomaly(metrics.ReasonMalformed)
		c.log.Warn().Err(err).Str("method", string(res.Method)).Msg("malformed push")
		return
	}
	switch m := msg.(type) {
	case rpc.BalanceUpdate, rpc.ChannelUpdate, rpc.Assets:
		c.mu.Lock()
		h := c.unsolicited
		c.mu.Unlock()
		if h != nil {
			h(m)
		}
	case rpc.Unknown:
		c.metrics.Anomaly(metrics.ReasonUnknownKind)
		c.log.Debug().Str("method", string(m.Method)).Msg("ignoring unknown message kind")
	default:
		c.metrics.Anomaly(metrics.ReasonUnmatched)
		c.log.Warn().Uint64("request_id", res.RequestID).Str("method", string(res.Method)).
			Msg("unmatched response dropped")
	}
}

func (c *Correlator) resolve(p *pending, res rpc.Payload) result {
	msg, err := rpc.Parse(res)
	if err != nil {
		return result{err: err}
	}
	if e, ok := msg.(rpc.ErrorResponse); ok {
		return result{msg: msg, err: e}
	}
	if _, ok := msg.(rpc.Unknown); ok {
		return result{msg: msg, err: fmt.Errorf("%w: %s answered with %s", ErrUnexpectedResponse, p.method, res.Method)}
	}
	return result{msg: msg}
}

// solicited reports whether a method may answer a request. Balance and channel
// updates are always pushes, whatever id they carry.
func solicited(m rpc.Method) bool {
	return m != rpc.MethodBalanceUpdate && m != rpc.MethodChannelUpdate
}

// Reset fails every pending request with err and refuses new ones.
func (c *Correlator) Reset(err error) {
	c.mu.Lock()
	c.closedErr = closedError{err}
	drained := c.pending
	c.pending = make(map[uint64]*pending)
	c.mu.Unlock()
	c.metrics.SetPending(0)

	for _, p := range drained {
		p.done <- result{err: closedError{err}}
	}
}

// Pending returns the number of in-flight requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
