// Package relaytest provides an in-memory domain.Transport for tests.
//
// A Transport records every frame sent through it and answers requests with a
// caller-supplied Responder. Answers are delivered asynchronously, the way a
// real connection would, so a test exercises the same interleavings as
// production code.
package relaytest

import (
	"context"
	"errors"
	"sync"

	"nitropay/internal/domain"
	"nitropay/internal/protocol/rpc"
)

// Responder maps one request to the frames the counterparty sends back.
type Responder func(req rpc.Frame) []rpc.Frame

// Transport is a scripted transport.
type Transport struct {
	// OpenGate, when set, blocks Open until it is closed.
	OpenGate chan struct{}
	OpenErr  error
	SendErr  error
	Respond  Responder

	mu      sync.Mutex
	onMsg   func([]byte)
	onClose func(error)
	sent    []rpc.Frame
	opens   int
	open    bool
	closed  bool
	wg      sync.WaitGroup
}

// New returns a transport answering with respond (may be nil).
func New(respond Responder) *Transport {
	return &Transport{Respond: respond}
}

func (t *Transport) OnMessage(h func([]byte)) {
	t.mu.Lock()
	t.onMsg = h
	t.mu.Unlock()
}

func (t *Transport) OnClose(h func(error)) {
	t.mu.Lock()
	t.onClose = h
	t.mu.Unlock()
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	t.opens++
	gate := t.OpenGate
	t.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if t.OpenErr != nil {
		return t.OpenErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("relaytest: closed")
	}
	t.open = true
	return nil
}

func (t *Transport) Send(ctx context.Context, frame []byte) error {
	if t.SendErr != nil {
		return t.SendErr
	}
	f, err := rpc.Decode(frame)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if !t.open || t.closed {
		t.mu.Unlock()
		return errors.New("relaytest: not open")
	}
	t.sent = append(t.sent, f)
	respond := t.Respond
	t.mu.Unlock()

	if respond == nil {
		return nil
	}
	replies := respond(f)
	if len(replies) == 0 {
		return nil
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for _, r := range replies {
			raw, err := r.Encode()
			if err != nil {
				continue
			}
			t.Deliver(raw)
		}
	}()
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.open = false
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

// Deliver hands raw to the message handler as if it arrived from the network.
func (t *Transport) Deliver(raw []byte) {
	t.mu.Lock()
	h, closed := t.onMsg, t.closed
	t.mu.Unlock()
	if h != nil && !closed {
		h(raw)
	}
}

// DeliverFrame encodes and delivers f.
func (t *Transport) DeliverFrame(f rpc.Frame) {
	raw, err := f.Encode()
	if err != nil {
		panic(err)
	}
	t.Deliver(raw)
}

// Drop simulates the connection going away.
func (t *Transport) Drop(err error) {
	t.mu.Lock()
	h := t.onClose
	t.open = false
	t.closed = true
	t.mu.Unlock()
	if h != nil {
		h(err)
	}
}

// Sent returns the frames sent so far.
func (t *Transport) Sent() []rpc.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]rpc.Frame(nil), t.sent...)
}

// SentMethods returns the methods of the frames sent so far.
func (t *Transport) SentMethods() []rpc.Method {
	var out []rpc.Method
	for _, f := range t.Sent() {
		out = append(out, f.Req.Method)
	}
	return out
}

// Opens reports how many times Open was called.
func (t *Transport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

// Closed reports whether Close or Drop was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Factory hands out transports built by Make and remembers them.
type Factory struct {
	Make func() *Transport

	mu   sync.Mutex
	made []*Transport
}

// New implements domain.TransportFactory.
func (f *Factory) New() domain.Transport {
	t := f.Make()
	f.mu.Lock()
	f.made = append(f.made, t)
	f.mu.Unlock()
	return t
}

// Made returns every transport handed out.
func (f *Factory) Made() []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Transport(nil), f.made...)
}

// Last returns the most recent transport, or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.made) == 0 {
		return nil
	}
	return f.made[len(f.made)-1]
}

var _ domain.Transport = (*Transport)(nil)
