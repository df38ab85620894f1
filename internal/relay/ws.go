package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"nitropay/internal/domain"
)

// ErrClosed is returned by operations on a transport that has been closed.
var ErrClosed = errors.New("relay: transport closed")

// TransportError is a connection-level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("relay: %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// Options tunes a WSTransport. Zero values select defaults.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	// SendRate caps outbound frames per second; zero means unlimited.
	SendRate  float64
	SendBurst int
	Header    http.Header
	Logger    *zerolog.Logger
}

// WSTransport is a gorilla/websocket client connection.
type WSTransport struct {
	url     string
	opts    Options
	log     zerolog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    *websocket.Conn
	opened  bool
	closed  bool
	onMsg   func([]byte)
	onClose func(error)

	writeMu  sync.Mutex
	readDone chan struct{}
}

// New returns an unopened transport for url.
func New(url string, opts Options) *WSTransport {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}
	burst := opts.SendBurst
	if burst <= 0 {
		burst = 1
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &WSTransport{
		url:     url,
		opts:    opts,
		log:     l.With().Str("component", "transport").Logger(),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Factory returns a domain.TransportFactory producing fresh transports for url.
func Factory(url string, opts Options) domain.TransportFactory {
	return func() domain.Transport { return New(url, opts) }
}

// OnMessage implements domain.Transport.
func (t *WSTransport) OnMessage(handler func([]byte)) {
	t.mu.Lock()
	t.onMsg = handler
	t.mu.Unlock()
}

// OnClose implements domain.Transport.
func (t *WSTransport) OnClose(handler func(error)) {
	t.mu.Lock()
	t.onClose = handler
	t.mu.Unlock()
}

// Open dials the clearing node and starts the read loop.
func (t *WSTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &TransportError{Op: "dial", Err: ErrClosed}
	}
	if t.opened {
		t.mu.Unlock()
		return &TransportError{Op: "dial", Err: errors.New("already open")}
	}
	t.opened = true
	t.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: t.opts.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, t.url, t.opts.Header)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(t.opts.ReadLimit)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return &TransportError{Op: "dial", Err: ErrClosed}
	}
	t.conn = conn
	t.readDone = make(chan struct{})
	t.mu.Unlock()

	t.log.Debug().Str("url", t.url).Msg("connected")
	go t.readLoop(conn, t.readDone)
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closing := t.closed
			handler := t.onClose
			t.closed = true
			t.mu.Unlock()
			_ = conn.Close()
			if closing {
				return
			}
			t.log.Warn().Err(err).Msg("connection dropped")
			if handler != nil {
				handler(&TransportError{Op: "read", Err: err})
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		t.mu.Lock()
		handler := t.onMsg
		t.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}
}

// Send writes one frame. It waits for the send limiter, honouring ctx.
func (t *WSTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if closed {
		return &TransportError{Op: "send", Err: ErrClosed}
	}
	if conn == nil {
		return &TransportError{Op: "send", Err: errors.New("not open")}
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline := time.Now().Add(t.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// Close sends a close frame, tears the connection down and waits for the read
// loop to exit. It must not be called from OnMessage; after a drop it returns
// immediately.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn, done := t.conn, t.readDone
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()
	_ = conn.Close()
	<-done
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

var _ domain.Transport = (*WSTransport)(nil)
