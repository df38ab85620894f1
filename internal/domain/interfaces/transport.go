package interfaces

import "context"

// Transport is a persistent duplex connection to the clearing node carrying
// opaque signed frames. It does not retry; retry policy belongs to the caller.
type Transport interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, frame []byte) error
	// OnMessage registers the inbound frame handler. Must be set before Open.
	OnMessage(handler func(frame []byte))
	// OnClose registers a handler called once when the connection drops
	// without Close having been called.
	OnClose(handler func(err error))
	Close() error
}

// TransportFactory returns a fresh, unopened transport.
type TransportFactory func() Transport
