package clearnodesim

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"nitropay/internal/protocol/rpc"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 1 << 20
)

// ServeHTTP upgrades the request to a WebSocket and serves one client.
func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(wsReadLimit)

	if err := n.serve(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
			n.log.Debug().Err(err).Msg("connection ended")
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (n *Node) serve(ctx context.Context, ws *websocket.Conn) error {
	var writeMu sync.Mutex
	write := func(f rpc.Frame) {
		raw, err := f.Encode()
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		if err := ws.Write(wctx, websocket.MessageText, raw); err != nil {
			n.log.Debug().Err(err).Msg("write frame")
		}
	}

	c := n.Conn(write)
	defer c.Close()

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		req, err := rpc.Decode(data)
		if err != nil || req.Req == nil {
			write(n.fail(0, "invalid message format"))
			continue
		}
		for _, f := range c.Handle(req) {
			write(f)
		}
	}
}
