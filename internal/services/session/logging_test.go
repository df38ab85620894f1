package session_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	nplog "nitropay/internal/log"
)

func TestIntentsLogThroughCallerContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, withPrefund(5))
	defer h.ctrl.Disconnect()

	var buf bytes.Buffer
	rl := nplog.New(nplog.Config{Level: "debug", Output: &buf}).With().Str(nplog.FieldRequestID, "req-1").Logger()
	ctx := nplog.IntoContext(context.Background(), rl)

	require.NoError(t, h.ctrl.Connect(ctx))
	h.openChannel()
	_, err := h.ctrl.Pay(ctx, pay(1))
	require.NoError(t, err)

	sid := h.ctrl.Snapshot().SessionID.String()
	require.NotEmpty(t, sid)
	var ops []string
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] != "intent accepted" {
			continue
		}
		assert.Equal(t, "req-1", entry[nplog.FieldRequestID])
		assert.Equal(t, sid, entry[nplog.FieldSessionID])
		assert.Equal(t, "session", entry[nplog.FieldComponent])
		ops = append(ops, entry["op"].(string))
	}
	assert.Equal(t, []string{"connect", "pay"}, ops)
}
