package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nitropay/internal/api"
	nplog "nitropay/internal/log"
)

func TestFailedIntentLogsCarryRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := nplog.New(nplog.Config{Level: "debug", Output: &buf})
	s := &fakeSession{err: errors.New("boom")}

	rec := serve(t, api.Config{Session: s, Logger: &l}, http.MethodPost, "/v1/session/connect", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	byMessage := map[string]map[string]any{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		byMessage[entry["message"].(string)] = entry
	}
	failed, ok := byMessage["intent failed"]
	require.True(t, ok, buf.String())
	access, ok := byMessage["http request"]
	require.True(t, ok, buf.String())

	assert.NotEmpty(t, failed[nplog.FieldRequestID])
	assert.Equal(t, failed[nplog.FieldRequestID], access[nplog.FieldRequestID])
	assert.Equal(t, "api", failed[nplog.FieldComponent])
	assert.EqualValues(t, http.StatusInternalServerError, failed["status"])
}
