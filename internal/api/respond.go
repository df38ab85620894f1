package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
)

var errRequestFailed = errors.New("request failed")

type errorBody struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
	Op    string           `json:"op,omitempty"`
}

// statusFor maps a controller error onto an HTTP status. Local rejections
// are client errors; classified session errors come from upstream.
func statusFor(err error) int {
	var se *domain.Error
	switch {
	case errors.Is(err, domain.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoWallet),
		errors.Is(err, domain.ErrNotConnected),
		errors.Is(err, domain.ErrNoChannel):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientWalletFunds),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidRecipient),
		errors.Is(err, domain.ErrUnknownAsset):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var se *domain.Error
	if errors.As(err, &se) {
		body.Kind, body.Op = se.Kind, se.Op
	}
	if status >= http.StatusInternalServerError {
		nplog.FromContext(r.Context()).Warn().Err(err).Int("status", status).Msg("intent failed")
	}
	if status == http.StatusInternalServerError {
		body.Error = errRequestFailed.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
