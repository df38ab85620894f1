package session

import (
	"errors"

	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
	"nitropay/internal/protocol/rpc"
	"nitropay/internal/services/message"
)

// classify maps a request failure onto the error taxonomy. local is the kind
// an explicit refusal by the counterparty gets for the operation at hand.
func classify(err error, local domain.ErrorKind) domain.ErrorKind {
	var refusal rpc.ErrorResponse
	switch {
	case errors.As(err, &refusal):
		return local
	case errors.Is(err, domain.ErrSessionClosed), errors.Is(err, message.ErrSend):
		return domain.KindTransport
	case errors.Is(err, rpc.ErrMalformedFrame), errors.Is(err, message.ErrUnexpectedResponse):
		return domain.KindProtocol
	default:
		// Timeouts and cancellation only stop the wait; the session survives.
		return local
	}
}

// fail records err against incarnation gen and returns it classified. Session
// fatal kinds tear the connection down. A stale gen only returns the error.
func (c *Controller) fail(gen uint64, kind domain.ErrorKind, op string, err error) error {
	e := domain.NewError(kind, op, err)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return e
	}
	c.log.Warn().Err(err).Str(nplog.FieldErrorKind, kind.String()).Str("op", op).Msg("operation failed")
	if !kind.SessionFatal() {
		c.errInfo = e.Info()
		c.transitionLocked(domain.StateError)
		c.mu.Unlock()
		return e
	}
	t := c.transport
	corr := c.detachLocked(e, kind == domain.KindAuth)
	c.mu.Unlock()

	if corr != nil {
		corr.Reset(domain.ErrSessionClosed)
	}
	if t != nil {
		go func() {
			if err := t.Close(); err != nil {
				c.base.Debug().Err(err).Msg("close transport")
			}
		}()
	}
	return e
}

// detachLocked ends the current incarnation after a fatal error. The caller
// resets the returned correlator once the lock is released.
func (c *Controller) detachLocked(e *domain.Error, forgetAuth bool) *message.Correlator {
	corr := c.corr
	c.gen++
	if c.opCancel != nil {
		c.opCancel()
	}
	c.transport, c.corr = nil, nil
	c.opCtx, c.opCancel = nil, nil
	c.authed, c.busy = false, false
	if forgetAuth {
		c.token, c.tokenExp = "", nil
		if c.key != nil {
			c.key.Destroy()
			c.key = nil
		}
	}
	c.errInfo = e.Info()
	c.transitionLocked(domain.StateError)
	return corr
}
