// Package session drives one payer from wallet connected to payment settled.
//
// A Controller owns the session key, the transport to the clearing node, the
// auth token and the channel. It moves through connect, authenticate, channel
// discovery or creation, optional deposit, pay and close, and publishes a
// Snapshot after every change. At most one intent runs at a time; a second
// one is refused with ErrBusy rather than queued.
//
// Errors are classified by kind. Transport, auth and protocol errors end the
// session and require a new Connect. Chain, payment and channel errors are
// local to the operation that raised them: the token, session key and channel
// survive so the caller can retry.
package session
