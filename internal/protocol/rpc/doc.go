// Package rpc implements the clearing-node RPC wire format.
//
// # Frames
//
// Every frame is a JSON object carrying one positional payload and a list of
// signatures:
//
//	{"req":[id,"method",{params},timestamp_ms],"sig":["0x..."]}
//	{"res":[id,"method",{params},timestamp_ms],"sig":["0x..."]}
//
// The signature over a request is produced by the sender over the JSON
// encoding of the payload array. Signing itself is delegated to a Signer so
// this package stays independent of key material.
//
// # Messages
//
// Parse maps a response payload onto a closed set of Message variants.
// Methods this package does not know decode to Unknown and are never an error.
//
// # Errors
//
// ErrMalformedFrame wraps every decoding failure of the envelope or payload.
// ParseConflict recognises the counterparty's "channel already exists" error
// and extracts the id of the existing channel.
package rpc
