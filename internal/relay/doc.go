// Package relay provides the WebSocket implementation of domain.Transport
// used to reach the clearing node.
//
// A WSTransport is single-use: Open dials once, a read loop delivers every
// inbound text frame to the OnMessage handler, and the OnClose handler fires
// once if the connection drops while open. Close never triggers OnClose.
//
// Failures to dial, write or read surface as *TransportError so the caller can
// tell them apart from protocol errors. The transport does not reconnect;
// retry policy belongs to the caller. Outbound frames pass through a token
// bucket so a misbehaving caller cannot flood the counterparty.
package relay
