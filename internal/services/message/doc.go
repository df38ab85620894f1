// Package message correlates RPC requests with their responses.
//
// The Correlator owns the pending-request table. It allocates request ids,
// signs outbound frames with the session key, registers the pending entry
// before the frame is sent, and matches every inbound response back to
// exactly one pending entry. Frames that match nothing are routed:
//   - balance and channel pushes go to the unsolicited handler,
//   - unknown kinds are logged at debug level and dropped,
//   - unmatched responses (including late ones after a timeout) are logged as
//     anomalies and dropped.
//
// A frame that cannot be decoded at all is reported through the protocol
// error handler. Reset fails every pending request at once and is used on
// disconnect and transport loss.
package message
