// Package clearnodesim is an in-memory clearing node for development and
// integration tests.
//
// It speaks the same framed RPC as the production counterparty: the
// wallet-signed authentication handshake with issued tokens, channel
// discovery, creation and close with broker-signed states, ledger balances,
// transfers and balance pushes. Ledger credits for deposits and channel
// status changes come from an attached memchain, when one is configured.
package clearnodesim
