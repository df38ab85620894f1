// Package chain implements the on-chain capabilities of a session against
// EVM JSON-RPC endpoints.
//
// Reads cover native and ERC-20 balances and transaction receipt status.
// Writes cover the custody contract calls a payer needs: deposit (with an
// ERC-20 approval when the allowance is short), channel create and channel
// close. Transactions are EIP-1559 dynamic-fee transactions signed with the
// wallet key. Confirmation waiting is left to the caller, which polls
// TransactionStatus with its own timeout.
package chain
