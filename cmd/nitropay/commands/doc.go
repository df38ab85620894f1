// Package commands defines the nitropay CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init            Create (or import) the local development wallet
//   - address         Print the wallet address and fingerprint
//   - connect         Authenticate a session and print its snapshot
//   - channel open    Adopt or create the payment channel
//   - channel close   Finalise the payment channel on-chain
//   - deposit         Move wallet funds into the ledger
//   - pay             Transfer ledger funds to a recipient
//   - balances        Print ledger and wallet balances
//   - serve           Run the HTTP API over one long-lived session
//
// # Implementation
//
// The root command loads the configuration and builds the process-wide
// dependency graph before any subcommand runs. Session commands unlock the
// wallet, connect, run their intent and disconnect again; only serve keeps a
// session open.
package commands
