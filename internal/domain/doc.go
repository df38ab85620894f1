// Package domain defines the payer session data model and the capability
// contracts shared across the app.
//
// It contains plain types (state, channels, balances, errors) in the types
// subpackage and contracts (transport, wallet, chain, controller) in the
// interfaces subpackage. This package re-exports both as aliases.
package domain
