// Package identity manages creation, encryption and unlocking of the local wallet.
//
// It enforces passphrase policy, generates or imports a secp256k1 key, and
// persists it via the domain.WalletKeyStore. The unlocked wallet is the
// interactive signer the session asks once per connection.
package identity
