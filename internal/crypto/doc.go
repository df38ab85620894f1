// Package crypto exposes the key primitives used by nitropay.
//
// Contents
//
//   - Ephemeral secp256k1 session keys (NewSessionKey, SessionKey.Destroy)
//   - A local wallet key that signs EIP-712 typed data (NewLocalWallet)
//   - Signer recovery for 65-byte Ethereum signatures (Recover, RecoverPayload)
//   - Best-effort memory wiping for sensitive material (Wipe, WipeKey)
//   - Short fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Signatures are [R || S || V] with V in {27, 28}, the form wallets return
// from eth_signTypedData_v4. Payload signatures cover keccak256(payload)
// without a message prefix.
package crypto
