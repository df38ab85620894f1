// Package store provides file-based persistence for the local wallet key.
//
// The session itself owns no persistent state; the only thing written to disk
// is the development wallet used by the CLI. The key is sealed with
// ChaCha20-Poly1305 under a scrypt-derived key and written atomically (temp
// file then rename). The wallet address is kept in clear next to the
// ciphertext so it can be shown without the passphrase. All methods are
// concurrency-safe via internal locking.
package store
