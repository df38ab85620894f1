package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
)

// Fingerprint returns a short hex fingerprint of an address.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(addr common.Address) string {
	sum := sha256.Sum256(addr.Bytes())
	return hex.EncodeToString(sum[:10])
}
