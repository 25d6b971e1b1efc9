// Package checksum provides content hashing for media deduplication.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// fingerprintEdge is how many bytes from each end go into a Fingerprint.
const fingerprintEdge = 100

// Hasher implements ingest.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256 and returns the digest and byte count.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash reader: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Fingerprint is a cheap pre-check combining the size with the leading and
// trailing bytes. Equal fingerprints do not imply equal content.
func Fingerprint(data []byte) string {
	head := data
	if len(head) > fingerprintEdge {
		head = head[:fingerprintEdge]
	}
	tail := data
	if len(tail) > fingerprintEdge {
		tail = tail[len(tail)-fingerprintEdge:]
	}
	return fmt.Sprintf("%d:%s:%s", len(data), hex.EncodeToString(head), hex.EncodeToString(tail))
}
