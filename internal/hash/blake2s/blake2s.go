// Package blake2s provides the BLAKE2s content fingerprint used to detect
// byte-level page changes.
package blake2s

import (
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/blake2s"
)

// MaxRunes bounds how much of a page contributes to its fingerprint.
const MaxRunes = 200_000

// Hasher implements stock.Hasher using BLAKE2s-256.
type Hasher struct {
	maxRunes int
}

// New returns a hasher that fingerprints the first MaxRunes characters.
func New() *Hasher {
	return &Hasher{maxRunes: MaxRunes}
}

// Hash returns the hex digest of the leading characters of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum, err := blake2s.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init blake2s: %w", err)
	}
	if _, err := sum.Write(truncateRunes(data, h.maxRunes)); err != nil {
		return "", fmt.Errorf("write blake2s: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func truncateRunes(data []byte, limit int) []byte {
	if limit <= 0 || len(data) <= limit {
		return data
	}
	offset := 0
	for count := 0; count < limit && offset < len(data); count++ {
		_, size := utf8.DecodeRune(data[offset:])
		offset += size
	}
	return data[:offset]
}
