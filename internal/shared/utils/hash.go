package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256  HashAlgorithm = "sha256"
	BLAKE2b HashAlgorithm = "blake2b"
)

// Hasher fingerprints gadget sources so unchanged rewrites can be ignored
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{
		algorithm: algorithm,
	}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(BLAKE2b)
}

// Algorithm reports the configured algorithm
func (h *Hasher) Algorithm() HashAlgorithm { return h.algorithm }

// Hash computes a hash of the input data
func (h *Hasher) Hash(data []byte) string {
	switch h.algorithm {
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := blake2b.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// HashString computes a hash of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// HashFile streams the file at path through the hasher
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var w interface {
		io.Writer
		Sum([]byte) []byte
	}
	switch h.algorithm {
	case SHA256:
		w = sha256.New()
	default:
		b, err := blake2b.New256(nil)
		if err != nil {
			return "", err
		}
		w = b
	}

	if _, err := io.Copy(w, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(w.Sum(nil)), nil
}

// HashFields computes a hash from multiple fields.
// Fields are sorted and joined with a delimiter so order does not matter.
func (h *Hasher) HashFields(fields ...string) string {
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)

	return h.HashString(strings.Join(sorted, "|"))
}

// Short truncates a hash for display
func Short(hash string) string {
	if len(hash) < 8 {
		return hash
	}
	return hash[:8]
}
