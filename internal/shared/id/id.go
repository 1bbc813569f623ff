// Package id provides centralized ID generation for the gadget runtime.
//
// IDs are ULIDs with a type prefix:
//   - Lexicographic sortability: channel traffic and logs order by creation time
//   - Prefixed types: page_*, call_*, frame_* make logs readable
//   - Type safety: separate types prevent mixing page and call IDs
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// PageID identifies one execution context (a Page and its document)
type PageID string

// CallID correlates a channel request with its reply
type CallID string

// FrameID identifies an isolated gadget hosted for a remote parent
type FrameID string

const (
	PagePrefix  = "page"
	CallPrefix  = "call"
	FramePrefix = "frame"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic IDs.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

func NewPageID() PageID   { return PageID(Default().GenerateWithPrefix(PagePrefix)) }
func NewCallID() CallID   { return CallID(Default().GenerateWithPrefix(CallPrefix)) }
func NewFrameID() FrameID { return FrameID(Default().GenerateWithPrefix(FramePrefix)) }

func (id PageID) String() string  { return string(id) }
func (id CallID) String() string  { return string(id) }
func (id FrameID) String() string { return string(id) }

// IsValid reports whether s is a ULID, with or without a type prefix
func IsValid(s string) bool {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	_, err := ulid.Parse(s)
	return err == nil
}

// Timestamp extracts the creation time from a (possibly prefixed) ULID
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
