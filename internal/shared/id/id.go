// Package id provides centralized ID generation for the pseudo-kernel.
//
// Generation tokens exist so that a task identity is never just a PID: the
// kernel recycles PIDs, and a session slot comparing raw PIDs could hand a
// response to a newborn task that inherited its owner's number. Every task
// therefore carries a ULID generation token minted at registration, and
// identity comparison requires both to match.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Gen is a task generation token. Two tasks with the same PID never share
// a generation.
type Gen string

// RequestID identifies an API request.
type RequestID string

const (
	genPrefix     = "gen"
	requestPrefix = "req"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewGen mints a task generation token.
func NewGen() Gen {
	return Gen(Default().GenerateWithPrefix(genPrefix))
}

// NewRequestID generates a new API request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(requestPrefix))
}

// IsValid reports whether s is a well-formed ULID.
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Parse parses a ULID string.
func Parse(s string) (ulid.ULID, error) {
	return ulid.ParseStrict(s)
}

// ValidGen reports whether g is a well-formed generation token.
func ValidGen(g Gen) bool {
	s := string(g)
	if len(s) <= len(genPrefix)+1 || s[:len(genPrefix)+1] != genPrefix+"_" {
		return false
	}
	return IsValid(s[len(genPrefix)+1:])
}

// Timestamp extracts the embedded timestamp from a ULID string.
func Timestamp(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(u.Time())), nil
}
