package engine

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator generates transaction tokens for log correlation.
// Implemented by UUIDv7Generator (production) and FixedGenerator
// (tests). Tokens never participate in ordering - that is the queue
// sequence's job.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, which makes
// tokens sort by creation time in log output and trace viewers.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined tokens for deterministic tests
// and golden-file comparison.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
// Once the supplied tokens run out it falls back to "token-N".
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		g.idx++
		return "token-" + strconv.Itoa(g.idx)
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
