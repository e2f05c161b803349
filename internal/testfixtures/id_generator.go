package testfixtures

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

var fixtureNamespace = uuid.MustParse("6f2d7e0a-1c1b-4f4e-9a57-3f1f0b8f2c11")

// IDGenerator yields name-based UUIDs so durable task references parse like
// production ids while staying predictable. The n-th id for a prefix is
// DeterministicID(prefix, n).
type IDGenerator struct {
	prefix string
	issued atomic.Uint64
}

// NewIDGenerator returns a generator for prefix, defaulting to "id".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

func (g *IDGenerator) Next() string {
	return DeterministicID(g.prefix, g.issued.Add(1))
}

// NextFunc returns g.Next, or uuid.NewString for a nil generator.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return uuid.NewString
	}
	return g.Next
}

// Issued reports how many ids were handed out.
func (g *IDGenerator) Issued() uint64 {
	return g.issued.Load()
}

// SetCounter rewinds or skips the sequence; the next id is n+1.
func (g *IDGenerator) SetCounter(n uint64) {
	g.issued.Store(n)
}

func DeterministicID(prefix string, n uint64) string {
	return uuid.NewSHA1(fixtureNamespace, fmt.Appendf(nil, "%s-%d", prefix, n)).String()
}
