package id

import "github.com/google/uuid"

// RowIDPrefix marks identifiers minted locally for new rows
const RowIDPrefix = "uuid:"

// Generator provides identifiers for rows inserted without one.
type Generator interface {
	NextID() string
}

// UUIDGenerator mints "uuid:" prefixed random (version 4) identifiers.
// Safe for concurrent use.
type UUIDGenerator struct{}

// NewUUIDGenerator creates a new row ID generator
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// NextID generates a new row identifier
func (g *UUIDGenerator) NextID() string {
	return RowIDPrefix + uuid.NewString()
}

// SequenceGenerator returns a fixed list of identifiers in order, then
// falls back to random ones. Deterministic tests use it.
type SequenceGenerator struct {
	ids      chan string
	fallback UUIDGenerator
}

// NewSequenceGenerator creates a generator that yields ids first
func NewSequenceGenerator(ids ...string) *SequenceGenerator {
	ch := make(chan string, len(ids))
	for _, id := range ids {
		ch <- id
	}
	return &SequenceGenerator{ids: ch}
}

// NextID returns the next queued identifier
func (g *SequenceGenerator) NextID() string {
	select {
	case id := <-g.ids:
		return id
	default:
		return g.fallback.NextID()
	}
}
