// Package graphextract defines the GraphExtractor interface the core
// consumes to turn memory text into entities and relationships for the
// per-persona knowledge graph. Extractors are external collaborators,
// not part of the core's graph storage or traversal logic.
package graphextract

import (
	"context"
	"errors"
)

var (
	ErrProviderUnavailable = errors.New("graphextract: provider unavailable")
	ErrInvalidConfig       = errors.New("graphextract: invalid config")
)

// Context carries the scope an extraction runs under.
type Context struct {
	PersonaID string
	MemoryID  string
}

// ExtractedEntity is one entity mention surfaced by an extractor.
type ExtractedEntity struct {
	Name       string
	Type       string
	Confidence float64
}

// ExtractedRelationship is one directed triple surfaced by an extractor.
type ExtractedRelationship struct {
	Source   string
	Target   string
	Type     string
	Strength float64
}

// Result is everything extracted from one piece of text.
type Result struct {
	Entities      []ExtractedEntity
	Relationships []ExtractedRelationship
}

// Extractor maps free text to entities and relationships.
type Extractor interface {
	Extract(ctx context.Context, text string, extractCtx Context) (Result, error)
	Close() error
}
