// Package metadatastore defines the durable key→record contract the
// Memory Manager depends on for persisting memory metadata and
// persona records, independent of any particular database.
package metadatastore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("metadatastore: not found")

// CustomMetadata is the free-form part of a metadata record.
type CustomMetadata struct {
	OriginalContent   string
	MemoryType        string
	Importance        float32
	ConversationID    uuid.UUID
	Speaker           string
	Timestamp         int64
	EmbeddingProvider string
	EmbeddingModel    string
	Context           map[string]interface{}
}

// Record is the bit-stable metadata record mirrored alongside every
// vector in the in-memory store.
type Record struct {
	ID             uuid.UUID
	Dimensions     uint
	PersonaID      uuid.UUID
	ContentType    string
	Source         string
	Tags           []string
	CreatedAt      int64
	CustomMetadata CustomMetadata
}

// SearchOptions constrains SearchVectorMetadata.
type SearchOptions struct {
	PersonaID uuid.UUID
	Limit     int
	Offset    int
}

// Persona is the durable persona record.
type Persona struct {
	ID                       uuid.UUID
	UserID                   string
	MaxMemorySize            int
	MemoryDecayTime          int64
	EmbeddingProvider        string
	EmbeddingModel           string
	MemoryRetrievalThreshold float32
	Active                   bool
	CreatedAt                int64
	UpdatedAt                int64
}

// Store is the external collaborator the core consumes for durable
// storage; implementations never need to understand vectors.
type Store interface {
	InsertVectorMetadata(ctx context.Context, record Record) error
	GetVectorMetadata(ctx context.Context, id uuid.UUID) (Record, error)
	DeleteVectorMetadata(ctx context.Context, id uuid.UUID) error
	SearchVectorMetadata(ctx context.Context, opts SearchOptions) ([]Record, error)

	InsertPersona(ctx context.Context, p Persona) error
	GetPersonaByID(ctx context.Context, id uuid.UUID) (Persona, error)
	ListPersonas(ctx context.Context, userID string, includeInactive bool) ([]Persona, error)
	UpdatePersona(ctx context.Context, p Persona) error
	DeletePersona(ctx context.Context, id uuid.UUID) error

	Close() error
}
