// Package postgres is a PostgreSQL-backed reference MetadataStore,
// adapted from the teacher's pkg/storage/postgres client — minus the
// pgvector extension and vector column, since a metadata record never
// carries a vector (the HNSW index is the sole vector store).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/ob-labs/personamem-go/pkg/metadatastore"
)

// Config configures a Client.
type Config struct {
	DSN string
}

// Client is a PostgreSQL-backed metadatastore.Store.
type Client struct {
	db *sql.DB
}

// NewClient opens a connection and ensures the schema exists.
func NewClient(cfg Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	c := &Client{db: db}
	if err := c.initTables(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTables() error {
	_, err := c.db.Exec(`
CREATE TABLE IF NOT EXISTS vector_metadata (
	id TEXT PRIMARY KEY,
	dimensions INTEGER NOT NULL,
	persona_id TEXT,
	content_type TEXT,
	source TEXT,
	tags TEXT,
	created_at BIGINT,
	custom_metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_vector_metadata_persona ON vector_metadata(persona_id);

CREATE TABLE IF NOT EXISTS personas (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	max_memory_size INTEGER,
	memory_decay_time BIGINT,
	embedding_provider TEXT,
	embedding_model TEXT,
	memory_retrieval_threshold REAL,
	active BOOLEAN,
	created_at BIGINT,
	updated_at BIGINT
);
CREATE INDEX IF NOT EXISTS idx_personas_user ON personas(user_id);
`)
	if err != nil {
		return fmt.Errorf("postgres: init tables: %w", err)
	}
	return nil
}

// InsertVectorMetadata persists record.
func (c *Client) InsertVectorMetadata(ctx context.Context, record metadatastore.Record) error {
	tags, err := json.Marshal(record.Tags)
	if err != nil {
		return err
	}
	custom, err := json.Marshal(record.CustomMetadata)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
INSERT INTO vector_metadata (id, dimensions, persona_id, content_type, source, tags, created_at, custom_metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID.String(), record.Dimensions, nullableUUID(record.PersonaID), record.ContentType,
		record.Source, string(tags), record.CreatedAt, string(custom))
	return err
}

// GetVectorMetadata fetches a record by ID.
func (c *Client) GetVectorMetadata(ctx context.Context, id uuid.UUID) (metadatastore.Record, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT id, dimensions, persona_id, content_type, source, tags, created_at, custom_metadata
FROM vector_metadata WHERE id = $1`, id.String())
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return metadatastore.Record{}, metadatastore.ErrNotFound
	}
	return rec, err
}

// DeleteVectorMetadata removes a record by ID.
func (c *Client) DeleteVectorMetadata(ctx context.Context, id uuid.UUID) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM vector_metadata WHERE id = $1`, id.String())
	return err
}

// SearchVectorMetadata lists records, optionally filtered by persona.
func (c *Client) SearchVectorMetadata(ctx context.Context, opts metadatastore.SearchOptions) ([]metadatastore.Record, error) {
	query := `SELECT id, dimensions, persona_id, content_type, source, tags, created_at, custom_metadata FROM vector_metadata`
	args := []interface{}{}
	argIdx := 1
	if opts.PersonaID != uuid.Nil {
		query += fmt.Sprintf(` WHERE persona_id = $%d`, argIdx)
		args = append(args, opts.PersonaID.String())
		argIdx++
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metadatastore.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (metadatastore.Record, error) {
	var (
		id, personaID, tags, custom sql.NullString
		dimensions                  sql.NullInt64
		contentType, source         sql.NullString
		createdAt                   sql.NullInt64
	)
	if err := row.Scan(&id, &dimensions, &personaID, &contentType, &source, &tags, &createdAt, &custom); err != nil {
		return metadatastore.Record{}, err
	}
	rec := metadatastore.Record{
		Dimensions:  uint(dimensions.Int64),
		ContentType: contentType.String,
		Source:      source.String,
		CreatedAt:   createdAt.Int64,
	}
	parsed, err := uuid.Parse(id.String)
	if err != nil {
		return metadatastore.Record{}, err
	}
	rec.ID = parsed
	if personaID.String != "" {
		if pid, err := uuid.Parse(personaID.String); err == nil {
			rec.PersonaID = pid
		}
	}
	if tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &rec.Tags)
	}
	if custom.String != "" {
		_ = json.Unmarshal([]byte(custom.String), &rec.CustomMetadata)
	}
	return rec, nil
}

func nullableUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

// InsertPersona persists a new persona record.
func (c *Client) InsertPersona(ctx context.Context, p metadatastore.Persona) error {
	_, err := c.db.ExecContext(ctx, `
INSERT INTO personas (id, user_id, max_memory_size, memory_decay_time, embedding_provider, embedding_model, memory_retrieval_threshold, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID.String(), p.UserID, p.MaxMemorySize, p.MemoryDecayTime, p.EmbeddingProvider, p.EmbeddingModel,
		p.MemoryRetrievalThreshold, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetPersonaByID fetches a persona by ID.
func (c *Client) GetPersonaByID(ctx context.Context, id uuid.UUID) (metadatastore.Persona, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT id, user_id, max_memory_size, memory_decay_time, embedding_provider, embedding_model, memory_retrieval_threshold, active, created_at, updated_at
FROM personas WHERE id = $1`, id.String())
	p, err := scanPersona(row)
	if err == sql.ErrNoRows {
		return metadatastore.Persona{}, metadatastore.ErrNotFound
	}
	return p, err
}

// ListPersonas lists personas owned by userID.
func (c *Client) ListPersonas(ctx context.Context, userID string, includeInactive bool) ([]metadatastore.Persona, error) {
	query := `
SELECT id, user_id, max_memory_size, memory_decay_time, embedding_provider, embedding_model, memory_retrieval_threshold, active, created_at, updated_at
FROM personas WHERE user_id = $1`
	if !includeInactive {
		query += ` AND active = true`
	}
	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metadatastore.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePersona overwrites an existing persona record.
func (c *Client) UpdatePersona(ctx context.Context, p metadatastore.Persona) error {
	_, err := c.db.ExecContext(ctx, `
UPDATE personas SET max_memory_size = $1, memory_decay_time = $2, embedding_provider = $3, embedding_model = $4,
	memory_retrieval_threshold = $5, active = $6, updated_at = $7 WHERE id = $8`,
		p.MaxMemorySize, p.MemoryDecayTime, p.EmbeddingProvider, p.EmbeddingModel,
		p.MemoryRetrievalThreshold, p.Active, p.UpdatedAt, p.ID.String())
	return err
}

// DeletePersona soft-deletes by flipping active to false.
func (c *Client) DeletePersona(ctx context.Context, id uuid.UUID) error {
	_, err := c.db.ExecContext(ctx, `UPDATE personas SET active = false WHERE id = $1`, id.String())
	return err
}

// Close closes the underlying database handle.
func (c *Client) Close() error {
	return c.db.Close()
}

func scanPersona(row rowScanner) (metadatastore.Persona, error) {
	var (
		id, userID, embeddingProvider, embeddingModel sql.NullString
		maxMemorySize                                 sql.NullInt64
		memoryDecayTime                                sql.NullInt64
		threshold                                      sql.NullFloat64
		active                                         sql.NullBool
		createdAt, updatedAt                           sql.NullInt64
	)
	if err := row.Scan(&id, &userID, &maxMemorySize, &memoryDecayTime, &embeddingProvider, &embeddingModel,
		&threshold, &active, &createdAt, &updatedAt); err != nil {
		return metadatastore.Persona{}, err
	}
	parsed, err := uuid.Parse(id.String)
	if err != nil {
		return metadatastore.Persona{}, err
	}
	return metadatastore.Persona{
		ID:                       parsed,
		UserID:                   userID.String,
		MaxMemorySize:            int(maxMemorySize.Int64),
		MemoryDecayTime:          memoryDecayTime.Int64,
		EmbeddingProvider:        embeddingProvider.String,
		EmbeddingModel:           embeddingModel.String,
		MemoryRetrievalThreshold: float32(threshold.Float64),
		Active:                   active.Bool,
		CreatedAt:                createdAt.Int64,
		UpdatedAt:                updatedAt.Int64,
	}, nil
}

var _ metadatastore.Store = (*Client)(nil)
