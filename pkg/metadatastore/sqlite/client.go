// Package sqlite is a SQLite-backed reference MetadataStore,
// adapted from the teacher's pkg/storage/sqlite client: one
// collection-scoped database file, WAL mode, JSON columns for
// flexible fields.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"

	"github.com/ob-labs/personamem-go/pkg/metadatastore"
)

// Config configures a Client.
type Config struct {
	DBPath string
}

// Client is a SQLite-backed metadatastore.Store.
type Client struct {
	db *sql.DB
}

// NewClient opens (creating if needed) a SQLite database at
// cfg.DBPath and ensures the schema exists.
func NewClient(cfg Config) (*Client, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}
	dsn := cfg.DBPath + "?_foreign_keys=1&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite: ping: %w", err)
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
	created_at INTEGER,
	custom_metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_vector_metadata_persona ON vector_metadata(persona_id);

CREATE TABLE IF NOT EXISTS personas (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	max_memory_size INTEGER,
	memory_decay_time INTEGER,
	embedding_provider TEXT,
	embedding_model TEXT,
	memory_retrieval_threshold REAL,
	active INTEGER,
	created_at INTEGER,
	updated_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_personas_user ON personas(user_id);
`)
	if err != nil {
		return fmt.Errorf("sqlite: init tables: %w", err)
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID.String(), record.Dimensions, nullableUUID(record.PersonaID), record.ContentType,
		record.Source, string(tags), record.CreatedAt, string(custom))
	return err
}

// GetVectorMetadata fetches a record by ID.
func (c *Client) GetVectorMetadata(ctx context.Context, id uuid.UUID) (metadatastore.Record, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT id, dimensions, persona_id, content_type, source, tags, created_at, custom_metadata
FROM vector_metadata WHERE id = ?`, id.String())
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return metadatastore.Record{}, metadatastore.ErrNotFound
	}
	return rec, err
}

// DeleteVectorMetadata removes a record by ID.
func (c *Client) DeleteVectorMetadata(ctx context.Context, id uuid.UUID) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM vector_metadata WHERE id = ?`, id.String())
	return err
}

// SearchVectorMetadata lists records, optionally filtered by persona.
func (c *Client) SearchVectorMetadata(ctx context.Context, opts metadatastore.SearchOptions) ([]metadatastore.Record, error) {
	query := `SELECT id, dimensions, persona_id, content_type, source, tags, created_at, custom_metadata FROM vector_metadata`
	args := []interface{}{}
	if opts.PersonaID != uuid.Nil {
		query += ` WHERE persona_id = ?`
		args = append(args, opts.PersonaID.String())
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.UserID, p.MaxMemorySize, p.MemoryDecayTime, p.EmbeddingProvider, p.EmbeddingModel,
		p.MemoryRetrievalThreshold, boolToInt(p.Active), p.CreatedAt, p.UpdatedAt)
	return err
}

// GetPersonaByID fetches a persona by ID.
func (c *Client) GetPersonaByID(ctx context.Context, id uuid.UUID) (metadatastore.Persona, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT id, user_id, max_memory_size, memory_decay_time, embedding_provider, embedding_model, memory_retrieval_threshold, active, created_at, updated_at
FROM personas WHERE id = ?`, id.String())
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
FROM personas WHERE user_id = ?`
	if !includeInactive {
		query += ` AND active = 1`
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
UPDATE personas SET max_memory_size = ?, memory_decay_time = ?, embedding_provider = ?, embedding_model = ?,
	memory_retrieval_threshold = ?, active = ?, updated_at = ? WHERE id = ?`,
		p.MaxMemorySize, p.MemoryDecayTime, p.EmbeddingProvider, p.EmbeddingModel,
		p.MemoryRetrievalThreshold, boolToInt(p.Active), p.UpdatedAt, p.ID.String())
	return err
}

// DeletePersona soft-deletes by flipping active to false.
func (c *Client) DeletePersona(ctx context.Context, id uuid.UUID) error {
	_, err := c.db.ExecContext(ctx, `UPDATE personas SET active = 0 WHERE id = ?`, id.String())
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
		active                                         sql.NullInt64
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
		Active:                   active.Int64 != 0,
		CreatedAt:                createdAt.Int64,
		UpdatedAt:                updatedAt.Int64,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ metadatastore.Store = (*Client)(nil)
