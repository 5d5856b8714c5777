package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/adalundhe/engram/core/episode"
	engerrors "github.com/adalundhe/engram/core/errors"
)

const (
	// DefaultStorePath is the default location for the SQLite database
	DefaultStorePath = ".engram/episodes.db"

	schemaVersion = 1
)

// SQLiteStore is the durable store backed by SQLite. Referential integrity
// between episodes and relationship edges is enforced in the schema: edges
// cascade on endpoint deletion.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// SQLiteConfig configures the durable store.
type SQLiteConfig struct {
	Path string // Path to SQLite database file
}

// NewSQLiteStore opens (creating if necessary) the episode database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultStorePath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// Pragmas ride on the DSN so every pooled connection gets them:
	// database/sql opens additional connections under concurrency, and a
	// plain db.Exec("PRAGMA ...") would configure only one of them. WAL
	// allows concurrent readers during writes; foreign keys drive the
	// relationship cascade on episode deletion.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open episode database: %w", err)
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_meta (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		task_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		context TEXT,
		start_time TEXT NOT NULL,
		end_time TEXT,
		outcome TEXT NOT NULL DEFAULT 'unknown',
		reward REAL NOT NULL DEFAULT 0,
		embedding BLOB,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_episodes_domain ON episodes(domain);
	CREATE INDEX IF NOT EXISTS idx_episodes_task_type ON episodes(task_type);
	CREATE INDEX IF NOT EXISTS idx_episodes_start_time ON episodes(start_time);

	CREATE TABLE IF NOT EXISTS relationships (
		from_id TEXT NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
		to_id TEXT NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
		rel_type TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, rel_type)
	);

	CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_meta").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err := s.db.Exec("INSERT INTO schema_meta (version) VALUES (?)", schemaVersion)
		return err
	}
	return nil
}

// Write persists an episode, replacing any existing row.
func (s *SQLiteStore) Write(ctx context.Context, ep *episode.Episode) error {
	if err := ep.Validate(); err != nil {
		return engerrors.New(engerrors.TierLogic, "storage.write", err)
	}

	contextJSON, err := marshalMap(ep.Context)
	if err != nil {
		return engerrors.New(engerrors.TierLogic, "storage.write", err)
	}
	metadataJSON, err := marshalMap(ep.Metadata)
	if err != nil {
		return engerrors.New(engerrors.TierLogic, "storage.write", err)
	}

	var endTime any
	if !ep.EndTime.IsZero() {
		endTime = ep.EndTime.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO episodes
			(id, domain, task_type, description, context, start_time, end_time, outcome, reward, embedding, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ep.ID.String(), ep.Domain, ep.TaskType, ep.Description, contextJSON,
		ep.StartTime.UTC().Format(time.RFC3339Nano), endTime,
		string(ep.Outcome), ep.Reward, encodeEmbedding(ep.Embedding), metadataJSON,
	)
	if err != nil {
		return engerrors.Newf(engerrors.TierTransient, "storage.write", "failed to write episode %s: %w", ep.ID, err)
	}
	return nil
}

// Read loads a single episode.
func (s *SQLiteStore) Read(ctx context.Context, id uuid.UUID) (*episode.Episode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, task_type, description, context, start_time, end_time, outcome, reward, embedding, metadata
		FROM episodes WHERE id = ?
	`, id.String())

	ep, err := scanEpisode(row.Scan)
	if err == sql.ErrNoRows {
		return nil, engerrors.New(engerrors.TierLogic, "storage.read", engerrors.ErrNotFound)
	}
	if err != nil {
		return nil, engerrors.Newf(engerrors.TierTransient, "storage.read", "failed to read episode %s: %w", id, err)
	}
	return ep, nil
}

// Delete removes an episode; relationship edges cascade via foreign keys.
func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM episodes WHERE id = ?", id.String())
	if err != nil {
		return engerrors.Newf(engerrors.TierTransient, "storage.delete", "failed to delete episode %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return engerrors.New(engerrors.TierTransient, "storage.delete", err)
	}
	if affected == 0 {
		return engerrors.New(engerrors.TierLogic, "storage.delete", engerrors.ErrNotFound)
	}
	return nil
}

// ScanAll streams every episode in ID order. Each call is an independent,
// restartable scan.
func (s *SQLiteStore) ScanAll(ctx context.Context, fn func(*episode.Episode) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, task_type, description, context, start_time, end_time, outcome, reward, embedding, metadata
		FROM episodes ORDER BY id
	`)
	if err != nil {
		return engerrors.New(engerrors.TierTransient, "storage.scan", err)
	}
	defer rows.Close()

	for rows.Next() {
		ep, err := scanEpisode(rows.Scan)
		if err != nil {
			return engerrors.New(engerrors.TierTransient, "storage.scan", err)
		}
		if err := fn(ep); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return engerrors.New(engerrors.TierTransient, "storage.scan", err)
	}
	return nil
}

// WriteRelationship persists an edge. Foreign keys reject edges whose
// endpoints do not exist.
func (s *SQLiteStore) WriteRelationship(ctx context.Context, rel *episode.Relationship) error {
	if err := rel.Validate(); err != nil {
		return engerrors.New(engerrors.TierLogic, "storage.relate", err)
	}

	metadataJSON, err := marshalMap(rel.Metadata)
	if err != nil {
		return engerrors.New(engerrors.TierLogic, "storage.relate", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO relationships (from_id, to_id, rel_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		rel.From.String(), rel.To.String(), string(rel.Type),
		metadataJSON, rel.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return engerrors.Newf(engerrors.TierTransient, "storage.relate",
			"failed to write relationship %s -> %s (%s): %w", rel.From, rel.To, rel.Type, err)
	}
	return nil
}

// Relationships returns all edges touching the episode, in either direction,
// ordered for determinism.
func (s *SQLiteStore) Relationships(ctx context.Context, id uuid.UUID) ([]*episode.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_id, to_id, rel_type, metadata, created_at
		FROM relationships WHERE from_id = ? OR to_id = ?
		ORDER BY from_id, to_id, rel_type
	`, id.String(), id.String())
	if err != nil {
		return nil, engerrors.New(engerrors.TierTransient, "storage.relationships", err)
	}
	defer rows.Close()

	var rels []*episode.Relationship
	for rows.Next() {
		var fromStr, toStr, relType, createdAt string
		var metadataJSON sql.NullString
		if err := rows.Scan(&fromStr, &toStr, &relType, &metadataJSON, &createdAt); err != nil {
			return nil, engerrors.New(engerrors.TierTransient, "storage.relationships", err)
		}

		rel := &episode.Relationship{Type: episode.RelationType(relType)}
		if rel.From, err = uuid.Parse(fromStr); err != nil {
			return nil, engerrors.New(engerrors.TierTransient, "storage.relationships", err)
		}
		if rel.To, err = uuid.Parse(toStr); err != nil {
			return nil, engerrors.New(engerrors.TierTransient, "storage.relationships", err)
		}
		if rel.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, engerrors.New(engerrors.TierTransient, "storage.relationships", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rel.Metadata); err != nil {
				return nil, engerrors.New(engerrors.TierTransient, "storage.relationships", err)
			}
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// DeleteRelationship removes one edge. Absent edges are a no-op.
func (s *SQLiteStore) DeleteRelationship(ctx context.Context, from, to uuid.UUID, relType episode.RelationType) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM relationships WHERE from_id = ? AND to_id = ? AND rel_type = ?",
		from.String(), to.String(), string(relType),
	)
	if err != nil {
		return engerrors.New(engerrors.TierTransient, "storage.unrelate", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row codecs
// =============================================================================

func scanEpisode(scan func(...any) error) (*episode.Episode, error) {
	var (
		idStr, domain, taskType, description, startTime, outcome string
		contextJSON, endTime, metadataJSON                       sql.NullString
		reward                                                   float64
		embeddingBlob                                            []byte
	)

	err := scan(&idStr, &domain, &taskType, &description, &contextJSON,
		&startTime, &endTime, &outcome, &reward, &embeddingBlob, &metadataJSON)
	if err != nil {
		return nil, err
	}

	ep := &episode.Episode{
		Domain:      domain,
		TaskType:    taskType,
		Description: description,
		Outcome:     episode.Outcome(outcome),
		Reward:      reward,
		Embedding:   decodeEmbedding(embeddingBlob),
	}

	if ep.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("corrupt episode id %q: %w", idStr, err)
	}
	if ep.StartTime, err = time.Parse(time.RFC3339Nano, startTime); err != nil {
		return nil, fmt.Errorf("corrupt start time for %s: %w", idStr, err)
	}
	if endTime.Valid {
		if ep.EndTime, err = time.Parse(time.RFC3339Nano, endTime.String); err != nil {
			return nil, fmt.Errorf("corrupt end time for %s: %w", idStr, err)
		}
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &ep.Context); err != nil {
			return nil, fmt.Errorf("corrupt context for %s: %w", idStr, err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &ep.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for %s: %w", idStr, err)
		}
	}

	return ep, nil
}

func marshalMap(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// encodeEmbedding packs float32s little-endian. Nil vectors stay nil.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
