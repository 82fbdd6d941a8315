package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/easeaico/agora/internal/types"

	_ "modernc.org/sqlite"
)

// Journal is a learning-event log in a local SQLite file, used when no
// PostgreSQL database is configured.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS learning_events (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL,
		session_id TEXT,
		event_type TEXT NOT NULL,
		success_score REAL NOT NULL,
		context TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_learning_events_character ON learning_events(character_id, created_at);
	`
	if _, err := j.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

func (j *Journal) Append(ctx context.Context, ev types.LearningEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO learning_events (id, character_id, session_id, event_type, success_score, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CharacterID, ev.SessionID, string(ev.Kind), ev.Score, string(ev.Context), ev.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append learning event: %w", err)
	}
	return nil
}

// Events returns the journal of a character, oldest first.
func (j *Journal) Events(ctx context.Context, characterID string) ([]types.LearningEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, character_id, session_id, event_type, success_score, context, created_at
		FROM learning_events
		WHERE character_id = ?
		ORDER BY created_at ASC, rowid ASC`, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query learning events: %w", err)
	}
	defer rows.Close()

	var out []types.LearningEvent
	for rows.Next() {
		var ev types.LearningEvent
		var sessionID, payload sql.NullString
		var kind string
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.CharacterID, &sessionID, &kind, &ev.Score, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan learning event: %w", err)
		}
		ev.SessionID = sessionID.String
		ev.Kind = types.LearningKind(kind)
		if payload.Valid && payload.String != "" {
			ev.Context = json.RawMessage(payload.String)
		}
		ev.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read learning events: %w", err)
	}
	return out, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
