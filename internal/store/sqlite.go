// ABOUTME: SQLite-backed audit recorder using modernc.org/sqlite
// ABOUTME: Append-only session log with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder implements Recorder on a local SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRecorder opens (or creates) the audit database at path.
// Parent directories are created if needed.
func NewSQLiteRecorder(path string, logger *slog.Logger) (*SQLiteRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for concurrent readers while sessions append
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS session_audit (
			id TEXT PRIMARY KEY,
			identity TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			action TEXT NOT NULL,
			close_code INTEGER NOT NULL DEFAULT 0,
			detail TEXT,
			timestamp DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_audit_identity
			ON session_audit(identity, timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("audit store initialized", "path", path)
	return &SQLiteRecorder{db: db, logger: logger}, nil
}

// Record appends an entry. Generates ID and Timestamp if unset. Failures
// are logged, not returned: audit is diagnostics, not a gate on the
// connection path.
func (s *SQLiteRecorder) Record(ctx context.Context, e *AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			s.logger.Error("marshaling audit detail", "error", err)
		} else {
			str := string(data)
			detailJSON = &str
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_audit (id, identity, conversation_id, action, close_code, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Identity, e.ConversationID, string(e.Action), e.CloseCode, detailJSON, e.Timestamp)
	if err != nil {
		s.logger.Error("appending audit entry",
			"action", e.Action,
			"identity", e.Identity,
			"error", err)
	}
}

// List returns audit entries matching the filter, newest first.
func (s *SQLiteRecorder) List(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	query := "SELECT id, identity, conversation_id, action, close_code, detail, timestamp FROM session_audit WHERE 1=1"
	var args []any

	if filter.Identity != nil {
		query += " AND identity = ?"
		args = append(args, *filter.Identity)
	}
	if filter.Action != nil {
		query += " AND action = ?"
		args = append(args, string(*filter.Action))
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.Since)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var detailJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Identity, &e.ConversationID, &e.Action, &e.CloseCode, &detailJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if detailJSON.Valid {
			if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling audit detail: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteRecorder) Close() error {
	return s.db.Close()
}
