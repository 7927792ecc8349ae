package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"eino_counsel/pkg"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "modernc.org/sqlite"
)

const memorySchema = `
CREATE TABLE IF NOT EXISTS user_memory (
	user_id              TEXT PRIMARY KEY,
	relationship_context TEXT NOT NULL DEFAULT '{}',
	recurring_themes     TEXT NOT NULL DEFAULT '{}',
	emotional_patterns   TEXT NOT NULL DEFAULT '{}',
	progress_notes       TEXT NOT NULL DEFAULT '[]',
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL REFERENCES user_memory(user_id),
	action     TEXT NOT NULL CHECK (action IN ('UPDATE', 'CRISIS_ALERT')),
	details    TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_user ON memory_audit_log(user_id, id);
`

var tracer = otel.Tracer("eino_counsel/storage")

// MemoryStore persists user memory records and the audit log in SQLite.
// Every mutation and its audit row share one transaction.
type MemoryStore struct {
	db *sql.DB
}

// OpenMemoryStore opens (creating if needed) the database at path
func OpenMemoryStore(path string) (*MemoryStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(memorySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply memory schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

// Close closes the database
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// GetUserMemory returns the record for userID, or nil when none exists
func (s *MemoryStore) GetUserMemory(ctx context.Context, userID string) (*pkg.UserMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.get")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	row := s.db.QueryRowContext(ctx, `
		SELECT relationship_context, recurring_themes, emotional_patterns, progress_notes, created_at, updated_at
		FROM user_memory WHERE user_id = ?`, userID)

	var (
		relCtx, themes, patterns, notes string
		createdAt, updatedAt            int64
	)
	if err := row.Scan(&relCtx, &themes, &patterns, &notes, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load memory for %s: %w", userID, err)
	}

	mem := &pkg.UserMemory{
		UserID:    userID,
		CreatedAt: time.UnixMilli(createdAt).UTC(),
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}
	for _, f := range []struct {
		raw string
		dst any
	}{
		{relCtx, &mem.RelationshipContext},
		{themes, &mem.RecurringThemes},
		{patterns, &mem.EmotionalPatterns},
		{notes, &mem.ProgressNotes},
	} {
		if err := sonic.UnmarshalString(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("corrupt memory record for %s: %w", userID, err)
		}
	}
	return mem, nil
}

// ensureUser creates an empty record for userID inside tx if none exists
func ensureUser(ctx context.Context, tx *sql.Tx, userID string, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_memory (user_id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`, userID, now, now)
	if err != nil {
		return fmt.Errorf("failed to create memory record: %w", err)
	}
	return nil
}

// UpdateUserMemory applies delta and writes one UPDATE audit row in the same
// transaction. Map fields are replaced when present in the delta. A progress
// note is appended and the list is trimmed to the newest MaxProgressNotes.
// An empty delta writes nothing.
func (s *MemoryStore) UpdateUserMemory(ctx context.Context, userID string, delta pkg.MemoryDelta) (err error) {
	if delta.IsEmpty() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "memory.update")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("user_id", userID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin memory transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UnixMilli()
	if err = ensureUser(ctx, tx, userID, now); err != nil {
		return err
	}

	for _, f := range []struct {
		column string
		value  map[string]any
	}{
		{"relationship_context", delta.RelationshipContext},
		{"recurring_themes", delta.RecurringThemes},
		{"emotional_patterns", delta.EmotionalPatterns},
	} {
		if len(f.value) == 0 {
			continue
		}
		var encoded string
		encoded, err = sonic.MarshalString(f.value)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", f.column, err)
		}
		// column names come from the fixed list above
		if _, err = tx.ExecContext(ctx,
			"UPDATE user_memory SET "+f.column+" = ?, updated_at = ? WHERE user_id = ?",
			encoded, now, userID); err != nil {
			return fmt.Errorf("failed to update %s: %w", f.column, err)
		}
	}

	if delta.ProgressNote != "" {
		if err = appendProgressNote(ctx, tx, userID, delta.ProgressNote, now); err != nil {
			return err
		}
	}

	if err = insertAudit(ctx, tx, userID, pkg.AuditUpdate, map[string]any{"updated_fields": delta.UpdatedFields()}, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit memory update: %w", err)
	}
	return nil
}

func appendProgressNote(ctx context.Context, tx *sql.Tx, userID, note string, now int64) error {
	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT progress_notes FROM user_memory WHERE user_id = ?`, userID).Scan(&raw); err != nil {
		return fmt.Errorf("failed to read progress notes: %w", err)
	}

	var notes []string
	if err := sonic.UnmarshalString(raw, &notes); err != nil {
		return fmt.Errorf("corrupt progress notes: %w", err)
	}
	notes = append(notes, note)
	if len(notes) > pkg.MaxProgressNotes {
		notes = notes[len(notes)-pkg.MaxProgressNotes:]
	}

	encoded, err := sonic.MarshalString(notes)
	if err != nil {
		return fmt.Errorf("failed to encode progress notes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE user_memory SET progress_notes = ?, updated_at = ? WHERE user_id = ?`,
		encoded, now, userID); err != nil {
		return fmt.Errorf("failed to update progress notes: %w", err)
	}
	return nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, userID string, action pkg.AuditAction, details map[string]any, now int64) error {
	encoded, err := sonic.MarshalString(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_audit_log (user_id, action, details, created_at) VALUES (?, ?, ?, ?)`,
		userID, string(action), encoded, now); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// LogCrisisEvent appends a CRISIS_ALERT audit row, creating the user record
// first if needed
func (s *MemoryStore) LogCrisisEvent(ctx context.Context, userID, note string) (err error) {
	ctx, span := tracer.Start(ctx, "memory.crisis_event")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("user_id", userID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin crisis transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UnixMilli()
	if err = ensureUser(ctx, tx, userID, now); err != nil {
		return err
	}
	if err = insertAudit(ctx, tx, userID, pkg.AuditCrisisAlert, map[string]any{"note": note}, now); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit crisis event: %w", err)
	}
	return nil
}

// ListAudit returns up to limit audit entries for userID, newest first
func (s *MemoryStore) ListAudit(ctx context.Context, userID string, limit int) ([]pkg.AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, details, created_at FROM memory_audit_log
		WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []pkg.AuditEntry
	for rows.Next() {
		var (
			e         pkg.AuditEntry
			action    string
			details   string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &action, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.UserID = userID
		e.Action = pkg.AuditAction(action)
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := sonic.UnmarshalString(details, &e.Details); err != nil {
			return nil, fmt.Errorf("corrupt audit details %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
