package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gologme/log"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailwatch/internal/model"
)

// DefaultNotificationRetention is how many log entries are kept when no
// other limit is set.
const DefaultNotificationRetention = 500

// SQLiteStore keeps the watermark and the notification log in a local
// SQLite database.
type SQLiteStore struct {
	db        *sqlx.DB
	log       *log.Logger
	retention int
}

var (
	_ Store           = (*SQLiteStore)(nil)
	_ NotificationLog = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: logger, retention: DefaultNotificationRetention}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// SetNotificationRetention caps the notification log at the newest n
// entries. n <= 0 restores the default.
func (s *SQLiteStore) SetNotificationRetention(n int) {
	if n <= 0 {
		n = DefaultNotificationRetention
	}
	s.retention = n
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Load returns the stored watermark. Query failures are logged as
// corrupt state and reported as absent.
func (s *SQLiteStore) Load(ctx context.Context) (string, bool) {
	var lastUID sql.NullString
	err := s.db.GetContext(ctx, &lastUID, "SELECT last_uid FROM watermark WHERE id = 1")
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warnf("%v: reading watermark: %v", ErrCorrupt, err)
		}
		return "", false
	}
	if !lastUID.Valid || lastUID.String == "" {
		return "", false
	}
	return lastUID.String, true
}

// Save upserts the single watermark row.
func (s *SQLiteStore) Save(ctx context.Context, watermark string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermark (id, last_uid, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_uid = excluded.last_uid,
			updated_at = excluded.updated_at`,
		watermark, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving watermark: %w", err)
	}
	return nil
}

// RecordNotification adds n to the log. Recording the same UID twice is
// a no-op.
func (s *SQLiteStore) RecordNotification(
	ctx context.Context, n model.Notification,
) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications (id, uid, subject, sender, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.UID, n.Subject, n.From, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording notification for UID %s: %w", n.UID, err)
	}

	// UIDs can be reused after the server resets UIDVALIDITY, so old
	// entries must not linger forever.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE rowid NOT IN (
			SELECT rowid FROM notifications ORDER BY rowid DESC LIMIT ?
		)`, s.retention)
	if err != nil {
		return fmt.Errorf("pruning notifications: %w", err)
	}
	return nil
}

// WasNotified reports whether uid is already in the log.
func (s *SQLiteStore) WasNotified(ctx context.Context, uid string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM notifications WHERE uid = ?", uid)
	if err != nil {
		return false, fmt.Errorf("checking notification for UID %s: %w", uid, err)
	}
	return count > 0, nil
}

// RecentNotifications returns up to limit entries, newest first.
func (s *SQLiteStore) RecentNotifications(
	ctx context.Context, limit int,
) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	var out []model.Notification
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, uid, subject, sender, created_at
		FROM notifications
		ORDER BY rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	return out, nil
}
