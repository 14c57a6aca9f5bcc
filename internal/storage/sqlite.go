// Package storage wraps a SQLite database holding conversations, messages,
// the audit log, and the failure ledger. Every query is bound to an explicit
// organization id so a shared connection can never mix tenants.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/threadline/threadline/internal/pipeline"
	"github.com/threadline/threadline/internal/reliability"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "threadline.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies any embedded SQL migrations that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// --- Conversations and messages ---

// SaveConversation inserts a conversation row.
func (s *Store) SaveConversation(ctx context.Context, c Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, organization_id, user_id, title, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.OrganizationID, c.UserID, c.Title, c.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// SaveMessage inserts a message row.
func (s *Store) SaveMessage(ctx context.Context, m Message) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if m.Status == "" {
		m.Status = MessageStatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, organization_id, role, content, metadata, response_group_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.OrganizationID, m.Role, m.Content,
		nullable(m.Metadata), nullable(m.ResponseGroupID), m.Status,
		m.CreatedAt.UTC().Format(time.RFC3339), m.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetMessage fetches one message scoped to an organization.
func (s *Store) GetMessage(ctx context.Context, id, organizationID string) (Message, error) {
	var m Message
	var metadata, groupID sql.NullString
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, organization_id, role, content, metadata, response_group_id, status, created_at, updated_at
		FROM messages WHERE id = ? AND organization_id = ?`,
		id, organizationID,
	).Scan(&m.ID, &m.ConversationID, &m.OrganizationID, &m.Role, &m.Content,
		&metadata, &groupID, &m.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Message{}, fmt.Errorf("message not found: %s", id)
	}
	if err != nil {
		return Message{}, err
	}
	m.Metadata = metadata.String
	m.ResponseGroupID = groupID.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return m, nil
}

// MessageCount returns the number of messages in a conversation, scoped to
// an organization.
func (s *Store) MessageCount(ctx context.Context, conversationID, organizationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND organization_id = ?",
		conversationID, organizationID,
	).Scan(&n)
	return n, err
}

// AuditCount returns the number of audit rows for an organization.
func (s *Store) AuditCount(ctx context.Context, organizationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_log WHERE organization_id = ?",
		organizationID,
	).Scan(&n)
	return n, err
}

// --- pipeline.ConversationStore ---

// ConversationOwner implements pipeline.ConversationStore.
func (s *Store) ConversationOwner(ctx context.Context, conversationID, organizationID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id FROM conversations WHERE id = ? AND organization_id = ?",
		conversationID, organizationID,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", pipeline.ErrConversationNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// CompleteInbound implements pipeline.ConversationStore. The three writes
// run in one transaction; the update is guarded by the organization id and
// the transaction rolls back unless exactly one original row matched.
func (s *Store) CompleteInbound(ctx context.Context, userID, organizationID string, c pipeline.Completion) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?`,
		MessageStatusCompleted, now, c.OriginalMessageID, organizationID,
	)
	if err != nil {
		return "", fmt.Errorf("completing original message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected != 1 {
		return "", fmt.Errorf("original message %s not found in organization %s", c.OriginalMessageID, organizationID)
	}

	newID := uuid.New().String()
	metadata := ""
	if c.Metadata != nil {
		raw, err := json.Marshal(c.Metadata)
		if err != nil {
			return "", fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = string(raw)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, organization_id, role, content, metadata, response_group_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newID, c.ConversationID, organizationID, RoleAssistant, c.Response,
		nullable(metadata), nullable(c.ResponseGroupID), MessageStatusCompleted, now, now,
	); err != nil {
		return "", fmt.Errorf("inserting response message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, organization_id, user_id, action, original_message_id, response_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), organizationID, userID, "message.completed",
		c.OriginalMessageID, newID, now,
	); err != nil {
		return "", fmt.Errorf("inserting audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}
	return newID, nil
}

// --- reliability.Ledger ---

// Append implements reliability.Ledger.
func (s *Store) Append(ctx context.Context, r reliability.FailureRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_messages (id, tenant_id, message_id, queue, payload, error, error_type, status, retry_count, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullable(r.TenantID), r.MessageID, r.Queue, r.Payload,
		r.Error, r.ErrorType, string(r.Status), r.RetryCount,
		r.ReceivedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Get implements reliability.Ledger.
func (s *Store) Get(ctx context.Context, id string) (*reliability.FailureRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, message_id, queue, payload, error, error_type, status, retry_count, received_at
		FROM failed_messages WHERE id = ?`, id)
	record, err := scanFailure(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("failure record not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// List implements reliability.Ledger. Results are ordered newest first.
func (s *Store) List(ctx context.Context, filter reliability.Filter) ([]reliability.FailureRecord, error) {
	query := `
		SELECT id, tenant_id, message_id, queue, payload, error, error_type, status, retry_count, received_at
		FROM failed_messages WHERE 1=1`
	var args []any
	if filter.Queue != "" {
		query += " AND queue = ?"
		args = append(args, filter.Queue)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY received_at DESC"
	if filter.MaxResults > 0 {
		query += " LIMIT ?"
		args = append(args, filter.MaxResults)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []reliability.FailureRecord
	for rows.Next() {
		record, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Delete implements reliability.Ledger.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM failed_messages WHERE id = ?", id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFailure(row scanner) (*reliability.FailureRecord, error) {
	var r reliability.FailureRecord
	var tenantID sql.NullString
	var status, receivedAt string
	if err := row.Scan(&r.ID, &tenantID, &r.MessageID, &r.Queue, &r.Payload,
		&r.Error, &r.ErrorType, &status, &r.RetryCount, &receivedAt); err != nil {
		return nil, err
	}
	r.TenantID = tenantID.String
	r.Status = reliability.FailureStatus(status)
	r.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)
	return &r, nil
}

// nullable maps "" to NULL so optional columns stay NULL instead of empty
// strings.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
