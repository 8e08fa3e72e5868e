// Package sqlite provides a SQLite-backed messages storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/devorbit/devorbit/internal/platform/storage/sqlitemigrate"
	"github.com/devorbit/devorbit/internal/services/messages/storage"
	"github.com/devorbit/devorbit/internal/services/messages/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists chat messages in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite messages store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutMessage inserts one chat message row.
func (s *Store) PutMessage(ctx context.Context, message storage.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	messageID := strings.TrimSpace(message.ID)
	senderUserID := strings.TrimSpace(message.SenderUserID)
	receiverUserID := strings.TrimSpace(message.ReceiverUserID)
	if messageID == "" {
		return fmt.Errorf("message id is required")
	}
	if senderUserID == "" {
		return fmt.Errorf("sender user id is required")
	}
	if receiverUserID == "" {
		return fmt.Errorf("receiver user id is required")
	}
	if message.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}

	read := 0
	if message.Read {
		read = 1
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO messages (id, sender_user_id, receiver_user_id, body, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		messageID,
		senderUserID,
		receiverUserID,
		message.Body,
		read,
		toMillis(message.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

// GetMessage returns one chat message row by identifier.
func (s *Store) GetMessage(ctx context.Context, messageID string) (storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return storage.Message{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Message{}, fmt.Errorf("storage is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return storage.Message{}, fmt.Errorf("message id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, sender_user_id, receiver_user_id, body, read, created_at
		 FROM messages
		 WHERE id = ?`,
		messageID,
	)
	message, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Message{}, storage.ErrNotFound
		}
		return storage.Message{}, fmt.Errorf("get message: %w", err)
	}
	return message, nil
}

// ListConversation returns messages between two members, oldest first.
func (s *Store) ListConversation(ctx context.Context, userA string, userB string, limit int) ([]storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("both participant user ids are required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, sender_user_id, receiver_user_id, body, read, created_at
		 FROM messages
		 WHERE (sender_user_id = ? AND receiver_user_id = ?)
		    OR (sender_user_id = ? AND receiver_user_id = ?)
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		userA, userB, userB, userA, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	messages := make([]storage.Message, 0, limit)
	for rows.Next() {
		message, scanErr := scanMessage(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan conversation row: %w", scanErr)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return messages, nil
}

// MarkConversationRead marks all unread messages from one sender to one
// receiver as read and returns the affected row count.
func (s *Store) MarkConversationRead(ctx context.Context, receiverUserID string, senderUserID string, readAt time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	receiverUserID = strings.TrimSpace(receiverUserID)
	senderUserID = strings.TrimSpace(senderUserID)
	if receiverUserID == "" || senderUserID == "" {
		return 0, fmt.Errorf("both participant user ids are required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE messages SET read = 1, read_at = ?
		 WHERE receiver_user_id = ? AND sender_user_id = ? AND read = 0`,
		toMillis(readAt), receiverUserID, senderUserID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark conversation read rows affected: %w", err)
	}
	return int(affected), nil
}

type scanner func(dest ...any) error

func scanMessage(scan scanner) (storage.Message, error) {
	var message storage.Message
	var read int
	var createdAt int64
	if err := scan(
		&message.ID,
		&message.SenderUserID,
		&message.ReceiverUserID,
		&message.Body,
		&read,
		&createdAt,
	); err != nil {
		return storage.Message{}, err
	}
	message.Read = read != 0
	message.CreatedAt = fromMillis(createdAt)
	return message, nil
}
