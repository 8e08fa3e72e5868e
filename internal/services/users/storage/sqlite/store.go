// Package sqlite provides a SQLite-backed users storage implementation.
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
	"github.com/devorbit/devorbit/internal/services/users/storage"
	"github.com/devorbit/devorbit/internal/services/users/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists users state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite users store and applies embedded migrations.
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

// PutUser upserts one member profile row.
func (s *Store) PutUser(ctx context.Context, user storage.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (id, username, points, level, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   points = excluded.points,
		   level = excluded.level,
		   updated_at = excluded.updated_at`,
		userID,
		strings.TrimSpace(user.Username),
		user.Points,
		strings.TrimSpace(user.Level),
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser returns one member profile row.
func (s *Store) GetUser(ctx context.Context, userID string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.User{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, username, points, level, created_at, updated_at
		 FROM users
		 WHERE id = ?`,
		userID,
	)
	var user storage.User
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Points,
		&user.Level,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return user, nil
}

// SetPointsAndLevel updates one member's cumulative points and level tier.
func (s *Store) SetPointsAndLevel(ctx context.Context, userID string, points int, level string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	level = strings.TrimSpace(level)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if level == "" {
		return fmt.Errorf("level is required")
	}
	if points < 0 {
		return fmt.Errorf("points must be non-negative")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE users SET points = ?, level = ?, updated_at = ? WHERE id = ?`,
		points,
		level,
		toMillis(updatedAt),
		userID,
	)
	if err != nil {
		return fmt.Errorf("set points and level: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set points and level rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AddConnection upserts one owner-scoped directed connection edge.
func (s *Store) AddConnection(ctx context.Context, connection storage.Connection) error {
	return s.addEdge(ctx,
		`INSERT INTO user_connections (owner_user_id, peer_user_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(owner_user_id, peer_user_id) DO NOTHING`,
		"add connection",
		connection.OwnerUserID, connection.PeerUserID, connection.CreatedAt)
}

// RemoveConnection deletes one owner-scoped directed connection edge.
func (s *Store) RemoveConnection(ctx context.Context, ownerUserID string, peerUserID string) error {
	return s.removeEdge(ctx,
		`DELETE FROM user_connections WHERE owner_user_id = ? AND peer_user_id = ?`,
		"remove connection",
		ownerUserID, peerUserID)
}

// ListConnections returns the peer identities connected to one owner.
func (s *Store) ListConnections(ctx context.Context, ownerUserID string) ([]string, error) {
	return s.listEdges(ctx,
		`SELECT peer_user_id FROM user_connections WHERE owner_user_id = ? ORDER BY created_at ASC, peer_user_id ASC`,
		"list connections",
		ownerUserID)
}

// AddConnectionRequest upserts one pending inbound connection request.
func (s *Store) AddConnectionRequest(ctx context.Context, request storage.ConnectionRequest) error {
	return s.addEdge(ctx,
		`INSERT INTO user_connection_requests (owner_user_id, requester_user_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(owner_user_id, requester_user_id) DO NOTHING`,
		"add connection request",
		request.OwnerUserID, request.RequesterUserID, request.CreatedAt)
}

// RemoveConnectionRequest deletes one pending inbound connection request.
func (s *Store) RemoveConnectionRequest(ctx context.Context, ownerUserID string, requesterUserID string) error {
	return s.removeEdge(ctx,
		`DELETE FROM user_connection_requests WHERE owner_user_id = ? AND requester_user_id = ?`,
		"remove connection request",
		ownerUserID, requesterUserID)
}

// ListConnectionRequests returns requester identities pending on one owner.
func (s *Store) ListConnectionRequests(ctx context.Context, ownerUserID string) ([]string, error) {
	return s.listEdges(ctx,
		`SELECT requester_user_id FROM user_connection_requests WHERE owner_user_id = ? ORDER BY created_at ASC, requester_user_id ASC`,
		"list connection requests",
		ownerUserID)
}

// AddFollow upserts one follower→followee edge.
func (s *Store) AddFollow(ctx context.Context, follow storage.Follow) error {
	return s.addEdge(ctx,
		`INSERT INTO user_follows (follower_user_id, followee_user_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(follower_user_id, followee_user_id) DO NOTHING`,
		"add follow",
		follow.FollowerUserID, follow.FolloweeUserID, follow.CreatedAt)
}

// RemoveFollow deletes one follower→followee edge.
func (s *Store) RemoveFollow(ctx context.Context, followerUserID string, followeeUserID string) error {
	return s.removeEdge(ctx,
		`DELETE FROM user_follows WHERE follower_user_id = ? AND followee_user_id = ?`,
		"remove follow",
		followerUserID, followeeUserID)
}

// ListFollowers returns identities following one user.
func (s *Store) ListFollowers(ctx context.Context, userID string) ([]string, error) {
	return s.listEdges(ctx,
		`SELECT follower_user_id FROM user_follows WHERE followee_user_id = ? ORDER BY created_at ASC, follower_user_id ASC`,
		"list followers",
		userID)
}

// ListFollowing returns identities one user follows.
func (s *Store) ListFollowing(ctx context.Context, userID string) ([]string, error) {
	return s.listEdges(ctx,
		`SELECT followee_user_id FROM user_follows WHERE follower_user_id = ? ORDER BY created_at ASC, followee_user_id ASC`,
		"list following",
		userID)
}

func (s *Store) addEdge(ctx context.Context, query string, op string, left string, right string, createdAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	left = strings.TrimSpace(left)
	right = strings.TrimSpace(right)
	if left == "" || right == "" {
		return fmt.Errorf("%s: both user ids are required", op)
	}
	if left == right {
		return fmt.Errorf("%s: user ids must differ", op)
	}

	if _, err := s.sqlDB.ExecContext(ctx, query, left, right, toMillis(createdAt)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) removeEdge(ctx context.Context, query string, op string, left string, right string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	left = strings.TrimSpace(left)
	right = strings.TrimSpace(right)
	if left == "" || right == "" {
		return fmt.Errorf("%s: both user ids are required", op)
	}

	if _, err := s.sqlDB.ExecContext(ctx, query, left, right); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) listEdges(ctx context.Context, query string, op string, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%s: user id is required", op)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate rows: %w", op, err)
	}
	return ids, nil
}
