// Package storage defines persistence contracts for user service state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested user record is missing.
var ErrNotFound = errors.New("record not found")

// User stores one member profile row.
type User struct {
	ID        string
	Username  string
	Points    int
	Level     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Connection stores one owner-scoped directed connection edge.
type Connection struct {
	OwnerUserID string
	PeerUserID  string
	CreatedAt   time.Time
}

// ConnectionRequest stores one pending inbound connection request.
type ConnectionRequest struct {
	OwnerUserID     string
	RequesterUserID string
	CreatedAt       time.Time
}

// Follow stores one follower→followee edge.
type Follow struct {
	FollowerUserID string
	FolloweeUserID string
	CreatedAt      time.Time
}

// UserStore persists member profiles and their relationship edges.
type UserStore interface {
	PutUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID string) (User, error)
	SetPointsAndLevel(ctx context.Context, userID string, points int, level string, updatedAt time.Time) error

	AddConnection(ctx context.Context, connection Connection) error
	RemoveConnection(ctx context.Context, ownerUserID string, peerUserID string) error
	ListConnections(ctx context.Context, ownerUserID string) ([]string, error)

	AddConnectionRequest(ctx context.Context, request ConnectionRequest) error
	RemoveConnectionRequest(ctx context.Context, ownerUserID string, requesterUserID string) error
	ListConnectionRequests(ctx context.Context, ownerUserID string) ([]string, error)

	AddFollow(ctx context.Context, follow Follow) error
	RemoveFollow(ctx context.Context, followerUserID string, followeeUserID string) error
	ListFollowers(ctx context.Context, userID string) ([]string, error)
	ListFollowing(ctx context.Context, userID string) ([]string, error)
}
