// Package domain implements member profile and relationship use-cases.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/devorbit/devorbit/internal/services/users/storage"
)

var (
	// ErrNotFound indicates a user record was not found.
	ErrNotFound = errors.New("user not found")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("user store is not configured")
	// ErrUserIDRequired indicates a user identity is required.
	ErrUserIDRequired = errors.New("user id is required")
	// ErrSameUser indicates an operation referenced one identity twice.
	ErrSameUser = errors.New("user ids must differ")
)

// User is one member profile with relationship views attached.
type User struct {
	ID                 string
	Username           string
	Points             int
	Level              string
	Connections        []string
	ConnectionRequests []string
	Followers          []string
	Following          []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Service orchestrates member profile and relationship behavior.
type Service struct {
	store storage.UserStore
	clock func() time.Time
}

// NewService constructs user domain use-cases.
func NewService(store storage.UserStore, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store: store,
		clock: clock,
	}
}

func (s *Service) nowUTC() time.Time {
	return s.clock().UTC()
}

// Create registers one member profile with the starting level tier.
func (s *Service) Create(ctx context.Context, userID string, username string) (User, error) {
	if s == nil || s.store == nil {
		return User{}, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, ErrUserIDRequired
	}
	now := s.nowUTC()
	record := storage.User{
		ID:        userID,
		Username:  strings.TrimSpace(username),
		Points:    0,
		Level:     LevelForPoints(0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutUser(ctx, record); err != nil {
		return User{}, err
	}
	return s.Get(ctx, userID)
}

// Get loads one member profile and its relationship lists.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	if s == nil || s.store == nil {
		return User{}, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, ErrUserIDRequired
	}

	record, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}

	connections, err := s.store.ListConnections(ctx, userID)
	if err != nil {
		return User{}, err
	}
	requests, err := s.store.ListConnectionRequests(ctx, userID)
	if err != nil {
		return User{}, err
	}
	followers, err := s.store.ListFollowers(ctx, userID)
	if err != nil {
		return User{}, err
	}
	following, err := s.store.ListFollowing(ctx, userID)
	if err != nil {
		return User{}, err
	}

	return User{
		ID:                 record.ID,
		Username:           record.Username,
		Points:             record.Points,
		Level:              record.Level,
		Connections:        connections,
		ConnectionRequests: requests,
		Followers:          followers,
		Following:          following,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}, nil
}

// Exists reports whether one member profile is registered.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := s.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RequestConnection records a pending connection request on the recipient.
func (s *Service) RequestConnection(ctx context.Context, ownerUserID string, requesterUserID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	requesterUserID = strings.TrimSpace(requesterUserID)
	if ownerUserID == "" || requesterUserID == "" {
		return ErrUserIDRequired
	}
	if ownerUserID == requesterUserID {
		return ErrSameUser
	}
	return s.store.AddConnectionRequest(ctx, storage.ConnectionRequest{
		OwnerUserID:     ownerUserID,
		RequesterUserID: requesterUserID,
		CreatedAt:       s.nowUTC(),
	})
}

// AcceptConnectionRequest removes the pending request and connects both
// members, then awards the accepted-connection bonus to each party and
// recomputes their level tiers.
//
// The writes are sequential, not transactional: a failure mid-way can leave
// one side connected without the other. Concurrent accepts for the same pair
// are tolerated because the edge writes are idempotent.
func (s *Service) AcceptConnectionRequest(ctx context.Context, acceptorUserID string, requesterUserID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	acceptorUserID = strings.TrimSpace(acceptorUserID)
	requesterUserID = strings.TrimSpace(requesterUserID)
	if acceptorUserID == "" || requesterUserID == "" {
		return ErrUserIDRequired
	}
	if acceptorUserID == requesterUserID {
		return ErrSameUser
	}

	now := s.nowUTC()
	if err := s.store.RemoveConnectionRequest(ctx, acceptorUserID, requesterUserID); err != nil {
		return err
	}
	if err := s.store.AddConnection(ctx, storage.Connection{
		OwnerUserID: acceptorUserID,
		PeerUserID:  requesterUserID,
		CreatedAt:   now,
	}); err != nil {
		return err
	}
	if err := s.store.AddConnection(ctx, storage.Connection{
		OwnerUserID: requesterUserID,
		PeerUserID:  acceptorUserID,
		CreatedAt:   now,
	}); err != nil {
		return err
	}

	if err := s.AwardPoints(ctx, acceptorUserID, ConnectionAcceptedBonus); err != nil {
		return err
	}
	return s.AwardPoints(ctx, requesterUserID, ConnectionAcceptedBonus)
}

// RejectConnectionRequest drops the pending request without side effects.
func (s *Service) RejectConnectionRequest(ctx context.Context, ownerUserID string, requesterUserID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	requesterUserID = strings.TrimSpace(requesterUserID)
	if ownerUserID == "" || requesterUserID == "" {
		return ErrUserIDRequired
	}
	return s.store.RemoveConnectionRequest(ctx, ownerUserID, requesterUserID)
}

// Follow records one follower→followee edge.
func (s *Service) Follow(ctx context.Context, followerUserID string, followeeUserID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	followerUserID = strings.TrimSpace(followerUserID)
	followeeUserID = strings.TrimSpace(followeeUserID)
	if followerUserID == "" || followeeUserID == "" {
		return ErrUserIDRequired
	}
	if followerUserID == followeeUserID {
		return ErrSameUser
	}
	return s.store.AddFollow(ctx, storage.Follow{
		FollowerUserID: followerUserID,
		FolloweeUserID: followeeUserID,
		CreatedAt:      s.nowUTC(),
	})
}

// Unfollow removes one follower→followee edge.
func (s *Service) Unfollow(ctx context.Context, followerUserID string, followeeUserID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	followerUserID = strings.TrimSpace(followerUserID)
	followeeUserID = strings.TrimSpace(followeeUserID)
	if followerUserID == "" || followeeUserID == "" {
		return ErrUserIDRequired
	}
	return s.store.RemoveFollow(ctx, followerUserID, followeeUserID)
}

// AwardPoints adds bonus points to one member and recomputes the level tier.
func (s *Service) AwardPoints(ctx context.Context, userID string, bonus int) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUserIDRequired
	}

	record, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	points := record.Points + bonus
	if points < 0 {
		points = 0
	}
	return s.store.SetPointsAndLevel(ctx, userID, points, LevelForPoints(points), s.nowUTC())
}
