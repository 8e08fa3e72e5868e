// Package domain implements recipient notification inbox use-cases.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/devorbit/devorbit/internal/platform/id"
	"github.com/devorbit/devorbit/internal/services/notifications/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var (
	// ErrNotFound indicates a notification record was not found.
	ErrNotFound = errors.New("notification not found")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("notification store is not configured")
	// ErrRecipientRequired indicates recipient identity is required.
	ErrRecipientRequired = errors.New("recipient user id is required")
	// ErrSenderRequired indicates sender identity is required.
	ErrSenderRequired = errors.New("sender user id is required")
	// ErrTypeRequired indicates a notification type tag is required.
	ErrTypeRequired = errors.New("notification type is required")
)

// Notification captures one user-targeted notification item.
type Notification struct {
	ID              string
	RecipientUserID string
	SenderUserID    string
	Type            string
	Message         string
	Read            bool
	CreatedAt       time.Time
}

// NotificationPage is a paged recipient inbox view.
type NotificationPage struct {
	Notifications []Notification
	NextPageToken string
}

// CreateInput describes one producer notification request.
type CreateInput struct {
	RecipientUserID string
	SenderUserID    string
	Type            string
	Message         string
}

// Service orchestrates recipient inbox lifecycle behavior.
type Service struct {
	store storage.NotificationStore
	clock func() time.Time
	newID func() (string, error)
}

// NewService constructs notification domain use-cases.
func NewService(store storage.NotificationStore, clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store: store,
		clock: clock,
		newID: newID,
	}
}

// Create stores one unread notification item addressed to a recipient.
func (s *Service) Create(ctx context.Context, input CreateInput) (Notification, error) {
	if s == nil || s.store == nil {
		return Notification{}, ErrStoreNotConfigured
	}
	recipientUserID := strings.TrimSpace(input.RecipientUserID)
	if recipientUserID == "" {
		return Notification{}, ErrRecipientRequired
	}
	senderUserID := strings.TrimSpace(input.SenderUserID)
	if senderUserID == "" {
		return Notification{}, ErrSenderRequired
	}
	notificationType := NormalizeType(input.Type)
	if notificationType == "" {
		return Notification{}, ErrTypeRequired
	}

	notificationID, err := s.newID()
	if err != nil {
		return Notification{}, err
	}
	notification := Notification{
		ID:              notificationID,
		RecipientUserID: recipientUserID,
		SenderUserID:    senderUserID,
		Type:            notificationType,
		Message:         strings.TrimSpace(input.Message),
		Read:            false,
		CreatedAt:       s.clock().UTC(),
	}
	if err := s.store.PutNotification(ctx, storage.NotificationRecord(notification)); err != nil {
		return Notification{}, err
	}
	return notification, nil
}

// ListInbox returns one recipient inbox page, newest first.
func (s *Service) ListInbox(ctx context.Context, recipientUserID string, pageSize int, pageToken string) (NotificationPage, error) {
	if s == nil || s.store == nil {
		return NotificationPage{}, ErrStoreNotConfigured
	}
	recipientUserID = strings.TrimSpace(recipientUserID)
	if recipientUserID == "" {
		return NotificationPage{}, ErrRecipientRequired
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	page, err := s.store.ListNotificationsByRecipient(ctx, recipientUserID, pageSize, pageToken)
	if err != nil {
		return NotificationPage{}, err
	}
	result := NotificationPage{
		Notifications: make([]Notification, 0, len(page.Notifications)),
		NextPageToken: page.NextPageToken,
	}
	for _, record := range page.Notifications {
		result.Notifications = append(result.Notifications, Notification(record))
	}
	return result, nil
}

// MarkRead acknowledges one recipient notification.
func (s *Service) MarkRead(ctx context.Context, recipientUserID string, notificationID string) (Notification, error) {
	if s == nil || s.store == nil {
		return Notification{}, ErrStoreNotConfigured
	}
	record, err := s.store.MarkNotificationRead(ctx, recipientUserID, notificationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, err
	}
	return Notification(record), nil
}

// DeleteBySender removes every notification one sender produced for a
// recipient and returns the removed count.
func (s *Service) DeleteBySender(ctx context.Context, recipientUserID string, senderUserID string) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrStoreNotConfigured
	}
	return s.store.DeleteNotificationsByRecipientAndSender(ctx, recipientUserID, senderUserID)
}
