// Package storage defines persistence contracts for notification state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested notification record is missing.
var ErrNotFound = errors.New("record not found")

// NotificationRecord stores one recipient inbox row.
type NotificationRecord struct {
	ID              string
	RecipientUserID string
	SenderUserID    string
	Type            string
	Message         string
	Read            bool
	CreatedAt       time.Time
}

// NotificationPage stores a page of recipient inbox rows.
type NotificationPage struct {
	Notifications []NotificationRecord
	NextPageToken string
}

// NotificationStore persists recipient-scoped notification rows.
type NotificationStore interface {
	PutNotification(ctx context.Context, record NotificationRecord) error
	GetNotification(ctx context.Context, recipientUserID string, notificationID string) (NotificationRecord, error)
	ListNotificationsByRecipient(ctx context.Context, recipientUserID string, pageSize int, pageToken string) (NotificationPage, error)
	MarkNotificationRead(ctx context.Context, recipientUserID string, notificationID string) (NotificationRecord, error)
	DeleteNotificationsByRecipientAndSender(ctx context.Context, recipientUserID string, senderUserID string) (int, error)
}
