// Package storage defines persistence contracts for chat message state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested message record is missing.
var ErrNotFound = errors.New("record not found")

// Message stores one direct chat message row.
type Message struct {
	ID             string
	SenderUserID   string
	ReceiverUserID string
	Body           string
	Read           bool
	CreatedAt      time.Time
}

// MessageStore persists direct chat messages between member pairs.
type MessageStore interface {
	PutMessage(ctx context.Context, message Message) error
	GetMessage(ctx context.Context, messageID string) (Message, error)
	ListConversation(ctx context.Context, userA string, userB string, limit int) ([]Message, error)
	MarkConversationRead(ctx context.Context, receiverUserID string, senderUserID string, readAt time.Time) (int, error)
}
