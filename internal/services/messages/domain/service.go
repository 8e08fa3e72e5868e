// Package domain implements direct chat message use-cases.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/devorbit/devorbit/internal/platform/id"
	"github.com/devorbit/devorbit/internal/services/messages/storage"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 200
)

var (
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("message store is not configured")
	// ErrSenderRequired indicates sender identity is required.
	ErrSenderRequired = errors.New("sender user id is required")
	// ErrReceiverRequired indicates receiver identity is required.
	ErrReceiverRequired = errors.New("receiver user id is required")
	// ErrBodyRequired indicates message body is required.
	ErrBodyRequired = errors.New("message body is required")
	// ErrSelfMessage indicates sender and receiver are the same identity.
	ErrSelfMessage = errors.New("sender and receiver must differ")
)

// Message is one direct chat message.
type Message struct {
	ID             string
	SenderUserID   string
	ReceiverUserID string
	Body           string
	Read           bool
	CreatedAt      time.Time
}

// Service orchestrates direct message lifecycle behavior.
type Service struct {
	store storage.MessageStore
	clock func() time.Time
	newID func() (string, error)
}

// NewService constructs message domain use-cases.
func NewService(store storage.MessageStore, clock func() time.Time, newID func() (string, error)) *Service {
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

// Send persists one unread message and returns the stored record.
func (s *Service) Send(ctx context.Context, senderUserID string, receiverUserID string, body string) (Message, error) {
	if s == nil || s.store == nil {
		return Message{}, ErrStoreNotConfigured
	}
	senderUserID = strings.TrimSpace(senderUserID)
	receiverUserID = strings.TrimSpace(receiverUserID)
	if senderUserID == "" {
		return Message{}, ErrSenderRequired
	}
	if receiverUserID == "" {
		return Message{}, ErrReceiverRequired
	}
	if senderUserID == receiverUserID {
		return Message{}, ErrSelfMessage
	}
	if strings.TrimSpace(body) == "" {
		return Message{}, ErrBodyRequired
	}

	messageID, err := s.newID()
	if err != nil {
		return Message{}, err
	}
	message := Message{
		ID:             messageID,
		SenderUserID:   senderUserID,
		ReceiverUserID: receiverUserID,
		Body:           body,
		Read:           false,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.store.PutMessage(ctx, storage.Message(message)); err != nil {
		return Message{}, err
	}
	return message, nil
}

// Conversation returns messages between two members, oldest first.
func (s *Service) Conversation(ctx context.Context, userA string, userB string, limit int) ([]Message, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	if limit > maxConversationLimit {
		limit = maxConversationLimit
	}
	records, err := s.store.ListConversation(ctx, userA, userB, limit)
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, Message(record))
	}
	return messages, nil
}

// MarkConversationRead acknowledges every unread message from one sender.
func (s *Service) MarkConversationRead(ctx context.Context, receiverUserID string, senderUserID string) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrStoreNotConfigured
	}
	return s.store.MarkConversationRead(ctx, receiverUserID, senderUserID, s.clock().UTC())
}
