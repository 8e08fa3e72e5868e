package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/devorbit/devorbit/internal/services/notifications/storage"
)

type memNotificationStore struct {
	records []storage.NotificationRecord

	listRecipient string
	listPageSize  int
	listPageToken string
	listPage      storage.NotificationPage

	deleteCount int
}

func (m *memNotificationStore) PutNotification(_ context.Context, record storage.NotificationRecord) error {
	m.records = append(m.records, record)
	return nil
}

func (m *memNotificationStore) GetNotification(_ context.Context, recipientUserID string, notificationID string) (storage.NotificationRecord, error) {
	for _, record := range m.records {
		if record.RecipientUserID == recipientUserID && record.ID == notificationID {
			return record, nil
		}
	}
	return storage.NotificationRecord{}, storage.ErrNotFound
}

func (m *memNotificationStore) ListNotificationsByRecipient(_ context.Context, recipientUserID string, pageSize int, pageToken string) (storage.NotificationPage, error) {
	m.listRecipient = recipientUserID
	m.listPageSize = pageSize
	m.listPageToken = pageToken
	return m.listPage, nil
}

func (m *memNotificationStore) MarkNotificationRead(_ context.Context, recipientUserID string, notificationID string) (storage.NotificationRecord, error) {
	for i, record := range m.records {
		if record.RecipientUserID == recipientUserID && record.ID == notificationID {
			m.records[i].Read = true
			return m.records[i], nil
		}
	}
	return storage.NotificationRecord{}, storage.ErrNotFound
}

func (m *memNotificationStore) DeleteNotificationsByRecipientAndSender(_ context.Context, recipientUserID string, senderUserID string) (int, error) {
	return m.deleteCount, nil
}

func testClock() time.Time {
	return time.Date(2026, time.February, 22, 12, 0, 0, 0, time.UTC)
}

func sequentialIDs() func() (string, error) {
	next := 0
	return func() (string, error) {
		next++
		return fmt.Sprintf("ntf-%d", next), nil
	}
}

func TestCreateStoresUnreadNotification(t *testing.T) {
	store := &memNotificationStore{}
	service := NewService(store, testClock, sequentialIDs())

	notification, err := service.Create(context.Background(), CreateInput{
		RecipientUserID: " alice ",
		SenderUserID:    " bob ",
		Type:            "  Social.Follow ",
		Message:         " bob started following you ",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if notification.ID != "ntf-1" {
		t.Fatalf("id = %q, want ntf-1", notification.ID)
	}
	if notification.RecipientUserID != "alice" || notification.SenderUserID != "bob" {
		t.Fatalf("parties = %q/%q, want alice/bob", notification.RecipientUserID, notification.SenderUserID)
	}
	if notification.Type != TypeFollow {
		t.Fatalf("type = %q, want %q", notification.Type, TypeFollow)
	}
	if notification.Message != "bob started following you" {
		t.Fatalf("message = %q, want trimmed", notification.Message)
	}
	if notification.Read {
		t.Fatal("new notification must be unread")
	}
	if len(store.records) != 1 {
		t.Fatalf("stored = %d rows, want 1", len(store.records))
	}
}

func TestCreateValidation(t *testing.T) {
	service := NewService(&memNotificationStore{}, testClock, sequentialIDs())
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateInput
		want  error
	}{
		{"missing recipient", CreateInput{SenderUserID: "bob", Type: TypeFollow}, ErrRecipientRequired},
		{"missing sender", CreateInput{RecipientUserID: "alice", Type: TypeFollow}, ErrSenderRequired},
		{"missing type", CreateInput{RecipientUserID: "alice", SenderUserID: "bob", Type: "  "}, ErrTypeRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := service.Create(ctx, tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestListInboxClampsPageSize(t *testing.T) {
	store := &memNotificationStore{listPage: storage.NotificationPage{
		Notifications: []storage.NotificationRecord{
			{ID: "ntf-2", RecipientUserID: "alice", SenderUserID: "bob", Type: TypeFollow, CreatedAt: testClock()},
		},
		NextPageToken: "tok",
	}}
	service := NewService(store, testClock, sequentialIDs())
	ctx := context.Background()

	page, err := service.ListInbox(ctx, "alice", 0, "")
	if err != nil {
		t.Fatalf("list inbox: %v", err)
	}
	if store.listPageSize != defaultPageSize {
		t.Fatalf("page size = %d, want default %d", store.listPageSize, defaultPageSize)
	}
	if len(page.Notifications) != 1 || page.Notifications[0].ID != "ntf-2" {
		t.Fatalf("page = %+v, want ntf-2", page.Notifications)
	}
	if page.NextPageToken != "tok" {
		t.Fatalf("token = %q, want tok", page.NextPageToken)
	}

	if _, err := service.ListInbox(ctx, "alice", 9000, "tok"); err != nil {
		t.Fatalf("list inbox: %v", err)
	}
	if store.listPageSize != maxPageSize {
		t.Fatalf("page size = %d, want max %d", store.listPageSize, maxPageSize)
	}
	if store.listRecipient != "alice" || store.listPageToken != "tok" {
		t.Fatalf("args = %q/%q, want alice/tok", store.listRecipient, store.listPageToken)
	}
}

func TestListInboxRequiresRecipient(t *testing.T) {
	service := NewService(&memNotificationStore{}, testClock, sequentialIDs())

	if _, err := service.ListInbox(context.Background(), "  ", 0, ""); !errors.Is(err, ErrRecipientRequired) {
		t.Fatalf("err = %v, want ErrRecipientRequired", err)
	}
}

func TestMarkRead(t *testing.T) {
	store := &memNotificationStore{records: []storage.NotificationRecord{
		{ID: "ntf-1", RecipientUserID: "alice", SenderUserID: "bob", Type: TypeFollow, CreatedAt: testClock()},
	}}
	service := NewService(store, testClock, sequentialIDs())

	notification, err := service.MarkRead(context.Background(), "alice", "ntf-1")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !notification.Read {
		t.Fatal("notification must be read")
	}

	if _, err := service.MarkRead(context.Background(), "alice", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteBySender(t *testing.T) {
	store := &memNotificationStore{deleteCount: 2}
	service := NewService(store, testClock, sequentialIDs())

	count, err := service.DeleteBySender(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("delete by sender: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestKnownType(t *testing.T) {
	for _, tag := range []string{
		TypeConnectionRequest,
		TypeConnectionAccepted,
		TypeConnectionRejected,
		TypeFollow,
		TypeUnfollow,
		TypeMentorshipRequest,
		TypeMentorshipAccepted,
		TypeMentorshipRejected,
	} {
		if !KnownType(tag) {
			t.Fatalf("KnownType(%q) = false, want true", tag)
		}
	}
	if !KnownType(" Social.Follow ") {
		t.Fatal("KnownType must normalize before matching")
	}
	if KnownType("social.unknown") {
		t.Fatal("KnownType(social.unknown) = true, want false")
	}
}
