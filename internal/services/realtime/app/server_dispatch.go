package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/devorbit/devorbit/internal/platform/timeouts"
	notificationsdomain "github.com/devorbit/devorbit/internal/services/notifications/domain"
)

type sendMessagePayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

type receiveMessagePayload struct {
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	IsRead     bool   `json:"isRead"`
	CreatedAt  string `json:"createdAt"`
}

type newNotificationPayload struct {
	NotificationID string `json:"notificationId"`
	SenderID       string `json:"senderId"`
	Type           string `json:"type"`
	Message        string `json:"message"`
	IsRead         bool   `json:"isRead"`
	CreatedAt      string `json:"createdAt"`
}

// handleSendMessageFrame persists the chat message first and only then
// forwards it, so a receiver who immediately queries history sees what was
// just delivered. The sender renders its own copy optimistically and gets no
// echo.
func handleSendMessageFrame(ctx context.Context, session *wsSession, h *hub, collaborators Collaborators, frame wsFrame) {
	var payload sendMessagePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid sendMessage payload")
		return
	}

	senderID := strings.TrimSpace(payload.SenderID)
	receiverID := strings.TrimSpace(payload.ReceiverID)
	body := strings.TrimSpace(payload.Message)
	if senderID == "" || receiverID == "" || body == "" {
		log.Printf("realtime: sendMessage dropped: missing sender, receiver, or message")
		return
	}
	if utf8.RuneCountInString(body) > maxMessageBodyRunes {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "message must be at most 2000 characters")
		return
	}
	if collaborators.Messages == nil {
		log.Printf("realtime: sendMessage dropped: message store is not configured")
		return
	}

	persistCtx, cancel := context.WithTimeout(ctx, timeouts.Persist)
	message, err := collaborators.Messages.Send(persistCtx, senderID, receiverID, body)
	cancel()
	if err != nil {
		log.Printf("realtime: sendMessage persist failed sender=%q receiver=%q err=%v", senderID, receiverID, err)
		return
	}

	delivery := wsFrame{
		Type: "receiveMessage",
		Payload: mustJSON(receiveMessagePayload{
			MessageID:  message.ID,
			SenderID:   message.SenderUserID,
			ReceiverID: message.ReceiverUserID,
			Message:    message.Body,
			IsRead:     message.Read,
			CreatedAt:  message.CreatedAt.UTC().Format(time.RFC3339),
		}),
	}
	for _, peer := range h.sessionsFor(receiverID) {
		_ = peer.writeFrame(delivery)
	}
}

type connectionDecisionPayload struct {
	UserID   string `json:"userId"`
	SenderID string `json:"senderId"`
}

// handleConnectionDecisionFrame resolves acceptRequest and rejectRequest:
// the deciding member is userId, the original requester is senderId. The
// relationship mutation always commits before the counterparty notification
// is created, so a recipient never sees a notification for an uncommitted
// change. The two writes are not one transaction.
func handleConnectionDecisionFrame(ctx context.Context, session *wsSession, h *hub, collaborators Collaborators, frame wsFrame) {
	var payload connectionDecisionPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid "+frame.Type+" payload")
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	senderID := strings.TrimSpace(payload.SenderID)
	if userID == "" || senderID == "" {
		log.Printf("realtime: %s dropped: missing userId or senderId", frame.Type)
		return
	}
	if collaborators.Users == nil {
		log.Printf("realtime: %s dropped: user directory is not configured", frame.Type)
		return
	}
	if !usersExist(ctx, collaborators.Users, frame.Type, userID, senderID) {
		return
	}

	mutateCtx, cancel := context.WithTimeout(ctx, timeouts.Persist)
	var err error
	var notificationType, notificationMessage string
	switch frame.Type {
	case "acceptRequest":
		err = collaborators.Users.AcceptConnectionRequest(mutateCtx, userID, senderID)
		notificationType = notificationsdomain.TypeConnectionAccepted
		notificationMessage = fmt.Sprintf("%s accepted your connection request", userID)
	default:
		err = collaborators.Users.RejectConnectionRequest(mutateCtx, userID, senderID)
		notificationType = notificationsdomain.TypeConnectionRejected
		notificationMessage = fmt.Sprintf("%s declined your connection request", userID)
	}
	cancel()
	if err != nil {
		log.Printf("realtime: %s mutation failed user=%q sender=%q err=%v", frame.Type, userID, senderID, err)
		return
	}

	notifyCounterparty(ctx, h, collaborators, frame.Type, notificationsdomain.CreateInput{
		RecipientUserID: senderID,
		SenderUserID:    userID,
		Type:            notificationType,
		Message:         notificationMessage,
	})
}

type followPayload struct {
	UserID       string `json:"userId"`
	FollowUserID string `json:"followUserId"`
}

// handleFollowFrame is notify-only: the follow graph itself is mutated by the
// REST surface, the realtime layer just tells the counterparty.
func handleFollowFrame(ctx context.Context, session *wsSession, h *hub, collaborators Collaborators, frame wsFrame) {
	var payload followPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid "+frame.Type+" payload")
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	followUserID := strings.TrimSpace(payload.FollowUserID)
	if userID == "" || followUserID == "" {
		log.Printf("realtime: %s dropped: missing userId or followUserId", frame.Type)
		return
	}
	if !usersExist(ctx, collaborators.Users, frame.Type, userID, followUserID) {
		return
	}

	notificationType := notificationsdomain.TypeFollow
	notificationMessage := fmt.Sprintf("%s started following you", userID)
	if frame.Type == "unfollow" {
		notificationType = notificationsdomain.TypeUnfollow
		notificationMessage = fmt.Sprintf("%s stopped following you", userID)
	}

	notifyCounterparty(ctx, h, collaborators, frame.Type, notificationsdomain.CreateInput{
		RecipientUserID: followUserID,
		SenderUserID:    userID,
		Type:            notificationType,
		Message:         notificationMessage,
	})
}

type mentorshipPayload struct {
	UserID   string `json:"userId"`
	MentorID string `json:"mentorId,omitempty"`
	MenteeID string `json:"menteeId,omitempty"`
}

// handleMentorshipFrame is notify-only: mentorship matching state lives
// behind the REST surface. A request targets the mentor; accept and reject
// decisions target the mentee.
func handleMentorshipFrame(ctx context.Context, session *wsSession, h *hub, collaborators Collaborators, frame wsFrame) {
	var payload mentorshipPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid "+frame.Type+" payload")
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	var recipientID, notificationType, notificationMessage string
	switch frame.Type {
	case "mentorship-request":
		recipientID = strings.TrimSpace(payload.MentorID)
		notificationType = notificationsdomain.TypeMentorshipRequest
		notificationMessage = fmt.Sprintf("%s requested mentorship from you", userID)
	case "acceptMentorship":
		recipientID = strings.TrimSpace(payload.MenteeID)
		notificationType = notificationsdomain.TypeMentorshipAccepted
		notificationMessage = fmt.Sprintf("%s accepted your mentorship request", userID)
	default:
		recipientID = strings.TrimSpace(payload.MenteeID)
		notificationType = notificationsdomain.TypeMentorshipRejected
		notificationMessage = fmt.Sprintf("%s declined your mentorship request", userID)
	}
	if userID == "" || recipientID == "" {
		log.Printf("realtime: %s dropped: missing participant identity", frame.Type)
		return
	}
	if !usersExist(ctx, collaborators.Users, frame.Type, userID, recipientID) {
		return
	}

	notifyCounterparty(ctx, h, collaborators, frame.Type, notificationsdomain.CreateInput{
		RecipientUserID: recipientID,
		SenderUserID:    userID,
		Type:            notificationType,
		Message:         notificationMessage,
	})
}

// usersExist checks both named identities against the user directory. Any
// lookup failure or missing record aborts the event with a log line only.
func usersExist(ctx context.Context, users UserDirectory, eventType string, userIDs ...string) bool {
	if users == nil {
		log.Printf("realtime: %s dropped: user directory is not configured", eventType)
		return false
	}
	for _, userID := range userIDs {
		lookupCtx, cancel := context.WithTimeout(ctx, timeouts.Persist)
		exists, err := users.Exists(lookupCtx, userID)
		cancel()
		if err != nil {
			log.Printf("realtime: %s dropped: user lookup failed user=%q err=%v", eventType, userID, err)
			return false
		}
		if !exists {
			log.Printf("realtime: %s dropped: unknown user %q", eventType, userID)
			return false
		}
	}
	return true
}

// notifyCounterparty creates exactly one notification record and delivers it
// to every session announced as the recipient.
func notifyCounterparty(ctx context.Context, h *hub, collaborators Collaborators, eventType string, input notificationsdomain.CreateInput) {
	if collaborators.Notifications == nil {
		log.Printf("realtime: %s dropped: notification store is not configured", eventType)
		return
	}

	persistCtx, cancel := context.WithTimeout(ctx, timeouts.Persist)
	notification, err := collaborators.Notifications.Create(persistCtx, input)
	cancel()
	if err != nil {
		log.Printf("realtime: %s notification persist failed recipient=%q sender=%q err=%v", eventType, input.RecipientUserID, input.SenderUserID, err)
		return
	}

	delivery := wsFrame{
		Type: "newNotification",
		Payload: mustJSON(newNotificationPayload{
			NotificationID: notification.ID,
			SenderID:       notification.SenderUserID,
			Type:           notification.Type,
			Message:        notification.Message,
			IsRead:         notification.Read,
			CreatedAt:      notification.CreatedAt.UTC().Format(time.RFC3339),
		}),
	}
	for _, peer := range h.sessionsFor(notification.RecipientUserID) {
		_ = peer.writeFrame(delivery)
	}
}
