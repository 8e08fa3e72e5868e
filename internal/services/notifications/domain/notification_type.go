package domain

import "strings"

// Canonical type tags for social-graph notifications.
const (
	TypeConnectionRequest  = "social.connection.request"
	TypeConnectionAccepted = "social.connection.accepted"
	TypeConnectionRejected = "social.connection.rejected"
	TypeFollow             = "social.follow"
	TypeUnfollow           = "social.unfollow"
	TypeMentorshipRequest  = "social.mentorship.request"
	TypeMentorshipAccepted = "social.mentorship.accepted"
	TypeMentorshipRejected = "social.mentorship.rejected"
)

// NormalizeType normalizes a producer-provided notification type token.
func NormalizeType(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// KnownType reports whether this type tag is a canonical social notification.
func KnownType(notificationType string) bool {
	switch NormalizeType(notificationType) {
	case TypeConnectionRequest,
		TypeConnectionAccepted,
		TypeConnectionRejected,
		TypeFollow,
		TypeUnfollow,
		TypeMentorshipRequest,
		TypeMentorshipAccepted,
		TypeMentorshipRejected:
		return true
	default:
		return false
	}
}
