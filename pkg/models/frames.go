package models

import "time"

// Outbound frames pushed over a live connection. Field names follow the
// wire protocol, not Go conventions.

// MessageReturn acknowledges an accepted send to its sender, carrying the
// store-assigned id and timestamp.
type MessageReturn struct {
	Type        string `json:"type"`
	MessageID   int64  `json:"message_id"`
	ReceiverID  int64  `json:"receiver_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Timestamp   string `json:"timestamp"`
}

// NewMessage forwards a message to its recipient.
type NewMessage struct {
	Type        string `json:"type"`
	MessageID   int64  `json:"message_id"`
	SenderID    int64  `json:"sender_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Timestamp   string `json:"timestamp"`
}

// NewFriendRequest notifies a live recipient of an incoming friend
// request, carrying the requester's profile.
type NewFriendRequest struct {
	Type        string `json:"type"`
	FriendID    int64  `json:"friendId"`
	Description string `json:"description"`
	Avatar      string `json:"avatar,omitempty"`
	Nickname    string `json:"nickname"`
	Timestamp   string `json:"timestamp"`
}

// ErrorFrame reports a failed operation to the sender. Additive to the
// reference protocol, where absence-of-ack was the only failure signal.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WireTime formats a store-assigned nanosecond timestamp for the wire.
func WireTime(ts int64) string {
	return time.Unix(0, ts).UTC().Format(time.RFC3339)
}
