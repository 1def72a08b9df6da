package models

import (
	"encoding/json"
	"fmt"
)

// Inbound frames are decoded once at the transport boundary into a closed
// union of event variants, each carrying its required fields. The free-form
// "type" tag never leaks past DecodeEvent.

type Event interface {
	// EventToken returns the credential carried by the frame.
	EventToken() string
}

type ConnectEvent struct {
	Token string `json:"token"`
}

type SendMessageEvent struct {
	Token       string           `json:"token"`
	ReceiverID  int64            `json:"receiverId"`
	Content     string           `json:"content"`
	MessageType string           `json:"message_type"`
	// History is required when the receiver resolves to an automated
	// principal; ordered list of prior conversation messages.
	History []HistoryMessage `json:"historyMessages,omitempty"`
}

type SendFriendRequestEvent struct {
	Token       string `json:"token"`
	ReceiverID  int64  `json:"receiverId"`
	Description string `json:"description"`
}

type ReadMessageEvent struct {
	Token    string `json:"token"`
	SenderID int64  `json:"senderId"`
}

func (e ConnectEvent) EventToken() string           { return e.Token }
func (e SendMessageEvent) EventToken() string       { return e.Token }
func (e SendFriendRequestEvent) EventToken() string { return e.Token }
func (e ReadMessageEvent) EventToken() string       { return e.Token }

// DecodeEvent parses a raw inbound frame into its event variant. Unknown
// or missing type tags are an error; handlers never see undecoded frames.
func DecodeEvent(data []byte) (Event, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	switch tag.Type {
	case "connect":
		var ev ConnectEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("invalid connect frame: %w", err)
		}
		return ev, nil
	case "sendMessage":
		var ev SendMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("invalid sendMessage frame: %w", err)
		}
		return ev, nil
	case "sendFriendRequest":
		var ev SendFriendRequestEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("invalid sendFriendRequest frame: %w", err)
		}
		return ev, nil
	case "readMessage":
		var ev ReadMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("invalid readMessage frame: %w", err)
		}
		return ev, nil
	case "":
		return nil, fmt.Errorf("frame missing type tag")
	default:
		return nil, fmt.Errorf("unknown event type %q", tag.Type)
	}
}
