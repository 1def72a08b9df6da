package models

type Message struct {
	// ID is durable, monotonic and store-assigned.
	ID         int64  `json:"id"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	Type       string `json:"message_type"`
	// Received transitions false -> true exactly once, either on live push
	// or via a later readMessage acknowledgement.
	Received bool `json:"is_received"`
	// Created timestamp (ns), store-assigned alongside ID.
	CreatedTS int64 `json:"created_ts"`
}

// HistoryMessage is one entry of the conversation history a client sends
// with a message addressed to an automated principal.
type HistoryMessage struct {
	ID         int64  `json:"id"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	Type       string `json:"messageType"`
}
