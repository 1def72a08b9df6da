package models

// Relationship edge statuses. Two directed edges model one undirected
// friendship; both rows carry the same status after any successful
// transition.
const (
	FriendPending   = "pending"
	FriendAccepted  = "accepted"
	FriendUnrelated = "unrelated"
)

type FriendEdge struct {
	FromID int64  `json:"from_id"`
	ToID   int64  `json:"to_id"`
	Status string `json:"status"`
	// Updated timestamp (ns)
	UpdatedTS int64 `json:"updated_ts"`
}
