package models

// Kind classifies a principal as a human user or an automated peer.
const (
	KindHuman     = "human"
	KindAutomated = "automated"
)

type Principal struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
	// Kind is immutable after creation: "human" or "automated".
	Kind string `json:"kind"`
	// PasswordHash is the bcrypt hash; never serialized to clients.
	PasswordHash string `json:"password_hash,omitempty"`
	// EncryptedPhone holds the AES-GCM ciphertext (nonce-prefixed, hex).
	EncryptedPhone string `json:"encrypted_phone,omitempty"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
}

// Profile is the client-visible view of a principal.
type Profile struct {
	ID       int64  `json:"friend_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
	Kind     string `json:"kind"`
}

func (p Principal) Profile() Profile {
	return Profile{ID: p.ID, Nickname: p.Nickname, Avatar: p.Avatar, Kind: p.Kind}
}
