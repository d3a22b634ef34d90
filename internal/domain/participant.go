package domain

import (
	"errors"
	"time"
)

const (
	MaxUsernameLen  = 36
	DefaultUsername = "guest"
)

var ErrUsernameTooLong = errors.New("username too long")

// PeerID is connection-scoped and assigned by the transport layer; it is
// opaque to everything above the relay.
type PeerID string

type Participant struct {
	ID       PeerID    `json:"id"`
	Username string    `json:"username"`
	IsHost   bool      `json:"is_host"`
	JoinedAt time.Time `json:"joined_at"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
// An empty username falls back to DefaultUsername.
func NewParticipant(id PeerID, isHost bool, username string) (*Participant, error) {
	if username == "" {
		username = DefaultUsername
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &Participant{
		ID:       id,
		Username: username,
		IsHost:   isHost,
		JoinedAt: time.Now(),
	}, nil
}
