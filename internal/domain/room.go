// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

type RoomID string

// MaxRoomPeers is a hard capacity: a room pairs exactly two participants for
// one peer connection. A third join attempt is rejected, not queued.
const MaxRoomPeers = 2

var ErrRoomFull = errors.New("room full")

type Room struct {
	ID RoomID
}
