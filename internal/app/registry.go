package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mkarev/CoWatch/internal/domain"
)

type roomState struct {
	participants map[domain.PeerID]*domain.Participant
}

// RoomRegistry is the authoritative map of rooms to participants. It is pure
// state: relaying notifications derived from mutations is the caller's job.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[domain.RoomID]*roomState)}
}

// JoinResult reports the room state right after a join, computed under the
// registry lock so the pairing trigger fires exactly once.
type JoinResult struct {
	PeerCount int
	// PairComplete is set when this join grew the room to MaxRoomPeers and a
	// host is present. HostID is then the participant to notify; with two
	// hosts in one room the first found in iteration order wins (accepted
	// ambiguity, not corrected).
	PairComplete bool
	HostID       domain.PeerID
}

// Departure describes one room a participant was removed from.
type Departure struct {
	RoomID    domain.RoomID
	Username  string
	PeerCount int
}

// Join inserts p into roomID, creating the room if needed. A participant is
// in at most one room: membership anywhere else is dropped first. A third
// distinct participant is rejected with domain.ErrRoomFull.
func (r *RoomRegistry) Join(roomID domain.RoomID, p *domain.Participant) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Capacity is checked before any other membership is touched: a rejected
	// join must leave the joiner's current room intact. A re-join of an
	// existing member never trips the check.
	if room, ok := r.rooms[roomID]; ok {
		if _, member := room.participants[p.ID]; !member && len(room.participants) >= domain.MaxRoomPeers {
			log.Warn().Str("module", "app.registry").Str("room", string(roomID)).Str("peer", string(p.ID)).Msg("join rejected, room full")
			return JoinResult{PeerCount: len(room.participants)}, domain.ErrRoomFull
		}
	}

	r.removeEverywhereLocked(p.ID)

	room, ok := r.rooms[roomID]
	if !ok {
		room = &roomState{participants: make(map[domain.PeerID]*domain.Participant)}
		r.rooms[roomID] = room
	}

	before := len(room.participants)
	room.participants[p.ID] = p

	res := JoinResult{PeerCount: len(room.participants)}
	if before < domain.MaxRoomPeers && res.PeerCount == domain.MaxRoomPeers {
		for id, member := range room.participants {
			if member.IsHost {
				res.PairComplete = true
				res.HostID = id
				break
			}
		}
	}
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("peer", string(p.ID)).Int("peer_count", res.PeerCount).Msg("joined room")
	return res, nil
}

// Leave removes peerID from roomID. ok is false when the participant was not
// in that room; that is a benign no-op, not an error.
func (r *RoomRegistry) Leave(roomID domain.RoomID, peerID domain.PeerID) (username string, peerCount int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, found := r.rooms[roomID]
	if !found {
		return "", 0, false
	}
	p, found := room.participants[peerID]
	if !found {
		return "", len(room.participants), false
	}

	delete(room.participants, peerID)
	peerCount = len(room.participants)
	if peerCount == 0 {
		delete(r.rooms, roomID)
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room deleted")
	}
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("peer", string(peerID)).Int("peer_count", peerCount).Msg("left room")
	return p.Username, peerCount, true
}

// RemoveEverywhere drops peerID from every room it is in, deleting rooms left
// empty. Used on abrupt disconnect; one Departure per affected room.
func (r *RoomRegistry) RemoveEverywhere(peerID domain.PeerID) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeEverywhereLocked(peerID)
}

func (r *RoomRegistry) removeEverywhereLocked(peerID domain.PeerID) []Departure {
	var out []Departure
	for roomID, room := range r.rooms {
		p, ok := room.participants[peerID]
		if !ok {
			continue
		}
		delete(room.participants, peerID)
		out = append(out, Departure{RoomID: roomID, Username: p.Username, PeerCount: len(room.participants)})
		if len(room.participants) == 0 {
			delete(r.rooms, roomID)
			log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room deleted")
		}
	}
	return out
}

// Participants returns a read-only snapshot of a room's membership.
func (r *RoomRegistry) Participants(roomID domain.RoomID) []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.Participant, 0, len(room.participants))
	for _, p := range room.participants {
		out = append(out, *p)
	}
	return out
}

// Snapshot returns the aggregate counts used by the status endpoint.
func (r *RoomRegistry) Snapshot() (activeRooms, totalParticipants int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.rooms {
		totalParticipants += len(room.participants)
	}
	return len(r.rooms), totalParticipants
}
