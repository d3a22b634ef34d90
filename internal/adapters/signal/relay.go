// Package signal is the server-side signaling relay: it validates incoming
// WebSocket messages, mutates the room registry, and forwards negotiation
// payloads to the rest of the room without inspecting SDP/ICE contents.
package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mkarev/CoWatch/internal/app"
	"github.com/mkarev/CoWatch/internal/config"
	"github.com/mkarev/CoWatch/internal/domain"
	"github.com/mkarev/CoWatch/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay routes signaling traffic for all connections. Registry mutation
// happens only inside its handlers; the registry lock serializes them.
type Relay struct {
	registry *app.RoomRegistry

	mu    sync.RWMutex
	links map[domain.PeerID]peerLink

	readLimit  int64
	pingPeriod time.Duration
}

func NewRelay(registry *app.RoomRegistry, cfg *config.Config) *Relay {
	return &Relay{
		registry:   registry,
		links:      make(map[domain.PeerID]peerLink),
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
	}
}

// HandleSignal upgrades the HTTP request and runs the connection's pumps.
// The participant id is connection-scoped: a fresh one per WebSocket.
func (rl *Relay) HandleSignal(c *gin.Context) {
	peerID := domain.PeerID(uuid.NewString())
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Str("client_token", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	link := newWSLink(peerID, ws)
	rl.register(link)

	go rl.writePump(link)
	go rl.readPump(link)
}

func (rl *Relay) register(link peerLink) {
	rl.mu.Lock()
	rl.links[link.ID()] = link
	rl.mu.Unlock()
}

func (rl *Relay) linkOf(peerID domain.PeerID) (peerLink, bool) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	link, ok := rl.links[peerID]
	return link, ok
}

func (rl *Relay) dispatch(link peerLink, data []byte) {
	var head protocol.Head
	if err := json.Unmarshal(data, &head); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("peer", string(link.ID())).Msg("bad json")
		return
	}

	switch head.Type {
	case protocol.TypeJoinRoom:
		rl.handleJoinRoom(link, data)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		rl.relayToRoom(link, head, data)
	case protocol.TypeLeaveRoom:
		rl.handleLeaveRoom(link, head)
	default:
		log.Warn().Str("module", "signal").Str("type", string(head.Type)).Msg("unknown signal")
	}
}

func (rl *Relay) handleJoinRoom(link peerLink, data []byte) {
	var p protocol.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		rl.sendJSON(link, protocol.ErrorMessage{Type: protocol.TypeError, Error: "bad_payload"})
		return
	}

	member, err := domain.NewParticipant(link.ID(), p.IsHost, p.Username)
	if err != nil {
		rl.sendJSON(link, protocol.ErrorMessage{Type: protocol.TypeError, Error: err.Error()})
		return
	}

	roomID := domain.RoomID(p.RoomID)
	res, err := rl.registry.Join(roomID, member)
	if errors.Is(err, domain.ErrRoomFull) {
		rl.sendJSON(link, protocol.ErrorMessage{Type: protocol.TypeError, Error: "room is full"})
		return
	}

	log.Info().Str("module", "signal").Str("peer", string(link.ID())).Str("room", p.RoomID).Bool("is_host", p.IsHost).Msg("join")

	rl.sendJSON(link, protocol.RoomJoined{
		Type:      protocol.TypeRoomJoined,
		RoomID:    p.RoomID,
		PeerCount: res.PeerCount,
		IsHost:    p.IsHost,
	})

	rl.broadcastJSON(roomID, link.ID(), protocol.PeerJoined{
		Type:      protocol.TypePeerJoined,
		PeerID:    string(link.ID()),
		PeerCount: res.PeerCount,
		Username:  member.Username,
	})

	// The pair is complete: tell the host, and only the host, to start the
	// offer. Guests never initiate.
	if res.PairComplete {
		if host, ok := rl.linkOf(res.HostID); ok {
			rl.sendJSON(host, protocol.ReadyToConnect{Type: protocol.TypeReadyToConnect})
			log.Info().Str("module", "signal").Str("room", p.RoomID).Str("host", string(res.HostID)).Msg("ready-to-connect sent")
		}
	}
}

// relayToRoom forwards offer/answer/ice-candidate payloads verbatim, minus
// the sender, with the sender's id stamped on.
func (rl *Relay) relayToRoom(link peerLink, head protocol.Head, data []byte) {
	if head.RoomID == "" {
		log.Warn().Str("module", "signal").Str("type", string(head.Type)).Str("peer", string(link.ID())).Msg("negotiation message without room")
		return
	}
	out, err := protocol.Readdress(data, string(link.ID()))
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("readdress")
		return
	}
	rl.broadcastRaw(domain.RoomID(head.RoomID), link.ID(), out)
}

func (rl *Relay) handleLeaveRoom(link peerLink, head protocol.Head) {
	username, peerCount, ok := rl.registry.Leave(domain.RoomID(head.RoomID), link.ID())
	if !ok {
		return
	}
	rl.broadcastJSON(domain.RoomID(head.RoomID), link.ID(), protocol.PeerLeft{
		Type:      protocol.TypePeerLeft,
		PeerID:    string(link.ID()),
		PeerCount: peerCount,
		Username:  username,
	})
}

// disconnect handles abrupt transport loss: the participant is removed from
// every room it was in, with one peer-left broadcast per affected room.
func (rl *Relay) disconnect(link peerLink) {
	rl.mu.Lock()
	delete(rl.links, link.ID())
	rl.mu.Unlock()

	for _, dep := range rl.registry.RemoveEverywhere(link.ID()) {
		rl.broadcastJSON(dep.RoomID, link.ID(), protocol.PeerLeft{
			Type:      protocol.TypePeerLeft,
			PeerID:    string(link.ID()),
			PeerCount: dep.PeerCount,
			Username:  dep.Username,
		})
	}
}

func (rl *Relay) sendJSON(link peerLink, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := link.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(link.ID())).Msg("send dropped")
	}
}

func (rl *Relay) broadcastJSON(roomID domain.RoomID, sender domain.PeerID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	rl.broadcastRaw(roomID, sender, b)
}

// broadcastRaw is the room-minus-sender primitive everything else builds on.
func (rl *Relay) broadcastRaw(roomID domain.RoomID, sender domain.PeerID, data []byte) {
	for _, member := range rl.registry.Participants(roomID) {
		if member.ID == sender {
			continue
		}
		link, ok := rl.linkOf(member.ID)
		if !ok {
			continue
		}
		if err := link.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("peer", string(member.ID)).Msg("broadcast dropped")
		}
	}
}
