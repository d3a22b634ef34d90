package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mkarev/CoWatch/internal/protocol"
	"github.com/mkarev/CoWatch/internal/rtc"
)

// Status is the session-level connection state exposed to the UI layer. It
// is gated on both the transport and the data channel: the session is
// Connected only when the peer connection is up AND the channel is open.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PeerEvent describes another participant joining or leaving the room.
type PeerEvent struct {
	PeerID    string
	Username  string
	PeerCount int
}

// SessionController owns exactly one negotiator, one peer transport and one
// data-channel protocol for one room. It is torn down on Disconnect or fatal
// negotiation failure and never reused for another room.
type SessionController struct {
	sig   *SignalingClient
	peer  *rtc.Peer
	neg   *rtc.Negotiator
	proto *DataChannelProtocol

	roomID   string
	isHost   bool
	username string

	mu          sync.Mutex
	status      Status
	transportUp bool
	channelOpen bool

	onStatus   func(Status)
	onChat     func(protocol.Envelope)
	onSync     func(protocol.Envelope)
	onPeerJoin func(PeerEvent)
	onPeerLeft func(PeerEvent)
	onError    func(string)
}

func NewSessionController() *SessionController {
	return &SessionController{
		sig:    NewSignalingClient(),
		proto:  NewDataChannelProtocol(),
		status: StatusIdle,
	}
}

func (s *SessionController) OnStatusChange(fn func(Status)) { s.onStatus = fn }

func (s *SessionController) OnChat(fn func(protocol.Envelope)) { s.onChat = fn }

func (s *SessionController) OnPlayerSync(fn func(protocol.Envelope)) { s.onSync = fn }

func (s *SessionController) OnPeerJoined(fn func(PeerEvent)) { s.onPeerJoin = fn }

func (s *SessionController) OnPeerLeft(fn func(PeerEvent)) { s.onPeerLeft = fn }

func (s *SessionController) OnError(fn func(string)) { s.onError = fn }

func (s *SessionController) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Initialize joins the room and starts negotiation. serverURL is the
// signaling WebSocket endpoint; stunServers configure the peer transport.
func (s *SessionController) Initialize(ctx context.Context, serverURL, roomID string, isHost bool, username string, stunServers []string) error {
	s.roomID = roomID
	s.isHost = isHost
	s.username = username

	peer, err := rtc.NewPeer(stunServers)
	if err != nil {
		return fmt.Errorf("create peer transport: %w", err)
	}
	s.peer = peer

	s.proto.OnChat(func(env protocol.Envelope) {
		if s.onChat != nil {
			s.onChat(env)
		}
	})
	s.proto.OnPlayerSync(func(env protocol.Envelope) {
		if s.onSync != nil {
			s.onSync(env)
		}
	})
	s.proto.OnOpen(func() { s.updateGates(nil, boolPtr(true)) })
	s.proto.OnClose(func() { s.updateGates(nil, boolPtr(false)) })

	// The host announces the channel inside its offer; the guest picks it up
	// from the remote announcement.
	if isHost {
		dc, err := peer.CreateDataChannel()
		if err != nil {
			_ = peer.Close()
			return fmt.Errorf("create data channel: %w", err)
		}
		s.proto.Bind(WrapDataChannel(dc))
	} else {
		peer.OnDataChannel(func(dc *webrtc.DataChannel) {
			s.proto.Bind(WrapDataChannel(dc))
		})
	}

	s.neg = rtc.NewNegotiator(peer, isHost)
	s.neg.OnDescription(func(desc webrtc.SessionDescription) {
		msg := protocol.SDPMessage{RoomID: s.roomID, SDP: desc.SDP}
		switch desc.Type {
		case webrtc.SDPTypeOffer:
			msg.Type = protocol.TypeOffer
		case webrtc.SDPTypeAnswer:
			msg.Type = protocol.TypeAnswer
		}
		if err := s.sig.Send(msg); err != nil {
			log.Error().Err(err).Str("module", "client.session").Msg("send description")
		}
	})
	s.neg.OnCandidate(func(ci webrtc.ICECandidateInit) {
		msg := protocol.CandidateMessage{
			Type:      protocol.TypeICECandidate,
			RoomID:    s.roomID,
			Candidate: protocol.CandidateFromPion(ci),
		}
		if err := s.sig.Send(msg); err != nil {
			log.Error().Err(err).Str("module", "client.session").Msg("send candidate")
		}
	})
	s.neg.OnStateChange(func(st rtc.State) {
		switch st {
		case rtc.StateConnected:
			s.updateGates(boolPtr(true), nil)
		case rtc.StateDisconnected:
			s.updateGates(boolPtr(false), nil)
		}
	})

	if err := s.sig.Connect(ctx, serverURL); err != nil {
		_ = peer.Close()
		return err
	}

	join := protocol.JoinRoom{
		Type:     protocol.TypeJoinRoom,
		RoomID:   roomID,
		IsHost:   isHost,
		Username: username,
	}
	if err := s.sig.Send(join); err != nil {
		_ = peer.Close()
		s.sig.Close()
		return err
	}

	s.setStatus(StatusConnecting)
	s.neg.Start()

	go s.dispatch()
	return nil
}

// dispatch routes relayed signaling messages into the negotiator and surface
// callbacks. Negotiation errors are logged, never fatal (the session stalls
// in connecting until the caller disconnects).
func (s *SessionController) dispatch() {
	for data := range s.sig.Incoming() {
		var head protocol.Head
		if err := json.Unmarshal(data, &head); err != nil {
			log.Error().Err(err).Str("module", "client.session").Msg("bad signaling json")
			continue
		}

		switch head.Type {
		case protocol.TypeRoomJoined:
			var m protocol.RoomJoined
			if err := json.Unmarshal(data, &m); err == nil {
				log.Info().Str("module", "client.session").Str("room", m.RoomID).Int("peer_count", m.PeerCount).Bool("is_host", m.IsHost).Msg("room joined")
			}

		case protocol.TypeReadyToConnect:
			if err := s.neg.HandleReadyToConnect(); err != nil {
				log.Warn().Err(err).Str("module", "client.session").Msg("ready-to-connect dropped")
			}

		case protocol.TypeOffer:
			var m protocol.SDPMessage
			if err := json.Unmarshal(data, &m); err != nil {
				log.Error().Err(err).Str("module", "client.session").Msg("bad offer payload")
				continue
			}
			desc, err := m.ToPion()
			if err != nil {
				log.Error().Err(err).Str("module", "client.session").Msg("bad offer sdp")
				continue
			}
			if err := s.neg.HandleOffer(desc); err != nil {
				log.Warn().Err(err).Str("module", "client.session").Msg("offer rejected")
			}

		case protocol.TypeAnswer:
			var m protocol.SDPMessage
			if err := json.Unmarshal(data, &m); err != nil {
				log.Error().Err(err).Str("module", "client.session").Msg("bad answer payload")
				continue
			}
			desc, err := m.ToPion()
			if err != nil {
				log.Error().Err(err).Str("module", "client.session").Msg("bad answer sdp")
				continue
			}
			if err := s.neg.HandleAnswer(desc); err != nil {
				log.Warn().Err(err).Str("module", "client.session").Msg("answer rejected")
			}

		case protocol.TypeICECandidate:
			var m protocol.CandidateMessage
			if err := json.Unmarshal(data, &m); err != nil {
				log.Error().Err(err).Str("module", "client.session").Msg("bad candidate payload")
				continue
			}
			if err := s.neg.HandleRemoteCandidate(m.Candidate.ToPion()); err != nil {
				log.Warn().Err(err).Str("module", "client.session").Msg("candidate rejected")
			}

		case protocol.TypePeerJoined:
			var m protocol.PeerJoined
			if err := json.Unmarshal(data, &m); err == nil && s.onPeerJoin != nil {
				s.onPeerJoin(PeerEvent{PeerID: m.PeerID, Username: m.Username, PeerCount: m.PeerCount})
			}

		case protocol.TypePeerLeft:
			var m protocol.PeerLeft
			if err := json.Unmarshal(data, &m); err == nil && s.onPeerLeft != nil {
				s.onPeerLeft(PeerEvent{PeerID: m.PeerID, Username: m.Username, PeerCount: m.PeerCount})
			}

		case protocol.TypeError:
			var m protocol.ErrorMessage
			if err := json.Unmarshal(data, &m); err == nil {
				log.Warn().Str("module", "client.session").Str("error", m.Error).Msg("server error")
				if s.onError != nil {
					s.onError(m.Error)
				}
			}

		default:
			log.Debug().Str("module", "client.session").Str("type", string(head.Type)).Msg("unhandled signal")
		}
	}
}

// SendChat transmits a chat line; a no-op while the session is not connected.
func (s *SessionController) SendChat(text string) {
	s.proto.SendChat(text, s.username)
}

// SyncPlayback transmits a playback command; a no-op while not connected.
func (s *SessionController) SyncPlayback(action, videoID string, currentTime *float64) {
	s.proto.SyncPlayback(action, videoID, currentTime)
}

// Disconnect tears the session down: data channel first, then the peer
// transport, then the signaling connection. This order keeps the leave-room
// notification off an already-closed transport.
func (s *SessionController) Disconnect() {
	s.proto.Close()
	if s.peer != nil {
		_ = s.peer.Close()
	}
	if err := s.sig.Send(protocol.LeaveRoom{Type: protocol.TypeLeaveRoom, RoomID: s.roomID}); err != nil {
		log.Debug().Err(err).Str("module", "client.session").Msg("leave-room not sent")
	}
	s.sig.Close()
	s.setStatus(StatusDisconnected)
}

func boolPtr(b bool) *bool { return &b }

// updateGates recomputes the session status from the two gates. Either gate
// reporting a drop (transport failure or channel close) is terminal, no
// matter what the other gate says.
func (s *SessionController) updateGates(transportUp, channelOpen *bool) {
	s.mu.Lock()
	if transportUp != nil {
		s.transportUp = *transportUp
	}
	if channelOpen != nil {
		s.channelOpen = *channelOpen
	}

	next := s.status
	switch {
	case s.status == StatusDisconnected:
		// terminal
	case s.transportUp && s.channelOpen:
		next = StatusConnected
	case s.status == StatusConnected:
		next = StatusDisconnected
	case (transportUp != nil && !*transportUp) || (channelOpen != nil && !*channelOpen):
		next = StatusDisconnected
	}
	changed := next != s.status
	s.status = next
	fn := s.onStatus
	s.mu.Unlock()

	if changed {
		log.Info().Str("module", "client.session").Str("status", next.String()).Msg("session status")
		if fn != nil {
			fn(next)
		}
	}
}

func (s *SessionController) setStatus(st Status) {
	s.mu.Lock()
	if s.status == st || (s.status == StatusDisconnected && st != StatusDisconnected) {
		s.mu.Unlock()
		return
	}
	s.status = st
	fn := s.onStatus
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
