// Package protocol models the wire surface shared by the signaling server
// and the client: WebSocket signaling messages and the data-channel envelope.
// It deliberately keeps SDP/ICE payloads as plain JSON-friendly structs; only
// the client converts them to pion types.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type SignalType string

const (
	TypeJoinRoom       SignalType = "join-room"
	TypeRoomJoined     SignalType = "room-joined"
	TypePeerJoined     SignalType = "peer-joined"
	TypeReadyToConnect SignalType = "ready-to-connect"
	TypeOffer          SignalType = "offer"
	TypeAnswer         SignalType = "answer"
	TypeICECandidate   SignalType = "ice-candidate"
	TypeLeaveRoom      SignalType = "leave-room"
	TypePeerLeft       SignalType = "peer-left"
	TypeError          SignalType = "error"
)

// Head is the discriminator prefix of every signaling message. The relay
// parses only this much before deciding how to route.
type Head struct {
	Type   SignalType `json:"type"`
	RoomID string     `json:"roomId,omitempty"`
}

type JoinRoom struct {
	Type     SignalType `json:"type"`
	RoomID   string     `json:"roomId"`
	IsHost   bool       `json:"isHost"`
	Username string     `json:"username,omitempty"`
}

type RoomJoined struct {
	Type      SignalType `json:"type"`
	RoomID    string     `json:"roomId"`
	PeerCount int        `json:"peerCount"`
	IsHost    bool       `json:"isHost"`
}

type PeerJoined struct {
	Type      SignalType `json:"type"`
	PeerID    string     `json:"peerId"`
	PeerCount int        `json:"peerCount"`
	Username  string     `json:"username"`
}

type ReadyToConnect struct {
	Type SignalType `json:"type"`
}

type LeaveRoom struct {
	Type   SignalType `json:"type"`
	RoomID string     `json:"roomId"`
}

type PeerLeft struct {
	Type      SignalType `json:"type"`
	PeerID    string     `json:"peerId"`
	PeerCount int        `json:"peerCount"`
	Username  string     `json:"username"`
}

type ErrorMessage struct {
	Type  SignalType `json:"type"`
	Error string     `json:"error"`
}

// SDPMessage carries an offer or answer. RoomID is set by the sender and
// stripped by the relay; PeerID is injected by the relay on the way out.
type SDPMessage struct {
	Type   SignalType `json:"type"`
	RoomID string     `json:"roomId,omitempty"`
	SDP    string     `json:"sdp"`
	PeerID string     `json:"peerId,omitempty"`
}

type CandidateMessage struct {
	Type      SignalType `json:"type"`
	RoomID    string     `json:"roomId,omitempty"`
	Candidate Candidate  `json:"candidate"`
	PeerID    string     `json:"peerId,omitempty"`
}

// Candidate mirrors webrtc.ICECandidateInit without committing the server to
// a pion dependency for relaying.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func (m SDPMessage) ToPion() (webrtc.SessionDescription, error) {
	switch m.Type {
	case TypeOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}, nil
	case TypeAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp message type %q", m.Type)
	}
}

// Readdress rewrites a negotiation message for broadcast: the sender's peer
// id is injected and the routing-only roomId is stripped. Everything else,
// SDP and ICE contents included, passes through untouched.
func Readdress(raw []byte, senderID string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("readdress: %w", err)
	}
	id, err := json.Marshal(senderID)
	if err != nil {
		return nil, fmt.Errorf("readdress: %w", err)
	}
	fields["peerId"] = id
	delete(fields, "roomId")
	return json.Marshal(fields)
}
