// Package rtc drives the client side of the WebRTC handshake: a thin pion
// wrapper plus the negotiation state machine that enforces offer/answer
// ordering.
package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DataChannelLabel names the single channel carrying chat and sync traffic.
const DataChannelLabel = "cowatch"

// PeerTransport abstracts the underlying peer connection so the negotiator
// can be exercised without a network stack.
type PeerTransport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

// Peer is the pion-backed PeerTransport. One Peer per session; never reused.
type Peer struct {
	pc *webrtc.PeerConnection
}

func NewPeer(stunServers []string) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	})
	if err != nil {
		return nil, err
	}
	return &Peer{pc: pc}, nil
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

func (p *Peer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(ci)
}

// OnICECandidate forwards locally gathered candidates. A nil candidate marks
// the end of gathering and is swallowed here.
func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

// CreateDataChannel opens the host-side channel. Ordered delivery: chat and
// sync commands are low-rate and order matters for seek-then-play.
func (p *Peer) CreateDataChannel() (*webrtc.DataChannel, error) {
	return p.pc.CreateDataChannel(DataChannelLabel, nil)
}

// OnDataChannel registers the guest-side callback for the announced channel.
func (p *Peer) OnDataChannel(fn func(*webrtc.DataChannel)) {
	p.pc.OnDataChannel(fn)
}

func (p *Peer) Close() error {
	if err := p.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("peer close error")
		return err
	}
	return nil
}
