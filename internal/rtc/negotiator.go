package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// State is the negotiation state machine. Disconnected is terminal: a
// Negotiator is never reused, a new session builds a fresh one.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnecting    = errors.New("negotiator: not in connecting state")
	ErrDuplicateOffer   = errors.New("negotiator: offer while description exchange in flight")
	ErrUnexpectedOffer  = errors.New("negotiator: offer received by host")
	ErrUnexpectedAnswer = errors.New("negotiator: answer without outstanding offer")
	ErrDuplicateTrigger = errors.New("negotiator: ready-to-connect while offer already sent")
	ErrGuestCannotOffer = errors.New("negotiator: guest may not initiate an offer")
	ErrExchangeComplete = errors.New("negotiator: description exchange already complete")
)

// Negotiator runs one offer/answer/ICE exchange over a PeerTransport. All
// Handle* methods are serialized by an internal mutex; transport state
// callbacks from pion go through the same lock.
type Negotiator struct {
	mu sync.Mutex

	pt     PeerTransport
	isHost bool
	state  State

	inFlight   bool // a description-set sequence is executing
	offerSent  bool
	haveRemote bool
	pending    []webrtc.ICECandidateInit

	onDescription func(webrtc.SessionDescription)
	onCandidate   func(webrtc.ICECandidateInit)
	onState       func(State)
}

func NewNegotiator(pt PeerTransport, isHost bool) *Negotiator {
	return &Negotiator{pt: pt, isHost: isHost, state: StateIdle}
}

// OnDescription registers the sink for locally created offers/answers; the
// description's Type field tells them apart.
func (n *Negotiator) OnDescription(fn func(webrtc.SessionDescription)) { n.onDescription = fn }

// OnCandidate registers the sink for locally gathered ICE candidates.
// Emission is fire-and-forget.
func (n *Negotiator) OnCandidate(fn func(webrtc.ICECandidateInit)) { n.onCandidate = fn }

// OnStateChange registers the state observer. Called outside the lock.
func (n *Negotiator) OnStateChange(fn func(State)) { n.onState = fn }

func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Start moves idle → connecting and wires transport callbacks. Call right
// after the join-room registration is sent.
func (n *Negotiator) Start() {
	n.pt.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if n.onCandidate != nil {
			n.onCandidate(ci)
		}
	})
	n.pt.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("transport state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			n.setState(StateConnected)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			n.setState(StateDisconnected)
		}
	})
	n.setState(StateConnecting)
}

// HandleReadyToConnect is the sole offer trigger, host only. A repeated
// trigger while an offer is already out is dropped, never a second offer.
func (n *Negotiator) HandleReadyToConnect() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.isHost {
		return ErrGuestCannotOffer
	}
	if n.state != StateConnecting {
		return ErrNotConnecting
	}
	if n.offerSent || n.inFlight {
		return ErrDuplicateTrigger
	}

	n.inFlight = true
	offer, err := n.pt.CreateOffer()
	if err != nil {
		n.inFlight = false
		log.Error().Err(err).Str("module", "rtc").Msg("create offer")
		return err
	}
	if err := n.pt.SetLocalDescription(offer); err != nil {
		n.inFlight = false
		log.Error().Err(err).Str("module", "rtc").Msg("set local offer")
		return err
	}
	n.offerSent = true
	n.inFlight = false

	if n.onDescription != nil {
		n.onDescription(offer)
	}
	return nil
}

// HandleOffer runs the guest's answer sequence, strictly in order: set
// remote, create answer, set local, emit. An offer arriving while a sequence
// is in flight is a protocol violation and is rejected.
func (n *Negotiator) HandleOffer(offer webrtc.SessionDescription) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isHost {
		return ErrUnexpectedOffer
	}
	if n.state != StateConnecting {
		return ErrNotConnecting
	}
	if n.inFlight {
		return ErrDuplicateOffer
	}
	if n.haveRemote {
		return ErrExchangeComplete
	}

	n.inFlight = true
	defer func() { n.inFlight = false }()

	if err := n.pt.SetRemoteDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("set remote offer")
		return err
	}
	answer, err := n.pt.CreateAnswer()
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("create answer")
		return err
	}
	if err := n.pt.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("set local answer")
		return err
	}

	n.haveRemote = true
	n.flushPendingLocked()

	if n.onDescription != nil {
		n.onDescription(answer)
	}
	return nil
}

// HandleAnswer completes the host's description exchange.
func (n *Negotiator) HandleAnswer(answer webrtc.SessionDescription) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.offerSent {
		return ErrUnexpectedAnswer
	}
	if n.haveRemote {
		return ErrExchangeComplete
	}
	if err := n.pt.SetRemoteDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("set remote answer")
		return err
	}
	n.haveRemote = true
	n.flushPendingLocked()
	return nil
}

// HandleRemoteCandidate applies a relayed candidate, buffering it when the
// remote description is not set yet (trickle ICE arrives in any order).
func (n *Negotiator) HandleRemoteCandidate(ci webrtc.ICECandidateInit) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateDisconnected {
		return nil
	}
	if !n.haveRemote {
		n.pending = append(n.pending, ci)
		return nil
	}
	if err := n.pt.AddICECandidate(ci); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("add ice candidate")
		return err
	}
	return nil
}

func (n *Negotiator) flushPendingLocked() {
	for _, ci := range n.pending {
		if err := n.pt.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("flush buffered candidate")
		}
	}
	n.pending = nil
}

func (n *Negotiator) setState(s State) {
	n.mu.Lock()
	if n.state == StateDisconnected || n.state == s {
		n.mu.Unlock()
		return
	}
	n.state = s
	fn := n.onState
	n.mu.Unlock()

	log.Info().Str("module", "rtc").Str("state", s.String()).Msg("negotiation state")
	if fn != nil {
		fn(s)
	}
}
