package rtc

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

// fakeTransport records the order of calls made against it and lets tests
// drive connection state transitions by hand.
type fakeTransport struct {
	calls      []string
	candidates []webrtc.ICECandidateInit

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)

	failSetRemote bool
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.calls = append(f.calls, "CreateOffer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.calls = append(f.calls, "CreateAnswer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (f *fakeTransport) SetLocalDescription(webrtc.SessionDescription) error {
	f.calls = append(f.calls, "SetLocalDescription")
	return nil
}

func (f *fakeTransport) SetRemoteDescription(webrtc.SessionDescription) error {
	f.calls = append(f.calls, "SetRemoteDescription")
	if f.failSetRemote {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	f.calls = append(f.calls, "AddICECandidate")
	f.candidates = append(f.candidates, ci)
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onCandidate = fn }

func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.onState = fn
}

func (f *fakeTransport) Close() error { return nil }

func offer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}
}

func answer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestHostOfferFlow(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNegotiator(ft, true)

	var emitted []webrtc.SessionDescription
	n.OnDescription(func(d webrtc.SessionDescription) { emitted = append(emitted, d) })
	n.Start()

	if n.State() != StateConnecting {
		t.Fatalf("state after Start: %s", n.State())
	}

	if err := n.HandleReadyToConnect(); err != nil {
		t.Fatalf("HandleReadyToConnect: %v", err)
	}
	want := []string{"CreateOffer", "SetLocalDescription"}
	if len(ft.calls) != len(want) {
		t.Fatalf("calls: got %v want %v", ft.calls, want)
	}
	for i := range want {
		if ft.calls[i] != want[i] {
			t.Fatalf("call %d: got %s want %s", i, ft.calls[i], want[i])
		}
	}
	if len(emitted) != 1 || emitted[0].Type != webrtc.SDPTypeOffer {
		t.Fatalf("emitted: got %v", emitted)
	}

	// A repeated trigger never produces a second offer.
	if err := n.HandleReadyToConnect(); !errors.Is(err, ErrDuplicateTrigger) {
		t.Fatalf("duplicate trigger: got %v", err)
	}
	if len(emitted) != 1 {
		t.Fatalf("second offer emitted: %v", emitted)
	}

	if err := n.HandleAnswer(answer()); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	if ft.calls[len(ft.calls)-1] != "SetRemoteDescription" {
		t.Fatalf("calls: %v", ft.calls)
	}
}

func TestGuestAnswerSequenceOrder(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNegotiator(ft, false)

	var emitted []webrtc.SessionDescription
	n.OnDescription(func(d webrtc.SessionDescription) { emitted = append(emitted, d) })
	n.Start()

	if err := n.HandleOffer(offer()); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	want := []string{"SetRemoteDescription", "CreateAnswer", "SetLocalDescription"}
	if len(ft.calls) != len(want) {
		t.Fatalf("calls: got %v want %v", ft.calls, want)
	}
	for i := range want {
		if ft.calls[i] != want[i] {
			t.Fatalf("call %d: got %s want %s", i, ft.calls[i], want[i])
		}
	}
	if len(emitted) != 1 || emitted[0].Type != webrtc.SDPTypeAnswer {
		t.Fatalf("emitted: got %v", emitted)
	}
}

func TestRoleViolations(t *testing.T) {
	host := NewNegotiator(&fakeTransport{}, true)
	host.Start()
	if err := host.HandleOffer(offer()); !errors.Is(err, ErrUnexpectedOffer) {
		t.Fatalf("host HandleOffer: got %v", err)
	}

	guest := NewNegotiator(&fakeTransport{}, false)
	guest.Start()
	if err := guest.HandleReadyToConnect(); !errors.Is(err, ErrGuestCannotOffer) {
		t.Fatalf("guest trigger: got %v", err)
	}
	if err := guest.HandleAnswer(answer()); !errors.Is(err, ErrUnexpectedAnswer) {
		t.Fatalf("guest unsolicited answer: got %v", err)
	}
}

func TestSecondOfferRejected(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNegotiator(ft, false)
	n.Start()

	if err := n.HandleOffer(offer()); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	if err := n.HandleOffer(offer()); !errors.Is(err, ErrExchangeComplete) {
		t.Fatalf("second offer: got %v", err)
	}
}

func TestDuplicateAnswerRejected(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNegotiator(ft, true)
	n.Start()

	if err := n.HandleReadyToConnect(); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := n.HandleAnswer(answer()); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if err := n.HandleAnswer(answer()); !errors.Is(err, ErrExchangeComplete) {
		t.Fatalf("second answer: got %v", err)
	}
}

func TestTriggerBeforeStartRejected(t *testing.T) {
	n := NewNegotiator(&fakeTransport{}, true)
	if err := n.HandleReadyToConnect(); !errors.Is(err, ErrNotConnecting) {
		t.Fatalf("trigger while idle: got %v", err)
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNegotiator(ft, false)
	n.Start()

	// Trickle ICE can outrun the offer on the relay.
	if err := n.HandleRemoteCandidate(candidate("c1")); err != nil {
		t.Fatalf("buffer c1: %v", err)
	}
	if err := n.HandleRemoteCandidate(candidate("c2")); err != nil {
		t.Fatalf("buffer c2: %v", err)
	}
	if len(ft.candidates) != 0 {
		t.Fatalf("candidates applied early: %v", ft.candidates)
	}

	if err := n.HandleOffer(offer()); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if len(ft.candidates) != 2 || ft.candidates[0].Candidate != "c1" || ft.candidates[1].Candidate != "c2" {
		t.Fatalf("flushed candidates: %v", ft.candidates)
	}

	// After the remote description, candidates apply immediately.
	if err := n.HandleRemoteCandidate(candidate("c3")); err != nil {
		t.Fatalf("apply c3: %v", err)
	}
	if len(ft.candidates) != 3 {
		t.Fatalf("candidates: %v", ft.candidates)
	}
}

func TestLocalCandidatesForwarded(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNegotiator(ft, true)

	var got []webrtc.ICECandidateInit
	n.OnCandidate(func(ci webrtc.ICECandidateInit) { got = append(got, ci) })
	n.Start()

	ft.onCandidate(candidate("local-1"))
	ft.onCandidate(candidate("local-2"))
	if len(got) != 2 || got[0].Candidate != "local-1" {
		t.Fatalf("forwarded: %v", got)
	}
}

func TestConnectionStateMapping(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNegotiator(ft, true)

	var states []State
	n.OnStateChange(func(s State) { states = append(states, s) })
	n.Start()

	ft.onState(webrtc.PeerConnectionStateConnected)
	if n.State() != StateConnected {
		t.Fatalf("state: %s", n.State())
	}

	ft.onState(webrtc.PeerConnectionStateFailed)
	if n.State() != StateDisconnected {
		t.Fatalf("state: %s", n.State())
	}

	// Disconnected is terminal, nothing brings the machine back.
	ft.onState(webrtc.PeerConnectionStateConnected)
	if n.State() != StateDisconnected {
		t.Fatalf("state after terminal: %s", n.State())
	}

	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("observed states: %v want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state %d: got %s want %s", i, states[i], want[i])
		}
	}
}

func TestOfferAfterDisconnectRejected(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNegotiator(ft, false)
	n.Start()

	ft.onState(webrtc.PeerConnectionStateClosed)
	if err := n.HandleOffer(offer()); !errors.Is(err, ErrNotConnecting) {
		t.Fatalf("offer after disconnect: got %v", err)
	}

	// Late candidates are swallowed, not errors.
	if err := n.HandleRemoteCandidate(candidate("late")); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if len(ft.candidates) != 0 {
		t.Fatalf("late candidate applied: %v", ft.candidates)
	}
}

func TestSetRemoteFailureLeavesExchangeOpen(t *testing.T) {
	ft := &fakeTransport{failSetRemote: true}
	n := NewNegotiator(ft, false)
	n.Start()

	if err := n.HandleOffer(offer()); err == nil {
		t.Fatal("expected error from failing transport")
	}

	// The failure must not mark the exchange complete; a retried offer runs
	// the full sequence again.
	ft.failSetRemote = false
	if err := n.HandleOffer(offer()); err != nil {
		t.Fatalf("retried offer: %v", err)
	}
}
