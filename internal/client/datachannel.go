package client

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mkarev/CoWatch/internal/protocol"
)

// Channel abstracts the pion data channel so the protocol layer can be
// tested with an in-memory fake.
type Channel interface {
	Send([]byte) error
	OnMessage(func([]byte))
	OnOpen(func())
	OnClose(func())
	Close() error
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

// WrapDataChannel adapts a pion data channel to the Channel interface.
func WrapDataChannel(dc *webrtc.DataChannel) Channel {
	return &pionChannel{dc: dc}
}

func (p *pionChannel) Send(data []byte) error { return p.dc.SendText(string(data)) }

func (p *pionChannel) OnOpen(fn func()) { p.dc.OnOpen(fn) }

func (p *pionChannel) OnClose(fn func()) { p.dc.OnClose(fn) }

func (p *pionChannel) Close() error { return p.dc.Close() }

func (p *pionChannel) OnMessage(fn func([]byte)) {
	p.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// DataChannelProtocol speaks the envelope protocol over an established
// channel. Outbound sends are silent no-ops until the channel opens and
// after it closes; nothing is queued.
type DataChannelProtocol struct {
	mu   sync.RWMutex
	ch   Channel
	open bool

	onChat  func(protocol.Envelope)
	onSync  func(protocol.Envelope)
	onOpen  func()
	onClose func()
}

func NewDataChannelProtocol() *DataChannelProtocol {
	return &DataChannelProtocol{}
}

func (d *DataChannelProtocol) OnChat(fn func(protocol.Envelope)) { d.onChat = fn }

func (d *DataChannelProtocol) OnPlayerSync(fn func(protocol.Envelope)) { d.onSync = fn }

func (d *DataChannelProtocol) OnOpen(fn func()) { d.onOpen = fn }

func (d *DataChannelProtocol) OnClose(fn func()) { d.onClose = fn }

// Bind attaches the protocol to a channel. The host binds the channel it
// created; the guest binds the one announced by the remote side.
func (d *DataChannelProtocol) Bind(ch Channel) {
	d.mu.Lock()
	d.ch = ch
	d.mu.Unlock()

	ch.OnOpen(func() {
		d.mu.Lock()
		d.open = true
		d.mu.Unlock()
		log.Info().Str("module", "client.datachannel").Msg("channel open")
		if d.onOpen != nil {
			d.onOpen()
		}
	})
	ch.OnClose(func() {
		d.mu.Lock()
		d.open = false
		d.mu.Unlock()
		log.Info().Str("module", "client.datachannel").Msg("channel closed")
		if d.onClose != nil {
			d.onClose()
		}
	})
	ch.OnMessage(d.handleMessage)
}

// IsOpen reports whether the channel is currently usable.
func (d *DataChannelProtocol) IsOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.open
}

func (d *DataChannelProtocol) handleMessage(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "client.datachannel").Msg("malformed envelope dropped")
		return
	}
	if err := env.Validate(); err != nil {
		log.Error().Err(err).Str("module", "client.datachannel").Msg("invalid envelope dropped")
		return
	}

	switch env.Kind {
	case protocol.KindChat:
		if d.onChat != nil {
			d.onChat(env)
		}
	case protocol.KindPlayerSync:
		if d.onSync != nil {
			d.onSync(env)
		}
	default:
		// Forward-compatible no-op.
		log.Debug().Str("module", "client.datachannel").Str("kind", env.Kind).Msg("unknown envelope kind ignored")
	}
}

// SendChat transmits a chat envelope if the channel is open.
func (d *DataChannelProtocol) SendChat(text, sender string) {
	d.send(protocol.NewChat(text, sender))
}

// SyncPlayback transmits a player-sync envelope if the channel is open.
func (d *DataChannelProtocol) SyncPlayback(action, videoID string, currentTime *float64) {
	d.send(protocol.NewPlayerSync(action, videoID, currentTime))
}

func (d *DataChannelProtocol) send(env protocol.Envelope) {
	d.mu.RLock()
	ch, open := d.ch, d.open
	d.mu.RUnlock()
	if ch == nil || !open {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "client.datachannel").Msg("marshal envelope")
		return
	}
	if err := ch.Send(b); err != nil {
		log.Error().Err(err).Str("module", "client.datachannel").Msg("send envelope")
	}
}

// Close shuts the channel down if one is bound.
func (d *DataChannelProtocol) Close() {
	d.mu.RLock()
	ch := d.ch
	d.mu.RUnlock()
	if ch != nil {
		_ = ch.Close()
	}
}
