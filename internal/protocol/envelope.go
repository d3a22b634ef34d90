package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Envelope kinds carried over the data channel. Unknown kinds are ignored by
// receivers so the protocol stays forward-compatible.
const (
	KindChat       = "chat"
	KindPlayerSync = "player-sync"
)

// Playback actions understood by the embedded player.
const (
	ActionPlay      = "play"
	ActionPause     = "pause"
	ActionSeek      = "seek"
	ActionLoadVideo = "loadVideo"
)

var (
	errMissingKind   = errors.New("envelope: missing kind")
	errMissingText   = errors.New("envelope: chat without text")
	errMissingAction = errors.New("envelope: player-sync without action")
	errMissingVideo  = errors.New("envelope: loadVideo without videoId")
	errMissingTime   = errors.New("envelope: seek without currentTime")
)

// Envelope is the single wire unit on the data channel, a discriminated
// union over Kind. Immutable once constructed; never persisted.
type Envelope struct {
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	Action      string   `json:"action,omitempty"`
	VideoID     string   `json:"videoId,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
}

func NewChat(text, sender string) Envelope {
	return Envelope{
		Kind:      KindChat,
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func NewPlayerSync(action, videoID string, currentTime *float64) Envelope {
	return Envelope{
		Kind:        KindPlayerSync,
		Action:      action,
		VideoID:     videoID,
		CurrentTime: currentTime,
	}
}

// Validate checks the fields required for the known kinds. An unknown kind
// is not an error here; dispatch drops it silently.
func (e Envelope) Validate() error {
	switch e.Kind {
	case "":
		return errMissingKind
	case KindChat:
		if e.Text == "" {
			return errMissingText
		}
	case KindPlayerSync:
		switch e.Action {
		case "":
			return errMissingAction
		case ActionLoadVideo:
			if e.VideoID == "" {
				return errMissingVideo
			}
		case ActionSeek:
			if e.CurrentTime == nil {
				return errMissingTime
			}
		case ActionPlay, ActionPause:
		default:
			return fmt.Errorf("envelope: unknown player-sync action %q", e.Action)
		}
	}
	return nil
}
