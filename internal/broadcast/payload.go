package broadcast

import (
	"streamhub/internal/catalog"
	"streamhub/internal/identity"
	"streamhub/internal/state"
)

// Payload types that are not event or command names.
const (
	TypeCommand = "command"
	TypeState   = "state"
	TypePong    = "pong"
	TypePing    = "ping"
)

// Payload is the message delivered to live clients. It only carries plain
// values, never platform objects.
type Payload struct {
	Key         string           `json:"key"`
	Type        string           `json:"type"`
	User        string           `json:"user,omitempty"`
	UserID      string           `json:"userId,omitempty"`
	Text        string           `json:"text,omitempty"`
	Count       int64            `json:"count,omitempty"`
	Color       string           `json:"color,omitempty"`
	Sound       string           `json:"sound,omitempty"`
	Video       string           `json:"video,omitempty"`
	Image       string           `json:"image,omitempty"`
	TTS         bool             `json:"tts,omitempty"`
	Extra       string           `json:"extra,omitempty"`
	OBSCommands []map[string]any `json:"obsCommands,omitempty"`
	SaveEvent   bool             `json:"saveEvent"`
	// Command is set on "command" payloads.
	Command string          `json:"command,omitempty"`
	State   *state.Snapshot `json:"state,omitempty"`
}

// Input describes one broadcast. Chat, when non-empty, is also routed to
// the chat renderer and, if External, to external announcers.
type Input struct {
	Type        string
	User        *identity.User
	Text        string
	Count       int64
	Media       catalog.Media
	Extra       string
	OBSCommands []map[string]any
	SaveEvent   bool
	Command     string
	State       *state.Snapshot

	Chat         string
	Announcement bool
	External     bool
}

func (in Input) payload(key string) Payload {
	p := Payload{
		Key:         key,
		Type:        in.Type,
		Text:        in.Text,
		Count:       in.Count,
		Sound:       in.Media.Sound,
		Video:       in.Media.Video,
		Image:       in.Media.Image,
		TTS:         in.Media.TTS,
		Extra:       in.Extra,
		OBSCommands: in.OBSCommands,
		SaveEvent:   in.SaveEvent,
		Command:     in.Command,
		State:       in.State,
	}
	if in.User != nil {
		p.User = in.User.Label()
		p.UserID = in.User.ID
		p.Color = in.User.Color
	}
	return p
}
