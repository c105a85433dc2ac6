package catalog

import "regexp"

// Media lists the assets an overlay plays with an entry.
type Media struct {
	Sound string `json:"sound,omitempty"`
	Video string `json:"video,omitempty"`
	Image string `json:"image,omitempty"`
	TTS   bool   `json:"tts,omitempty"`
}

// CounterRule adds to a user counter when an event is persisted. By is
// "one" (add 1, the default) or "count" (add the event count).
type CounterRule struct {
	Counter string `json:"counter"`
	By      string `json:"by,omitempty"`
}

// EventEntry describes how an event type is announced and recorded.
type EventEntry struct {
	Message        Template         `json:"message,omitempty"`
	IsAnnouncement bool             `json:"isAnnouncement,omitempty"`
	DisableOnFocus bool             `json:"disableOnFocus,omitempty"`
	SaveEvent      bool             `json:"saveEvent,omitempty"`
	IsCommand      bool             `json:"isCommand,omitempty"`
	External       bool             `json:"external,omitempty"`
	Extra          Localized        `json:"extra,omitempty"`
	OBSCommands    []map[string]any `json:"obsCommands,omitempty"`

	Media
	// Counters overrides the built-in counter rules for the type. An empty
	// non-nil list disables counting.
	Counters []CounterRule `json:"counters,omitempty"`
	// Match is a regexp for chatscore-* entries, tested against chat text.
	Match string `json:"match,omitempty"`

	match *regexp.Regexp
}

// Matches reports whether text triggers this chatscore entry.
func (e *EventEntry) Matches(text string) bool {
	return e != nil && e.match != nil && e.match.MatchString(text)
}

// CommandEntry describes a chat command.
type CommandEntry struct {
	Aliases          []string `json:"aliases,omitempty"`
	Cooldown         int      `json:"cooldown,omitempty"` // seconds
	OnlyMods         bool     `json:"onlyMods,omitempty"`
	DisableOnFocus   bool     `json:"disableOnFocus,omitempty"`
	DisableIfOffline bool     `json:"disableIfOffline,omitempty"`
	Message          Template `json:"message,omitempty"`

	Media

	// Handler names a registered Go handler; defaults to the command name.
	Handler string `json:"handler,omitempty"`
}
