package config

// Config is the process configuration. Event and command catalogs live in
// their own files (see CatalogConfig) and reload independently.
type Config struct {
	Channel  ChannelConfig   `json:"channel"`
	Twitch   TwitchConfig    `json:"twitch"`
	Logging  LoggingConfig   `json:"logging"`
	Storage  StorageConfig   `json:"storage"`
	Catalog  CatalogConfig   `json:"catalog"`
	HTTP     HTTPConfig      `json:"http"`
	Notifier NotifierConfig  `json:"notifier"`
	Webhook  WebhookConfig   `json:"webhook"`
	Discord  *DiscordConfig  `json:"discord,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Timers   []TimerConfig   `json:"timers,omitempty"`
}

// ChannelConfig identifies the primary channel. Its owner bypasses the kill
// switch and command permissions.
type ChannelConfig struct {
	Name     string `json:"name"`
	OwnerID  string `json:"owner_id"`
	Language string `json:"language,omitempty"` // default: "en"
	// DefaultColor is used when no color is known for a user.
	DefaultColor string `json:"default_color,omitempty"`
}

// TwitchConfig configures the chat connection. Token may be supplied via
// STREAMHUB_TWITCH_TOKEN instead of the file.
type TwitchConfig struct {
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
	// ReconnectDelay is a Go duration string; default "5s".
	ReconnectDelay string `json:"reconnect_delay,omitempty"`
	// ReconnectMaxDelay caps the reconnect delay; default "1m".
	ReconnectMaxDelay string `json:"reconnect_max_delay,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/streamhub.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// DedupScanLimit bounds the event-log scan used for duplicate detection.
	// 0 scans the whole log.
	DedupScanLimit int `json:"dedup_scan_limit,omitempty"`
}

type CatalogConfig struct {
	Events   string `json:"events"`
	Commands string `json:"commands"`
}

type HTTPConfig struct {
	Addr string `json:"addr"` // default "127.0.0.1:8080"
	// RequestsPerMinute limits /api and /webhook per client IP; 0 disables.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
	// APIToken, when set, is required as a bearer token on /api.
	APIToken string `json:"api_token,omitempty"`
	// CORSOrigins lists browser origins allowed to call /api.
	CORSOrigins []string `json:"cors_origins,omitempty"`
	// Pprof mounts runtime profiling under /debug, behind APIToken.
	Pprof bool `json:"pprof,omitempty"`
}

// NotifierConfig controls the rate-limited outbound chat queue.
type NotifierConfig struct {
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
	// RetryMaxDelay caps the retry backoff; default "10s".
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	// DedupWindow drops a line identical to one queued within the window.
	// Empty or "0s" disables it.
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// WebhookConfig controls the donation webhook decoder.
type WebhookConfig struct {
	Token string `json:"token,omitempty"`
	// TestSender is the sender name providers use for test deliveries.
	TestSender string `json:"test_sender,omitempty"`
	// Types maps a provider "type" value (case-insensitive) to an event type.
	Types map[string]string `json:"types,omitempty"`
}

type DiscordConfig struct {
	Token     string `json:"token,omitempty"`
	ChannelID string `json:"channel_id"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id"`
}

// TimerConfig fires a command on a schedule through the command dispatcher.
type TimerConfig struct {
	Name    string `json:"name"`
	Spec    string `json:"spec"` // "cron:0 */15 * * * *", "every:15m", "21:00", "@hourly"
	Command string `json:"command"`
}
