package config

import (
	"reflect"
	"strings"

	logx "streamhub/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens are never logged, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Channel != newCfg.Channel {
		changed = append(changed, "channel")
		attrs = append(attrs,
			logx.String("channel.name", newCfg.Channel.Name),
			logx.String("channel.language", newCfg.Channel.Language),
		)
	}
	if oldCfg.Twitch.Username != newCfg.Twitch.Username ||
		(oldCfg.Twitch.Token != "") != (newCfg.Twitch.Token != "") ||
		oldCfg.Twitch.ReconnectDelay != newCfg.Twitch.ReconnectDelay ||
		oldCfg.Twitch.ReconnectMaxDelay != newCfg.Twitch.ReconnectMaxDelay {
		changed = append(changed, "twitch")
		attrs = append(attrs, logx.Bool("twitch.token_set", newCfg.Twitch.Token != ""))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Catalog != newCfg.Catalog {
		changed = append(changed, "catalog")
		attrs = append(attrs,
			logx.String("catalog.events", strings.TrimSpace(newCfg.Catalog.Events)),
			logx.String("catalog.commands", strings.TrimSpace(newCfg.Catalog.Commands)),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
	}
	if !reflect.DeepEqual(oldCfg.Webhook, newCfg.Webhook) {
		changed = append(changed, "webhook")
	}
	if !reflect.DeepEqual(oldCfg.Discord, newCfg.Discord) || !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "announce")
	}
	if !reflect.DeepEqual(oldCfg.Timers, newCfg.Timers) {
		changed = append(changed, "timers")
		attrs = append(attrs, logx.Int("timers.count", len(newCfg.Timers)))
	}
	return changed, attrs
}

// RestartRequired reports sections whose changes only apply after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "twitch", "storage", "http", "announce":
			out = append(out, s)
		}
	}
	return out
}
