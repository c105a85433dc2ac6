package app

import (
	"fmt"
	"strings"
	"time"

	"streamhub/internal/config"
	"streamhub/internal/httpapi"
	"streamhub/internal/notifier"
	"streamhub/internal/scheduler"
	"streamhub/internal/storage"
	"streamhub/internal/transport/twitch"
	logx "streamhub/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 || nc.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier values must be >= 0")
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: nc.DedupMaxEntries,
	}, nil
}

func mapTwitchConfig(cfg *config.Config) (twitch.Config, error) {
	delay, err := config.ParseDurationOrDefault("twitch.reconnect_delay", cfg.Twitch.ReconnectDelay, 5*time.Second)
	if err != nil {
		return twitch.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("twitch.reconnect_max_delay", cfg.Twitch.ReconnectMaxDelay, time.Minute)
	if err != nil {
		return twitch.Config{}, err
	}
	return twitch.Config{
		Username:          cfg.Twitch.Username,
		Token:             cfg.Twitch.Token,
		Channel:           cfg.Channel.Name,
		ReconnectDelay:    delay,
		ReconnectMaxDelay: maxDelay,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	return httpapi.Config{
		RequestsPerMinute: cfg.HTTP.RequestsPerMinute,
		APIToken:          cfg.HTTP.APIToken,
		CORSOrigins:       cfg.HTTP.CORSOrigins,
		Pprof:             cfg.HTTP.Pprof,
	}
}

func mapTimers(cfg *config.Config) []scheduler.Timer {
	out := make([]scheduler.Timer, 0, len(cfg.Timers))
	for _, t := range cfg.Timers {
		out = append(out, scheduler.Timer{Name: t.Name, Spec: t.Spec, Command: t.Command})
	}
	return out
}
