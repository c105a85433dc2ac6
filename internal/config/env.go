package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file.
const (
	EnvTwitchToken   = "STREAMHUB_TWITCH_TOKEN"
	EnvDiscordToken  = "STREAMHUB_DISCORD_TOKEN"
	EnvTelegramToken = "STREAMHUB_TELEGRAM_TOKEN"
	EnvWebhookToken  = "STREAMHUB_WEBHOOK_TOKEN"
	EnvAPIToken      = "STREAMHUB_API_TOKEN"
)

// LoadDotEnv loads a .env file if present. Existing variables are not overridden.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func applyEnv(cfg *Config) {
	if v := env(EnvTwitchToken); v != "" {
		cfg.Twitch.Token = v
	}
	if v := env(EnvWebhookToken); v != "" {
		cfg.Webhook.Token = v
	}
	if v := env(EnvAPIToken); v != "" {
		cfg.HTTP.APIToken = v
	}
	if v := env(EnvDiscordToken); v != "" && cfg.Discord != nil {
		cfg.Discord.Token = v
	}
	if v := env(EnvTelegramToken); v != "" && cfg.Telegram != nil {
		cfg.Telegram.Token = v
	}
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }
