// Package config loads engine configuration from the environment, reading a
// local .env file first when present.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	// GroqAPIKey authorizes the raw-HTTP chat-completions provider.
	GroqAPIKey string `env:"GROQ_API_KEY"`
	// OpenAIAPIKey authorizes the openai provider and the realtime voice
	// endpoint.
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`

	ChatModel     string        `env:"DRILL_CHAT_MODEL"`
	RealtimeURL   string        `env:"DRILL_REALTIME_URL" envDefault:"wss://api.openai.com/v1/realtime"`
	RealtimeVoice string        `env:"DRILL_REALTIME_VOICE" envDefault:"alloy"`
	SessionTTL    time.Duration `env:"DRILL_SESSION_TTL" envDefault:"2h"`
}

// Load reads .env (if any) and parses the environment. A missing .env file
// is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
