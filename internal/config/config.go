package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the voice gateway.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	JanitorInterval          time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// TokenURL is the trusted backend endpoint that mints ephemeral
	// credentials. The long-lived provider key never lives in this process.
	TokenURL string

	// SignalingBaseURL is the realtime provider's API root; the SDP exchange
	// posts to <base>/v1/realtime/calls.
	SignalingBaseURL string

	Model               string
	Voice               string
	Speed               float64
	SampleRate          int
	InstructionsContext string
	SideChannelLabel    string
	ICEGatherTimeout    time.Duration
	AutoConnect         bool

	// TransportMode selects the peer implementation: "pion" for a real
	// connection, "mock" for a network-free loop used in development.
	TransportMode string
	ICEServers    []string
}

// Load reads a local .env if present, then environment variables, and
// applies safe defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "astraea"),
		AllowAnyOrigin:      false,
		TokenURL:            envOrDefault("ASTRAEA_TOKEN_URL", "http://localhost:5050/token"),
		SignalingBaseURL:    envOrDefault("ASTRAEA_SIGNALING_BASE_URL", "https://api.openai.com"),
		Model:               envOrDefault("ASTRAEA_MODEL", "gpt-realtime"),
		Voice:               envOrDefault("ASTRAEA_VOICE", "marin"),
		Speed:               1.0,
		SampleRate:          24000,
		InstructionsContext: stringsTrimSpace("ASTRAEA_INSTRUCTIONS_CONTEXT"),
		SideChannelLabel:    envOrDefault("ASTRAEA_SIDE_CHANNEL_LABEL", "oai-events"),
		TransportMode:       envOrDefault("ASTRAEA_TRANSPORT", "pion"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		JanitorInterval:          30 * time.Second,
		ICEGatherTimeout:         5 * time.Second,
	}

	if raw := stringsTrimSpace("ASTRAEA_ICE_SERVERS"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = trimSpace(u); u != "" {
				cfg.ICEServers = append(cfg.ICEServers, u)
			}
		}
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("APP_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ICEGatherTimeout, err = durationFromEnv("ASTRAEA_ICE_GATHER_TIMEOUT", cfg.ICEGatherTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoConnect, err = boolFromEnv("ASTRAEA_AUTO_CONNECT", cfg.AutoConnect)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("ASTRAEA_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.Speed, err = floatFromEnv("ASTRAEA_SPEED", cfg.Speed)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("ASTRAEA_SAMPLE_RATE must be positive")
	}
	if cfg.Speed < 0.25 || cfg.Speed > 1.5 {
		return Config{}, fmt.Errorf("ASTRAEA_SPEED must be between 0.25 and 1.5")
	}
	switch cfg.TransportMode {
	case "pion", "mock":
	default:
		return Config{}, fmt.Errorf("ASTRAEA_TRANSPORT must be pion or mock")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
