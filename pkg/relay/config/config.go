// Package config loads the relay's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	MaxBodyBytes int64

	// Chat upstream (OpenAI-compatible chat completions).
	ChatBaseURL string
	ChatAPIKey  string
	ChatModel   string

	// Speech upstreams.
	STTBaseURL string
	STTAPIKey  string
	STTModel   string
	TTSBaseURL string
	TTSAPIKey  string
	TTSModel   string
	TTSVoice   string

	// Live dictation socket.
	LiveMaxAudioFrameBytes    int
	LiveSilenceCommitDuration time.Duration
	LiveWSWriteTimeout        time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("XINBAO_RELAY_ADDR", ":8090"),
		CORSAllowedOrigins:            make(map[string]struct{}),
		MaxBodyBytes:                  envInt64Or("XINBAO_RELAY_MAX_BODY_BYTES", 8<<20), // 8 MiB
		ChatBaseURL:                   envOr("XINBAO_CHAT_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		ChatAPIKey:                    strings.TrimSpace(os.Getenv("XINBAO_CHAT_API_KEY")),
		ChatModel:                     envOr("XINBAO_CHAT_MODEL", "qwen-plus"),
		STTBaseURL:                    envOr("XINBAO_STT_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		STTAPIKey:                     strings.TrimSpace(os.Getenv("XINBAO_STT_API_KEY")),
		STTModel:                      envOr("XINBAO_STT_MODEL", "paraformer-v1"),
		TTSBaseURL:                    envOr("XINBAO_TTS_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		TTSAPIKey:                     strings.TrimSpace(os.Getenv("XINBAO_TTS_API_KEY")),
		TTSModel:                      envOr("XINBAO_TTS_MODEL", "qwen3-tts-flash"),
		TTSVoice:                      envOr("XINBAO_TTS_VOICE", "loongbella"),
		LiveMaxAudioFrameBytes:        envIntOr("XINBAO_LIVE_MAX_AUDIO_FRAME_BYTES", 8192),
		LiveSilenceCommitDuration:     envDurationOr("XINBAO_LIVE_SILENCE_COMMIT", 600*time.Millisecond),
		LiveWSWriteTimeout:            envDurationOr("XINBAO_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:             envDurationOr("XINBAO_RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("XINBAO_RELAY_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:           envDurationOr("XINBAO_RELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("XINBAO_RELAY_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("XINBAO_RELAY_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("XINBAO_RELAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("XINBAO_RELAY_MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.ChatBaseURL) == "" {
		return Config{}, fmt.Errorf("XINBAO_CHAT_BASE_URL must not be empty")
	}
	if cfg.ChatAPIKey == "" {
		return Config{}, fmt.Errorf("XINBAO_CHAT_API_KEY is required")
	}
	if strings.TrimSpace(cfg.ChatModel) == "" {
		return Config{}, fmt.Errorf("XINBAO_CHAT_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.STTBaseURL) == "" {
		return Config{}, fmt.Errorf("XINBAO_STT_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.TTSBaseURL) == "" {
		return Config{}, fmt.Errorf("XINBAO_TTS_BASE_URL must not be empty")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("XINBAO_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveSilenceCommitDuration <= 0 {
		return Config{}, fmt.Errorf("XINBAO_LIVE_SILENCE_COMMIT must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("XINBAO_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("XINBAO_RELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("XINBAO_RELAY_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("XINBAO_RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("XINBAO_RELAY_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("XINBAO_RELAY_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	// Speech keys default to the chat key so a single credential covers a
	// DashScope-style deployment.
	if cfg.STTAPIKey == "" {
		cfg.STTAPIKey = cfg.ChatAPIKey
	}
	if cfg.TTSAPIKey == "" {
		cfg.TTSAPIKey = cfg.ChatAPIKey
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
