// Command xinbao is the terminal companion client: streaming chat with
// persistent sessions, plus optional voice input and spoken replies through
// the relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vango-go/xinbao/pkg/chat"
	"github.com/vango-go/xinbao/pkg/voice"
)

const (
	defaultRelayURL = "http://127.0.0.1:8090"
	defaultTimeout  = 90 * time.Second
)

type appConfig struct {
	RelayURL        string
	StatePath       string
	Timeout         time.Duration
	DictateDebounce time.Duration
}

func parseAppConfig(args []string, getenv func(string) string) (appConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := appConfig{}
	fs := flag.NewFlagSet("xinbao", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	relayDefault := strings.TrimSpace(getenv("XINBAO_RELAY_URL"))
	if relayDefault == "" {
		relayDefault = defaultRelayURL
	}
	fs.StringVar(&cfg.RelayURL, "relay-url", relayDefault, "relay base URL (or XINBAO_RELAY_URL)")
	fs.StringVar(&cfg.StatePath, "state", strings.TrimSpace(getenv("XINBAO_STATE_PATH")), "state file path (default: per-user config dir)")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "per-turn timeout (e.g. 90s)")
	fs.DurationVar(&cfg.DictateDebounce, "dictate-debounce", voice.DefaultDictationDebounce, "silence before dictated text auto-sends")

	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}

	if err := validateAppConfig(&cfg); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func validateAppConfig(cfg *appConfig) error {
	cfg.RelayURL = strings.TrimSpace(cfg.RelayURL)
	if cfg.RelayURL == "" {
		return errors.New("relay-url must not be empty")
	}
	relayURL, err := url.Parse(cfg.RelayURL)
	if err != nil || strings.TrimSpace(relayURL.Scheme) == "" || strings.TrimSpace(relayURL.Host) == "" {
		return errors.New("relay-url must be a valid absolute URL")
	}
	if relayURL.User != nil {
		return errors.New("relay-url must not include credentials")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if cfg.DictateDebounce <= 0 {
		return errors.New("dictate-debounce must be > 0")
	}

	if cfg.StatePath == "" {
		path, err := chat.DefaultStatePath()
		if err != nil {
			return fmt.Errorf("resolve state path: %w", err)
		}
		cfg.StatePath = path
	}
	return nil
}

// dictationURL converts the relay base URL to the websocket endpoint.
func dictationURL(relayURL string) string {
	ws := strings.TrimRight(relayURL, "/")
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/stt/live"
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "xinbao: load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseAppConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xinbao: %v\n", err)
		os.Exit(1)
	}

	if err := runApp(context.Background(), cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "xinbao: %v\n", err)
		os.Exit(1)
	}
}
