package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/xinbao/pkg/chat/turn"
)

// fakeRelay serves a fixed streaming chat reply in the relay wire format.
func fakeRelay(t *testing.T, reply ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		flusher := w.(http.Flusher)
		for _, token := range reply {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", token)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func testAppConfig(t *testing.T, relayURL string) appConfig {
	t.Helper()
	return appConfig{
		RelayURL:        relayURL,
		StatePath:       filepath.Join(t.TempDir(), "state.json"),
		Timeout:         5 * time.Second,
		DictateDebounce: 100 * time.Millisecond,
	}
}

func runScript(t *testing.T, cfg appConfig, script string) string {
	t.Helper()
	var out strings.Builder
	err := runApp(context.Background(), cfg, strings.NewReader(script), &out, &out)
	if err != nil {
		t.Fatalf("runApp: %v\noutput:\n%s", err, out.String())
	}
	return out.String()
}

func TestRunAppConsentGate(t *testing.T) {
	srv := fakeRelay(t, "leaked reply")
	defer srv.Close()
	cfg := testAppConfig(t, srv.URL)

	out := runScript(t, cfg, "hello\n/quit\n")
	if !strings.Contains(out, "/agree") {
		t.Errorf("output missing consent notice:\n%s", out)
	}
	if strings.Contains(out, "leaked reply") {
		t.Errorf("reply streamed before consent:\n%s", out)
	}
}

func TestRunAppChatTurn(t *testing.T) {
	srv := fakeRelay(t, "Hello", " there!")
	defer srv.Close()
	cfg := testAppConfig(t, srv.URL)

	out := runScript(t, cfg, "/agree\nhello\n/quit\n")
	if !strings.Contains(out, "Hello there!") {
		t.Errorf("output missing streamed reply:\n%s", out)
	}

	// Consent and the turn survive a restart from the same state file.
	out = runScript(t, cfg, "/list\n/quit\n")
	if strings.Contains(out, "/agree to accept") {
		t.Errorf("consent notice shown again after restart:\n%s", out)
	}
	if !strings.Contains(out, "(2 messages)") {
		t.Errorf("restart lost the conversation:\n%s", out)
	}
}

func TestRunAppRendersFallbackOnRelayFailure(t *testing.T) {
	// A relay that is down must still leave the user with the apology text.
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	cfg := testAppConfig(t, srv.URL)

	out := runScript(t, cfg, "/agree\nhello\n/quit\n")
	if !strings.Contains(out, turn.FallbackReply) {
		t.Errorf("fallback reply not rendered:\n%s", out)
	}
}

func TestRunAppSessionCommands(t *testing.T) {
	srv := fakeRelay(t, "ok")
	defer srv.Close()
	cfg := testAppConfig(t, srv.URL)

	out := runScript(t, cfg, "/agree\n/new\n/rename weekend plans\n/list\n/switch 2\n/quit\n")
	if !strings.Contains(out, `renamed to "weekend plans"`) {
		t.Errorf("rename feedback missing:\n%s", out)
	}
	if !strings.Contains(out, "weekend plans (0 messages)") {
		t.Errorf("list missing renamed session:\n%s", out)
	}
	if !strings.Contains(out, "*  1.") {
		t.Errorf("list missing active marker:\n%s", out)
	}
	if !strings.Contains(out, `switched to`) {
		t.Errorf("switch feedback missing:\n%s", out)
	}
}

func TestRunAppUnknownCommand(t *testing.T) {
	srv := fakeRelay(t, "ok")
	defer srv.Close()
	cfg := testAppConfig(t, srv.URL)

	out := runScript(t, cfg, "/bogus\n/quit\n")
	if !strings.Contains(out, "unknown command /bogus") {
		t.Errorf("unknown command not reported:\n%s", out)
	}
}

func TestRunAppExport(t *testing.T) {
	srv := fakeRelay(t, "An answer.")
	defer srv.Close()
	cfg := testAppConfig(t, srv.URL)

	path := filepath.Join(t.TempDir(), "chat.md")
	out := runScript(t, cfg, "/agree\na question\n/export "+path+"\n/quit\n")
	if !strings.Contains(out, "exported to "+path) {
		t.Errorf("export feedback missing:\n%s", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	md := string(data)
	if !strings.Contains(md, "**You:** a question") || !strings.Contains(md, "**Xinbao:** An answer.") {
		t.Errorf("export content wrong:\n%s", md)
	}
}
