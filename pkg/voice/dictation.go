package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transcriptFrame is one message from the relay's live transcription socket.
type transcriptFrame struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// DictationSession streams microphone audio to the relay over a websocket
// and auto-submits recognized speech after a pause. It is the hands-free
// counterpart to the push-to-talk Exchange.
type DictationSession struct {
	sender   Sender
	logger   *slog.Logger
	debounce time.Duration

	// OnPartial, when set, observes interim transcript text for display.
	OnPartial func(text string)

	mu      sync.Mutex
	pending []string
	conn    *websocket.Conn
	mic     io.ReadCloser
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// writeMu serializes the mic pump and Stop's close frame on the socket.
	writeMu sync.Mutex
}

// DictationOption configures a session.
type DictationOption func(*DictationSession)

// WithDebounce overrides the silence window before auto-submit.
func WithDebounce(d time.Duration) DictationOption {
	return func(s *DictationSession) { s.debounce = d }
}

// WithDictationLogger sets the logger for socket and submit failures.
func WithDictationLogger(logger *slog.Logger) DictationOption {
	return func(s *DictationSession) { s.logger = logger }
}

// NewDictationSession creates an idle session that submits utterances to
// sender once started.
func NewDictationSession(sender Sender, opts ...DictationOption) *DictationSession {
	s := &DictationSession{
		sender:   sender,
		debounce: DefaultDictationDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Start connects to the relay's live transcription endpoint (ws[s]://.../stt/live),
// begins streaming the microphone and keeps running until Stop or a
// connection failure.
func (s *DictationSession) Start(ctx context.Context, relayWSURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return errors.New("voice: dictation already running")
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, relayWSURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dictation connect (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dictation connect: %w", err)
	}

	mic, err := newMicCapture()
	if err != nil {
		conn.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.mic = mic
	s.cancel = cancel
	s.pending = nil

	submit := newDebouncer(s.debounce, func() { s.flush(runCtx) })

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf := make([]byte, 4096)
		for runCtx.Err() == nil {
			n, readErr := mic.Read(buf)
			if n > 0 {
				s.writeMu.Lock()
				err := conn.WriteMessage(websocket.BinaryMessage, buf[:n])
				s.writeMu.Unlock()
				if err != nil {
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer submit.Stop()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if runCtx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.warn("dictation socket closed", "error", err)
				}
				return
			}
			var frame transcriptFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			text := strings.TrimSpace(frame.Text)
			if text == "" {
				continue
			}
			if s.OnPartial != nil {
				s.OnPartial(text)
			}
			if frame.Final {
				s.mu.Lock()
				s.pending = append(s.pending, text)
				s.mu.Unlock()
				submit.Trigger()
			}
		}
	}()
	return nil
}

// flush submits the accumulated utterances as one chat turn.
func (s *DictationSession) flush(ctx context.Context) {
	s.mu.Lock()
	text := strings.Join(s.pending, " ")
	s.pending = nil
	s.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := s.sender.Send(ctx, text); err != nil {
		s.warn("dictation send failed", "error", err)
	}
}

// Stop ends the session and tears down the socket and microphone.
func (s *DictationSession) Stop() {
	s.mu.Lock()
	conn := s.conn
	mic := s.mic
	cancel := s.cancel
	s.conn = nil
	s.mic = nil
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if mic != nil {
		_ = mic.Close()
	}
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	s.wg.Wait()
}

// Running reports whether the session is active.
func (s *DictationSession) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *DictationSession) warn(msg string, args ...any) {
	s.logger.Warn(msg, args...)
}
