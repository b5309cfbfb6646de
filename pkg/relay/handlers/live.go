package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/xinbao/pkg/voice"
)

// liveTranscript is the relay-to-client frame on the dictation socket.
type liveTranscript struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// LiveSTT upgrades to a websocket carrying raw PCM (mono 16 kHz s16le)
// upstream and transcripts downstream. An utterance is committed when no
// audio arrives for the configured silence window.
func (h *Handlers) LiveSTT(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true // non-browser client
			}
			_, ok := h.cfg.CORSAllowedOrigins[origin]
			return ok
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.logger.Warn("dictation upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(int64(h.cfg.LiveMaxAudioFrameBytes))

	session := &liveSession{
		h:    h,
		conn: conn,
		ctx:  r.Context(),
	}
	session.run()
}

type liveSession struct {
	h    *Handlers
	conn *websocket.Conn
	ctx  context.Context

	mu      sync.Mutex
	pcm     []byte
	commit  *time.Timer
	closing bool
}

func (s *liveSession) run() {
	defer s.stopCommitTimer()
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && s.ctx.Err() == nil {
				s.h.logger.Warn("dictation socket read failed", "error", err)
			}
			// Commit whatever is buffered before the peer goes away.
			s.commitUtterance()
			return
		}
		if msgType == websocket.TextMessage {
			// Control frames from the client.
			switch strings.TrimSpace(string(data)) {
			case "commit":
				s.stopPendingCommit()
				s.commitUtterance()
			case "close":
				s.stopPendingCommit()
				s.commitUtterance()
				_ = s.writeClose()
				return
			}
			continue
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		s.mu.Lock()
		s.pcm = append(s.pcm, data...)
		if s.commit != nil {
			s.commit.Stop()
		}
		s.commit = time.AfterFunc(s.h.cfg.LiveSilenceCommitDuration, s.commitUtterance)
		s.mu.Unlock()
	}
}

// commitUtterance transcribes the buffered audio and pushes the transcript.
// Runs on silence, and once more when the socket closes.
func (s *liveSession) commitUtterance() {
	s.mu.Lock()
	if s.closing || len(s.pcm) == 0 {
		s.mu.Unlock()
		return
	}
	pcm := s.pcm
	s.pcm = nil
	s.mu.Unlock()

	wav := voice.EncodeWAV(pcm, voice.MicSampleRate)
	text, err := s.h.transcribe(s.ctx, wav, "utterance.wav")
	if err != nil {
		s.h.logger.Warn("dictation transcribe failed", "error", err)
		return
	}
	if text == "" {
		return
	}
	if err := s.write(liveTranscript{Text: text, Final: true}); err != nil {
		s.h.logger.Warn("dictation transcript write failed", "error", err)
	}
}

// write and writeClose are the only paths that touch the connection for
// writing; the mutex serializes them against the commit timer goroutine.
func (s *liveSession) write(frame liveTranscript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.h.cfg.LiveWSWriteTimeout))
	return s.conn.WriteJSON(frame)
}

func (s *liveSession) writeClose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.h.cfg.LiveWSWriteTimeout))
	return s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// stopPendingCommit cancels a scheduled silence commit without closing the
// session, so an explicit commit does not race the timer.
func (s *liveSession) stopPendingCommit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commit != nil {
		s.commit.Stop()
	}
}

func (s *liveSession) stopCommitTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	if s.commit != nil {
		s.commit.Stop()
	}
}
