// Package server assembles the relay's routes and middleware chain.
package server

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/xinbao/pkg/relay/config"
	"github.com/vango-go/xinbao/pkg/relay/handlers"
	"github.com/vango-go/xinbao/pkg/relay/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes(handlers.New(cfg, logger))
	return s
}

func (s *Server) routes(h *handlers.Handlers) {
	s.mux.HandleFunc("GET /healthz", h.Health)
	s.mux.HandleFunc("GET /readyz", h.Ready)

	s.mux.HandleFunc("POST /chat", h.Chat)
	s.mux.HandleFunc("POST /stt", h.STT)
	s.mux.HandleFunc("POST /tts", h.TTS)
	s.mux.HandleFunc("GET /stt/live", h.LiveSTT)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
