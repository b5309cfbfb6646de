// Package handlers implements the relay's HTTP endpoints: a streaming chat
// passthrough, speech-to-text, text-to-speech and live dictation.
package handlers

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/vango-go/xinbao/pkg/relay/apierror"
	"github.com/vango-go/xinbao/pkg/relay/config"
	"github.com/vango-go/xinbao/pkg/relay/mw"
)

// Handlers carries the shared state of all endpoints.
type Handlers struct {
	cfg      config.Config
	logger   *slog.Logger
	upstream *http.Client
}

// New creates the handler set. The upstream client has no overall timeout;
// chat responses stream for as long as the model keeps talking.
func New(cfg config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: cfg.UpstreamConnectTimeout}).DialContext,
		MaxIdleConns:          100,
		ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
	}
	return &Handlers{
		cfg:      cfg,
		logger:   logger,
		upstream: &http.Client{Transport: transport},
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apiErr, status := apierror.FromError(err, reqID)
	mw.WriteJSONError(w, status, apiErr)
}
