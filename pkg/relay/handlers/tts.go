package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/vango-go/xinbao/pkg/relay/apierror"
)

type ttsRequest struct {
	Text string `json:"text"`
}

// upstreamTTSRequest is the OpenAI-compatible speech body. Model and voice
// are pinned server-side.
type upstreamTTSRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// TTS synthesizes text and returns the audio bytes unmodified.
func (h *Handlers) TTS(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	var req ttsRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, apierror.NewInvalidRequestError("request body too large", ""))
			return
		}
		h.writeError(w, r, apierror.NewInvalidRequestError("invalid JSON body", ""))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.writeError(w, r, apierror.NewInvalidRequestError("text must not be empty", "text"))
		return
	}

	out, err := json.Marshal(upstreamTTSRequest{
		Model: h.cfg.TTSModel,
		Input: req.Text,
		Voice: h.cfg.TTSVoice,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		strings.TrimRight(h.cfg.TTSBaseURL, "/")+"/audio/speech", bytes.NewReader(out))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("Authorization", "Bearer "+h.cfg.TTSAPIKey)

	resp, err := h.upstream.Do(upReq)
	if err != nil {
		h.logger.Warn("tts upstream request failed", "error", err)
		h.writeError(w, r, apierror.NewUpstreamError("tts upstream unreachable", 0))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg := upstreamErrorMessage(resp.Body)
		h.logger.Warn("tts upstream error", "status", resp.StatusCode, "message", msg)
		h.writeError(w, r, apierror.NewUpstreamError(msg, resp.StatusCode))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil && r.Context().Err() == nil {
		h.logger.Warn("tts response copy interrupted", "error", err)
	}
}
