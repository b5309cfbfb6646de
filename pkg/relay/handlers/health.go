package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Ready reports whether the relay's configuration is usable. Misconfiguration
// is surfaced as issues rather than hidden behind a bare 500.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK     bool     `json:"ok"`
		Model  string   `json:"model"`
		Issues []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if h.cfg.ChatAPIKey == "" {
		issues = append(issues, "chat api key not configured")
	}
	if strings.TrimSpace(h.cfg.ChatBaseURL) == "" {
		issues = append(issues, "chat base url not configured")
	}
	if h.cfg.STTAPIKey == "" {
		issues = append(issues, "stt api key not configured")
	}
	if h.cfg.TTSAPIKey == "" {
		issues = append(issues, "tts api key not configured")
	}

	resp := readyResp{OK: len(issues) == 0, Model: h.cfg.ChatModel, Issues: issues}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if !resp.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
