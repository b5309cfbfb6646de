package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vango-go/xinbao/pkg/relay/apierror"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// upstreamChatRequest is the OpenAI-compatible body the relay forwards. The
// model is pinned server-side; clients never choose it.
type upstreamChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// Chat proxies a chat completion to the upstream and streams the SSE
// response back to the client line by line.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	var req chatRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, apierror.NewInvalidRequestError("request body too large", ""))
			return
		}
		h.writeError(w, r, apierror.NewInvalidRequestError("invalid JSON body", ""))
		return
	}
	if len(req.Messages) == 0 {
		h.writeError(w, r, apierror.NewInvalidRequestError("messages must not be empty", "messages"))
		return
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "user", "assistant", "system":
		default:
			h.writeError(w, r, apierror.NewInvalidRequestError(
				fmt.Sprintf("unknown role %q", m.Role), fmt.Sprintf("messages[%d].role", i)))
			return
		}
	}

	out, err := json.Marshal(upstreamChatRequest{
		Model:    h.cfg.ChatModel,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		strings.TrimRight(h.cfg.ChatBaseURL, "/")+"/chat/completions", bytes.NewReader(out))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("Authorization", "Bearer "+h.cfg.ChatAPIKey)
	upReq.Header.Set("Accept", "text/event-stream")

	resp, err := h.upstream.Do(upReq)
	if err != nil {
		h.logger.Warn("chat upstream request failed", "error", err)
		h.writeError(w, r, apierror.NewUpstreamError("chat upstream unreachable", 0))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := upstreamErrorMessage(resp.Body)
		h.logger.Warn("chat upstream error", "status", resp.StatusCode, "message", msg)
		h.writeError(w, r, apierror.NewUpstreamError(msg, resp.StatusCode))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, errors.New("response writer does not support flushing"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if _, werr := io.WriteString(w, line); werr != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF && r.Context().Err() == nil {
				h.logger.Warn("chat upstream stream interrupted", "error", err)
			}
			return
		}
	}
}

// upstreamErrorMessage extracts a human-readable message from an upstream
// error body, tolerating both enveloped and plain-text responses.
func upstreamErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 8<<10))
	if err != nil {
		return "upstream error"
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if s := strings.TrimSpace(string(data)); s != "" && len(s) < 512 {
		return s
	}
	return "upstream error"
}
