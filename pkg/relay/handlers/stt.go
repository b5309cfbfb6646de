package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/vango-go/xinbao/pkg/relay/apierror"
)

// STT accepts recorded audio as a multipart upload and returns the
// transcription as {"text": ...}.
func (h *Handlers) STT(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, apierror.NewInvalidRequestError("missing audio upload", "file"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, apierror.NewInvalidRequestError("unreadable audio upload", "file"))
		return
	}
	if len(audio) == 0 {
		h.writeError(w, r, apierror.NewInvalidRequestError("empty audio upload", "file"))
		return
	}

	text, err := h.transcribe(r.Context(), audio, header.Filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
}

// transcribe rewraps audio into the upstream transcription call. Shared by
// the one-shot STT endpoint and the live dictation socket.
func (h *Handlers) transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.wav"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", h.cfg.STTModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(h.cfg.STTBaseURL, "/")+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+h.cfg.STTAPIKey)

	resp, err := h.upstream.Do(req)
	if err != nil {
		h.logger.Warn("stt upstream request failed", "error", err)
		return "", apierror.NewUpstreamError("stt upstream unreachable", 0)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg := upstreamErrorMessage(resp.Body)
		h.logger.Warn("stt upstream error", "status", resp.StatusCode, "message", msg)
		return "", apierror.NewUpstreamError(msg, resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode stt upstream response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
