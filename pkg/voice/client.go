// Package voice implements the speech side of xinbao: microphone capture,
// transcription and synthesis through the relay, and spoken playback.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ErrNoSpeech is returned when transcription produced no text.
var ErrNoSpeech = errors.New("voice: no speech recognized")

// Client calls the relay's speech endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a speech client for the relay at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Transcribe sends recorded audio to the relay and returns the recognized
// text. Empty transcriptions report ErrNoSpeech.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "audio."+format)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stt", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", relayStatusError("stt", resp)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// Synthesize converts text to audio bytes via the relay. Markdown noise is
// stripped first so it is not read aloud.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	cleaned := CleanForSpeech(text)
	if cleaned == "" {
		return nil, errors.New("voice: nothing to synthesize")
	}

	body, err := json.Marshal(map[string]string{"text": cleaned})
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, relayStatusError("tts", resp)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("voice: empty audio from relay")
	}
	return audio, nil
}

func relayStatusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return fmt.Errorf("%s failed (status %d): %s", op, resp.StatusCode, envelope.Error.Message)
	}
	return fmt.Errorf("%s failed (status %d)", op, resp.StatusCode)
}

var (
	markdownNoise = regexp.MustCompile("[#*`_~\\[\\]()]")

	// Anchored to line starts, and a dot must be followed by whitespace, so
	// decimals like "3.5" survive.
	listNumbers = regexp.MustCompile(`(?m)^\s*\d+(\.\s+|、\s*)`)
)

// CleanForSpeech strips markdown markers and list numbering that would
// otherwise be read aloud, and collapses the leftover whitespace.
func CleanForSpeech(text string) string {
	text = markdownNoise.ReplaceAllString(text, "")
	text = listNumbers.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}
