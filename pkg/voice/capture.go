package voice

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
)

// micCapture reads raw PCM from an ffmpeg process attached to the default
// microphone.
type micCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func newMicCapture() (*micCapture, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for voice capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micFFmpegArgs(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	return &micCapture{cmd: cmd, stdout: stdout}, nil
}

func micFFmpegArgs(goos string) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", MicSampleRate),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", MicSampleRate),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("voice capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

func (m *micCapture) Read(p []byte) (int, error) {
	if m == nil || m.stdout == nil {
		return 0, io.EOF
	}
	return m.stdout.Read(p)
}

func (m *micCapture) Close() error {
	if m == nil {
		return nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}

// Recorder captures one utterance at a time: Start spins up the microphone
// and buffers PCM until Stop, which returns the recording as a WAV blob.
type Recorder struct {
	mu      sync.Mutex
	mic     *micCapture
	done    chan struct{}
	buf     []byte
	readErr error
}

// Start begins buffering microphone audio. A second Start without an
// intervening Stop is an error.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mic != nil {
		return errors.New("voice: recording already in progress")
	}

	mic, err := newMicCapture()
	if err != nil {
		return err
	}
	r.mic = mic
	r.buf = r.buf[:0]
	r.readErr = nil
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		chunk := make([]byte, 4096)
		for {
			n, err := mic.Read(chunk)
			if n > 0 {
				r.mu.Lock()
				r.buf = append(r.buf, chunk[:n]...)
				r.mu.Unlock()
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					r.mu.Lock()
					r.readErr = err
					r.mu.Unlock()
				}
				return
			}
		}
	}(r.done)
	return nil
}

// Stop ends the recording and returns the captured audio as WAV bytes.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	mic := r.mic
	done := r.done
	r.mic = nil
	r.mu.Unlock()
	if mic == nil {
		return nil, errors.New("voice: no recording in progress")
	}

	_ = mic.Close()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, fmt.Errorf("mic read: %w", r.readErr)
	}
	if len(r.buf) == 0 {
		return nil, ErrNoSpeech
	}
	return EncodeWAV(r.buf, MicSampleRate), nil
}

// Recording reports whether a capture is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mic != nil
}
