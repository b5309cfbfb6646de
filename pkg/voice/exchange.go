package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Status describes the voice exchange state machine.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
)

// Transcriber converts recorded audio (WAV) to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Sender submits the transcribed text as a chat turn.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Exchange drives one push-to-talk voice turn: record, transcribe, submit.
// Spoken playback of the reply is the orchestrator's concern; a failure at
// any stage returns the exchange to idle without disturbing the chat.
type Exchange struct {
	recorder    *Recorder
	transcriber Transcriber
	sender      Sender

	// OnStatus, when set, observes every status change.
	OnStatus func(Status)

	mu     sync.Mutex
	status Status
}

// NewExchange wires a recorder to the transcriber and the chat sender.
func NewExchange(transcriber Transcriber, sender Sender) *Exchange {
	return &Exchange{
		recorder:    &Recorder{},
		transcriber: transcriber,
		sender:      sender,
		status:      StatusIdle,
	}
}

// Status returns the current exchange state.
func (e *Exchange) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Exchange) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	cb := e.OnStatus
	e.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// SetSpeaking reflects reply playback, which runs inside the sender while a
// turn is finishing. Wire it to Speaker.OnPlayback. It only toggles between
// processing and speaking; any other state is left alone.
func (e *Exchange) SetSpeaking(on bool) {
	e.mu.Lock()
	var next Status
	switch {
	case on && e.status == StatusProcessing:
		next = StatusSpeaking
	case !on && e.status == StatusSpeaking:
		next = StatusProcessing
	default:
		e.mu.Unlock()
		return
	}
	e.status = next
	cb := e.OnStatus
	e.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}

// Begin starts recording. Only valid from idle.
func (e *Exchange) Begin() error {
	e.mu.Lock()
	if e.status != StatusIdle {
		status := e.status
		e.mu.Unlock()
		return fmt.Errorf("voice: cannot start recording while %s", status)
	}
	e.mu.Unlock()

	if err := e.recorder.Start(); err != nil {
		return err
	}
	e.setStatus(StatusRecording)
	return nil
}

// Finish stops recording, transcribes the utterance and submits it as a chat
// turn. Silence (ErrNoSpeech) is reported to the caller but leaves the chat
// untouched.
func (e *Exchange) Finish(ctx context.Context) error {
	e.mu.Lock()
	if e.status != StatusRecording {
		status := e.status
		e.mu.Unlock()
		return fmt.Errorf("voice: no recording to finish while %s", status)
	}
	e.mu.Unlock()
	e.setStatus(StatusProcessing)
	defer e.setStatus(StatusIdle)

	audio, err := e.recorder.Stop()
	if err != nil {
		return err
	}
	text, err := e.transcriber.Transcribe(ctx, audio, "wav")
	if err != nil {
		if errors.Is(err, ErrNoSpeech) {
			return ErrNoSpeech
		}
		return fmt.Errorf("transcribe: %w", err)
	}
	return e.sender.Send(ctx, text)
}

// Cancel discards an in-progress recording and returns to idle.
func (e *Exchange) Cancel() {
	e.mu.Lock()
	recording := e.status == StatusRecording
	e.mu.Unlock()
	if recording {
		_, _ = e.recorder.Stop()
	}
	e.setStatus(StatusIdle)
}
