package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Player plays compressed audio (mp3/wav) through ffplay. One playback runs
// at a time; Play blocks until the clip finishes or the context is
// cancelled.
type Player struct{}

// Play renders the audio clip. Cancelling the context stops playback.
func (p *Player) Play(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return errors.New("voice: empty audio")
	}
	if _, err := exec.LookPath("ffplay"); err != nil {
		return errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}

	cmd := exec.CommandContext(ctx, "ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(audio)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffplay: %w", err)
	}
	return nil
}
