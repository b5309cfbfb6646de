package voice

import "context"

// Synthesizer turns text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AudioPlayer renders an audio clip.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte) error
}

// Speaker voices text by synthesizing it through the relay and playing the
// result locally.
type Speaker struct {
	synth  Synthesizer
	player AudioPlayer

	// OnPlayback, when set, observes the start and end of audio playback.
	OnPlayback func(active bool)
}

// NewSpeaker pairs a synthesizer with a player.
func NewSpeaker(synth Synthesizer, player AudioPlayer) *Speaker {
	return &Speaker{synth: synth, player: player}
}

// Speak synthesizes and plays text in one step.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	audio, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if s.OnPlayback != nil {
		s.OnPlayback(true)
		defer s.OnPlayback(false)
	}
	return s.player.Play(ctx, audio)
}
