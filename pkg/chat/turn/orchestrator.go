// Package turn runs one chat exchange end to end: persist the user message,
// stream the assistant reply into the store, and optionally speak it.
package turn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vango-go/xinbao/pkg/chat"
	"github.com/vango-go/xinbao/pkg/chat/client"
)

// FallbackReply is shown as the assistant's answer when the relay cannot be
// reached. The turn still completes normally so the conversation stays usable.
const FallbackReply = "抱歉，小馨宝现在有点累了，请稍后再试。"

var (
	// ErrEmptyMessage rejects input that is empty after trimming.
	ErrEmptyMessage = errors.New("turn: empty message")

	// ErrTurnInFlight rejects a Send while a previous turn is still
	// streaming.
	ErrTurnInFlight = errors.New("turn: previous turn still in flight")
)

// DeltaStream yields streamed response text. Recv reports io.EOF when the
// response is complete.
type DeltaStream interface {
	Recv() (string, error)
	Close() error
}

// ChatClient starts a streamed chat completion for a conversation history.
type ChatClient interface {
	Chat(ctx context.Context, messages []client.Message) (DeltaStream, error)
}

// Speaker voices completed assistant replies.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// clientAdapter lets *client.Client satisfy ChatClient despite its concrete
// return type.
type clientAdapter struct {
	c *client.Client
}

func (a clientAdapter) Chat(ctx context.Context, messages []client.Message) (DeltaStream, error) {
	return a.c.Chat(ctx, messages)
}

// WrapClient adapts a relay client to the ChatClient interface.
func WrapClient(c *client.Client) ChatClient {
	return clientAdapter{c: c}
}

// Orchestrator coordinates the store, the relay client and the optional
// speaker for one turn at a time.
type Orchestrator struct {
	store  *chat.Store
	client ChatClient
	logger *slog.Logger

	// OnDelta, when set, observes every streamed delta as it is applied.
	// It is called from the streaming goroutine; set it before Send.
	OnDelta func(delta string)

	inFlight atomic.Bool

	speakerMu sync.Mutex
	speaker   Speaker
}

// New creates an orchestrator over the given store and client.
func New(store *chat.Store, chatClient ChatClient, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:  store,
		client: chatClient,
		logger: logger,
	}
}

// SetSpeaker installs or removes (nil) the speaker used for voice replies.
func (o *Orchestrator) SetSpeaker(s Speaker) {
	o.speakerMu.Lock()
	defer o.speakerMu.Unlock()
	o.speaker = s
}

func (o *Orchestrator) currentSpeaker() Speaker {
	o.speakerMu.Lock()
	defer o.speakerMu.Unlock()
	return o.speaker
}

// Send runs one full turn for the trimmed user input. Only one turn runs at
// a time; concurrent calls fail fast with ErrTurnInFlight. A transport
// failure is absorbed into a fallback assistant reply and is not an error.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return ErrTurnInFlight
	}
	defer o.inFlight.Store(false)

	// The session is captured up front: switching sessions mid-stream must
	// not redirect tokens.
	sessionID := o.store.ActiveSessionID()
	if sessionID == "" {
		return chat.ErrNoActiveSession
	}

	o.store.SetLoading(true)
	defer o.store.SetLoading(false)
	defer o.store.Flush()

	if _, err := o.store.AddMessage(chat.RoleUser, trimmed); err != nil {
		return err
	}

	history := o.historyFor(sessionID)
	stream, err := o.client.Chat(ctx, history)
	if err != nil {
		o.logger.Warn("chat request failed, using fallback reply", "error", err)
		if _, err := o.store.AddMessage(chat.RoleAssistant, FallbackReply); err != nil {
			return err
		}
		// The fallback never streams, so surface it the same way deltas are.
		if o.OnDelta != nil {
			o.OnDelta(FallbackReply)
		}
		return nil
	}
	defer stream.Close()

	msgID, err := o.store.AddMessage(chat.RoleAssistant, "")
	if err != nil {
		return err
	}

	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			o.logger.Warn("chat stream interrupted", "error", err)
			break
		}
		if err := o.store.AppendToken(sessionID, msgID, delta); err != nil {
			o.logger.Warn("append token failed", "error", err, "session_id", sessionID)
			break
		}
		if o.OnDelta != nil {
			o.OnDelta(delta)
		}
	}
	o.store.Flush()

	o.speak(ctx, sessionID, msgID)
	return nil
}

// speak voices the completed reply when a speaker is installed. Failures are
// logged and swallowed: voice is best-effort on top of a finished turn.
func (o *Orchestrator) speak(ctx context.Context, sessionID, msgID string) {
	speaker := o.currentSpeaker()
	if speaker == nil {
		return
	}
	sess, ok := o.store.Session(sessionID)
	if !ok || len(sess.Messages) == 0 {
		return
	}
	last := sess.Messages[len(sess.Messages)-1]
	if last.ID != msgID || last.Content == "" {
		return
	}
	if err := speaker.Speak(ctx, last.Content); err != nil {
		o.logger.Warn("speak reply failed", "error", err)
	}
}

func (o *Orchestrator) historyFor(sessionID string) []client.Message {
	sess, ok := o.store.Session(sessionID)
	if !ok {
		return nil
	}
	out := make([]client.Message, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		out = append(out, client.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
