package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/vango-go/xinbao/internal/logging"
	"github.com/vango-go/xinbao/pkg/chat"
	"github.com/vango-go/xinbao/pkg/chat/client"
	"github.com/vango-go/xinbao/pkg/chat/turn"
	"github.com/vango-go/xinbao/pkg/voice"
)

const consentNotice = `xinbao keeps your conversations on this machine and sends them to the
configured relay only to generate replies. Type /agree to accept and start
chatting, or /quit to leave.`

type app struct {
	cfg    appConfig
	store  *chat.Store
	orch   *turn.Orchestrator
	speech *voice.Client

	exchange  *voice.Exchange
	dictation *voice.DictationSession
	speaking  bool

	out    io.Writer
	errOut io.Writer
}

func runApp(ctx context.Context, cfg appConfig, in io.Reader, out io.Writer, errOut io.Writer) error {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	logger, cleanup := logging.Setup(os.Getenv("XINBAO_LOG_FILE"), slog.LevelWarn)
	defer func() { _ = cleanup() }()

	store := chat.NewStore(
		chat.WithStorage(chat.NewFileStorage(cfg.StatePath)),
		chat.WithLogger(logger),
	)
	if err := store.Init(); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	relayClient := client.New(cfg.RelayURL)
	orch := turn.New(store, turn.WrapClient(relayClient), logger)
	orch.OnDelta = func(delta string) { fmt.Fprint(out, delta) }

	speech := voice.NewClient(cfg.RelayURL)
	a := &app{
		cfg:      cfg,
		store:    store,
		orch:     orch,
		speech:   speech,
		exchange: voice.NewExchange(speech, orch),
		dictation: voice.NewDictationSession(orch,
			voice.WithDebounce(cfg.DictateDebounce),
			voice.WithDictationLogger(logger)),
		out:    out,
		errOut: errOut,
	}

	fmt.Fprintf(out, "xinbao connected to %s\n", cfg.RelayURL)
	if !store.HasAgreed() {
		fmt.Fprintln(out, consentNotice)
	} else {
		fmt.Fprintln(out, "Type /help for commands, /quit to leave.")
	}

	defer a.dictation.Stop()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			store.Flush()
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/exit", "/quit":
			store.Flush()
			fmt.Fprintln(out, "bye")
			return nil
		}

		if strings.HasPrefix(line, "/") {
			if err := a.handleCommand(ctx, scanner, line); err != nil {
				fmt.Fprintf(errOut, "%v\n", err)
			}
			continue
		}

		a.send(ctx, line)
	}
}

// send runs one chat turn, enforcing the consent gate.
func (a *app) send(ctx context.Context, text string) {
	if !a.store.HasAgreed() {
		fmt.Fprintln(a.out, "please /agree to the notice first")
		return
	}

	turnCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	if err := a.orch.Send(turnCtx, text); err != nil {
		fmt.Fprintf(a.errOut, "send error: %v\n", err)
		return
	}
	fmt.Fprintln(a.out)
	a.printQuickReplies()
}

// printQuickReplies surfaces numbered options from the newest reply.
func (a *app) printQuickReplies() {
	sess, ok := a.store.ActiveSession()
	if !ok || len(sess.Messages) == 0 {
		return
	}
	last := sess.Messages[len(sess.Messages)-1]
	if last.Role != chat.RoleAssistant {
		return
	}
	options := chat.ParseOptions(last.Content)
	if len(options) == 0 {
		return
	}
	fmt.Fprintf(a.out, "(reply with /1-/%d to pick an option)\n", len(options))
}

func (a *app) handleCommand(ctx context.Context, scanner *bufio.Scanner, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	// Quick replies: /1 .. /9 pick a numbered option from the last reply.
	if n, err := strconv.Atoi(strings.TrimPrefix(cmd, "/")); err == nil && n >= 1 && n <= 9 {
		return a.quickReply(ctx, n)
	}

	switch cmd {
	case "/help":
		a.printHelp()
		return nil

	case "/agree":
		a.store.Agree()
		fmt.Fprintln(a.out, "thanks, you are all set. Type /help for commands.")
		return nil

	case "/new":
		a.store.CreateSession()
		fmt.Fprintln(a.out, "started a new conversation")
		return nil

	case "/list":
		a.printSessions()
		return nil

	case "/switch":
		if arg == "" {
			return errors.New("usage: /switch <number|id>")
		}
		id, err := a.resolveSession(arg)
		if err != nil {
			return err
		}
		if err := a.store.SwitchSession(id); err != nil {
			return fmt.Errorf("switch: %w", err)
		}
		sess, _ := a.store.ActiveSession()
		fmt.Fprintf(a.out, "switched to %q\n", sess.Title)
		a.printHistory(sess)
		return nil

	case "/rename":
		if arg == "" {
			return errors.New("usage: /rename <title>")
		}
		if err := a.store.RenameSession(a.store.ActiveSessionID(), arg); err != nil {
			return fmt.Errorf("rename: %w", err)
		}
		fmt.Fprintf(a.out, "renamed to %q\n", arg)
		return nil

	case "/delete":
		id := a.store.ActiveSessionID()
		if arg != "" {
			var err error
			if id, err = a.resolveSession(arg); err != nil {
				return err
			}
		}
		if err := a.store.DeleteSession(id); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		sess, _ := a.store.ActiveSession()
		fmt.Fprintf(a.out, "deleted; now on %q\n", sess.Title)
		return nil

	case "/clear":
		a.store.ClearAllSessions()
		fmt.Fprintln(a.out, "all conversations cleared")
		return nil

	case "/export":
		return a.export(arg)

	case "/voice":
		return a.voiceTurn(ctx, scanner)

	case "/speak":
		a.toggleSpokenReplies()
		return nil

	case "/dictate":
		return a.toggleDictation(ctx)

	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func (a *app) printHelp() {
	fmt.Fprintln(a.out, `commands:
  /new                start a new conversation
  /list               list conversations
  /switch <n|id>      switch conversation
  /rename <title>     rename the current conversation
  /delete [n|id]      delete a conversation
  /clear              delete all conversations
  /export [path]      export the current conversation as markdown
  /voice              record one voice message (Enter stops recording)
  /speak              toggle spoken replies
  /dictate            toggle hands-free dictation
  /1../9              pick a numbered option from the last reply
  /quit               exit`)
}

func (a *app) printSessions() {
	sessions := a.store.Sessions()
	active := a.store.ActiveSessionID()
	for i, sess := range sessions {
		marker := " "
		if sess.ID == active {
			marker = "*"
		}
		fmt.Fprintf(a.out, "%s %2d. %s (%d messages)\n", marker, i+1, sess.Title, len(sess.Messages))
	}
}

func (a *app) printHistory(sess chat.Session) {
	for _, m := range sess.Messages {
		switch m.Role {
		case chat.RoleUser:
			fmt.Fprintf(a.out, "you: %s\n", m.Content)
		case chat.RoleAssistant:
			fmt.Fprintf(a.out, "xinbao: %s\n", m.Content)
		}
	}
}

// resolveSession accepts a 1-based list position or a session id.
func (a *app) resolveSession(arg string) (string, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		sessions := a.store.Sessions()
		if n < 1 || n > len(sessions) {
			return "", fmt.Errorf("no conversation %d (have %d)", n, len(sessions))
		}
		return sessions[n-1].ID, nil
	}
	if _, ok := a.store.Session(arg); !ok {
		return "", fmt.Errorf("no conversation with id %q", arg)
	}
	return arg, nil
}

func (a *app) quickReply(ctx context.Context, n int) error {
	sess, ok := a.store.ActiveSession()
	if !ok || len(sess.Messages) == 0 {
		return errors.New("nothing to reply to yet")
	}
	last := sess.Messages[len(sess.Messages)-1]
	if last.Role != chat.RoleAssistant {
		return errors.New("nothing to reply to yet")
	}
	options := chat.ParseOptions(last.Content)
	if n > len(options) {
		return fmt.Errorf("the last reply has %d options", len(options))
	}
	fmt.Fprintf(a.out, "you: %s\n", options[n-1])
	a.send(ctx, options[n-1])
	return nil
}

func (a *app) voiceTurn(ctx context.Context, scanner *bufio.Scanner) error {
	if !a.store.HasAgreed() {
		fmt.Fprintln(a.out, "please /agree to the notice first")
		return nil
	}
	if err := a.exchange.Begin(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "recording... press Enter to send")
	scanner.Scan()

	turnCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	if err := a.exchange.Finish(turnCtx); err != nil {
		if errors.Is(err, voice.ErrNoSpeech) {
			fmt.Fprintln(a.out, "did not catch that, try again")
			return nil
		}
		return err
	}
	fmt.Fprintln(a.out)
	a.printQuickReplies()
	return nil
}

func (a *app) toggleSpokenReplies() {
	if a.speaking {
		a.orch.SetSpeaker(nil)
		a.speaking = false
		fmt.Fprintln(a.out, "spoken replies off")
		return
	}
	speaker := voice.NewSpeaker(a.speech, &voice.Player{})
	speaker.OnPlayback = a.exchange.SetSpeaking
	a.orch.SetSpeaker(speaker)
	a.speaking = true
	fmt.Fprintln(a.out, "spoken replies on")
}

func (a *app) toggleDictation(ctx context.Context) error {
	if a.dictation.Running() {
		a.dictation.Stop()
		fmt.Fprintln(a.out, "dictation off")
		return nil
	}
	if !a.store.HasAgreed() {
		fmt.Fprintln(a.out, "please /agree to the notice first")
		return nil
	}
	a.dictation.OnPartial = func(text string) {
		fmt.Fprintf(a.out, "(heard: %s)\n", text)
	}
	if err := a.dictation.Start(ctx, dictationURL(a.cfg.RelayURL)); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "dictation on: speak, pauses send automatically")
	return nil
}
