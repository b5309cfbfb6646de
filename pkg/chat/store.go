package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns every conversation session plus the durable per-device fields
// (consent flag, user id). All mutations are atomic: no operation leaves the
// store without at least one session or with a dangling active id.
//
// A Store is safe for concurrent use. Construct one per process and inject
// it into the components that need it; there is no package-level instance.
type Store struct {
	mu        sync.Mutex
	sessions  []*Session
	activeID  string
	hasAgreed bool
	userID    string
	loading   bool

	// Streaming append target. Tokens accumulate in streamBuf and are folded
	// into the target message on Flush or whenever another operation needs a
	// consistent view, keeping AppendToken amortized O(1).
	streamSession *Session
	streamMessage string
	streamBuf     []byte

	storage Storage
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Store.
type Option func(*Store)

// WithStorage attaches durable storage. Without it the store is in-memory
// only.
func WithStorage(storage Storage) Option {
	return func(s *Store) { s.storage = storage }
}

// WithLogger sets the logger used for non-fatal persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDFunc overrides the id generator.
func WithIDFunc(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore creates an empty store. Call Init to load persisted state and
// establish the at-least-one-session invariant.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Init loads persisted state (if storage is configured) and applies the
// first-load lifecycle: a user id is generated once, and the store always
// ends up with at least one session, one of which is active.
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storage != nil {
		state, err := s.storage.Load()
		if err != nil {
			s.logger.Warn("load persisted state failed, starting fresh", "error", err)
		} else if state != nil {
			s.sessions = make([]*Session, 0, len(state.Sessions))
			for i := range state.Sessions {
				sess := state.Sessions[i]
				s.sessions = append(s.sessions, &sess)
			}
			s.activeID = state.ActiveSessionID
			s.hasAgreed = state.HasAgreed
			s.userID = state.UserID
		}
	}

	if s.userID == "" {
		s.userID = s.newID()
	}
	if len(s.sessions) == 0 {
		s.prependSessionLocked()
	} else if s.findLocked(s.activeID) == nil {
		s.activeID = s.sessions[0].ID
	}

	s.persistLocked()
	return nil
}

// Agree records that the user accepted the terms. It is never reset.
func (s *Store) Agree() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasAgreed = true
	s.persistLocked()
}

// HasAgreed reports whether the consent flag is set.
func (s *Store) HasAgreed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasAgreed
}

// UserID returns the stable per-device user id. Empty before Init.
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// CreateSession allocates a fresh empty session, prepends it and makes it
// active. Returns the new session id.
func (s *Store) CreateSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldStreamLocked()
	sess := s.prependSessionLocked()
	s.persistLocked()
	return sess.ID
}

// SwitchSession makes the named session active. Unknown ids are rejected
// with ErrSessionNotFound.
func (s *Store) SwitchSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findLocked(id) == nil {
		return ErrSessionNotFound
	}
	s.activeID = id
	s.persistLocked()
	return nil
}

// DeleteSession removes the named session. Deleting the active session
// promotes the next remaining one; deleting the last session leaves a fresh
// empty session active so the store is never empty.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldStreamLocked()

	idx := -1
	for i, sess := range s.sessions {
		if sess.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrSessionNotFound
	}

	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	if len(s.sessions) == 0 {
		s.prependSessionLocked()
	} else if s.activeID == id {
		s.activeID = s.sessions[0].ID
	}
	s.persistLocked()
	return nil
}

// ClearAllSessions discards every session and starts over with a single
// fresh one. Returns the new session id.
func (s *Store) ClearAllSessions() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldStreamLocked()
	s.sessions = nil
	sess := s.prependSessionLocked()
	s.persistLocked()
	return sess.ID
}

// RenameSession sets a session title explicitly. A renamed session is no
// longer subject to title auto-derivation.
func (s *Store) RenameSession(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.findLocked(id)
	if sess == nil {
		return ErrSessionNotFound
	}
	sess.Title = title
	sess.UpdatedAt = s.now()
	s.persistLocked()
	return nil
}

// AddMessage appends a message to the active session and returns its id.
// The first user message of an unnamed session also derives the title.
func (s *Store) AddMessage(role Role, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldStreamLocked()

	sess := s.findLocked(s.activeID)
	if sess == nil {
		return "", ErrNoActiveSession
	}

	msg := Message{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	sess.Messages = append(sess.Messages, msg)
	if role == RoleUser && (sess.Title == "" || sess.Title == DefaultTitle) {
		sess.Title = deriveTitle(content)
	}
	sess.UpdatedAt = s.now()
	s.persistLocked()
	return msg.ID, nil
}

// AppendToken appends streamed text to the named message. The session and
// message ids are captured by the orchestrator at turn start, so a session
// switch mid-stream cannot redirect tokens. The append only applies while
// the target is still the session's last message and is assistant-authored;
// otherwise it is a no-op. Unknown session ids report ErrSessionNotFound.
func (s *Store) AppendToken(sessionID, messageID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streamSession != nil && s.streamSession.ID == sessionID && s.streamMessage == messageID {
		s.streamBuf = append(s.streamBuf, token...)
		s.streamSession.UpdatedAt = s.now()
		return nil
	}
	s.foldStreamLocked()

	sess := s.findLocked(sessionID)
	if sess == nil {
		return ErrSessionNotFound
	}
	if len(sess.Messages) == 0 {
		return nil
	}
	last := &sess.Messages[len(sess.Messages)-1]
	if last.ID != messageID || last.Role != RoleAssistant {
		return nil
	}

	s.streamSession = sess
	s.streamMessage = messageID
	s.streamBuf = append(s.streamBuf[:0], token...)
	sess.UpdatedAt = s.now()
	return nil
}

// SetLoading flips the transient turn-in-flight flag. Not persisted.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

// Loading reports whether a turn is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// ActiveSessionID returns the id of the active session, or "" before Init.
func (s *Store) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ActiveSession returns a copy of the active session.
func (s *Store) ActiveSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldStreamLocked()
	sess := s.findLocked(s.activeID)
	if sess == nil {
		return Session{}, false
	}
	return sess.clone(), true
}

// Session returns a copy of the named session.
func (s *Store) Session(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldStreamLocked()
	sess := s.findLocked(id)
	if sess == nil {
		return Session{}, false
	}
	return sess.clone(), true
}

// Sessions returns copies of all sessions, most recent first.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldStreamLocked()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	return out
}

// Flush folds any buffered stream tokens into their message and persists.
// The orchestrator calls this once per completed turn.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldStreamLocked()
	s.persistLocked()
}

func (s *Store) prependSessionLocked() *Session {
	now := s.now()
	sess := &Session{
		ID:        s.newID(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions = append([]*Session{sess}, s.sessions...)
	s.activeID = sess.ID
	return sess
}

func (s *Store) findLocked(id string) *Session {
	if id == "" {
		return nil
	}
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

func (s *Store) foldStreamLocked() {
	if s.streamSession == nil {
		return
	}
	if len(s.streamBuf) > 0 {
		msgs := s.streamSession.Messages
		if len(msgs) > 0 && msgs[len(msgs)-1].ID == s.streamMessage {
			msgs[len(msgs)-1].Content += string(s.streamBuf)
		}
	}
	s.streamSession = nil
	s.streamMessage = ""
	s.streamBuf = s.streamBuf[:0]
}

func (s *Store) persistLocked() {
	if s.storage == nil {
		return
	}
	if err := s.storage.Save(s.stateLocked()); err != nil {
		s.logger.Warn("persist state failed, continuing in memory", "error", err)
	}
}

func (s *Store) stateLocked() *State {
	state := &State{
		Sessions:        make([]Session, 0, len(s.sessions)),
		ActiveSessionID: s.activeID,
		HasAgreed:       s.hasAgreed,
		UserID:          s.userID,
	}
	for _, sess := range s.sessions {
		state.Sessions = append(state.Sessions, sess.clone())
	}
	return state
}
