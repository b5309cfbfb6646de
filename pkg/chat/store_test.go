package chat

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	var n int
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	all := append([]Option{
		WithClock(func() time.Time {
			n++
			return base.Add(time.Duration(n) * time.Second)
		}),
	}, opts...)
	s := NewStore(all...)
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestInit_CreatesFirstSessionAndUser(t *testing.T) {
	s := newTestStore(t)

	sessions := s.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(sessions))
	}
	if sessions[0].Title != DefaultTitle {
		t.Fatalf("title=%q", sessions[0].Title)
	}
	if s.ActiveSessionID() != sessions[0].ID {
		t.Fatalf("active=%q, want %q", s.ActiveSessionID(), sessions[0].ID)
	}
	if s.UserID() == "" {
		t.Fatalf("expected a generated user id")
	}
}

func TestCreateSession_PrependsAndActivates(t *testing.T) {
	s := newTestStore(t)
	first := s.ActiveSessionID()

	id := s.CreateSession()
	if id == first {
		t.Fatalf("expected a new session id")
	}
	sessions := s.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("len=%d", len(sessions))
	}
	if sessions[0].ID != id {
		t.Fatalf("new session should be first, got %q", sessions[0].ID)
	}
	if s.ActiveSessionID() != id {
		t.Fatalf("active=%q, want %q", s.ActiveSessionID(), id)
	}
}

func TestSwitchSession_UnknownID(t *testing.T) {
	s := newTestStore(t)
	if err := s.SwitchSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err=%v, want ErrSessionNotFound", err)
	}
}

func TestDeleteSession_PromotesNext(t *testing.T) {
	s := newTestStore(t)
	oldest := s.ActiveSessionID()
	middle := s.CreateSession()
	newest := s.CreateSession()

	if err := s.DeleteSession(newest); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if got := s.ActiveSessionID(); got != middle {
		t.Fatalf("active=%q, want promoted %q", got, middle)
	}
	sessions := s.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("len=%d", len(sessions))
	}
	if sessions[0].ID != middle || sessions[1].ID != oldest {
		t.Fatalf("unrelated sessions were disturbed: %q, %q", sessions[0].ID, sessions[1].ID)
	}
}

func TestDeleteSession_InactiveKeepsActive(t *testing.T) {
	s := newTestStore(t)
	oldest := s.ActiveSessionID()
	active := s.CreateSession()

	if err := s.DeleteSession(oldest); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if got := s.ActiveSessionID(); got != active {
		t.Fatalf("active=%q, want unchanged %q", got, active)
	}
}

func TestDeleteSession_LastCreatesFresh(t *testing.T) {
	s := newTestStore(t)
	only := s.ActiveSessionID()
	if _, err := s.AddMessage(RoleUser, "hello"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	if err := s.DeleteSession(only); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	sessions := s.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("len=%d", len(sessions))
	}
	if sessions[0].ID == only {
		t.Fatalf("expected a fresh session id")
	}
	if len(sessions[0].Messages) != 0 {
		t.Fatalf("fresh session should be empty")
	}
	if s.ActiveSessionID() != sessions[0].ID {
		t.Fatalf("active id dangling: %q", s.ActiveSessionID())
	}
}

func TestDeleteSession_Unknown(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestStoreInvariant_RandomCreateDelete(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 30; i++ {
		if i%3 == 0 {
			s.CreateSession()
		} else {
			sessions := s.Sessions()
			_ = s.DeleteSession(sessions[i%len(sessions)].ID)
		}

		sessions := s.Sessions()
		if len(sessions) == 0 {
			t.Fatalf("step %d: store has zero sessions", i)
		}
		active := s.ActiveSessionID()
		found := false
		for _, sess := range sessions {
			if sess.ID == active {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("step %d: active id %q does not reference a session", i, active)
		}
	}
}

func TestClearAllSessions(t *testing.T) {
	s := newTestStore(t)
	s.CreateSession()
	s.CreateSession()

	id := s.ClearAllSessions()
	sessions := s.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("len=%d", len(sessions))
	}
	if sessions[0].ID != id || s.ActiveSessionID() != id {
		t.Fatalf("fresh session not active")
	}
}

func TestAddMessage_AutoTitle(t *testing.T) {
	s := newTestStore(t)

	long := strings.Repeat("x", 20)
	if _, err := s.AddMessage(RoleUser, long); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	sess, _ := s.ActiveSession()
	want := strings.Repeat("x", 15) + "…"
	if sess.Title != want {
		t.Fatalf("title=%q, want %q", sess.Title, want)
	}
}

func TestAddMessage_AutoTitleRunes(t *testing.T) {
	s := newTestStore(t)

	long := strings.Repeat("好", 20)
	if _, err := s.AddMessage(RoleUser, long); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	sess, _ := s.ActiveSession()
	want := strings.Repeat("好", 15) + "…"
	if sess.Title != want {
		t.Fatalf("title=%q, want %q", sess.Title, want)
	}
}

func TestAddMessage_ShortTitleUntruncated(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddMessage(RoleUser, "hi there"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	sess, _ := s.ActiveSession()
	if sess.Title != "hi there" {
		t.Fatalf("title=%q", sess.Title)
	}
}

func TestAddMessage_RenamedSessionKeepsTitle(t *testing.T) {
	s := newTestStore(t)
	if err := s.RenameSession(s.ActiveSessionID(), "my topic"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	if _, err := s.AddMessage(RoleUser, "something else entirely"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	sess, _ := s.ActiveSession()
	if sess.Title != "my topic" {
		t.Fatalf("title=%q, want manual rename preserved", sess.Title)
	}
}

func TestAddMessage_AssistantDoesNotTitle(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddMessage(RoleAssistant, "greetings, how can I help"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	sess, _ := s.ActiveSession()
	if sess.Title != DefaultTitle {
		t.Fatalf("title=%q, want placeholder", sess.Title)
	}
}

func TestAddMessage_ConsecutiveSameRoleAllowed(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 2; i++ {
		if _, err := s.AddMessage(RoleUser, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	sess, _ := s.ActiveSession()
	if len(sess.Messages) != 2 {
		t.Fatalf("len=%d", len(sess.Messages))
	}
}

func TestAppendToken_BuildsAssistantContent(t *testing.T) {
	s := newTestStore(t)
	sessionID := s.ActiveSessionID()
	msgID, err := s.AddMessage(RoleAssistant, "")
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	for _, token := range []string{"He", "llo", ", world"} {
		if err := s.AppendToken(sessionID, msgID, token); err != nil {
			t.Fatalf("AppendToken(%q): %v", token, err)
		}
	}

	sess, _ := s.ActiveSession()
	got := sess.Messages[len(sess.Messages)-1].Content
	if got != "Hello, world" {
		t.Fatalf("content=%q", got)
	}
}

func TestAppendToken_NoOpWhenLastIsUser(t *testing.T) {
	s := newTestStore(t)
	sessionID := s.ActiveSessionID()
	msgID, err := s.AddMessage(RoleUser, "hi")
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	if err := s.AppendToken(sessionID, msgID, "sneaky"); err != nil {
		t.Fatalf("AppendToken: %v", err)
	}
	sess, _ := s.ActiveSession()
	if got := sess.Messages[0].Content; got != "hi" {
		t.Fatalf("user message mutated: %q", got)
	}
}

func TestAppendToken_UnknownSession(t *testing.T) {
	s := newTestStore(t)
	if err := s.AppendToken("gone", "msg", "tok"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestAppendToken_SessionSwitchDoesNotRedirect(t *testing.T) {
	s := newTestStore(t)
	first := s.ActiveSessionID()
	msgID, err := s.AddMessage(RoleAssistant, "")
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	if err := s.AppendToken(first, msgID, "part one "); err != nil {
		t.Fatalf("AppendToken: %v", err)
	}

	// User switches away mid-stream; remaining tokens still land in the
	// captured session.
	second := s.CreateSession()
	if err := s.AppendToken(first, msgID, "part two"); err != nil {
		t.Fatalf("AppendToken after switch: %v", err)
	}

	orig, _ := s.Session(first)
	if got := orig.Messages[0].Content; got != "part one part two" {
		t.Fatalf("content=%q", got)
	}
	other, _ := s.Session(second)
	if len(other.Messages) != 0 {
		t.Fatalf("tokens leaked into the new session")
	}
}

func TestAppendToken_NotLastMessage(t *testing.T) {
	s := newTestStore(t)
	sessionID := s.ActiveSessionID()
	oldID, _ := s.AddMessage(RoleAssistant, "done")
	if _, err := s.AddMessage(RoleUser, "next question"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	if err := s.AppendToken(sessionID, oldID, "late token"); err != nil {
		t.Fatalf("AppendToken: %v", err)
	}
	sess, _ := s.ActiveSession()
	if got := sess.Messages[0].Content; got != "done" {
		t.Fatalf("historical message mutated: %q", got)
	}
}

func TestRenameSession_BumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	id := s.ActiveSessionID()
	before, _ := s.ActiveSession()

	if err := s.RenameSession(id, "renamed"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	after, _ := s.ActiveSession()
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("updatedAt not bumped: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
	if after.Title != "renamed" {
		t.Fatalf("title=%q", after.Title)
	}
}

func TestLoading_TransientFlag(t *testing.T) {
	s := newTestStore(t)
	if s.Loading() {
		t.Fatalf("loading should start false")
	}
	s.SetLoading(true)
	if !s.Loading() {
		t.Fatalf("loading should be set")
	}
	s.SetLoading(false)
	if s.Loading() {
		t.Fatalf("loading should be cleared")
	}
}

type memStorage struct {
	state   *State
	saves   int
	saveErr error
}

func (m *memStorage) Load() (*State, error) { return m.state, nil }

func (m *memStorage) Save(state *State) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = state
	return nil
}

func TestInit_RestoresFromStorage(t *testing.T) {
	mem := &memStorage{state: &State{
		Sessions: []Session{
			{ID: "s1", Title: "restored", Messages: []Message{{ID: "m1", Role: RoleUser, Content: "hi"}}},
		},
		ActiveSessionID: "s1",
		HasAgreed:       true,
		UserID:          "user-42",
	}}
	s := newTestStore(t, WithStorage(mem))

	if !s.HasAgreed() {
		t.Fatalf("hasAgreed lost on restore")
	}
	if s.UserID() != "user-42" {
		t.Fatalf("userID=%q", s.UserID())
	}
	sess, ok := s.ActiveSession()
	if !ok || sess.ID != "s1" || sess.Title != "restored" {
		t.Fatalf("session not restored: %+v ok=%v", sess, ok)
	}
}

func TestInit_DanglingActiveIDFallsBack(t *testing.T) {
	mem := &memStorage{state: &State{
		Sessions:        []Session{{ID: "s1", Title: "only"}},
		ActiveSessionID: "gone",
		UserID:          "u",
	}}
	s := newTestStore(t, WithStorage(mem))

	if got := s.ActiveSessionID(); got != "s1" {
		t.Fatalf("active=%q, want fallback to first session", got)
	}
}

func TestPersist_SaveErrorIsNonFatal(t *testing.T) {
	mem := &memStorage{saveErr: errors.New("disk full")}
	s := newTestStore(t, WithStorage(mem))

	// Mutations still work in memory despite failing saves.
	id := s.CreateSession()
	if s.ActiveSessionID() != id {
		t.Fatalf("mutation lost after save failure")
	}
	if mem.saves == 0 {
		t.Fatalf("save was never attempted")
	}
}

func TestAgree_Persists(t *testing.T) {
	mem := &memStorage{}
	s := newTestStore(t, WithStorage(mem))

	s.Agree()
	if !s.HasAgreed() {
		t.Fatalf("hasAgreed not set")
	}
	if mem.state == nil || !mem.state.HasAgreed {
		t.Fatalf("hasAgreed not persisted")
	}
}

func TestFlush_FoldsStreamBuffer(t *testing.T) {
	mem := &memStorage{}
	s := newTestStore(t, WithStorage(mem))
	sessionID := s.ActiveSessionID()
	msgID, _ := s.AddMessage(RoleAssistant, "")

	if err := s.AppendToken(sessionID, msgID, "buffered"); err != nil {
		t.Fatalf("AppendToken: %v", err)
	}
	s.Flush()

	if mem.state == nil {
		t.Fatalf("nothing persisted")
	}
	msgs := mem.state.Sessions[0].Messages
	if got := msgs[len(msgs)-1].Content; got != "buffered" {
		t.Fatalf("persisted content=%q", got)
	}
}

func TestParseOptions(t *testing.T) {
	text := "Here are some ideas:\n1. Go for a walk\n2、Read a book\nnot an option\n3. Call a friend"
	got := ParseOptions(text)
	want := []string{"Go for a walk", "Read a book", "Call a friend"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("option %d = %q, want %q", i, got[i], want[i])
		}
	}
}
