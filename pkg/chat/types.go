// Package chat holds the conversation data model and the session store that
// backs the xinbao client.
package chat

import (
	"regexp"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultTitle is the placeholder title of a session that has not yet been
// named, either automatically or by the user.
const DefaultTitle = "new conversation"

// titleRuneLimit caps auto-derived session titles.
const titleRuneLimit = 15

// Message is a single conversation entry. Content of the newest assistant
// message grows while a response is streaming; everything else is immutable.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is one conversation thread. Messages are kept in insertion order.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Session) clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// deriveTitle produces a session title from the first user message: the
// first 15 runes, with an ellipsis when truncated.
func deriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) > titleRuneLimit {
		return string(runes[:titleRuneLimit]) + "…"
	}
	return content
}

var optionLine = regexp.MustCompile(`^(\d+)[.、]\s*(.+)$`)

// ParseOptions extracts numbered choices ("1. like this") from assistant
// text so the UI can offer them as quick replies.
func ParseOptions(text string) []string {
	var options []string
	for _, line := range strings.Split(text, "\n") {
		m := optionLine.FindStringSubmatch(strings.TrimSpace(line))
		if m != nil {
			options = append(options, strings.TrimSpace(m[2]))
		}
	}
	return options
}
