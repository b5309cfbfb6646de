package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/vango-go/xinbao/pkg/chat"
)

// export writes the active conversation to path as markdown. An empty path
// derives a filename from the session title.
func (a *app) export(path string) error {
	sess, ok := a.store.ActiveSession()
	if !ok {
		return fmt.Errorf("no active conversation")
	}
	if path == "" {
		path = exportFilename(sess.Title)
	}
	if err := os.WriteFile(path, []byte(exportMarkdown(sess)), 0o644); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(a.out, "exported to %s\n", path)
	return nil
}

func exportMarkdown(sess chat.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sess.Title)
	fmt.Fprintf(&b, "_Exported %s_\n", sess.UpdatedAt.Format("2006-01-02 15:04"))
	for _, m := range sess.Messages {
		switch m.Role {
		case chat.RoleUser:
			fmt.Fprintf(&b, "\n**You:** %s\n", m.Content)
		case chat.RoleAssistant:
			fmt.Fprintf(&b, "\n**Xinbao:** %s\n", m.Content)
		}
	}
	return b.String()
}

// exportFilename turns a session title into a safe markdown filename.
func exportFilename(title string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, title)
	mapped = strings.Trim(mapped, "-")
	if mapped == "" {
		mapped = "conversation"
	}
	return mapped + ".md"
}
