// Package chat persists conversation sessions whose recent turns are fed
// back into queries as context.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID        string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID        string    `json:"session_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is a session without its messages.
type Summary struct {
	ID           string    `json:"session_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Stats struct {
	TotalSessions int `json:"total_sessions"`
	TotalMessages int `json:"total_messages"`
}

// Store is implemented by the memory, file and Redis backends.
type Store interface {
	Create(ctx context.Context, title string) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	// List returns summaries, most recently updated first.
	List(ctx context.Context, limit int) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Rename(ctx context.Context, id, title string) error
	AddMessage(ctx context.Context, id, role, content string) (Message, error)
	Stats(ctx context.Context) (Stats, error)
}

// ContextBlock renders the last n messages of a session as a prompt prefix.
// It returns "" for a session without messages.
func ContextBlock(ctx context.Context, s Store, id string, n int) (string, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	msgs := sess.Messages
	if n <= 0 || len(msgs) == 0 {
		return "", nil
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n\n", capitalize(m.Role), m.Content)
	}
	return b.String(), nil
}

// TitleFromPrompt derives a session title from the first prompt.
func TitleFromPrompt(prompt string) string {
	p := strings.Join(strings.Fields(prompt), " ")
	if p == "" {
		return "New Chat"
	}
	r := []rune(p)
	if len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return p
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func normalizeTitle(t string) string {
	if t = strings.TrimSpace(t); t == "" {
		return "New Chat"
	}
	return t
}

func validRole(role string) error {
	switch role {
	case RoleUser, RoleAssistant, "system":
		return nil
	}
	return fmt.Errorf("invalid role %q", role)
}

func summarize(s Session) Summary {
	return Summary{
		ID:           s.ID,
		Title:        s.Title,
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func sortSummaries(out []Summary, limit int) []Summary {
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneSession(s Session) Session {
	s.Messages = append([]Message(nil), s.Messages...)
	return s
}
