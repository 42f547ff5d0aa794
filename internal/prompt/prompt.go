// Package prompt renders conversations into the ChatML text fed to the engine.
package prompt

import (
	"fmt"
	"strings"
	"sync"
)

// Mode selects the system preamble.
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeClone Mode = "clone"
)

// ParseMode maps a configuration value to a Mode; empty selects chat.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeChat:
		return ModeChat, nil
	case ModeClone:
		return ModeClone, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want chat|clone)", s)
	}
}

const (
	chatSystem = "You are Wishmaster, a helpful AI assistant. Answer briefly and to the point. " +
		"Reply in the same language as the user."
	cloneSystem = "You are a digital clone of the user. Answer the way they would."
)

// DefaultHistoryTurns is how many prior messages a Builder includes by default.
const DefaultHistoryTurns = 10

// Role markers of the ChatML format.
const (
	imStart = "<|im_start|>"
	imEnd   = "<|im_end|>"
)

// DefaultStopSequences returns the conversation delimiters that end an assistant turn.
func DefaultStopSequences() []string {
	return []string{imEnd, imStart, "### User:", "\nUser:"}
}

// Role of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    Role
	Content string
}

// History is the transcript store consulted when building prompts.
type History interface {
	// Recent returns up to n of the latest messages, oldest first.
	Recent(n int) []Message
}

// Builder assembles prompts. The zero value builds chat-mode prompts with
// DefaultHistoryTurns messages of history.
type Builder struct {
	Mode Mode
	// System overrides the mode's preamble when non-empty.
	System string
	// HistoryTurns caps included history; 0 means DefaultHistoryTurns and a
	// negative value disables history.
	HistoryTurns int
}

// Build renders the system preamble, recent history and the user turn, ending
// with an open assistant turn. h may be nil.
func (b Builder) Build(h History, user string) string {
	var sb strings.Builder
	writeTurn(&sb, "system", b.systemText())
	if h != nil {
		n := b.HistoryTurns
		if n == 0 {
			n = DefaultHistoryTurns
		}
		if n > 0 {
			for _, m := range h.Recent(n) {
				writeTurn(&sb, string(m.Role), m.Content)
			}
		}
	}
	writeTurn(&sb, string(RoleUser), user)
	sb.WriteString(imStart)
	sb.WriteString(string(RoleAssistant))
	sb.WriteByte('\n')
	return sb.String()
}

func (b Builder) systemText() string {
	if s := strings.TrimSpace(b.System); s != "" {
		return s
	}
	if b.Mode == ModeClone {
		return cloneSystem
	}
	return chatSystem
}

func writeTurn(sb *strings.Builder, role, content string) {
	sb.WriteString(imStart)
	sb.WriteString(role)
	sb.WriteByte('\n')
	sb.WriteString(content)
	sb.WriteString(imEnd)
	sb.WriteByte('\n')
}

// MemoryHistory is an in-process History, safe for concurrent use.
type MemoryHistory struct {
	mu   sync.Mutex
	msgs []Message
}

func NewMemoryHistory() *MemoryHistory { return &MemoryHistory{} }

// Append records a message. Empty content is ignored.
func (h *MemoryHistory) Append(role Role, content string) {
	if content == "" {
		return
	}
	h.mu.Lock()
	h.msgs = append(h.msgs, Message{Role: role, Content: content})
	h.mu.Unlock()
}

func (h *MemoryHistory) Recent(n int) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 {
		return nil
	}
	start := max(len(h.msgs)-n, 0)
	out := make([]Message, len(h.msgs)-start)
	copy(out, h.msgs[start:])
	return out
}

func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// Reset forgets the transcript.
func (h *MemoryHistory) Reset() {
	h.mu.Lock()
	h.msgs = nil
	h.mu.Unlock()
}
