package session

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	// ErrInvalidInput is returned for blank messages, blank personas and out-of-range settings.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStateInvariant marks a broken turn contract, e.g. an assistant reply
	// without a pending user message. It is a programming error.
	ErrStateInvariant = errors.New("state invariant violation")
)

// Message represents a single chat message
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the conversation of one session: a single persona slot plus an
// append-only history of user and assistant messages.
type State struct {
	persona *Message
	history []Message
	now     func() time.Time
}

// NewState creates an empty conversation
func NewState() *State {
	return &State{now: time.Now}
}

// SetPersona overwrites the persona slot, creating it on first use.
// History is left untouched.
func (s *State) SetPersona(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("persona is blank: %w", ErrInvalidInput)
	}
	s.persona = &Message{Role: RoleSystem, Content: text, Timestamp: s.now()}
	return nil
}

// Persona returns the active persona text, if one was set
func (s *State) Persona() (string, bool) {
	if s.persona == nil {
		return "", false
	}
	return s.persona.Content, true
}

// AppendUser appends a user message. Blank text is rejected and leaves the state unchanged.
func (s *State) AppendUser(text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, fmt.Errorf("user message is blank: %w", ErrInvalidInput)
	}
	msg := Message{Role: RoleUser, Content: text, Timestamp: s.now()}
	s.history = append(s.history, msg)
	return msg, nil
}

// AppendAssistant commits a complete assistant reply. The last message in
// history must be the user message it answers.
func (s *State) AppendAssistant(text string) (Message, error) {
	if !s.Pending() {
		return Message{}, fmt.Errorf("assistant reply without a pending user message: %w", ErrStateInvariant)
	}
	msg := Message{Role: RoleAssistant, Content: text, Timestamp: s.now()}
	s.history = append(s.history, msg)
	return msg, nil
}

// Pending reports whether the newest message is an unanswered user message.
func (s *State) Pending() bool {
	return len(s.history) > 0 && s.history[len(s.history)-1].Role == RoleUser
}

// VisibleHistory yields the user and assistant messages in order.
// Each call starts a fresh pass over the current history.
func (s *State) VisibleHistory() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, msg := range s.history {
			if msg.Role == RoleSystem {
				continue
			}
			if !yield(msg) {
				return
			}
		}
	}
}

// Len returns the number of visible messages
func (s *State) Len() int {
	return len(s.history)
}

// Snapshot returns a copy of the full prompt context: the persona first, then history.
func (s *State) Snapshot() []Message {
	out := make([]Message, 0, len(s.history)+1)
	if s.persona != nil {
		out = append(out, *s.persona)
	}
	return append(out, s.history...)
}
