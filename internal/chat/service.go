// Package chat forwards natural-language messages to the backend agent and
// keeps the visible transcript. The transcript is an append-only log: the
// user's entry goes in before the network call, and a failure appends an
// assistant entry carrying the error instead of rolling anything back.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"todo-client/internal/api"
	"todo-client/internal/models"
	"todo-client/internal/store"

	"github.com/google/uuid"
)

// Errors raised locally, before any network call.
var (
	ErrNoToken = errors.New("no authentication token found, please log in")
	ErrNoUser  = errors.New("user data not found, please log in again")
	ErrEmpty   = errors.New("message is empty")
)

// Role tags a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. Entries are never mutated once appended.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

type request struct {
	Message        string `json:"message"`
	ConversationID *int64 `json:"conversation_id"`
}

// ToolCall reports a task operation the agent performed on the user's behalf.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`
}

// Response is the agent's reply.
type Response struct {
	Message        string     `json:"message"`
	ConversationID int64      `json:"conversation_id"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
}

// UserSource reports the currently authenticated user, or nil.
type UserSource interface {
	Current() *models.User
}

// Service sends chat messages and owns the transcript. The conversation
// pointer is persisted through the store so follow-up invocations resume
// the same conversation; the message history itself is rebuilt per process.
type Service struct {
	client *api.Client
	store  *store.Store
	users  UserSource

	mu             sync.Mutex
	transcript     []Message
	conversationID *int64
}

// NewService creates a chat Service, restoring the persisted conversation
// pointer if one exists.
func NewService(client *api.Client, st *store.Store, users UserSource) (*Service, error) {
	s := &Service{client: client, store: st, users: users}
	id, ok, err := st.ConversationID()
	if err != nil {
		return nil, fmt.Errorf("read conversation id: %w", err)
	}
	if ok {
		s.conversationID = &id
	}
	return s, nil
}

// Send appends the user's message to the transcript, forwards it to the
// agent, and appends the reply. A missing token or user fails locally
// before any request goes out. On any failure the transcript gains an
// assistant entry with the error text; the user entry stays.
func (s *Service) Send(ctx context.Context, text string) (*Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmpty
	}

	s.append(RoleUser, text)

	token, err := s.store.Token()
	if err != nil {
		return nil, s.fail(fmt.Errorf("read token: %w", err))
	}
	if token == "" {
		return nil, s.fail(ErrNoToken)
	}
	user := s.users.Current()
	if user == nil {
		return nil, s.fail(ErrNoUser)
	}

	s.mu.Lock()
	convID := s.conversationID
	s.mu.Unlock()

	var resp Response
	err = s.client.Post(ctx, fmt.Sprintf("/api/%d/chat", user.ID), request{
		Message:        text,
		ConversationID: convID,
	}, &resp)
	if err != nil {
		return nil, s.fail(err)
	}

	s.mu.Lock()
	if s.conversationID == nil && resp.ConversationID != 0 {
		id := resp.ConversationID
		s.conversationID = &id
		if err := s.store.SetConversationID(id); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("persist conversation id: %w", err)
		}
	}
	s.mu.Unlock()

	s.append(RoleAssistant, resp.Message)
	return &resp, nil
}

// fail records the error as an assistant entry and passes it through.
func (s *Service) fail(err error) error {
	s.append(RoleAssistant, "Sorry, I encountered an error: "+err.Error())
	return err
}

func (s *Service) append(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// Transcript returns a copy of the transcript.
func (s *Service) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.transcript...)
}

// ConversationID returns the active conversation pointer, if any.
func (s *Service) ConversationID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == nil {
		return 0, false
	}
	return *s.conversationID, true
}

// NewConversation drops the transcript and the persisted conversation
// pointer. The session itself is untouched.
func (s *Service) NewConversation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = nil
	s.conversationID = nil
	return s.store.ClearConversationID()
}
