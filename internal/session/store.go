package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"cockpit/internal/chat"
	"cockpit/internal/kv"
)

const (
	storageKey    = "threads"
	titleMaxRunes = 44
	fallbackTitle = "new thread"
)

// Store owns the durable thread collection. Load sanitizes whatever is
// persisted; Save is best-effort (callers may ignore the error and keep
// the in-memory state authoritative for the running process).
type Store struct {
	kv kv.Store
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// storedThread mirrors chat.Thread with loose field types so one corrupt
// field never discards the whole collection.
type storedThread struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	UpdatedAt string          `json:"updated_at"`
	Messages  json.RawMessage `json:"messages"`
}

type storedMessage struct {
	ID          string            `json:"id"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	Attachments []chat.Attachment `json:"attachments"`
}

// Load reads the persisted thread collection. Missing, malformed, or
// partially corrupt data is sanitized field by field; if nothing usable
// remains, a single fresh thread is returned. Corruption never surfaces
// as an error.
func (s *Store) Load() []chat.Thread {
	threads := s.loadPersisted()
	if len(threads) == 0 {
		threads = []chat.Thread{NewThread()}
	}
	return threads
}

func (s *Store) loadPersisted() []chat.Thread {
	if s.kv == nil {
		return nil
	}
	raw, ok, err := s.kv.Get(storageKey)
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}

	out := make([]chat.Thread, 0, len(entries))
	for _, entry := range entries {
		thread, ok := sanitizeThread(entry)
		if !ok {
			continue
		}
		out = append(out, thread)
	}
	return out
}

func sanitizeThread(raw json.RawMessage) (chat.Thread, bool) {
	var st storedThread
	if err := json.Unmarshal(raw, &st); err != nil {
		return chat.Thread{}, false
	}
	id := strings.TrimSpace(st.ID)
	if id == "" {
		return chat.Thread{}, false
	}

	var rawMessages []json.RawMessage
	if err := json.Unmarshal(st.Messages, &rawMessages); err != nil {
		return chat.Thread{}, false
	}
	messages := make([]chat.Message, 0, len(rawMessages))
	for _, rawMsg := range rawMessages {
		msg, ok := sanitizeMessage(rawMsg)
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	// An empty thread is normalized away.
	if len(messages) == 0 {
		return chat.Thread{}, false
	}

	updatedAt := strings.TrimSpace(st.UpdatedAt)
	if updatedAt == "" {
		updatedAt = nowUTC()
	}
	thread := chat.Thread{
		ID:        id,
		Title:     strings.TrimSpace(st.Title),
		UpdatedAt: updatedAt,
		Messages:  messages,
	}
	if thread.Title == "" {
		thread.Title = DeriveTitle(thread.Messages)
	}
	return thread, true
}

func sanitizeMessage(raw json.RawMessage) (chat.Message, bool) {
	var sm storedMessage
	if err := json.Unmarshal(raw, &sm); err != nil {
		return chat.Message{}, false
	}
	role := strings.TrimSpace(sm.Role)
	if role != chat.RoleUser && role != chat.RoleAssistant {
		return chat.Message{}, false
	}
	if sm.Content == "" {
		return chat.Message{}, false
	}
	id := strings.TrimSpace(sm.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return chat.Message{
		ID:          id,
		Role:        role,
		Content:     sm.Content,
		Attachments: sm.Attachments,
	}, true
}

// Save serializes the full collection. Persistence failures propagate so
// callers can decide to swallow them (`_ = store.Save(...)`).
func (s *Store) Save(threads []chat.Thread) error {
	if s.kv == nil {
		return nil
	}
	data, err := json.Marshal(threads)
	if err != nil {
		return err
	}
	return s.kv.Set(storageKey, string(data))
}

// DeriveTitle derives the thread title from the first user message:
// whitespace-collapsed and truncated to 44 runes with an ellipsis marker.
// It is recomputed, never stored as separately mutable state.
func DeriveTitle(messages []chat.Message) string {
	for _, msg := range messages {
		if msg.Role != chat.RoleUser {
			continue
		}
		collapsed := strings.Join(strings.Fields(msg.Content), " ")
		if collapsed == "" {
			continue
		}
		runes := []rune(collapsed)
		if len(runes) > titleMaxRunes {
			return string(runes[:titleMaxRunes]) + "..."
		}
		return collapsed
	}
	return fallbackTitle
}

// NewThread returns a fresh, untitled thread.
func NewThread() chat.Thread {
	return chat.Thread{
		ID:        uuid.NewString(),
		Title:     fallbackTitle,
		UpdatedAt: nowUTC(),
	}
}

// NewMessage builds a message with a generated id.
func NewMessage(role, content string, attachments []chat.Attachment) chat.Message {
	return chat.Message{
		ID:          uuid.NewString(),
		Role:        role,
		Content:     content,
		Attachments: attachments,
	}
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
