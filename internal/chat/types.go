package chat

// RoleUser and RoleAssistant are the only roles a persisted thread carries;
// tool traffic stays inside the backend runtime.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Attachment is a piece of workspace context pinned to a message. It is
// keyed by AbsolutePath; deduplication by path is the attaching UI's job.
type Attachment struct {
	AbsolutePath   string `json:"absolute_path"`
	RelativePath   string `json:"relative_path"`
	MediaType      string `json:"media_type"`
	PreviewDataURL string `json:"preview_data_url,omitempty"`
	IsImage        bool   `json:"is_image"`
}

// Message is one entry in a thread's log. Immutable once finalized; only
// the in-flight assistant message of an active stream grows its Content.
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Thread is a persisted conversation: an ordered message log plus derived
// metadata. UpdatedAt is refreshed on every append (UTC RFC3339).
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt string    `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// FirstUserMessage returns the first user-authored message, if any.
func (t Thread) FirstUserMessage() (Message, bool) {
	for _, msg := range t.Messages {
		if msg.Role == RoleUser {
			return msg, true
		}
	}
	return Message{}, false
}

// LastMessage returns the final message of the log, if any.
func (t Thread) LastMessage() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// Clone returns a deep copy so callers can hand threads across goroutine
// boundaries without sharing the message slice.
func (t Thread) Clone() Thread {
	out := t
	out.Messages = make([]Message, len(t.Messages))
	for i, msg := range t.Messages {
		m := msg
		if len(msg.Attachments) > 0 {
			m.Attachments = append([]Attachment(nil), msg.Attachments...)
		}
		out.Messages[i] = m
	}
	return out
}
