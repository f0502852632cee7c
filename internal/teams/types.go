package teams

import "time"

// Config is the backend-authored team configuration. A team observed
// before its config arrives carries a nil Config.
type Config struct {
	Description string   `json:"description,omitempty"`
	Lead        string   `json:"lead,omitempty"`
	Members     []Member `json:"members,omitempty"`
}

// Member is one cooperating agent in a team.
type Member struct {
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
}

// Task is one entry of a team's shared task list.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	AssignedTo  string `json:"assigned_to,omitempty"`
}

// InboxMessage is one message in an agent's inbox.
type InboxMessage struct {
	From      string `json:"from"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Snapshot is a full, non-incremental representation of a team's state.
// Version is a backend-monotonic counter used to ignore stale deliveries.
type Snapshot struct {
	Config  *Config                   `json:"config,omitempty"`
	Tasks   []Task                    `json:"tasks"`
	Inboxes map[string][]InboxMessage `json:"inboxes"`
	Version int64                     `json:"version"`
}

// Team is the locally reconciled view of one team. UpdatedAt is the local
// reconciliation time ("last observed"), never the backend event time.
type Team struct {
	Name      string
	Config    *Config
	Tasks     []Task
	Inboxes   map[string][]InboxMessage
	UpdatedAt time.Time

	version int64
}

func (t Team) clone() Team {
	out := t
	out.Tasks = append([]Task(nil), t.Tasks...)
	if t.Inboxes != nil {
		out.Inboxes = make(map[string][]InboxMessage, len(t.Inboxes))
		for agent, messages := range t.Inboxes {
			out.Inboxes[agent] = append([]InboxMessage(nil), messages...)
		}
	}
	if t.Config != nil {
		cfg := *t.Config
		cfg.Members = append([]Member(nil), t.Config.Members...)
		out.Config = &cfg
	}
	return out
}
