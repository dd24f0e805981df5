package core

import (
	"time"

	"vuosikello/pkg/access"
	"vuosikello/pkg/recurrence"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Event spans StartDate..EndDate inclusive; both are YYYY-MM-DD.
type Event struct {
	ID        string    `json:"id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Name      string    `json:"name"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	Type      string    `json:"type"`
	Info      string    `json:"info,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func (e Event) DateSpan() (string, string) { return e.StartDate, e.EndDate }

func (e Event) Category() string { return e.Type }

// NewEvent is the body of POST /events.
type NewEvent struct {
	Event

	Repeat *recurrence.Rule `json:"repeat,omitempty"`
}

func (e Event) Template() recurrence.Template {
	return recurrence.Template{
		Name:      e.Name,
		StartDate: e.StartDate,
		EndDate:   e.EndDate,
		Type:      e.Type,
		TenantID:  e.TenantID,
		Info:      e.Info,
	}
}

func EventFromTemplate(t recurrence.Template) Event {
	return Event{
		TenantID:  t.TenantID,
		Name:      t.Name,
		StartDate: t.StartDate,
		EndDate:   t.EndDate,
		Type:      t.Type,
		Info:      t.Info,
	}
}

type EventType struct {
	ID       string `json:"id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Name     string `json:"name"`
	Color    string `json:"color"`
}

type Task struct {
	ID          string    `json:"id,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Deadline    string    `json:"deadline"`
	Priority    Priority  `json:"priority"`
	Category    string    `json:"category,omitempty"`
	Completed   bool      `json:"completed"`
	EventID     *string   `json:"event_id,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

func (t Task) DueDate() string { return t.Deadline }

func (t Task) IsOpen() bool { return !t.Completed }

type Comment struct {
	ID        string     `json:"id,omitempty"`
	TenantID  string     `json:"tenant_id,omitempty"`
	EventID   string     `json:"event_id"`
	ParentID  *string    `json:"parent_id,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at,omitzero"`
	Replies   []*Comment `json:"replies,omitempty"`
}

// Thread nests replies under their parents. comments must be in creation
// order; a reply whose parent does not precede it is promoted to a root.
func Thread(comments []Comment) []*Comment {
	seen := make(map[string]*Comment, len(comments))
	roots := make([]*Comment, 0)

	for i := range comments {
		node := comments[i]
		node.Replies = nil

		if node.ParentID != nil {
			if parent, ok := seen[*node.ParentID]; ok {
				parent.Replies = append(parent.Replies, &node)
				seen[node.ID] = &node
				continue
			}
		}

		roots = append(roots, &node)
		seen[node.ID] = &node
	}

	return roots
}

type Member struct {
	TenantID  string      `json:"tenant_id"`
	UserID    string      `json:"user_id"`
	Email     string      `json:"email"`
	Role      access.Role `json:"role"`
	CreatedAt time.Time   `json:"created_at,omitzero"`
}

// Reminder is what the morning job pushes to a tenant's clients.
type Reminder struct {
	Date   string  `json:"date"`
	Tasks  []Task  `json:"tasks"`
	Events []Event `json:"events"`
}
