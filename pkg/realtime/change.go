package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Channel is the Postgres NOTIFY channel the schema triggers publish on.
const Channel = "vuosikello_changes"

var ErrMalformedChange = errors.New("malformed change notification")

type Op string

const (
	Created Op = "created"
	Updated Op = "updated"
	Deleted Op = "deleted"
)

// Tables whose rows are pushed to clients.
const (
	TableEvents     = "events"
	TableTasks      = "tasks"
	TableEventTypes = "event_types"
	TableComments   = "comments"
	TableReminders  = "reminders"
)

// Change is one row level mutation of a tenant's data. Record holds the row as
// JSON for created and updated rows; it is empty for deletes and for rows too
// large to fit a notification.
type Change struct {
	Table    string          `json:"table"`
	Op       Op              `json:"op"`
	TenantID string          `json:"tenant_id"`
	ID       string          `json:"id"`
	Record   json.RawMessage `json:"record,omitempty"`
	At       time.Time       `json:"at"`
}

// Decode parses a trigger payload.
func Decode(payload []byte) (Change, error) {
	var c Change

	if err := json.Unmarshal(payload, &c); err != nil {
		return Change{}, fmt.Errorf("%w: %w", ErrMalformedChange, err)
	}

	switch c.Op {
	case Created, Updated, Deleted:
	default:
		return Change{}, fmt.Errorf("%w: op %q", ErrMalformedChange, c.Op)
	}

	if c.Table == "" || c.TenantID == "" {
		return Change{}, fmt.Errorf("%w: missing table or tenant", ErrMalformedChange)
	}

	if string(c.Record) == "null" {
		c.Record = nil
	}

	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}

	return c, nil
}

// Truncated reports a created/updated change whose row did not fit the payload.
func (c Change) Truncated() bool {
	return c.Op != Deleted && len(c.Record) == 0
}
