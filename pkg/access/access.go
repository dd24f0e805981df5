package access

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownRole = errors.New("unknown role")

type Role string

const (
	Admin  Role = "admin"
	Editor Role = "editor"
	Viewer Role = "viewer"
)

func ParseRole(value string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(value))); r {
	case Admin, Editor, Viewer:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, value)
	}
}

type Action string

const (
	ViewCalendar     Action = "view_calendar"
	CreateEvent      Action = "create_event"
	EditEvent        Action = "edit_event"
	DeleteEvent      Action = "delete_event"
	ImportEvents     Action = "import_events"
	ManageEventTypes Action = "manage_event_types"
	CreateTask       Action = "create_task"
	EditTask         Action = "edit_task"
	DeleteTask       Action = "delete_task"
	Comment          Action = "comment"
	ModerateComments Action = "moderate_comments"
	ManageMembers    Action = "manage_members"
	ExportAgenda     Action = "export_agenda"
)

type set map[Action]struct{}

func newSet(actions ...Action) set {
	s := make(set, len(actions))
	for _, a := range actions {
		s[a] = struct{}{}
	}

	return s
}

var viewer = []Action{ViewCalendar, Comment, ExportAgenda}

var editor = append([]Action{
	CreateEvent, EditEvent, DeleteEvent, ImportEvents,
	CreateTask, EditTask, DeleteTask,
}, viewer...)

var admin = append([]Action{ManageEventTypes, ModerateComments, ManageMembers}, editor...)

var capabilities = map[Role]set{
	Admin:  newSet(admin...),
	Editor: newSet(editor...),
	Viewer: newSet(viewer...),
}

// Can reports whether role holds the capability for action.
func Can(role Role, action Action) bool {
	_, ok := capabilities[role][action]
	return ok
}

// Actions lists what role may do, for clients that hide controls.
func Actions(role Role) []Action {
	out := make([]Action, 0, len(capabilities[role]))
	for _, a := range admin {
		if Can(role, a) {
			out = append(out, a)
		}
	}

	return out
}
