package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"vuosikello/pkg/access"
	"vuosikello/pkg/calendar"
	"vuosikello/pkg/recurrence"
)

const (
	maxNameLength    = 100
	maxCommentLength = 2000
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

func validateName(field string, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalid(field + " is required")
	}

	if utf8.RuneCountInString(value) > maxNameLength {
		return "", invalid(fmt.Sprintf("%s is too long (%d characters tops)", field, maxNameLength))
	}

	return value, nil
}

// ValidateEvent normalises event in place and checks its date range.
func ValidateEvent(event *Event, loc *time.Location) error {
	name, err := validateName("name", event.Name)
	if err != nil {
		return err
	}

	event.Name = name
	event.Type = strings.TrimSpace(event.Type)

	if event.Type == "" {
		return invalid("type is required")
	}

	_, err = calendar.NewSpan(event.StartDate, event.EndDate, loc)
	if err != nil {
		return err
	}

	return nil
}

// ValidateRepeat checks a repeat rule before expansion. A nil rule is a
// single event.
func ValidateRepeat(rule *recurrence.Rule, loc *time.Location) error {
	if rule == nil || !rule.Enabled {
		return nil
	}

	_, err := recurrence.ParseFrequency(string(rule.Frequency))
	if err != nil {
		return err
	}

	if rule.Count < 0 {
		return invalid("repeat count must not be negative")
	}

	if rule.Until != nil && *rule.Until != "" {
		_, err = calendar.Parse(*rule.Until, loc)
		if err != nil {
			return err
		}
	}

	return nil
}

func ValidateEventType(et *EventType) error {
	name, err := validateName("name", et.Name)
	if err != nil {
		return err
	}

	et.Name = name
	et.Color = strings.TrimSpace(et.Color)

	if et.Color == "" {
		return invalid("color is required")
	}

	return nil
}

// ValidateTask fills in the default priority and checks the deadline.
func ValidateTask(task *Task, loc *time.Location) error {
	title, err := validateName("title", task.Title)
	if err != nil {
		return err
	}

	task.Title = title

	switch task.Priority {
	case "":
		task.Priority = PriorityMedium
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return invalid(fmt.Sprintf("unknown priority %q", task.Priority))
	}

	_, err = calendar.Parse(task.Deadline, loc)
	if err != nil {
		return err
	}

	if task.EventID != nil && *task.EventID == "" {
		task.EventID = nil
	}

	return nil
}

func ValidateComment(comment *Comment) error {
	comment.Body = strings.TrimSpace(comment.Body)

	if comment.Body == "" {
		return invalid("body is required")
	}

	if utf8.RuneCountInString(comment.Body) > maxCommentLength {
		return invalid(fmt.Sprintf("body is too long (%d characters tops)", maxCommentLength))
	}

	if comment.ParentID != nil && *comment.ParentID == "" {
		comment.ParentID = nil
	}

	return nil
}

func ValidateMember(member *Member) error {
	member.UserID = strings.TrimSpace(member.UserID)
	if member.UserID == "" {
		return invalid("user_id is required")
	}

	member.Email = strings.TrimSpace(member.Email)
	if member.Email != "" && !strings.Contains(member.Email, "@") {
		return invalid("email is malformed")
	}

	role, err := access.ParseRole(string(member.Role))
	if err != nil {
		return errors.Join(ErrInvalidInput, err)
	}

	member.Role = role

	return nil
}
