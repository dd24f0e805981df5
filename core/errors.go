package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"vuosikello/pkg/auth"
	"vuosikello/pkg/calendar"
	"vuosikello/pkg/ics"
	"vuosikello/pkg/recurrence"
)

var (
	ErrEventNotFound     = errors.New("event not found")
	ErrEventTypeNotFound = errors.New("event type not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrCommentNotFound   = errors.New("comment not found")
	ErrMemberNotFound    = errors.New("member not found")
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("not allowed")
)

type Error struct {
	Message string   `json:"message,omitempty"`
	Err     []string `json:"err,omitempty"`
}

func NewError(message string, errs ...error) *Error {
	return &Error{
		Message: message,
		Err: func() []string {
			var msgs []string

			for _, err := range errs {
				if err != nil {
					msgs = append(msgs, err.Error())
				}
			}

			return msgs
		}(),
	}
}

func (e *Error) Error() string {
	//nolint:errchkjson
	data, _ := json.Marshal(e)
	return string(data)
}

func (e *Error) Unwrap() error {
	if e == nil || len(e.Err) == 0 {
		return nil
	}

	errs := make([]error, len(e.Err))
	for i, err := range e.Err {
		errs[i] = fmt.Errorf("%s", err)
	}

	return errors.Join(errs...)
}

func (e *Error) Messages() []string {
	return e.Err
}

// StatusOf maps a domain error to the HTTP status it is reported with.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrEventTypeNotFound),
		errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrCommentNotFound),
		errors.Is(err, ErrMemberNotFound),
		errors.Is(err, ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, calendar.ErrInvalidDateFormat),
		errors.Is(err, calendar.ErrInvalidRange),
		errors.Is(err, recurrence.ErrUnknownFrequency),
		errors.Is(err, recurrence.ErrTooManyOccurrences),
		errors.Is(err, ics.ErrMalformedCalendar):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
