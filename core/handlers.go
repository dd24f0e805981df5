package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"vuosikello/pkg/access"
	"vuosikello/pkg/calendar"
	"vuosikello/pkg/ics"
	"vuosikello/pkg/realtime"
	"vuosikello/pkg/recurrence"
	"vuosikello/pkg/report"
	"vuosikello/pkg/resources"
)

const maxImportSize = 4 << 20

type Handlers interface {
	Health(gctx *gin.Context)
	GetTenant(gctx *gin.Context)

	ListEvents(gctx *gin.Context)
	PostEvents(gctx *gin.Context)
	GetEvent(gctx *gin.Context)
	PutEvent(gctx *gin.Context)
	DeleteEvent(gctx *gin.Context)
	ImportEvents(gctx *gin.Context)

	ListComments(gctx *gin.Context)
	PostComment(gctx *gin.Context)
	DeleteComment(gctx *gin.Context)

	ListEventTypes(gctx *gin.Context)
	PostEventType(gctx *gin.Context)
	DeleteEventType(gctx *gin.Context)

	ListTasks(gctx *gin.Context)
	PostTask(gctx *gin.Context)
	PutTask(gctx *gin.Context)
	DeleteTask(gctx *gin.Context)

	CalendarView(gctx *gin.Context)
	Agenda(gctx *gin.Context)

	ListMembers(gctx *gin.Context)
	PostMember(gctx *gin.Context)
	DeleteMember(gctx *gin.Context)

	Stream(gctx *gin.Context)
}

// Snapshots serves the calendar view without a query per request.
type Snapshots interface {
	Get(ctx context.Context, tenantID string) ([]Event, []Task, error)
}

type handlers struct {
	repository Repository
	snapshots  Snapshots
	broker     *realtime.Broker
	expander   *recurrence.Expander
	location   *time.Location
	maxImport  int
	upgrader   websocket.Upgrader
	now        func() time.Time
}

func NewHandlers(repository Repository, snapshots Snapshots, broker *realtime.Broker, settings *resources.Settings) Handlers {
	h := &handlers{
		repository: repository,
		snapshots:  snapshots,
		broker:     broker,
		expander:   recurrence.NewExpander(settings.Location, settings.MaxOccurrences),
		location:   settings.Location,
		maxImport:  settings.MaxOccurrences,
		now:        time.Now,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     allowOrigins(settings.CORSOrigins),
	}

	return h
}

func allowOrigins(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		return slices.Contains(origins, "*") || slices.Contains(origins, origin)
	}
}

func bind(gctx *gin.Context, dst any) error {
	err := gctx.ShouldBindJSON(dst)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return nil
}

func (h *handlers) today() string {
	return calendar.Format(h.now().In(h.location))
}

func visibility(gctx *gin.Context) calendar.Visibility {
	raw := strings.TrimSpace(gctx.Query("types"))
	if raw == "" {
		return nil
	}

	var types []string

	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	return calendar.NewVisibility(types...)
}

/*
 tenant
*/

func (h *handlers) Health(gctx *gin.Context) {
	gctx.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": h.broker.Count()})
}

func (h *handlers) GetTenant(gctx *gin.Context) {
	member := MemberOf(gctx)

	tenant, err := h.repository.GetTenant(gctx.Request.Context(), member.TenantID)
	if err != nil {
		abort(gctx, "unable to get tenant", err)
		return
	}

	gctx.JSON(http.StatusOK, gin.H{
		"tenant":  tenant,
		"role":    member.Role,
		"actions": access.Actions(member.Role),
	})
}

/*
 events
*/

func (h *handlers) ListEvents(gctx *gin.Context) {
	dr := DateRange{From: gctx.Query("from"), To: gctx.Query("to")}

	for _, d := range []string{dr.From, dr.To} {
		if d == "" {
			continue
		}

		if _, err := calendar.Parse(d, h.location); err != nil {
			abort(gctx, "invalid date range", err)
			return
		}
	}

	if dr.From != "" && dr.To != "" {
		if _, err := calendar.NewSpan(dr.From, dr.To, h.location); err != nil {
			abort(gctx, "invalid date range", err)
			return
		}
	}

	events, err := h.repository.ListEvents(gctx.Request.Context(), MemberOf(gctx).TenantID, dr)
	if err != nil {
		abort(gctx, "unable to list events", err)
		return
	}

	gctx.JSON(http.StatusOK, events)
}

// PostEvents creates an event, or every occurrence of a repeating one, in a
// single transaction.
func (h *handlers) PostEvents(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	var body NewEvent

	err := bind(gctx, &body)
	if err != nil {
		abort(gctx, "failed to bind JSON", err)
		return
	}

	body.TenantID = MemberOf(gctx).TenantID

	err = ValidateEvent(&body.Event, h.location)
	if err != nil {
		abort(gctx, "event validation failed", err)
		return
	}

	err = ValidateRepeat(body.Repeat, h.location)
	if err != nil {
		abort(gctx, "repeat validation failed", err)
		return
	}

	var rule recurrence.Rule
	if body.Repeat != nil {
		rule = *body.Repeat
	}

	occurrences, err := h.expander.Expand(body.Template(), rule)
	if err != nil {
		abort(gctx, "unable to expand repeat rule", err)
		return
	}

	if len(occurrences) == 0 {
		log.Ctx(ctx).Info().Str("tenant", body.TenantID).Msg("repeat rule produced no occurrences")
		gctx.JSON(http.StatusCreated, []Event{})

		return
	}

	events := make([]Event, 0, len(occurrences))
	for _, o := range occurrences {
		events = append(events, EventFromTemplate(o))
	}

	saved, err := h.repository.InsertEvents(ctx, events)
	if err != nil {
		abort(gctx, "saving events failed", err)
		return
	}

	gctx.JSON(http.StatusCreated, saved)
}

func (h *handlers) GetEvent(gctx *gin.Context) {
	event, err := h.repository.GetEvent(gctx.Request.Context(), MemberOf(gctx).TenantID, gctx.Param("id"))
	if err != nil {
		abort(gctx, "unable to get event", err)
		return
	}

	gctx.JSON(http.StatusOK, event)
}

func (h *handlers) PutEvent(gctx *gin.Context) {
	var event Event

	err := bind(gctx, &event)
	if err != nil {
		abort(gctx, "failed to bind JSON", err)
		return
	}

	event.ID = gctx.Param("id")
	event.TenantID = MemberOf(gctx).TenantID

	err = ValidateEvent(&event, h.location)
	if err != nil {
		abort(gctx, "event validation failed", err)
		return
	}

	updated, err := h.repository.UpdateEvent(gctx.Request.Context(), &event)
	if err != nil {
		abort(gctx, "updating event failed", err)
		return
	}

	gctx.JSON(http.StatusOK, updated)
}

func (h *handlers) DeleteEvent(gctx *gin.Context) {
	err := h.repository.DeleteEvent(gctx.Request.Context(), MemberOf(gctx).TenantID, gctx.Param("id"))
	if err != nil {
		abort(gctx, "deleting event failed", err)
		return
	}

	gctx.Status(http.StatusNoContent)
}

// importWindow defaults to the current calendar year.
func (h *handlers) importWindow(gctx *gin.Context) (ics.Window, error) {
	year := h.now().In(h.location).Year()

	from := gctx.DefaultQuery("from", fmt.Sprintf("%04d-01-01", year))
	to := gctx.DefaultQuery("to", fmt.Sprintf("%04d-12-31", year))

	span, err := calendar.NewSpan(from, to, h.location)
	if err != nil {
		return ics.Window{}, err
	}

	return ics.Window{
		From:           span.Start,
		To:             span.End,
		Location:       h.location,
		MaxOccurrences: h.maxImport,
	}, nil
}

// ImportEvents reads an iCalendar body and stores every occurrence inside the
// window as an event of the requested type.
func (h *handlers) ImportEvents(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	tenantID := MemberOf(gctx).TenantID

	eventType := strings.TrimSpace(gctx.Query("type"))
	if eventType == "" {
		abort(gctx, "event type is required", invalid("query parameter 'type' is required"))
		return
	}

	window, err := h.importWindow(gctx)
	if err != nil {
		abort(gctx, "invalid import window", err)
		return
	}

	occurrences, err := ics.Import(io.LimitReader(gctx.Request.Body, maxImportSize), window)
	if err != nil {
		abort(gctx, "unable to read calendar", err)
		return
	}

	events := make([]Event, 0, len(occurrences))

	for _, o := range occurrences {
		event := Event{
			TenantID:  tenantID,
			Name:      clip(o.Summary, maxNameLength),
			StartDate: o.StartDate,
			EndDate:   o.EndDate,
			Type:      eventType,
			Info:      o.Description,
		}

		if err := ValidateEvent(&event, h.location); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("uid", o.UID).Msg("skipping imported occurrence")
			continue
		}

		events = append(events, event)
	}

	if len(events) == 0 {
		gctx.JSON(http.StatusOK, []Event{})
		return
	}

	saved, err := h.repository.InsertEvents(ctx, events)
	if err != nil {
		abort(gctx, "saving imported events failed", err)
		return
	}

	log.Ctx(ctx).Info().Str("tenant", tenantID).Int("events", len(saved)).Msg("calendar imported")
	gctx.JSON(http.StatusCreated, saved)
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	return string([]rune(s)[:n])
}

/*
 comments
*/

func (h *handlers) ListComments(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	tenantID := MemberOf(gctx).TenantID

	_, err := h.repository.GetEvent(ctx, tenantID, gctx.Param("id"))
	if err != nil {
		abort(gctx, "unable to get event", err)
		return
	}

	comments, err := h.repository.ListComments(ctx, tenantID, gctx.Param("id"))
	if err != nil {
		abort(gctx, "unable to list comments", err)
		return
	}

	gctx.JSON(http.StatusOK, Thread(comments))
}

func (h *handlers) PostComment(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	tenantID := MemberOf(gctx).TenantID

	var comment Comment

	err := bind(gctx, &comment)
	if err != nil {
		abort(gctx, "failed to bind JSON", err)
		return
	}

	err = ValidateComment(&comment)
	if err != nil {
		abort(gctx, "comment validation failed", err)
		return
	}

	_, err = h.repository.GetEvent(ctx, tenantID, gctx.Param("id"))
	if err != nil {
		abort(gctx, "unable to get event", err)
		return
	}

	comment.TenantID = tenantID
	comment.EventID = gctx.Param("id")
	comment.UserID = PrincipalOf(gctx).UserID

	saved, err := h.repository.InsertComment(ctx, &comment)
	if err != nil {
		abort(gctx, "saving comment failed", err)
		return
	}

	gctx.JSON(http.StatusCreated, saved)
}

// DeleteComment lets authors remove their own comments and moderators any.
func (h *handlers) DeleteComment(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	member := MemberOf(gctx)

	comment, err := h.repository.GetComment(ctx, member.TenantID, gctx.Param("id"))
	if err != nil {
		abort(gctx, "unable to get comment", err)
		return
	}

	if comment.UserID != PrincipalOf(gctx).UserID && !access.Can(member.Role, access.ModerateComments) {
		abort(gctx, "action not allowed", fmt.Errorf("%w: only the author or a moderator may delete a comment", ErrForbidden))
		return
	}

	err = h.repository.DeleteComment(ctx, member.TenantID, comment.ID)
	if err != nil {
		abort(gctx, "deleting comment failed", err)
		return
	}

	gctx.Status(http.StatusNoContent)
}

/*
 event types
*/

func (h *handlers) ListEventTypes(gctx *gin.Context) {
	types, err := h.repository.ListEventTypes(gctx.Request.Context(), MemberOf(gctx).TenantID)
	if err != nil {
		abort(gctx, "unable to list event types", err)
		return
	}

	gctx.JSON(http.StatusOK, types)
}

func (h *handlers) PostEventType(gctx *gin.Context) {
	var et EventType

	err := bind(gctx, &et)
	if err != nil {
		abort(gctx, "failed to bind JSON", err)
		return
	}

	err = ValidateEventType(&et)
	if err != nil {
		abort(gctx, "event type validation failed", err)
		return
	}

	et.TenantID = MemberOf(gctx).TenantID

	saved, err := h.repository.InsertEventType(gctx.Request.Context(), &et)
	if err != nil {
		abort(gctx, "saving event type failed", err)
		return
	}

	gctx.JSON(http.StatusCreated, saved)
}

func (h *handlers) DeleteEventType(gctx *gin.Context) {
	err := h.repository.DeleteEventType(gctx.Request.Context(), MemberOf(gctx).TenantID, gctx.Param("id"))
	if err != nil {
		abort(gctx, "deleting event type failed", err)
		return
	}

	gctx.Status(http.StatusNoContent)
}

/*
 tasks
*/

func (h *handlers) ListTasks(gctx *gin.Context) {
	tasks, err := h.repository.ListTasks(gctx.Request.Context(), MemberOf(gctx).TenantID)
	if err != nil {
		abort(gctx, "unable to list tasks", err)
		return
	}

	gctx.JSON(http.StatusOK, tasks)
}

// checkTask validates task and, when it is linked to an event, that the event
// belongs to the same tenant.
func (h *handlers) checkTask(ctx context.Context, task *Task) error {
	err := ValidateTask(task, h.location)
	if err != nil {
		return err
	}

	if task.EventID != nil {
		_, err = h.repository.GetEvent(ctx, task.TenantID, *task.EventID)
		if err != nil {
			return err
		}
	}

	return nil
}

func (h *handlers) PostTask(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	var task Task

	err := bind(gctx, &task)
	if err != nil {
		abort(gctx, "failed to bind JSON", err)
		return
	}

	task.TenantID = MemberOf(gctx).TenantID

	err = h.checkTask(ctx, &task)
	if err != nil {
		abort(gctx, "task validation failed", err)
		return
	}

	saved, err := h.repository.InsertTask(ctx, &task)
	if err != nil {
		abort(gctx, "saving task failed", err)
		return
	}

	gctx.JSON(http.StatusCreated, saved)
}

func (h *handlers) PutTask(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	var task Task

	err := bind(gctx, &task)
	if err != nil {
		abort(gctx, "failed to bind JSON", err)
		return
	}

	task.ID = gctx.Param("id")
	task.TenantID = MemberOf(gctx).TenantID

	err = h.checkTask(ctx, &task)
	if err != nil {
		abort(gctx, "task validation failed", err)
		return
	}

	updated, err := h.repository.UpdateTask(ctx, &task)
	if err != nil {
		abort(gctx, "updating task failed", err)
		return
	}

	gctx.JSON(http.StatusOK, updated)
}

func (h *handlers) DeleteTask(gctx *gin.Context) {
	err := h.repository.DeleteTask(gctx.Request.Context(), MemberOf(gctx).TenantID, gctx.Param("id"))
	if err != nil {
		abort(gctx, "deleting task failed", err)
		return
	}

	gctx.Status(http.StatusNoContent)
}

/*
 calendar
*/

// CalendarView renders one day, week or month page. Unknown modes fall back to
// the day view.
func (h *handlers) CalendarView(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	mode := calendar.ParseViewMode(gctx.Query("mode"))

	ref, err := calendar.Parse(gctx.DefaultQuery("date", h.today()), h.location)
	if err != nil {
		abort(gctx, "invalid reference date", err)
		return
	}

	events, tasks, err := h.snapshots.Get(ctx, MemberOf(gctx).TenantID)
	if err != nil {
		abort(gctx, "unable to load calendar", err)
		return
	}

	view, err := calendar.Build(calendar.NewState(mode, ref), events, tasks, visibility(gctx), h.location)
	if err != nil {
		abort(gctx, "unable to build calendar view", err)
		return
	}

	gctx.JSON(http.StatusOK, view)
}

// Agenda exports the events intersecting start..end grouped by type, as JSON,
// iCalendar, PDF or XLSX.
func (h *handlers) Agenda(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	tenantID := MemberOf(gctx).TenantID

	start, end := gctx.Query("start"), gctx.Query("end")

	span, err := calendar.NewSpan(start, end, h.location)
	if err != nil {
		abort(gctx, "invalid agenda range", err)
		return
	}

	format := strings.ToLower(gctx.DefaultQuery("format", "json"))
	switch format {
	case "json", "ics", string(report.FormatPDF), string(report.FormatXLSX):
	default:
		abort(gctx, "unsupported format", invalid(fmt.Sprintf("unknown format %q", format)))
		return
	}

	events, err := h.repository.ListEvents(ctx, tenantID, DateRange{From: start, To: end})
	if err != nil {
		abort(gctx, "unable to list events", err)
		return
	}

	visible := visibility(gctx)

	shown := make([]Event, 0, len(events))
	for _, e := range events {
		if visible.Shows(e.Type) {
			shown = append(shown, e)
		}
	}

	agenda, err := calendar.Agenda(shown, span, h.location)
	if err != nil {
		abort(gctx, "unable to build agenda", err)
		return
	}

	if format == "json" {
		gctx.JSON(http.StatusOK, agenda)
		return
	}

	title := "Vuosikello"

	tenant, err := h.repository.GetTenant(ctx, tenantID)
	if err != nil {
		abort(gctx, "unable to get tenant", err)
		return
	}

	if tenant.Name != "" {
		title = tenant.Name
	}

	var (
		buf         bytes.Buffer
		contentType string
		filename    string
	)

	switch format {
	case "ics":
		err = ics.Export(&buf, title, agendaEntries(agenda), h.location)
		contentType = "text/calendar; charset=utf-8"
		filename = fmt.Sprintf("agenda_%s_%s.ics", start, end)
	default:
		f := report.Format(format)
		a := agendaReport(title, start, end, agenda)
		err = report.Render(&buf, f, a)
		contentType = f.ContentType()
		filename = f.Filename(a)
	}

	if err != nil {
		abort(gctx, "unable to render agenda", err)
		return
	}

	gctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	gctx.Data(http.StatusOK, contentType, buf.Bytes())
}

func agendaEntries(agenda map[string][]Event) []ics.Entry {
	entries := make([]ics.Entry, 0)

	for _, category := range calendar.Categories(agenda) {
		for _, e := range agenda[category] {
			entries = append(entries, ics.Entry{
				UID:         e.ID + "@vuosikello",
				Summary:     e.Name,
				Description: e.Info,
				Category:    category,
				Start:       e.StartDate,
				End:         e.EndDate,
				Updated:     e.UpdatedAt,
			})
		}
	}

	return entries
}

func agendaReport(title, from, to string, agenda map[string][]Event) report.Agenda {
	a := report.Agenda{Title: title, From: from, To: to}

	for _, category := range calendar.Categories(agenda) {
		section := report.Section{Title: category}

		for _, e := range agenda[category] {
			section.Rows = append(section.Rows, report.Row{
				Name:  e.Name,
				Start: e.StartDate,
				End:   e.EndDate,
				Info:  e.Info,
			})
		}

		a.Sections = append(a.Sections, section)
	}

	return a
}

/*
 members
*/

func (h *handlers) ListMembers(gctx *gin.Context) {
	members, err := h.repository.ListMembers(gctx.Request.Context(), MemberOf(gctx).TenantID)
	if err != nil {
		abort(gctx, "unable to list members", err)
		return
	}

	gctx.JSON(http.StatusOK, members)
}

func (h *handlers) PostMember(gctx *gin.Context) {
	var member Member

	err := bind(gctx, &member)
	if err != nil {
		abort(gctx, "failed to bind JSON", err)
		return
	}

	err = ValidateMember(&member)
	if err != nil {
		abort(gctx, "member validation failed", err)
		return
	}

	member.TenantID = MemberOf(gctx).TenantID

	saved, err := h.repository.InsertMember(gctx.Request.Context(), &member)
	if err != nil {
		abort(gctx, "saving member failed", err)
		return
	}

	gctx.JSON(http.StatusCreated, saved)
}

// DeleteMember refuses to remove the caller, so a tenant keeps its admin.
func (h *handlers) DeleteMember(gctx *gin.Context) {
	userID := gctx.Param("user_id")

	if userID == PrincipalOf(gctx).UserID {
		abort(gctx, "action not allowed", fmt.Errorf("%w: members cannot remove themselves", ErrForbidden))
		return
	}

	err := h.repository.DeleteMember(gctx.Request.Context(), MemberOf(gctx).TenantID, userID)
	if err != nil {
		abort(gctx, "deleting member failed", err)
		return
	}

	gctx.Status(http.StatusNoContent)
}

/*
 realtime
*/

// Stream upgrades to a WebSocket carrying the tenant's changes until either
// side closes.
func (h *handlers) Stream(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	tenantID := MemberOf(gctx).TenantID

	conn, err := h.upgrader.Upgrade(gctx.Writer, gctx.Request, nil)
	if err != nil {
		log.Ctx(ctx).Info().Err(err).Str("tenant", tenantID).Msg("websocket upgrade failed")
		return
	}

	log.Ctx(ctx).Debug().Str("tenant", tenantID).Str("user", PrincipalOf(gctx).UserID).Msg("stream opened")

	realtime.Serve(ctx, conn, h.broker.Subscribe(tenantID))
}
