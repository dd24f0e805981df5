package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"vuosikello/pkg/access"
	"vuosikello/pkg/resources"
)

// DateRange restricts listings to rows overlapping From..To. Empty bounds are open.
type DateRange struct {
	From string
	To   string
}

type Repository interface {
	GetTenant(ctx context.Context, id string) (*Tenant, error)

	ListEvents(ctx context.Context, tenantID string, r DateRange) ([]Event, error)
	GetEvent(ctx context.Context, tenantID string, id string) (*Event, error)
	InsertEvents(ctx context.Context, events []Event) ([]Event, error)
	UpdateEvent(ctx context.Context, event *Event) (*Event, error)
	DeleteEvent(ctx context.Context, tenantID string, id string) error

	ListEventTypes(ctx context.Context, tenantID string) ([]EventType, error)
	InsertEventType(ctx context.Context, et *EventType) (*EventType, error)
	DeleteEventType(ctx context.Context, tenantID string, id string) error

	ListTasks(ctx context.Context, tenantID string) ([]Task, error)
	InsertTask(ctx context.Context, task *Task) (*Task, error)
	UpdateTask(ctx context.Context, task *Task) (*Task, error)
	DeleteTask(ctx context.Context, tenantID string, id string) error

	ListComments(ctx context.Context, tenantID string, eventID string) ([]Comment, error)
	GetComment(ctx context.Context, tenantID string, id string) (*Comment, error)
	InsertComment(ctx context.Context, comment *Comment) (*Comment, error)
	DeleteComment(ctx context.Context, tenantID string, id string) error

	GetMember(ctx context.Context, tenantID string, userID string) (*Member, error)
	ListMembers(ctx context.Context, tenantID string) ([]Member, error)
	InsertMember(ctx context.Context, member *Member) (*Member, error)
	DeleteMember(ctx context.Context, tenantID string, userID string) error

	ListDueTasks(ctx context.Context, date string) ([]Task, error)
	ListEventsStarting(ctx context.Context, date string) ([]Event, error)
}

type repository struct {
	tracer  trace.Tracer
	metrics *DBMetrics
	pool    resources.DBInstance
}

func NewRepository(pool resources.DBInstance) Repository {
	return &repository{
		tracer:  otel.GetTracerProvider().Tracer("vuosikello/core"),
		metrics: NewDBMetrics(),
		pool:    pool,
	}
}

const (
	eventColumns     = "id::text, tenant_id::text, name, start_date::text, end_date::text, type, info, created_at, updated_at"
	eventTypeColumns = "id::text, tenant_id::text, name, color"
	taskColumns      = "id::text, tenant_id::text, title, description, deadline::text, priority, category, completed, event_id::text, created_at"
	commentColumns   = "id::text, tenant_id::text, event_id::text, parent_id::text, user_id, body, created_at"
	memberColumns    = "tenant_id::text, user_id, email, role, created_at"
)

// instrument opens a span and returns the func that closes it and records the
// query metrics.
func (r *repository) instrument(ctx context.Context, op string) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "repository."+op)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
		r.metrics.Observe(ctx, op, start, err)
	}
}

// classify turns driver errors into domain errors.
func classify(err error, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02", "22007", "22008":
			return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.Message)
		case "23503":
			return fmt.Errorf("%w: referenced row does not exist", ErrInvalidInput)
		case "23505":
			return fmt.Errorf("%w: already exists", ErrInvalidInput)
		case "23514":
			return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.Message)
		}
	}

	return err
}

func optional(s string) any {
	if s == "" {
		return nil
	}

	return s
}

/*
 tenants
*/

func (r *repository) GetTenant(ctx context.Context, id string) (tenant *Tenant, err error) {
	ctx, done := r.instrument(ctx, "get_tenant")
	defer func() { done(err) }()

	var t Tenant

	err = r.pool.QueryRow(ctx, "SELECT id::text, name, created_at FROM tenants WHERE id = $1", id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", classify(err, ErrTenantNotFound))
	}

	return &t, nil
}

/*
 events
*/

func scanEvent(row pgx.Row) (Event, error) {
	var e Event

	err := row.Scan(&e.ID, &e.TenantID, &e.Name, &e.StartDate, &e.EndDate, &e.Type, &e.Info, &e.CreatedAt, &e.UpdatedAt)

	return e, err
}

func collectEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()

	out := make([]Event, 0)

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

func (r *repository) ListEvents(ctx context.Context, tenantID string, dr DateRange) (events []Event, err error) {
	ctx, done := r.instrument(ctx, "list_events")
	defer func() { done(err) }()

	rows, err := r.pool.Query(ctx,
		"SELECT "+eventColumns+" FROM events "+
			"WHERE tenant_id = $1 "+
			"AND ($2::date IS NULL OR end_date >= $2::date) "+
			"AND ($3::date IS NULL OR start_date <= $3::date) "+
			"ORDER BY start_date, name",
		tenantID, optional(dr.From), optional(dr.To))
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", classify(err, ErrEventNotFound))
	}

	events, err = collectEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return events, nil
}

func (r *repository) GetEvent(ctx context.Context, tenantID string, id string) (event *Event, err error) {
	ctx, done := r.instrument(ctx, "get_event")
	defer func() { done(err) }()

	e, err := scanEvent(r.pool.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM events WHERE tenant_id = $1 AND id = $2", tenantID, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", classify(err, ErrEventNotFound))
	}

	return &e, nil
}

// InsertEvents stores all events or none of them.
func (r *repository) InsertEvents(ctx context.Context, events []Event) (saved []Event, err error) {
	ctx, done := r.instrument(ctx, "insert_events")
	defer func() { done(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	saved = make([]Event, 0, len(events))

	for _, event := range events {
		var e Event

		e, err = scanEvent(tx.QueryRow(ctx,
			"INSERT INTO events (tenant_id, name, start_date, end_date, type, info) "+
				"VALUES ($1, $2, $3::date, $4::date, $5, $6) "+
				"RETURNING "+eventColumns,
			event.TenantID, event.Name, event.StartDate, event.EndDate, event.Type, event.Info))
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("failed to insert event: %w", classify(err, ErrEventNotFound))
		}

		saved = append(saved, e)
	}

	err = tx.Commit(ctx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return saved, nil
}

func (r *repository) UpdateEvent(ctx context.Context, event *Event) (updated *Event, err error) {
	ctx, done := r.instrument(ctx, "update_event")
	defer func() { done(err) }()

	e, err := scanEvent(r.pool.QueryRow(ctx,
		"UPDATE events SET name = $3, start_date = $4::date, end_date = $5::date, type = $6, info = $7 "+
			"WHERE tenant_id = $1 AND id = $2 "+
			"RETURNING "+eventColumns,
		event.TenantID, event.ID, event.Name, event.StartDate, event.EndDate, event.Type, event.Info))
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", classify(err, ErrEventNotFound))
	}

	return &e, nil
}

func (r *repository) exec(ctx context.Context, op string, notFound error, sql string, args ...any) (err error) {
	ctx, done := r.instrument(ctx, op)
	defer func() { done(err) }()

	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, classify(err, notFound))
	}

	if tag.RowsAffected() == 0 {
		return notFound
	}

	return nil
}

func (r *repository) DeleteEvent(ctx context.Context, tenantID string, id string) error {
	return r.exec(ctx, "delete_event", ErrEventNotFound,
		"DELETE FROM events WHERE tenant_id = $1 AND id = $2", tenantID, id)
}

/*
 event types
*/

func (r *repository) ListEventTypes(ctx context.Context, tenantID string) (types []EventType, err error) {
	ctx, done := r.instrument(ctx, "list_event_types")
	defer func() { done(err) }()

	rows, err := r.pool.Query(ctx,
		"SELECT "+eventTypeColumns+" FROM event_types WHERE tenant_id = $1 ORDER BY name", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list event types: %w", classify(err, ErrEventTypeNotFound))
	}
	defer rows.Close()

	types = make([]EventType, 0)

	for rows.Next() {
		var et EventType

		err = rows.Scan(&et.ID, &et.TenantID, &et.Name, &et.Color)
		if err != nil {
			return nil, fmt.Errorf("failed to read event type: %w", err)
		}

		types = append(types, et)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to read event types: %w", err)
	}

	return types, nil
}

func (r *repository) InsertEventType(ctx context.Context, et *EventType) (saved *EventType, err error) {
	ctx, done := r.instrument(ctx, "insert_event_type")
	defer func() { done(err) }()

	var out EventType

	err = r.pool.QueryRow(ctx,
		"INSERT INTO event_types (tenant_id, name, color) VALUES ($1, $2, $3) RETURNING "+eventTypeColumns,
		et.TenantID, et.Name, et.Color).
		Scan(&out.ID, &out.TenantID, &out.Name, &out.Color)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event type: %w", classify(err, ErrEventTypeNotFound))
	}

	return &out, nil
}

// DeleteEventType leaves the events of that type untouched.
func (r *repository) DeleteEventType(ctx context.Context, tenantID string, id string) error {
	return r.exec(ctx, "delete_event_type", ErrEventTypeNotFound,
		"DELETE FROM event_types WHERE tenant_id = $1 AND id = $2", tenantID, id)
}

/*
 tasks
*/

func scanTask(row pgx.Row) (Task, error) {
	var (
		t        Task
		priority string
	)

	err := row.Scan(&t.ID, &t.TenantID, &t.Title, &t.Description, &t.Deadline, &priority, &t.Category, &t.Completed, &t.EventID, &t.CreatedAt)
	t.Priority = Priority(priority)

	return t, err
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()

	out := make([]Task, 0)

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	return out, rows.Err()
}

func (r *repository) ListTasks(ctx context.Context, tenantID string) (tasks []Task, err error) {
	ctx, done := r.instrument(ctx, "list_tasks")
	defer func() { done(err) }()

	rows, err := r.pool.Query(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE tenant_id = $1 ORDER BY deadline, title", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", classify(err, ErrTaskNotFound))
	}

	tasks, err = collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}

	return tasks, nil
}

func (r *repository) InsertTask(ctx context.Context, task *Task) (saved *Task, err error) {
	ctx, done := r.instrument(ctx, "insert_task")
	defer func() { done(err) }()

	t, err := scanTask(r.pool.QueryRow(ctx,
		"INSERT INTO tasks (tenant_id, title, description, deadline, priority, category, completed, event_id) "+
			"VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8) "+
			"RETURNING "+taskColumns,
		task.TenantID, task.Title, task.Description, task.Deadline, string(task.Priority), task.Category, task.Completed, task.EventID))
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", classify(err, ErrTaskNotFound))
	}

	return &t, nil
}

func (r *repository) UpdateTask(ctx context.Context, task *Task) (updated *Task, err error) {
	ctx, done := r.instrument(ctx, "update_task")
	defer func() { done(err) }()

	t, err := scanTask(r.pool.QueryRow(ctx,
		"UPDATE tasks SET title = $3, description = $4, deadline = $5::date, priority = $6, category = $7, completed = $8, event_id = $9 "+
			"WHERE tenant_id = $1 AND id = $2 "+
			"RETURNING "+taskColumns,
		task.TenantID, task.ID, task.Title, task.Description, task.Deadline, string(task.Priority), task.Category, task.Completed, task.EventID))
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", classify(err, ErrTaskNotFound))
	}

	return &t, nil
}

func (r *repository) DeleteTask(ctx context.Context, tenantID string, id string) error {
	return r.exec(ctx, "delete_task", ErrTaskNotFound,
		"DELETE FROM tasks WHERE tenant_id = $1 AND id = $2", tenantID, id)
}

/*
 comments
*/

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment

	err := row.Scan(&c.ID, &c.TenantID, &c.EventID, &c.ParentID, &c.UserID, &c.Body, &c.CreatedAt)

	return c, err
}

func (r *repository) ListComments(ctx context.Context, tenantID string, eventID string) (comments []Comment, err error) {
	ctx, done := r.instrument(ctx, "list_comments")
	defer func() { done(err) }()

	rows, err := r.pool.Query(ctx,
		"SELECT "+commentColumns+" FROM comments WHERE tenant_id = $1 AND event_id = $2 ORDER BY created_at, id",
		tenantID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", classify(err, ErrCommentNotFound))
	}
	defer rows.Close()

	comments = make([]Comment, 0)

	for rows.Next() {
		var c Comment

		c, err = scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read comment: %w", err)
		}

		comments = append(comments, c)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to read comments: %w", err)
	}

	return comments, nil
}

func (r *repository) GetComment(ctx context.Context, tenantID string, id string) (comment *Comment, err error) {
	ctx, done := r.instrument(ctx, "get_comment")
	defer func() { done(err) }()

	c, err := scanComment(r.pool.QueryRow(ctx,
		"SELECT "+commentColumns+" FROM comments WHERE tenant_id = $1 AND id = $2", tenantID, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get comment: %w", classify(err, ErrCommentNotFound))
	}

	return &c, nil
}

// InsertComment requires the parent, when given, to belong to the same event.
func (r *repository) InsertComment(ctx context.Context, comment *Comment) (saved *Comment, err error) {
	ctx, done := r.instrument(ctx, "insert_comment")
	defer func() { done(err) }()

	c, err := scanComment(r.pool.QueryRow(ctx,
		"INSERT INTO comments (tenant_id, event_id, parent_id, user_id, body) "+
			"SELECT $1::uuid, $2::uuid, $3::uuid, $4, $5 "+
			"WHERE $3::uuid IS NULL OR EXISTS (SELECT 1 FROM comments WHERE id = $3::uuid AND event_id = $2::uuid) "+
			"RETURNING "+commentColumns,
		comment.TenantID, comment.EventID, comment.ParentID, comment.UserID, comment.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to insert comment: %w", classify(err, ErrCommentNotFound))
	}

	return &c, nil
}

func (r *repository) DeleteComment(ctx context.Context, tenantID string, id string) error {
	return r.exec(ctx, "delete_comment", ErrCommentNotFound,
		"DELETE FROM comments WHERE tenant_id = $1 AND id = $2", tenantID, id)
}

/*
 members
*/

func scanMember(row pgx.Row) (Member, error) {
	var (
		m    Member
		role string
	)

	err := row.Scan(&m.TenantID, &m.UserID, &m.Email, &role, &m.CreatedAt)
	m.Role = access.Role(role)

	return m, err
}

func (r *repository) GetMember(ctx context.Context, tenantID string, userID string) (member *Member, err error) {
	ctx, done := r.instrument(ctx, "get_member")
	defer func() { done(err) }()

	m, err := scanMember(r.pool.QueryRow(ctx,
		"SELECT "+memberColumns+" FROM members WHERE tenant_id = $1 AND user_id = $2", tenantID, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", classify(err, ErrMemberNotFound))
	}

	return &m, nil
}

func (r *repository) ListMembers(ctx context.Context, tenantID string) (members []Member, err error) {
	ctx, done := r.instrument(ctx, "list_members")
	defer func() { done(err) }()

	rows, err := r.pool.Query(ctx,
		"SELECT "+memberColumns+" FROM members WHERE tenant_id = $1 ORDER BY created_at, user_id", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", classify(err, ErrMemberNotFound))
	}
	defer rows.Close()

	members = make([]Member, 0)

	for rows.Next() {
		var m Member

		m, err = scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read member: %w", err)
		}

		members = append(members, m)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to read members: %w", err)
	}

	return members, nil
}

// InsertMember adds a member or changes the role of an existing one.
func (r *repository) InsertMember(ctx context.Context, member *Member) (saved *Member, err error) {
	ctx, done := r.instrument(ctx, "insert_member")
	defer func() { done(err) }()

	m, err := scanMember(r.pool.QueryRow(ctx,
		"INSERT INTO members (tenant_id, user_id, email, role) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (tenant_id, user_id) DO UPDATE SET email = EXCLUDED.email, role = EXCLUDED.role "+
			"RETURNING "+memberColumns,
		member.TenantID, member.UserID, member.Email, string(member.Role)))
	if err != nil {
		return nil, fmt.Errorf("failed to insert member: %w", classify(err, ErrMemberNotFound))
	}

	return &m, nil
}

func (r *repository) DeleteMember(ctx context.Context, tenantID string, userID string) error {
	return r.exec(ctx, "delete_member", ErrMemberNotFound,
		"DELETE FROM members WHERE tenant_id = $1 AND user_id = $2", tenantID, userID)
}

/*
 reminders
*/

// ListDueTasks returns the open tasks of every tenant due on date.
func (r *repository) ListDueTasks(ctx context.Context, date string) (tasks []Task, err error) {
	ctx, done := r.instrument(ctx, "list_due_tasks")
	defer func() { done(err) }()

	rows, err := r.pool.Query(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE deadline = $1::date AND NOT completed ORDER BY tenant_id, title", date)
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", classify(err, ErrTaskNotFound))
	}

	tasks, err = collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read due tasks: %w", err)
	}

	return tasks, nil
}

// ListEventsStarting returns the events of every tenant starting on date.
func (r *repository) ListEventsStarting(ctx context.Context, date string) (events []Event, err error) {
	ctx, done := r.instrument(ctx, "list_events_starting")
	defer func() { done(err) }()

	rows, err := r.pool.Query(ctx,
		"SELECT "+eventColumns+" FROM events WHERE start_date = $1::date ORDER BY tenant_id, name", date)
	if err != nil {
		return nil, fmt.Errorf("failed to list starting events: %w", classify(err, ErrEventNotFound))
	}

	events, err = collectEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read starting events: %w", err)
	}

	return events, nil
}

/*
 metrics
*/

type DBMetrics struct {
	qTotal   metric.Int64Counter
	qErrors  metric.Int64Counter
	qLatency metric.Float64Histogram
}

func NewDBMetrics() *DBMetrics {
	meter := otel.Meter("vuosikello/db")

	qTotal, _ := meter.Int64Counter("db.query.total")
	qErrors, _ := meter.Int64Counter("db.query.errors.total")
	qLatency, _ := meter.Float64Histogram("db.query.duration.ms")

	return &DBMetrics{qTotal: qTotal, qErrors: qErrors, qLatency: qLatency}
}

// Observe records one query. Missing rows are not counted as errors.
func (m *DBMetrics) Observe(ctx context.Context, op string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("db.system", "postgres"),
		attribute.String("db.operation", op),
	)

	m.qTotal.Add(ctx, 1, attrs)
	m.qLatency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

	if err != nil && StatusOf(err) != http.StatusNotFound {
		m.qErrors.Add(ctx, 1, attrs)
	}
}
