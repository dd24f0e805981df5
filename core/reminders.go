package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"vuosikello/pkg/calendar"
	"vuosikello/pkg/realtime"
)

// Reminders pushes each tenant the open tasks due today and the events
// starting today.
type Reminders struct {
	repository Repository
	broker     *realtime.Broker
	location   *time.Location
	now        func() time.Time
}

func NewReminders(repository Repository, broker *realtime.Broker, loc *time.Location) *Reminders {
	return &Reminders{
		repository: repository,
		broker:     broker,
		location:   loc,
		now:        time.Now,
	}
}

// Job adapts Send to the cron scheduler.
func (r *Reminders) Job(ctx context.Context) cron.Job {
	return cron.FuncJob(func() {
		_, err := r.Send(ctx)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("component", "reminders").Msg("unable to send reminders")
		}
	})
}

// Send publishes one reminder per tenant with something due and returns how
// many were published.
func (r *Reminders) Send(ctx context.Context) (int, error) {
	today := calendar.Format(r.now().In(r.location))

	tasks, err := r.repository.ListDueTasks(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("failed to list due tasks: %w", err)
	}

	events, err := r.repository.ListEventsStarting(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("failed to list starting events: %w", err)
	}

	byTenant := make(map[string]*Reminder)
	order := make([]string, 0)

	get := func(tenantID string) *Reminder {
		rem, ok := byTenant[tenantID]
		if !ok {
			rem = &Reminder{Date: today, Tasks: make([]Task, 0), Events: make([]Event, 0)}
			byTenant[tenantID] = rem
			order = append(order, tenantID)
		}

		return rem
	}

	for _, t := range tasks {
		rem := get(t.TenantID)
		rem.Tasks = append(rem.Tasks, t)
	}

	for _, e := range events {
		rem := get(e.TenantID)
		rem.Events = append(rem.Events, e)
	}

	sent := 0

	for _, tenantID := range order {
		record, err := json.Marshal(byTenant[tenantID])
		if err != nil {
			return sent, fmt.Errorf("failed to encode reminder: %w", err)
		}

		ok := r.broker.Publish(realtime.Change{
			Table:    realtime.TableReminders,
			Op:       realtime.Created,
			TenantID: tenantID,
			ID:       today,
			Record:   record,
			At:       r.now().UTC(),
		})
		if ok {
			sent++
		}
	}

	log.Ctx(ctx).Info().Str("component", "reminders").Str("date", today).
		Int("tasks", len(tasks)).Int("events", len(events)).Int("tenants", sent).Msg("reminders sent")

	return sent, nil
}
