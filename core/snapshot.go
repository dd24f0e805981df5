package core

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vuosikello/pkg/realtime"
)

// Snapshot is the in-memory state of one tenant's calendar. It only changes
// through Apply, which is last-write-wins per row.
type Snapshot struct {
	events map[string]Event
	tasks  map[string]Task
	stale  bool
}

func NewSnapshot(events []Event, tasks []Task) *Snapshot {
	s := &Snapshot{
		events: make(map[string]Event, len(events)),
		tasks:  make(map[string]Task, len(tasks)),
	}

	for _, e := range events {
		s.events[e.ID] = e
	}

	for _, t := range tasks {
		s.tasks[t.ID] = t
	}

	return s
}

// Stale reports that a change could not be applied and the snapshot must be
// reloaded.
func (s *Snapshot) Stale() bool {
	return s.stale
}

// Apply folds one change into the snapshot. Tables other than events and
// tasks are ignored.
func (s *Snapshot) Apply(c realtime.Change) error {
	switch c.Table {
	case realtime.TableEvents:
		if c.Op == realtime.Deleted {
			delete(s.events, c.ID)
			return nil
		}

		if c.Truncated() {
			s.stale = true
			return nil
		}

		var e Event
		if err := json.Unmarshal(c.Record, &e); err != nil {
			s.stale = true
			return fmt.Errorf("failed to decode event %s: %w", c.ID, err)
		}

		if cur, ok := s.events[e.ID]; ok && cur.UpdatedAt.After(e.UpdatedAt) {
			return nil
		}

		s.events[e.ID] = e

	case realtime.TableTasks:
		if c.Op == realtime.Deleted {
			delete(s.tasks, c.ID)
			return nil
		}

		if c.Truncated() {
			s.stale = true
			return nil
		}

		var t Task
		if err := json.Unmarshal(c.Record, &t); err != nil {
			s.stale = true
			return fmt.Errorf("failed to decode task %s: %w", c.ID, err)
		}

		s.tasks[t.ID] = t
	}

	return nil
}

// Events returns the events ordered like the repository lists them.
func (s *Snapshot) Events() []Event {
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}

	slices.SortFunc(out, func(a, b Event) int {
		if c := strings.Compare(a.StartDate, b.StartDate); c != 0 {
			return c
		}

		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return out
}

func (s *Snapshot) Tasks() []Task {
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}

	slices.SortFunc(out, func(a, b Task) int {
		if c := strings.Compare(a.Deadline, b.Deadline); c != 0 {
			return c
		}

		if c := strings.Compare(a.Title, b.Title); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return out
}

type snapshotEntry struct {
	mu   sync.Mutex
	snap *Snapshot
}

// SnapshotCache keeps one Snapshot per tenant, loaded on first use and kept
// current from the broker's change stream.
type SnapshotCache struct {
	name       string
	repository Repository
	broker     *realtime.Broker
	mu         sync.Mutex
	entries    map[string]*snapshotEntry
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
	retry      time.Duration
}

func NewSnapshotCache(repository Repository, broker *realtime.Broker) *SnapshotCache {
	return &SnapshotCache{
		name:       "snapshot-cache",
		repository: repository,
		broker:     broker,
		entries:    make(map[string]*snapshotEntry),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		retry:      time.Second,
	}
}

func (c *SnapshotCache) entry(tenantID string) *snapshotEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[tenantID]
	if !ok {
		e = &snapshotEntry{}
		c.entries[tenantID] = e
	}

	return e
}

// Get returns the tenant's events and tasks, loading them when the snapshot is
// missing or stale.
func (c *SnapshotCache) Get(ctx context.Context, tenantID string) ([]Event, []Task, error) {
	e := c.entry(tenantID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snap == nil || e.snap.Stale() {
		events, err := c.repository.ListEvents(ctx, tenantID, DateRange{})
		if err != nil {
			return nil, nil, err
		}

		tasks, err := c.repository.ListTasks(ctx, tenantID)
		if err != nil {
			return nil, nil, err
		}

		e.snap = NewSnapshot(events, tasks)
		log.Ctx(ctx).Debug().Str("component", c.name).Str("tenant", tenantID).
			Int("events", len(events)).Int("tasks", len(tasks)).Msg("snapshot loaded")
	}

	return e.snap.Events(), e.snap.Tasks(), nil
}

func (c *SnapshotCache) apply(ctx context.Context, change realtime.Change) {
	c.mu.Lock()
	e, ok := c.entries[change.TenantID]
	c.mu.Unlock()

	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snap == nil {
		return
	}

	if err := e.snap.Apply(change); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("component", c.name).Str("tenant", change.TenantID).Msg("snapshot marked stale")
	}
}

// invalidate forgets every snapshot; used when changes may have been missed.
func (c *SnapshotCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}

func (c *SnapshotCache) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "startup").Str("component", c.name).Msg("starting up")

	defer close(c.done)

	sub := c.broker.SubscribeAll()

	for {
		opened := time.Now()

		if !c.consume(ctx, sub) {
			sub.Close()
			return nil
		}

		log.Ctx(ctx).Warn().Str("component", c.name).Msg("change stream lost, dropping snapshots")

		if time.Since(opened) < c.retry {
			select {
			case <-ctx.Done():
				return nil
			case <-c.stop:
				return nil
			case <-time.After(c.retry):
			}
		}

		// subscribe before dropping so a reload cannot miss changes
		sub = c.broker.SubscribeAll()
		c.invalidate()
	}
}

// consume applies changes until the subscription closes, returning true, or
// the cache is stopped, returning false.
func (c *SnapshotCache) consume(ctx context.Context, sub *realtime.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.stop:
			return false
		case change, ok := <-sub.C():
			if !ok {
				return true
			}

			c.apply(ctx, change)
		}
	}
}

func (c *SnapshotCache) Stop(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", c.name).Msg("stopping")
	defer log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", c.name).Msg("stopped")

	c.stopOnce.Do(func() { close(c.stop) })

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
