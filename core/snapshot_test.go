package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vuosikello/pkg/realtime"
)

func record(t *testing.T, v any) json.RawMessage {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return b
}

func TestSnapshot_Apply(t *testing.T) {
	t.Parallel()

	older := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)

	base := func() *Snapshot {
		return NewSnapshot(
			[]Event{{ID: "e1", Name: "Kokous", StartDate: "2024-03-14", EndDate: "2024-03-14", UpdatedAt: newer}},
			[]Task{{ID: "k1", Title: "Pöytäkirja", Deadline: "2024-03-15"}},
		)
	}

	tests := []struct {
		name       string
		change     realtime.Change
		wantEvents []string
		wantTasks  []string
		wantStale  bool
		wantErr    bool
		check      func(t *testing.T, s *Snapshot)
	}{
		{
			name: "created event is added",
			change: realtime.Change{Table: realtime.TableEvents, Op: realtime.Created, ID: "e0",
				Record: record(t, Event{ID: "e0", Name: "Aamu", StartDate: "2024-03-01", EndDate: "2024-03-01", UpdatedAt: newer})},
			wantEvents: []string{"e0", "e1"},
			wantTasks:  []string{"k1"},
		},
		{
			name: "older update loses",
			change: realtime.Change{Table: realtime.TableEvents, Op: realtime.Updated, ID: "e1",
				Record: record(t, Event{ID: "e1", Name: "Vanha", StartDate: "2024-03-14", EndDate: "2024-03-14", UpdatedAt: older})},
			wantEvents: []string{"e1"},
			wantTasks:  []string{"k1"},
			check: func(t *testing.T, s *Snapshot) {
				assert.Equal(t, "Kokous", s.Events()[0].Name)
			},
		},
		{
			name: "newer update wins",
			change: realtime.Change{Table: realtime.TableEvents, Op: realtime.Updated, ID: "e1",
				Record: record(t, Event{ID: "e1", Name: "Uusi", StartDate: "2024-03-14", EndDate: "2024-03-14", UpdatedAt: newer.Add(time.Second)})},
			wantEvents: []string{"e1"},
			wantTasks:  []string{"k1"},
			check: func(t *testing.T, s *Snapshot) {
				assert.Equal(t, "Uusi", s.Events()[0].Name)
			},
		},
		{
			name:       "deleted task is removed",
			change:     realtime.Change{Table: realtime.TableTasks, Op: realtime.Deleted, ID: "k1"},
			wantEvents: []string{"e1"},
			wantTasks:  []string{},
		},
		{
			name: "task completion",
			change: realtime.Change{Table: realtime.TableTasks, Op: realtime.Updated, ID: "k1",
				Record: record(t, Task{ID: "k1", Title: "Pöytäkirja", Deadline: "2024-03-15", Completed: true})},
			wantEvents: []string{"e1"},
			wantTasks:  []string{"k1"},
			check: func(t *testing.T, s *Snapshot) {
				assert.True(t, s.Tasks()[0].Completed)
			},
		},
		{
			name:       "truncated change marks stale",
			change:     realtime.Change{Table: realtime.TableEvents, Op: realtime.Updated, ID: "e1"},
			wantEvents: []string{"e1"},
			wantTasks:  []string{"k1"},
			wantStale:  true,
		},
		{
			name:       "undecodable record marks stale",
			change:     realtime.Change{Table: realtime.TableTasks, Op: realtime.Created, ID: "k2", Record: json.RawMessage(`{"completed":"yes"}`)},
			wantEvents: []string{"e1"},
			wantTasks:  []string{"k1"},
			wantStale:  true,
			wantErr:    true,
		},
		{
			name:       "comments are ignored",
			change:     realtime.Change{Table: realtime.TableComments, Op: realtime.Created, ID: "c1", Record: json.RawMessage(`{}`)},
			wantEvents: []string{"e1"},
			wantTasks:  []string{"k1"},
		},
	}

	ids := func(n int, id func(i int) string) []string {
		out := make([]string, 0, n)
		for i := range n {
			out = append(out, id(i))
		}

		return out
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := base()
			err := s.Apply(tt.change)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			events, tasks := s.Events(), s.Tasks()
			assert.Equal(t, tt.wantEvents, ids(len(events), func(i int) string { return events[i].ID }))
			assert.Equal(t, tt.wantTasks, ids(len(tasks), func(i int) string { return tasks[i].ID }))
			assert.Equal(t, tt.wantStale, s.Stale())

			if tt.check != nil {
				tt.check(t, s)
			}
		})
	}
}

func TestSnapshotCache(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := realtime.NewBroker()
	go func() { _ = broker.Run(ctx) }()

	repo := new(MockRepository)
	repo.On("ListEvents", mock.Anything, "t1", DateRange{}).
		Return([]Event{{ID: "e1", TenantID: "t1", Name: "Kokous", StartDate: "2024-03-14", EndDate: "2024-03-14"}}, nil).Once()
	repo.On("ListTasks", mock.Anything, "t1").Return([]Task{}, nil).Once()

	cache := NewSnapshotCache(repo, broker)
	go func() { _ = cache.Run(ctx) }()

	require.Eventually(t, func() bool { return broker.Count() == 1 }, time.Second, 5*time.Millisecond)

	events, tasks, err := cache.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Empty(t, tasks)

	broker.Publish(realtime.Change{
		Table: realtime.TableEvents, Op: realtime.Created, TenantID: "t1", ID: "e2",
		Record: record(t, Event{ID: "e2", TenantID: "t1", Name: "Juhla", StartDate: "2024-03-20", EndDate: "2024-03-20"}),
	})

	// a change for a tenant nobody asked for is not loaded
	broker.Publish(realtime.Change{Table: realtime.TableEvents, Op: realtime.Deleted, TenantID: "t2", ID: "x"})

	require.Eventually(t, func() bool {
		events, _, err := cache.Get(ctx, "t1")
		return err == nil && len(events) == 2
	}, time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()

	require.NoError(t, cache.Stop(stopCtx))
	repo.AssertExpectations(t)
}

func TestSnapshotCache_ReloadsWhenStale(t *testing.T) {
	t.Parallel()

	repo := new(MockRepository)
	repo.On("ListEvents", mock.Anything, "t1", DateRange{}).Return([]Event{}, nil).Twice()
	repo.On("ListTasks", mock.Anything, "t1").Return([]Task{}, nil).Twice()

	cache := NewSnapshotCache(repo, realtime.NewBroker())
	ctx := context.Background()

	_, _, err := cache.Get(ctx, "t1")
	require.NoError(t, err)

	cache.apply(ctx, realtime.Change{Table: realtime.TableEvents, Op: realtime.Updated, TenantID: "t1", ID: "e1"})

	_, _, err = cache.Get(ctx, "t1")
	require.NoError(t, err)

	repo.AssertExpectations(t)
}

type droppingNotifier struct {
	drop chan struct{}
}

func (n *droppingNotifier) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-n.drop:
		return nil, errors.New("connection reset by peer")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSnapshotCache_ReloadsAfterReconnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := realtime.NewBroker()
	go func() { _ = broker.Run(ctx) }()

	repo := new(MockRepository)
	repo.On("ListEvents", mock.Anything, "t1", DateRange{}).
		Return([]Event{{ID: "e1", TenantID: "t1", Name: "v1", StartDate: "2024-03-14", EndDate: "2024-03-14"}}, nil).Once()
	repo.On("ListEvents", mock.Anything, "t1", DateRange{}).
		Return([]Event{{ID: "e1", TenantID: "t1", Name: "v2", StartDate: "2024-03-14", EndDate: "2024-03-14"}}, nil)
	repo.On("ListTasks", mock.Anything, "t1").Return([]Task{}, nil)

	cache := NewSnapshotCache(repo, broker)
	cache.retry = 10 * time.Millisecond
	go func() { _ = cache.Run(ctx) }()

	require.Eventually(t, func() bool { return broker.Count() == 1 }, time.Second, 5*time.Millisecond)

	first := &droppingNotifier{drop: make(chan struct{})}
	idle := &droppingNotifier{drop: make(chan struct{})}

	var conns atomic.Int32

	listener := realtime.NewListener(func(context.Context) (realtime.Notifier, func(), error) {
		if conns.Add(1) == 1 {
			return first, func() {}, nil
		}

		return idle, func() {}, nil
	}, broker)
	go func() { _ = listener.Run(ctx) }()

	require.Eventually(t, func() bool { return conns.Load() == 1 }, time.Second, 5*time.Millisecond)

	events, _, err := cache.Get(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "v1", events[0].Name)

	// the row changes while the listener is disconnected, so no notification arrives
	close(first.drop)

	require.Eventually(t, func() bool {
		events, _, err := cache.Get(ctx, "t1")
		return err == nil && len(events) == 1 && events[0].Name == "v2"
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(2), conns.Load())
}
