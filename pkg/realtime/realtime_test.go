package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T) *Broker {
	t.Helper()

	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	go func() { _ = b.Run(ctx) }()

	t.Cleanup(cancel)

	return b
}

func receive(t *testing.T, sub *Subscription) Change {
	t.Helper()

	select {
	case c, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return c
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no change received")
		return Change{}
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		payload   string
		wantErr   bool
		truncated bool
	}{
		{
			name:    "created",
			payload: `{"table":"events","op":"created","tenant_id":"t1","id":"e1","record":{"id":"e1","name":"x"}}`,
		},
		{
			name:    "deleted without record",
			payload: `{"table":"events","op":"deleted","tenant_id":"t1","id":"e1","record":null}`,
		},
		{
			name:      "updated without record is truncated",
			payload:   `{"table":"tasks","op":"updated","tenant_id":"t1","id":"k1","record":null}`,
			truncated: true,
		},
		{name: "not json", payload: `LISTEN`, wantErr: true},
		{name: "unknown op", payload: `{"table":"events","op":"insert","tenant_id":"t1","id":"e1"}`, wantErr: true},
		{name: "no tenant", payload: `{"table":"events","op":"created","id":"e1"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := Decode([]byte(tt.payload))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedChange)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.truncated, c.Truncated())
			assert.False(t, c.At.IsZero())
		})
	}
}

func TestBroker_RoutesByTenant(t *testing.T) {
	t.Parallel()

	b := startBroker(t)

	one := b.Subscribe("t1")
	two := b.Subscribe("t2")
	all := b.SubscribeAll()

	assert.ElementsMatch(t, []string{"t1", "t2"}, b.Tenants())

	require.True(t, b.Publish(Change{Table: TableEvents, Op: Created, TenantID: "t1", ID: "a"}))
	require.True(t, b.Publish(Change{Table: TableEvents, Op: Created, TenantID: "t2", ID: "b"}))

	assert.Equal(t, "a", receive(t, one).ID)
	assert.Equal(t, "b", receive(t, two).ID)
	assert.Equal(t, "a", receive(t, all).ID)
	assert.Equal(t, "b", receive(t, all).ID)

	select {
	case c := <-one.C():
		assert.Fail(t, "leaked change", c.ID)
	case <-time.After(50 * time.Millisecond):
	}

	one.Close()
	one.Close()

	_, ok := <-one.C()
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return b.Count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestBroker_DropsSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := startBroker(t)
	slow := b.Subscribe("t1")

	for i := range subscriptionBuffer + 1 {
		b.Publish(Change{Table: TableTasks, Op: Updated, TenantID: "t1", ID: string(rune('a' + i%26))})
	}

	assert.Eventually(t, func() bool { return b.Count() == 0 }, time.Second, 10*time.Millisecond)

	n := 0
	for range slow.C() {
		n++
	}

	assert.Equal(t, subscriptionBuffer, n)
}

func TestBroker_StopClosesSubscriptions(t *testing.T) {
	t.Parallel()

	b := NewBroker()

	go func() { _ = b.Run(context.Background()) }()

	sub := b.Subscribe("t1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, b.Stop(ctx))

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := b.Subscribe("t1")
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestBroker_Reset(t *testing.T) {
	t.Parallel()

	b := startBroker(t)
	one := b.Subscribe("t1")
	all := b.SubscribeAll()

	require.Eventually(t, func() bool { return b.Count() == 2 }, time.Second, 5*time.Millisecond)

	b.Reset()
	b.Reset()

	for _, sub := range []*Subscription{one, all} {
		select {
		case _, ok := <-sub.C():
			assert.False(t, ok)
		case <-time.After(time.Second):
			require.FailNow(t, "subscription not closed")
		}
	}

	assert.Zero(t, b.Count())

	again := b.Subscribe("t1")
	b.Publish(Change{Table: TableEvents, Op: Deleted, TenantID: "t1", ID: "e1"})
	assert.Equal(t, "e1", receive(t, again).ID)
}

func TestBroker_FullQueueResets(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	b.publish = make(chan Change, 1)

	sub := &Subscription{ID: "s1", all: true, broker: b, send: make(chan Change, 4)}
	b.subscribers[sub] = struct{}{}

	change := Change{Table: TableEvents, Op: Deleted, TenantID: "t1", ID: "e1"}
	assert.True(t, b.Publish(change))
	assert.False(t, b.Publish(change))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = b.Run(ctx) }()

	closed := make(chan struct{})

	go func() {
		for range sub.C() {
		}
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "subscription survived a dropped change")
	}
}

type fakeNotifier struct {
	payloads chan string
}

func (f *fakeNotifier) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case p, ok := <-f.payloads:
		if !ok {
			return nil, errors.New("connection reset")
		}

		return &pgconn.Notification{Channel: Channel, Payload: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestListener(t *testing.T) {
	t.Parallel()

	b := startBroker(t)
	sub := b.Subscribe("t1")

	first := &fakeNotifier{payloads: make(chan string, 4)}
	second := &fakeNotifier{payloads: make(chan string, 4)}

	var connects atomic.Int32

	connect := func(context.Context) (Notifier, func(), error) {
		switch connects.Add(1) {
		case 1:
			return first, func() {}, nil
		case 2:
			return nil, nil, errors.New("database starting up")
		default:
			return second, func() {}, nil
		}
	}

	l := NewListener(connect, b)
	l.delay = time.Millisecond

	done := make(chan error, 1)

	go func() { done <- l.Run(context.Background()) }()

	first.payloads <- `not json`
	first.payloads <- `{"table":"events","op":"created","tenant_id":"t1","id":"e1","record":{"id":"e1"}}`
	assert.Equal(t, "e1", receive(t, sub).ID)

	close(first.payloads)

	// the reconnect resets subscribers, who may have missed changes meanwhile
	for range sub.C() {
	}

	sub = b.Subscribe("t1")

	second.payloads <- `{"table":"events","op":"deleted","tenant_id":"t1","id":"e1"}`
	got := receive(t, sub)
	assert.Equal(t, Deleted, got.Op)
	assert.GreaterOrEqual(t, connects.Load(), int32(3))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Stop(ctx))
	require.NoError(t, <-done)
}

func TestServe(t *testing.T) {
	t.Parallel()

	b := startBroker(t)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		Serve(r.Context(), conn, b.Subscribe("t1"))
	}))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	defer resp.Body.Close()
	defer conn.Close()

	var msg Message

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageHello, msg.Type)

	record := json.RawMessage(`{"id":"k1","title":"Buy cake"}`)
	b.Publish(Change{Table: TableTasks, Op: Created, TenantID: "t2", ID: "other"})
	b.Publish(Change{Table: TableTasks, Op: Created, TenantID: "t1", ID: "k1", Record: record})

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageChange, msg.Type)
	require.NotNil(t, msg.Change)
	assert.Equal(t, "k1", msg.Change.ID)
	assert.JSONEq(t, string(record), string(msg.Change.Record))
}
