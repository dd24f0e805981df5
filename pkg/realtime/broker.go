package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	subscriptionBuffer = 256
	publishBuffer      = 1024
)

// Subscription is one consumer of a tenant's change stream, or of every tenant
// when it was created with SubscribeAll.
type Subscription struct {
	ID       string
	tenantID string
	all      bool
	send     chan Change
	broker   *Broker
	once     sync.Once
}

// C yields changes until the subscription is closed or dropped for being slow.
func (s *Subscription) C() <-chan Change {
	return s.send
}

func (s *Subscription) Close() {
	s.once.Do(func() { s.broker.unsubscribe(s) })
}

func (s *Subscription) wants(c Change) bool {
	return s.all || s.tenantID == c.TenantID
}

// Broker fans changes out to subscribers. A single Run loop owns the
// subscriber set; everything else talks to it over channels.
type Broker struct {
	subscribers map[*Subscription]struct{}
	publish     chan Change
	register    chan *Subscription
	unregister  chan *Subscription
	reset       chan struct{}
	stop        chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	mu          sync.RWMutex
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[*Subscription]struct{}),
		publish:     make(chan Change, publishBuffer),
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		reset:       make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run dispatches until ctx is cancelled or Stop is called, then closes every subscription.
func (b *Broker) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "startup").Str("component", "broker").Msg("starting up")

	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return nil

		case <-b.stop:
			b.closeAll()
			return nil

		case <-b.reset:
			log.Ctx(ctx).Warn().Str("component", "broker").Int("subscriptions", b.Count()).Msg("changes lost, closing subscriptions")
			b.closeAll()

		case sub := <-b.register:
			b.mu.Lock()
			b.subscribers[sub] = struct{}{}
			b.mu.Unlock()
			log.Ctx(ctx).Debug().Str("component", "broker").Str("subscription", sub.ID).Int("total", b.Count()).Msg("subscribed")

		case sub := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.subscribers[sub]; ok {
				delete(b.subscribers, sub)
				close(sub.send)
			}
			b.mu.Unlock()

		case change := <-b.publish:
			b.mu.Lock()
			for sub := range b.subscribers {
				if !sub.wants(change) {
					continue
				}

				select {
				case sub.send <- change:
				default:
					log.Ctx(ctx).Warn().Str("component", "broker").Str("subscription", sub.ID).Msg("subscriber too slow, dropping")
					delete(b.subscribers, sub)
					close(sub.send)
				}
			}
			b.mu.Unlock()
		}
	}
}

func (b *Broker) Stop(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", "broker").Msg("stopping")
	defer log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", "broker").Msg("stopped")

	b.stopOnce.Do(func() { close(b.stop) })

	select {
	case <-b.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub.send)
	}
}

// Publish queues a change; it never blocks the caller. A change that does not
// fit the queue is dropped and every subscription is reset.
func (b *Broker) Publish(c Change) bool {
	select {
	case b.publish <- c:
		return true
	default:
		log.Warn().Str("component", "broker").Str("table", c.Table).Msg("publish queue full, dropping change")
		b.Reset()

		return false
	}
}

// Reset closes every subscription once the Run loop gets to it. Subscribers
// holding derived state must drop it and subscribe again.
func (b *Broker) Reset() {
	select {
	case b.reset <- struct{}{}:
	default:
	}
}

func (b *Broker) Subscribe(tenantID string) *Subscription {
	return b.subscribe(&Subscription{tenantID: tenantID})
}

func (b *Broker) SubscribeAll() *Subscription {
	return b.subscribe(&Subscription{all: true})
}

func (b *Broker) subscribe(sub *Subscription) *Subscription {
	sub.ID = uuid.NewString()
	sub.broker = b
	sub.send = make(chan Change, subscriptionBuffer)

	select {
	case b.register <- sub:
	case <-b.done:
		close(sub.send)
	}

	return sub
}

func (b *Broker) unsubscribe(sub *Subscription) {
	select {
	case b.unregister <- sub:
	case <-b.done:
	}
}

// Count is the number of live subscriptions.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers)
}

// Tenants returns the tenants that currently have at least one subscriber.
func (b *Broker) Tenants() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]string, 0)

	for sub := range b.subscribers {
		if sub.all {
			continue
		}

		if _, ok := seen[sub.tenantID]; !ok {
			seen[sub.tenantID] = struct{}{}
			out = append(out, sub.tenantID)
		}
	}

	return out
}
