// Package bus provides the process-wide publish/subscribe channel that
// connects pipeline workers. Subscriptions are keyed by (producer, event
// name); delivery is synchronous, in subscription order, with no persistence
// or replay.
package bus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/monitoring"
)

// Handler receives a matching event. A non-nil error is logged by the bus and
// does not interrupt delivery to other subscribers.
type Handler func(event.Event) error

// HandlerError wraps a handler failure with enough context to name the
// subscriber and the event that triggered it.
type HandlerError struct {
	Token    string
	Producer string
	Event    string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %s:%s failed: %v", e.Token, e.Producer, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type routeKey struct {
	producer string
	name     string
}

type subscription struct {
	token   string
	handler Handler
}

// Bus routes events from producers to subscribed handlers. All methods are
// safe for concurrent use from multiple worker goroutines; a single mutex
// guards the subscription table.
type Bus struct {
	log *monitoring.Logger

	mu     sync.Mutex
	routes map[routeKey][]subscription
	byTok  map[string]routeKey
}

// New returns an empty bus logging handler failures through log.
func New(log *monitoring.Logger) *Bus {
	if log == nil {
		log = monitoring.NewLogger("bus", monitoring.LevelWarn)
	}
	return &Bus{
		log:    log,
		routes: make(map[routeKey][]subscription),
		byTok:  make(map[string]routeKey),
	}
}

// Subscribe registers handler for events named name from producer. The
// returned token revokes the subscription via Unsubscribe; workers revoke on
// stop so no handler outlives its worker.
func (b *Bus) Subscribe(producer, name string, handler Handler) string {
	token := uuid.New().String()
	key := routeKey{producer: producer, name: name}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[key] = append(b.routes[key], subscription{token: token, handler: handler})
	b.byTok[token] = key
	return token
}

// Unsubscribe revokes a subscription token. Unknown tokens are ignored.
func (b *Bus) Unsubscribe(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key, ok := b.byTok[token]
	if !ok {
		return
	}
	delete(b.byTok, token)
	subs := b.routes[key]
	for i, s := range subs {
		if s.token == token {
			b.routes[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.routes[key]) == 0 {
		delete(b.routes, key)
	}
}

// Publish delivers ev to every currently registered matching handler, in
// subscription order, before returning. Payloads implementing event.Cloner
// are cloned once so handlers never observe producer-side mutation. A
// handler error or panic is logged and isolated; remaining handlers still
// run.
func (b *Bus) Publish(ev event.Event) {
	key := routeKey{producer: ev.Producer, name: ev.Name}
	b.mu.Lock()
	subs := b.routes[key]
	if len(subs) > 0 {
		subs = append([]subscription(nil), subs...)
	}
	b.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	if c, ok := ev.Payload.(event.Cloner); ok {
		ev.Payload = c.Clone()
	}
	for _, s := range subs {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("%v", &HandlerError{
				Token:    s.token,
				Producer: ev.Producer,
				Event:    ev.Name,
				Err:      fmt.Errorf("panic: %v", r),
			})
		}
	}()
	if err := s.handler(ev); err != nil {
		b.log.Errorf("%v", &HandlerError{
			Token:    s.token,
			Producer: ev.Producer,
			Event:    ev.Name,
			Err:      err,
		})
	}
}

// Subscribers returns the number of handlers registered for the given
// (producer, event) pair. Exposed for observability and tests.
func (b *Bus) Subscribers(producer, name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.routes[routeKey{producer: producer, name: name}])
}
