package bus

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"prism-kanban/domain"
)

// DefaultMaxListeners bounds simultaneous listeners per process.
const DefaultMaxListeners = 100

// Handler receives events for the topic it subscribed to. Handlers run on
// the publisher's goroutine and must not block or publish.
type Handler func(domain.Event)

// Options configures a Bus.
type Options struct {
	// MaxListeners is the listener count above which registrations are
	// logged as a leak. Zero means DefaultMaxListeners.
	MaxListeners int
	Logger       *log.Logger
}

type listener struct {
	id      uint64
	handler Handler
}

// Bus is an in-process, synchronous publish/subscribe primitive keyed by
// project id. Events are never buffered or replayed.
type Bus struct {
	mu        sync.RWMutex
	topics    map[string][]listener
	count     int
	nextID    atomic.Uint64
	publishMu sync.Mutex

	maxListeners int
	logger       *log.Logger
}

// New creates a standalone bus. Most callers should use Acquire.
func New(opts Options) *Bus {
	if opts.MaxListeners <= 0 {
		opts.MaxListeners = DefaultMaxListeners
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Bus{
		topics:       make(map[string][]listener),
		maxListeners: opts.MaxListeners,
		logger:       opts.Logger,
	}
}

// Subscribe registers handler for topic and returns its disposer. The
// disposer may be called any number of times.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], listener{id: id, handler: handler})
	b.count++
	count := b.count
	b.mu.Unlock()

	if count > b.maxListeners {
		b.logger.WithFields(log.Fields{
			"topic":         topic,
			"listeners":     count,
			"max_listeners": b.maxListeners,
		}).Warn("bus listener bound exceeded, possible subscription leak")
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, l := range subs {
		if l.id != id {
			continue
		}
		rest := make([]listener, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(b.topics, topic)
		} else {
			b.topics[topic] = rest
		}
		b.count--
		return
	}
}

// Publish delivers ev to every listener registered for its topic at the
// time of the call. Publishes are serialized so every listener observes
// the same order.
func (b *Bus) Publish(ev domain.Event) {
	if ev == nil {
		return
	}
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.RLock()
	subs := b.topics[ev.Topic()]
	b.mu.RUnlock()

	// subs is never mutated in place, so it is safe to range without the lock.
	for _, l := range subs {
		b.safeCall(l.handler, ev)
	}
}

func (b *Bus) safeCall(handler Handler, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(log.Fields{
				"event": ev.EventType(),
				"topic": ev.Topic(),
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("bus handler panicked")
		}
	}()
	handler(ev)
}

// ListenerCount returns the number of registered listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// TopicListenerCount returns the number of listeners for one topic.
func (b *Bus) TopicListenerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
