// Package eventbus fans out text lines describing dispatch and registry
// activity to live subscribers. Publishing never blocks: each subscriber has
// a bounded buffer and a slow subscriber loses its own oldest lines.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Subscription.Next after Unsubscribe.
var ErrClosed = errors.New("subscription closed")

// DefaultBufferSize is the per-subscriber line capacity used when none is given.
const DefaultBufferSize = 256

var (
	droppedLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ips_eventbus_dropped_lines_total",
			Help: "Lines discarded because a subscriber buffer was full",
		},
	)
	subscriberCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ips_eventbus_subscribers",
			Help: "Number of live event subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(droppedLines)
	prometheus.MustRegister(subscriberCount)
}

// Bus is a broadcast of text lines to zero or more subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	bufSize int
	log     *logrus.Logger
}

// New creates a bus whose subscribers buffer up to bufSize lines each.
func New(bufSize int, log *logrus.Logger) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Bus{
		subs:    make(map[string]*Subscription),
		bufSize: bufSize,
		log:     log,
	}
}

// Publish delivers line to every current subscriber without blocking.
func (b *Bus) Publish(line string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.push(line) {
			droppedLines.Inc()
		}
	}
}

// Subscribe registers a subscriber that sees lines published from now on.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.New().String(),
		bus:    b,
		ring:   make([]string, b.bufSize),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	n := len(b.subs)
	b.mu.Unlock()

	subscriberCount.Set(float64(n))
	// Logged after unlocking: a log hook may publish back into this bus.
	b.log.WithFields(logrus.Fields{"subscriber": sub.id, "subscribers": n}).Debug("Event subscriber attached")
	return sub
}

// Unsubscribe detaches sub and releases its buffer. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	n := len(b.subs)
	b.mu.Unlock()
	if !ok {
		return
	}

	sub.close()
	subscriberCount.Set(float64(n))
	b.log.WithFields(logrus.Fields{
		"subscriber":  sub.id,
		"subscribers": n,
		"dropped":     sub.Dropped(),
	}).Debug("Event subscriber detached")
}

// Subscribers returns the number of attached subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscription is one subscriber's view of the bus. Lines are read with Next.
type Subscription struct {
	id  string
	bus *Bus

	mu      sync.Mutex
	ring    []string
	head    int
	count   int
	dropped uint64
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

// ID identifies the subscription.
func (s *Subscription) ID() string { return s.id }

// Next blocks until a line is available, ctx is done or the subscription is
// closed. Buffered lines are still returned after close.
func (s *Subscription) Next(ctx context.Context) (string, error) {
	for {
		if line, ok := s.pop(); ok {
			return line, nil
		}
		select {
		case <-s.notify:
		case <-s.done:
			if line, ok := s.pop(); ok {
				return line, nil
			}
			return "", ErrClosed
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Drain returns and clears every buffered line without blocking.
func (s *Subscription) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, s.count)
	for s.count > 0 {
		out = append(out, s.ring[s.head])
		s.ring[s.head] = ""
		s.head = (s.head + 1) % len(s.ring)
		s.count--
	}
	return out
}

// Dropped returns how many lines this subscriber lost to overflow.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close is shorthand for unsubscribing from the owning bus.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

// push appends line, evicting the oldest buffered line when full. It
// reports whether a line was evicted.
func (s *Subscription) push(line string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	evicted := false
	size := len(s.ring)
	if s.count == size {
		s.head = (s.head + 1) % size
		s.count--
		s.dropped++
		evicted = true
	}
	s.ring[(s.head+s.count)%size] = line
	s.count++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return evicted
}

func (s *Subscription) pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return "", false
	}
	line := s.ring[s.head]
	s.ring[s.head] = ""
	s.head = (s.head + 1) % len(s.ring)
	s.count--
	return line, true
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
