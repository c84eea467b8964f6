// Package events is an in-process bus for view lifecycle notifications,
// letting accessors learn that a view was rebuilt or the dataset moved on.
package events

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of lifecycle event.
type Type int

const (
	ViewBuilt Type = iota
	ViewFailed
	DatasetRefreshed
)

func (t Type) String() string {
	switch t {
	case ViewBuilt:
		return "view_built"
	case ViewFailed:
		return "view_failed"
	case DatasetRefreshed:
		return "dataset_refreshed"
	default:
		return "unknown"
	}
}

// Event describes one lifecycle change. View is empty for DatasetRefreshed.
type Event struct {
	Type        Type
	View        string
	Version     string
	Fingerprint string
	Rows        int64
	Err         string
	Timestamp   time.Time
}

// Notifier fans events out to subscribers.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a notifier whose subscriber channels hold bufferSize
// events.
func NewNotifier(bufferSize int) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Notifier{bufferSize: bufferSize}
}

// Publish sends ev to every matching subscriber.
// Non-blocking: if a subscriber's channel is full, the event is dropped.
func (n *Notifier) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	n.subscribers.Range(func(key, value interface{}) bool {
		if sub := value.(*Subscriber); sub.matches(ev) {
			sub.send(ev)
		}
		return true
	})
}

// Subscribe registers a subscriber for events on views starting with any of
// the prefixes. No prefixes means every event. Dataset events always match.
func (n *Notifier) Subscribe(prefixes ...string) *Subscriber {
	sub := &Subscriber{
		ID:       uuid.NewString(),
		Prefixes: prefixes,
		ch:       make(chan Event, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	if value, ok := n.subscribers.LoadAndDelete(id); ok {
		value.(*Subscriber).close()
	}
}

// Close unsubscribes everyone.
func (n *Notifier) Close() error {
	n.subscribers.Range(func(key, value interface{}) bool {
		n.Unsubscribe(key.(string))
		return true
	})
	return nil
}

// Subscriber receives events on C.
type Subscriber struct {
	ID       string
	Prefixes []string
	ch       chan Event

	mu      sync.Mutex // guards ch against a send after close
	closed  bool
	dropped int64
}

func (s *Subscriber) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped++
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// C returns the event channel. It is closed on Unsubscribe.
func (s *Subscriber) C() <-chan Event { return s.ch }

// Dropped returns how many events were lost to a full channel.
func (s *Subscriber) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscriber) matches(ev Event) bool {
	if len(s.Prefixes) == 0 || ev.View == "" {
		return true
	}
	for _, p := range s.Prefixes {
		if strings.HasPrefix(ev.View, p) {
			return true
		}
	}
	return false
}
