package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtgsql/mtgsql/internal/errors"
)

// defaultDrainTimeout is how long Close waits for in-flight calls.
const defaultDrainTimeout = 15 * time.Second

// lifecycle tracks in-flight calls and the resources a session closes on
// shutdown.
type lifecycle struct {
	drainTimeout time.Duration

	inFlight int64
	closing  int32
	once     sync.Once
	err      error

	// Closed in reverse order of registration
	closers   []io.Closer
	closersMu sync.Mutex
}

func newLifecycle(drainTimeout time.Duration) *lifecycle {
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	return &lifecycle{drainTimeout: drainTimeout}
}

func (l *lifecycle) register(c io.Closer) {
	l.closersMu.Lock()
	defer l.closersMu.Unlock()
	l.closers = append(l.closers, c)
}

// enter admits a call unless shutdown has begun. Every successful enter
// must be paired with leave.
func (l *lifecycle) enter() error {
	atomic.AddInt64(&l.inFlight, 1)
	if atomic.LoadInt32(&l.closing) == 1 {
		atomic.AddInt64(&l.inFlight, -1)
		return errors.NewSessionClosed()
	}
	return nil
}

func (l *lifecycle) leave() {
	atomic.AddInt64(&l.inFlight, -1)
}

// shutdown rejects new calls, waits for in-flight ones and closes every
// registered resource.
func (l *lifecycle) shutdown(ctx context.Context) error {
	l.once.Do(func() {
		atomic.StoreInt32(&l.closing, 1)

		if err := l.drain(ctx); err != nil {
			log.Printf("session: %v", err)
			l.err = fmt.Errorf("drain failed: %w", err)
		}

		l.closersMu.Lock()
		closers := l.closers
		l.closersMu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && l.err == nil {
				l.err = fmt.Errorf("close failed: %w", err)
			}
		}
	})
	return l.err
}

// close releases resources during a failed Open, where nothing is in flight.
func (l *lifecycle) close() {
	l.shutdown(context.Background())
}

func (l *lifecycle) drain(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, l.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt64(&l.inFlight) == 0 {
			return nil
		}

		select {
		case <-drainCtx.Done():
			if remaining := atomic.LoadInt64(&l.inFlight); remaining > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight calls", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}
