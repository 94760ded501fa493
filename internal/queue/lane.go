// Package queue serializes conversational turns per session. Turns of one
// session run one at a time in arrival order; different sessions run
// concurrently.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEmptySessionID is returned when Do is called with an empty session ID.
var ErrEmptySessionID = errors.New("queue: session ID must not be empty")

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("queue: closed")

// workItem is one turn submitted to a lane.
type workItem struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// lane runs the turns of one session on a single goroutine.
type lane struct {
	work chan workItem
	quit chan struct{}
	refs int // callers between lookup and enqueue; guarded by LaneQueue.mu
}

// defaultLaneBufferSize is the capacity of each lane's work channel.
// Tests in this package may override it to exercise full-buffer paths.
var defaultLaneBufferSize = 256

// LaneQueue keeps one FIFO lane per session. A lane with no work for the
// idle timeout is dropped and recreated on the next turn.
type LaneQueue struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	idle   time.Duration
	closed bool
}

// Option configures a LaneQueue.
type Option func(*LaneQueue)

// WithIdleTimeout drops a session's lane after d without turns. Zero keeps
// lanes until Close.
func WithIdleTimeout(d time.Duration) Option {
	return func(q *LaneQueue) { q.idle = d }
}

// NewLaneQueue creates a new LaneQueue ready for use.
func NewLaneQueue(opts ...Option) *LaneQueue {
	q := &LaneQueue{lanes: make(map[string]*lane)}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Do runs fn in the lane of sessionID and blocks until it completes or ctx is
// done. fn receives ctx. A panic in fn is returned as an error and the lane
// stays usable.
func (q *LaneQueue) Do(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	l, done, err := q.enqueue(ctx, sessionID, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues fn in the lane of sessionID without waiting for it to run.
// Calls to Submit from one goroutine run in call order. The returned channel
// receives fn's result; it never receives if the queue is closed first.
func (q *LaneQueue) Submit(ctx context.Context, sessionID string, fn func(context.Context) error) (<-chan error, error) {
	_, done, err := q.enqueue(ctx, sessionID, fn)
	return done, err
}

func (q *LaneQueue) enqueue(ctx context.Context, sessionID string, fn func(context.Context) error) (*lane, chan error, error) {
	if sessionID == "" {
		return nil, nil, ErrEmptySessionID
	}
	l, err := q.acquire(sessionID)
	if err != nil {
		return nil, nil, err
	}
	// A queued item keeps the lane alive, so the reference can go once the
	// item is in the channel.
	defer q.release(l)

	item := workItem{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case l.work <- item:
		return l, item.done, nil
	case <-l.quit:
		return nil, nil, ErrClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Run is Do for turns that produce a value.
func Run[T any](ctx context.Context, q *LaneQueue, sessionID string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := q.Do(ctx, sessionID, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (q *LaneQueue) acquire(sessionID string) (*lane, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	l, ok := q.lanes[sessionID]
	if !ok {
		l = &lane{
			work: make(chan workItem, defaultLaneBufferSize),
			quit: make(chan struct{}),
		}
		q.lanes[sessionID] = l
		go q.run(sessionID, l)
	}
	l.refs++
	return l, nil
}

func (q *LaneQueue) release(l *lane) {
	q.mu.Lock()
	l.refs--
	q.mu.Unlock()
}

// run is the lane's worker loop. Items whose context ended while queued are
// answered with the context error without running.
func (q *LaneQueue) run(sessionID string, l *lane) {
	for {
		var idle <-chan time.Time
		var timer *time.Timer
		if q.idle > 0 {
			timer = time.NewTimer(q.idle)
			idle = timer.C
		}
		select {
		case item := <-l.work:
			if timer != nil {
				timer.Stop()
			}
			if err := item.ctx.Err(); err != nil {
				item.done <- err
				continue
			}
			item.done <- safeExec(item.ctx, item.fn)
		case <-idle:
			if q.reap(sessionID, l) {
				return
			}
		case <-l.quit:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// reap removes an unused lane. It reports false when a caller holds the lane
// or work is queued.
func (q *LaneQueue) reap(sessionID string, l *lane) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l.refs > 0 || len(l.work) > 0 {
		return false
	}
	if q.lanes[sessionID] == l {
		delete(q.lanes, sessionID)
	}
	return true
}

// safeExec runs fn and recovers from panics, converting them to errors.
func safeExec(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Close stops every lane. Turns waiting in a lane return ErrClosed; a turn
// already running finishes but its caller is released immediately.
func (q *LaneQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for id, l := range q.lanes {
		close(l.quit)
		delete(q.lanes, id)
	}
}

// LaneCount returns the number of live session lanes.
func (q *LaneQueue) LaneCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}
