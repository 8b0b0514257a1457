package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
)

// ErrClosed is returned by Enqueue and Claim after Close.
var ErrClosed = errors.New("queue closed")

type item struct {
	tag      uint64
	job      models.IngestionJob
	deadline time.Time
}

// MemoryQueue is an in-process TaskQueue with at-least-once semantics: a
// claimed job that is neither acked nor nacked becomes claimable again once
// its visibility timeout elapses, exactly as a broker would redeliver it.
// Suitable for tests and single-node deployments.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []*item
	inflight map[uint64]*item
	nextTag  uint64
	closed   bool

	visibility time.Duration
	notify     chan struct{}
	stopReaper chan struct{}
}

var _ core.TaskQueue = (*MemoryQueue)(nil)

func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	q := &MemoryQueue{
		inflight:   make(map[uint64]*item),
		visibility: visibility,
		notify:     make(chan struct{}, 1),
		stopReaper: make(chan struct{}),
	}
	go q.reap()
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job models.IngestionJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.ready = append(q.ready, &item{job: job})
	q.mu.Unlock()

	q.wake()
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context) (*core.Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.ready) > 0 {
			it := q.ready[0]
			q.ready = q.ready[1:]
			// A fresh tag per claim, like a broker's delivery tag: after a
			// redelivery, the stale claimant's ack/nack no longer refers to
			// the live in-flight entry.
			q.nextTag++
			it.tag = q.nextTag
			it.deadline = time.Now().Add(q.visibility)
			q.inflight[it.tag] = it
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}

			tag := it.tag
			return &core.Delivery{
				Job: it.job,
				Ack: func() error {
					q.mu.Lock()
					defer q.mu.Unlock()
					delete(q.inflight, tag)
					return nil
				},
				Nack: func(delay time.Duration) error {
					return q.requeue(tag, delay)
				},
			}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stopReaper)
	q.mu.Unlock()

	q.wake()
	return nil
}

// Len reports ready plus in-flight jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.inflight)
}

func (q *MemoryQueue) requeue(tag uint64, delay time.Duration) error {
	q.mu.Lock()
	it, ok := q.inflight[tag]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	delete(q.inflight, tag)
	if delay <= 0 {
		q.ready = append(q.ready, it)
		q.mu.Unlock()
		q.wake()
		return nil
	}
	q.mu.Unlock()

	time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		q.ready = append(q.ready, it)
		q.mu.Unlock()
		q.wake()
	})
	return nil
}

// reap returns expired in-flight jobs to the ready list, emulating broker
// redelivery after a consumer crash.
func (q *MemoryQueue) reap() {
	ticker := time.NewTicker(q.visibility / 4)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopReaper:
			return
		case now := <-ticker.C:
			q.mu.Lock()
			var expired []*item
			for tag, it := range q.inflight {
				if now.After(it.deadline) {
					expired = append(expired, it)
					delete(q.inflight, tag)
				}
			}
			q.ready = append(q.ready, expired...)
			q.mu.Unlock()
			if len(expired) > 0 {
				q.wake()
			}
		}
	}
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
