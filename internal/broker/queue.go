package broker

import (
	"sync"

	"github.com/basement-chat/basement/shared/domain"
)

const queueBuffer = 16

// queue decouples transport dispatch from subscriber callbacks while
// keeping per-subscriber ordering: one goroutine drains the buffer in
// arrival order. A full buffer drops the message instead of blocking the
// transport; a dropped message is recoverable via backfill.
type queue struct {
	variant string

	mu     sync.Mutex
	closed bool
	ch     chan domain.Message
}

func newQueue(variant string, h Handler) *queue {
	q := &queue{variant: variant, ch: make(chan domain.Message, queueBuffer)}
	go func() {
		for msg := range q.ch {
			h(msg)
			deliveriesTotal.WithLabelValues(variant).Inc()
		}
	}()
	return q
}

func (q *queue) push(msg domain.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- msg:
	default:
		droppedTotal.WithLabelValues(q.variant).Inc()
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
