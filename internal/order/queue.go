package order

import (
	"context"

	"okx-core/pkg/exchanges/common"
)

// Queue buffers normalized private-stream events for a single ordered consumer.
type Queue struct {
	ch chan common.StreamEvent
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1024
	}
	return &Queue{ch: make(chan common.StreamEvent, size)}
}

// Enqueue blocks when the buffer is full so no event is dropped.
func (q *Queue) Enqueue(ctx context.Context, ev common.StreamEvent) bool {
	select {
	case q.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *Queue) Chan() <-chan common.StreamEvent {
	return q.ch
}

func (q *Queue) Len() int {
	return len(q.ch)
}
