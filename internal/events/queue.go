// Package events содержит неограниченную очередь событий лояльности внутри процесса.
package events

import (
	"context"
	"sync"

	"github.com/mmeshcher/keyloyalty/internal/model"
)

// Queue реализует неограниченную FIFO-очередь событий. Publish никогда не блокируется.
type Queue struct {
	mu     sync.Mutex
	items  []model.LoyaltyEvent
	notify chan struct{}
	closed bool
}

// NewQueue создаёт пустую очередь.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Publish добавляет событие в конец очереди. После Close события отбрасываются.
func (q *Queue) Publish(ev model.LoyaltyEvent) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Next возвращает следующее событие, ожидая его появления.
// Возвращает false, если контекст отменён или очередь закрыта и пуста.
func (q *Queue) Next(ctx context.Context) (model.LoyaltyEvent, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

// Len возвращает число ожидающих событий.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close запрещает публикацию; уже опубликованные события можно дочитать.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
