package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MaxReceiveBatch is the largest batch a single Receive may return.
const MaxReceiveBatch = 10

// Message is the outermost queue envelope. Body carries the pub/sub notification.
type Message struct {
	MessageID     string
	ReceiptHandle string
	Body          string
}

// FeedbackQueue is an SQS-style queue: received messages stay invisible
// until deleted, released, or until their visibility timeout lapses.
type FeedbackQueue interface {
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	// Release hands an undeleted message back for redelivery.
	Release(ctx context.Context, receiptHandle string) error
}

func clampBatch(n int) int {
	if n <= 0 || n > MaxReceiveBatch {
		return MaxReceiveBatch
	}
	return n
}

type entry struct {
	id        string
	body      string
	receipt   string
	visibleAt time.Time
}

// InMemoryQueue is a process-local FeedbackQueue for local runs and tests.
type InMemoryQueue struct {
	mu         sync.Mutex
	entries    []*entry
	nextID     int
	nextHandle int
	visibility time.Duration
	notify     chan struct{}
	now        func() time.Time
}

// NewInMemoryQueue creates a queue whose received messages reappear after visibility.
func NewInMemoryQueue(visibility time.Duration) *InMemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &InMemoryQueue{
		visibility: visibility,
		notify:     make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Publish appends a raw body and returns its message id.
func (q *InMemoryQueue) Publish(body string) string {
	q.mu.Lock()
	q.nextID++
	id := "mem-" + strconv.Itoa(q.nextID)
	q.entries = append(q.entries, &entry{id: id, body: body})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return id
}

// Receive returns up to maxMessages visible messages, waiting up to wait for the first one.
func (q *InMemoryQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		if msgs := q.take(clampBatch(maxMessages)); len(msgs) > 0 || wait <= 0 {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return q.take(clampBatch(maxMessages)), nil
		case <-q.notify:
		}
	}
}

func (q *InMemoryQueue) take(n int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	msgs := []Message{}
	for _, e := range q.entries {
		if len(msgs) == n {
			break
		}
		if e.visibleAt.After(now) {
			continue
		}
		q.nextHandle++
		e.receipt = fmt.Sprintf("%s#%d", e.id, q.nextHandle)
		e.visibleAt = now.Add(q.visibility)
		msgs = append(msgs, Message{MessageID: e.id, ReceiptHandle: e.receipt, Body: e.body})
	}
	return msgs
}

// Delete removes the message received with receiptHandle. Stale handles are ignored.
func (q *InMemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.receipt == receiptHandle {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Release makes the message received with receiptHandle visible again.
func (q *InMemoryQueue) Release(_ context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	q.mu.Lock()
	for _, e := range q.entries {
		if e.receipt == receiptHandle {
			e.receipt = ""
			e.visibleAt = time.Time{}
			break
		}
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len counts messages not yet deleted, in flight or not.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

var _ FeedbackQueue = (*InMemoryQueue)(nil)
