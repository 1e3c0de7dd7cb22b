// cc4me - federated e2e encrypted messaging fabric for autonomous agents
// Copyright (C) 2026 cc4me-project
//
// This file is part of cc4me.
//
// cc4me is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cc4me is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cc4me. If not, see <https://www.gnu.org/licenses/>.

// Package retryqueue implements C10: the client-side bounded retry queue
// with exponential backoff, expiry, and a delivery-status event stream.
// It is driven by a single interval timer, mirroring the teacher's
// ticker-driven cleanup-sweep-over-a-mutex-guarded-map shape (grounded on
// session.NonceCache's gcLoop), retargeted from nonce expiry to
// message-retry/backoff semantics.
package retryqueue

import (
	"context"
	"sync"
	"time"

	"github.com/cc4me/fabric/internal/metrics"
)

// Status is a QueuedMessage's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// DefaultSchedule is the backoff schedule §4.9 specifies.
var DefaultSchedule = []time.Duration{10 * time.Second, 30 * time.Second, 90 * time.Second}

const (
	DefaultCapacity = 100
	DefaultInterval = time.Second
	MaxAge          = time.Hour
)

// Message is the client-side QueuedMessage.
type Message struct {
	MessageID   string
	Recipient   string
	Payload     interface{}
	GroupID     string
	Status      Status
	Attempts    int
	CreatedAt   time.Time
	NextRetryAt time.Time
}

// StatusEvent is emitted on every transition; ordering per MessageID is
// total, ordering across message IDs is not guaranteed (§5).
type StatusEvent struct {
	MessageID string
	Status    Status
	Attempts  int
}

// SendFunc attempts one delivery attempt; true means delivered. SendFunc
// never returning an error that stops the queue — the queue converts
// every outcome into a status event instead of raising (§7).
type SendFunc func(ctx context.Context, msg *Message) bool

// Queue is the bounded, timer-driven retry queue.
type Queue struct {
	mu       sync.Mutex
	messages map[string]*Message
	capacity int
	schedule []time.Duration
	interval time.Duration
	maxAge   time.Duration
	send     SendFunc
	events   chan StatusEvent
	now      func() time.Time

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Options customizes New; the zero value uses the spec's defaults.
type Options struct {
	Capacity int
	Schedule []time.Duration
	Interval time.Duration
	MaxAge   time.Duration
	Now      func() time.Time
}

// New builds a Queue. send is invoked on the queue's own goroutine, so it
// must not block indefinitely — it shares the agent's single event loop
// per §5.
func New(send SendFunc, opts Options) *Queue {
	q := &Queue{
		messages: make(map[string]*Message),
		capacity: opts.Capacity,
		schedule: opts.Schedule,
		interval: opts.Interval,
		maxAge:   opts.MaxAge,
		send:     send,
		events:   make(chan StatusEvent, 256),
		now:      opts.Now,
	}
	if q.capacity == 0 {
		q.capacity = DefaultCapacity
	}
	if len(q.schedule) == 0 {
		q.schedule = DefaultSchedule
	}
	if q.interval == 0 {
		q.interval = DefaultInterval
	}
	if q.maxAge == 0 {
		q.maxAge = MaxAge
	}
	if q.now == nil {
		q.now = func() time.Time { return time.Now().UTC() }
	}
	return q
}

// Events returns the delivery-status stream. Callers should drain it
// promptly; it is buffered but not unbounded.
func (q *Queue) Events() <-chan StatusEvent { return q.events }

// Enqueue adds msg to the queue, returning false when the queue is at
// capacity. Enqueueing a message id already present is a no-op success
// (used by retry identity reuse).
func (q *Queue) Enqueue(msg *Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.messages[msg.MessageID]; !exists && len(q.messages) >= q.capacity {
		return false
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = q.now()
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	q.messages[msg.MessageID] = msg
	metrics.RetryQueueDepth.Set(float64(len(q.messages)))
	q.ensureRunningLocked()
	return true
}

// Len reports the current queue size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Stop clears the timer; any in-flight send call completes before Stop
// returns.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	stop, done := q.stop, q.done
	q.mu.Unlock()

	close(stop)
	<-done
}

func (q *Queue) ensureRunningLocked() {
	if q.running {
		return
	}
	q.running = true
	q.stop = make(chan struct{})
	q.done = make(chan struct{})
	go q.loop(q.stop, q.done)
}

func (q *Queue) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if q.drainOnce() {
				q.mu.Lock()
				q.running = false
				q.mu.Unlock()
				return
			}
		case <-stop:
			return
		}
	}
}

// drainOnce runs one sweep: expire stale entries, skip entries not yet
// due, and attempt delivery for the rest. It returns true when the queue
// is empty afterward, signaling the caller to stop the timer.
func (q *Queue) drainOnce() bool {
	now := q.now()

	q.mu.Lock()
	due := make([]*Message, 0, len(q.messages))
	for id, msg := range q.messages {
		if now.Sub(msg.CreatedAt) > q.maxAge {
			delete(q.messages, id)
			q.emit(StatusEvent{MessageID: id, Status: StatusExpired, Attempts: msg.Attempts})
			metrics.RetryOutcomes.WithLabelValues(string(StatusExpired)).Inc()
			continue
		}
		if msg.Status == StatusSending || now.Before(msg.NextRetryAt) {
			continue
		}
		due = append(due, msg)
	}
	metrics.RetryQueueDepth.Set(float64(len(q.messages)))
	q.mu.Unlock()

	for _, msg := range due {
		q.attempt(msg)
	}

	q.mu.Lock()
	empty := len(q.messages) == 0
	q.mu.Unlock()
	return empty
}

func (q *Queue) attempt(msg *Message) {
	q.mu.Lock()
	msg.Status = StatusSending
	msg.Attempts++
	attempt := msg.Attempts
	q.emit(StatusEvent{MessageID: msg.MessageID, Status: StatusSending, Attempts: attempt})
	q.mu.Unlock()

	delivered := q.send(context.Background(), msg)

	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case delivered:
		delete(q.messages, msg.MessageID)
		q.emit(StatusEvent{MessageID: msg.MessageID, Status: StatusDelivered, Attempts: attempt})
		metrics.RetryOutcomes.WithLabelValues(string(StatusDelivered)).Inc()
	case attempt >= len(q.schedule):
		delete(q.messages, msg.MessageID)
		q.emit(StatusEvent{MessageID: msg.MessageID, Status: StatusFailed, Attempts: attempt})
		metrics.RetryOutcomes.WithLabelValues(string(StatusFailed)).Inc()
	default:
		msg.Status = StatusPending
		msg.NextRetryAt = q.now().Add(q.schedule[attempt])
		q.emit(StatusEvent{MessageID: msg.MessageID, Status: StatusPending, Attempts: attempt})
		metrics.RetryOutcomes.WithLabelValues(string(StatusPending)).Inc()
	}
	metrics.RetryQueueDepth.Set(float64(len(q.messages)))
}

// emit is non-blocking: a slow subscriber drops status events rather
// than stalling the retry loop.
func (q *Queue) emit(ev StatusEvent) {
	select {
	case q.events <- ev:
	default:
	}
}
