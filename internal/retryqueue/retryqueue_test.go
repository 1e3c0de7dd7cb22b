package retryqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnqueueRejectsOverCapacity(t *testing.T) {
	q := New(func(ctx context.Context, m *Message) bool { return false }, Options{Capacity: 1, Interval: time.Hour})
	defer q.Stop()
	require.True(t, q.Enqueue(&Message{MessageID: "a", Recipient: "atlas"}))
	require.False(t, q.Enqueue(&Message{MessageID: "b", Recipient: "atlas"}))
}

func TestDrainDeliversOnSecondAttempt(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	q := New(func(ctx context.Context, m *Message) bool {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		return n >= 2
	}, Options{Schedule: []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond}, Interval: time.Millisecond})
	defer q.Stop()

	var events []StatusEvent
	done := make(chan struct{})
	go func() {
		for ev := range q.Events() {
			events = append(events, ev)
			if ev.Status == StatusDelivered || ev.Status == StatusFailed {
				close(done)
				return
			}
		}
	}()

	require.True(t, q.Enqueue(&Message{MessageID: "m1", Recipient: "atlas"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	last := events[len(events)-1]
	require.Equal(t, StatusDelivered, last.Status)
	require.Equal(t, 2, last.Attempts)
}

func TestDrainFailsAfterScheduleExhausted(t *testing.T) {
	q := New(func(ctx context.Context, m *Message) bool { return false },
		Options{Schedule: []time.Duration{2 * time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond}, Interval: time.Millisecond})
	defer q.Stop()

	var last StatusEvent
	done := make(chan struct{})
	go func() {
		for ev := range q.Events() {
			last = ev
			if ev.Status == StatusFailed {
				close(done)
				return
			}
		}
	}()

	require.True(t, q.Enqueue(&Message{MessageID: "m1", Recipient: "atlas"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure")
	}
	require.Equal(t, StatusFailed, last.Status)
	require.Equal(t, 3, last.Attempts)
}

func TestExpiryEvictsStaleMessages(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var cur time.Time
	var mu sync.Mutex
	cur = base
	q := New(func(ctx context.Context, m *Message) bool { return false }, Options{
		Interval: time.Millisecond,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return cur
		},
	})
	defer q.Stop()

	msg := &Message{MessageID: "m1", Recipient: "atlas", CreatedAt: base}
	require.True(t, q.Enqueue(msg))

	mu.Lock()
	cur = base.Add(2 * time.Hour)
	mu.Unlock()

	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
}
