package queue

import (
	"context"
	"errors"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/qpd-v/deepwebresearch/internal/content"
	"github.com/qpd-v/deepwebresearch/internal/telemetry"
)

func testLogger() *log.Logger { return log.New(os.Stderr, "[TEST] ", 0) }

func fastCfg() Config {
	return Config{
		MaxRetries: 3,
		RateEvery:  time.Millisecond,
		RateBurst:  3,
		RetryBase:  time.Millisecond,
	}
}

func okHandler(_ context.Context, query string) (content.QueryResult, error) {
	return content.QueryResult{Query: query}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestAddReturnsIDImmediately(t *testing.T) {
	q := New(fastCfg(), okHandler, testLogger())
	id := q.Add("golang channels")
	if id == "" {
		t.Fatal("expected non-empty id")
	}
	item, ok := q.Item(id)
	if !ok || item.Status != ItemPending {
		t.Fatalf("item = %+v", item)
	}
	if len(item.Transitions) != 1 || item.Transitions[0].Status != ItemPending {
		t.Fatalf("transitions = %+v", item.Transitions)
	}
}

func TestPendingGaugeTracksTransitions(t *testing.T) {
	q := New(fastCfg(), okHandler, testLogger())
	base := testutil.ToFloat64(telemetry.QueuePending)

	q.Add("a")
	q.Add("b")
	q.Add("c")
	if got := testutil.ToFloat64(telemetry.QueuePending); got != base+3 {
		t.Fatalf("gauge after adds = %v, want %v", got, base+3)
	}

	// Cancellation moves items out of pending without anyone polling.
	if n := q.CancelAll(); n != 3 {
		t.Fatalf("cancelled = %d, want 3", n)
	}
	if got := testutil.ToFloat64(telemetry.QueuePending); got != base {
		t.Fatalf("gauge after cancel = %v, want %v", got, base)
	}

	// Processing an item also drains the gauge.
	q.Add("d")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)
	waitFor(t, func() bool { return q.Status().Completed == 1 })
	if got := testutil.ToFloat64(telemetry.QueuePending); got != base {
		t.Fatalf("gauge after processing = %v, want %v", got, base)
	}
}

func TestRunCompletesItems(t *testing.T) {
	q := New(fastCfg(), okHandler, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	ids := q.AddBatch([]string{"a", "b", "c"})
	waitFor(t, func() bool { return q.Status().Completed == 3 })

	for _, id := range ids {
		item, _ := q.Item(id)
		if item.Status != ItemCompleted {
			t.Errorf("item %s status = %s", id, item.Status)
		}
		if item.Result == nil {
			t.Errorf("item %s missing result", id)
		}
	}
}

func TestRetryThenPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	handler := func(_ context.Context, _ string) (content.QueryResult, error) {
		calls.Add(1)
		return content.QueryResult{}, errors.New("navigation timeout")
	}
	q := New(fastCfg(), handler, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	id := q.Add("flaky")
	waitFor(t, func() bool { return q.Status().Failed == 1 })

	// 1 initial attempt + MaxRetries retries.
	if got := calls.Load(); got != 4 {
		t.Fatalf("handler called %d times, want 4", got)
	}
	item, _ := q.Item(id)
	if item.Retries != 3 || item.Error == "" {
		t.Fatalf("item = %+v", item)
	}
}

func TestRetrySucceedsMidway(t *testing.T) {
	var calls atomic.Int32
	handler := func(_ context.Context, query string) (content.QueryResult, error) {
		if calls.Add(1) < 3 {
			return content.QueryResult{}, errors.New("transient")
		}
		return content.QueryResult{Query: query}, nil
	}
	q := New(fastCfg(), handler, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Add("eventually ok")
	waitFor(t, func() bool { return q.Status().Completed == 1 })
	if calls.Load() != 3 {
		t.Fatalf("handler called %d times, want 3", calls.Load())
	}
}

func TestCancelPendingOnly(t *testing.T) {
	q := New(fastCfg(), okHandler, testLogger())
	// No Run loop: items stay pending.
	id := q.Add("to cancel")
	if err := q.Cancel(id); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if err := q.Cancel(id); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second cancel err = %v", err)
	}
	if err := q.Cancel("nope"); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("unknown cancel err = %v", err)
	}
	if st := q.Status(); st.Cancelled != 1 || st.Pending != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestCancelAll(t *testing.T) {
	q := New(fastCfg(), okHandler, testLogger())
	q.AddBatch([]string{"a", "b", "c"})
	if n := q.CancelAll(); n != 3 {
		t.Fatalf("cancelled %d, want 3", n)
	}
	if st := q.Status(); st.Pending != 0 || st.Cancelled != 3 {
		t.Fatalf("status = %+v", st)
	}
}

func TestEventStream(t *testing.T) {
	q := New(fastCfg(), okHandler, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Add("observed")
	waitFor(t, func() bool { return q.Status().Completed == 1 })

	seen := map[EventType]bool{}
	for done := false; !done; {
		select {
		case ev := <-q.Events():
			seen[ev.Type] = true
			if ev.Type == EventQueueDone {
				done = true
			}
		case <-time.After(time.Second):
			done = true
		}
	}
	for _, want := range []EventType{EventItemAdded, EventItemStarted, EventItemCompleted, EventQueueDone} {
		if !seen[want] {
			t.Errorf("missing event %s (saw %v)", want, seen)
		}
	}
}

func TestTransitionHistoryIsOrdered(t *testing.T) {
	q := New(fastCfg(), okHandler, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	id := q.Add("history")
	waitFor(t, func() bool {
		item, _ := q.Item(id)
		return item.Status == ItemCompleted
	})
	item, _ := q.Item(id)
	want := []ItemStatus{ItemPending, ItemInProgress, ItemCompleted}
	if len(item.Transitions) != len(want) {
		t.Fatalf("transitions = %+v", item.Transitions)
	}
	for i, tr := range item.Transitions {
		if tr.Status != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, tr.Status, want[i])
		}
	}
}
