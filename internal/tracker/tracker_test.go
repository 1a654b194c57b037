package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type confirmResult struct {
	ok  bool
	err error
}

// fakeConfirmer returns queued results in order and keeps returning the last
// one once the queue is drained.
type fakeConfirmer struct {
	mu      sync.Mutex
	results []confirmResult
	calls   int
}

func (f *fakeConfirmer) ConfirmConsumption(_ context.Context, _, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.ok, r.err
}

func (f *fakeConfirmer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeConsumedStore struct {
	mu     sync.Mutex
	items  []string
	merged [][]string
}

func (f *fakeConsumedStore) ConsumedItems(string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.items...), nil
}

func (f *fakeConsumedStore) MergeConsumed(_ string, itemIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged = append(f.merged, append([]string(nil), itemIDs...))
	return nil
}

func (f *fakeConsumedStore) mergedItems() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, batch := range f.merged {
		out = append(out, batch...)
	}
	return out
}

type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

// fakeScheduler captures scheduled callbacks so tests fire them by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
	delays []time.Duration
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm := &fakeTimer{f: f}
	s.timers = append(s.timers, tm)
	s.delays = append(s.delays, d)
	return tm
}

func (s *fakeScheduler) scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// fire runs the i-th scheduled callback unless it was stopped.
func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	tm := s.timers[i]
	s.mu.Unlock()
	if !tm.stopped {
		tm.f()
	}
}

func newTestTracker(t *testing.T, c *fakeConfirmer) (*Tracker, *fakeConsumedStore, *fakeScheduler) {
	t.Helper()
	store := &fakeConsumedStore{}
	sched := &fakeScheduler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := New("u1", c, store, logger, WithScheduler(sched))
	t.Cleanup(tr.Close)
	return tr, store, sched
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

func TestConsumeSuccess(t *testing.T) {
	c := &fakeConfirmer{results: []confirmResult{{ok: true}}}
	tr, store, _ := newTestTracker(t, c)

	if !tr.Consume("item-1") {
		t.Fatal("Consume returned false")
	}

	// Optimistic state is visible before the confirmation settles.
	st, ok := tr.Status("item-1")
	if !ok || st.Status != StatusConsumed {
		t.Fatalf("Status = %+v, %v, want optimistic consumed", st, ok)
	}

	waitFor(t, func() bool {
		st, ok := tr.Status("item-1")
		return ok && st.Status == StatusConsumed && !st.ConsumedAt.IsZero()
	})

	waitFor(t, func() bool {
		merged := store.mergedItems()
		return len(merged) == 1 && merged[0] == "item-1"
	})
	if tr.HasPending() {
		t.Error("HasPending = true after terminal success")
	}
}

func TestDomainRejectionNotRetried(t *testing.T) {
	c := &fakeConfirmer{results: []confirmResult{{ok: false}}}
	tr, _, sched := newTestTracker(t, c)

	tr.Consume("item-1")

	waitFor(t, func() bool {
		st, ok := tr.Status("item-1")
		return ok && st.Status == StatusFailed
	})

	if got := c.callCount(); got != 1 {
		t.Errorf("confirm calls = %d, want 1", got)
	}
	if sched.scheduled() != 0 {
		t.Errorf("scheduled timers = %d, want 0", sched.scheduled())
	}
	st, _ := tr.Status("item-1")
	if st.LastError == "" {
		t.Error("LastError empty for rejected item")
	}
}

func TestRetryBoundAndRollback(t *testing.T) {
	c := &fakeConfirmer{results: []confirmResult{{err: errors.New("connection reset")}}}
	tr, _, sched := newTestTracker(t, c)

	tr.Consume("item-1")

	for i := 0; i < DefaultMaxRetries; i++ {
		waitFor(t, func() bool { return sched.scheduled() == i+1 })
		st, ok := tr.Status("item-1")
		if !ok || st.Status != StatusPending || st.RetryCount != i+1 {
			t.Fatalf("before retry %d: Status = %+v, %v", i+1, st, ok)
		}
		sched.fire(i)
	}

	// Attempt 0 plus three retries, then the entry is rolled back.
	if got := c.callCount(); got != DefaultMaxRetries+1 {
		t.Errorf("confirm calls = %d, want %d", got, DefaultMaxRetries+1)
	}
	if _, ok := tr.Status("item-1"); ok {
		t.Error("entry still present after rollback")
	}

	wantDelays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	for i, want := range wantDelays {
		if sched.delays[i] != want {
			t.Errorf("delay[%d] = %v, want %v", i, sched.delays[i], want)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	tr := New("u1", &fakeConfirmer{results: []confirmResult{{ok: true}}}, &fakeConsumedStore{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer tr.Close()

	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := tr.backoffDelay(tc.retry); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.retry, got, tc.want)
		}
	}
}

func TestRetryFailedAfterRejection(t *testing.T) {
	c := &fakeConfirmer{results: []confirmResult{{ok: false}, {ok: true}}}
	tr, store, _ := newTestTracker(t, c)

	tr.Consume("item-1")
	waitFor(t, func() bool {
		st, ok := tr.Status("item-1")
		return ok && st.Status == StatusFailed
	})

	if !tr.RetryFailed("item-1") {
		t.Fatal("RetryFailed returned false for failed item")
	}
	waitFor(t, func() bool {
		st, ok := tr.Status("item-1")
		return ok && st.Status == StatusConsumed && !st.ConsumedAt.IsZero()
	})
	waitFor(t, func() bool { return len(store.mergedItems()) == 1 })
}

func TestRetryFailedRequiresFailedState(t *testing.T) {
	c := &fakeConfirmer{results: []confirmResult{{ok: true}}}
	tr, _, _ := newTestTracker(t, c)

	if tr.RetryFailed("missing") {
		t.Error("RetryFailed = true for unknown item")
	}

	tr.Consume("item-1")
	waitFor(t, func() bool {
		st, ok := tr.Status("item-1")
		return ok && !st.ConsumedAt.IsZero()
	})
	if tr.RetryFailed("item-1") {
		t.Error("RetryFailed = true for consumed item")
	}
}

func TestClearCancelsScheduledRetry(t *testing.T) {
	c := &fakeConfirmer{results: []confirmResult{{err: errors.New("timeout")}}}
	tr, _, sched := newTestTracker(t, c)

	tr.Consume("item-1")
	waitFor(t, func() bool { return sched.scheduled() == 1 })

	tr.Clear("item-1")
	if _, ok := tr.Status("item-1"); ok {
		t.Error("entry still present after Clear")
	}

	sched.fire(0)
	time.Sleep(10 * time.Millisecond)
	if got := c.callCount(); got != 1 {
		t.Errorf("confirm calls after Clear = %d, want 1", got)
	}
}

func TestConsumeSupersedesPendingRetry(t *testing.T) {
	c := &fakeConfirmer{results: []confirmResult{{err: errors.New("timeout")}, {ok: true}}}
	tr, _, sched := newTestTracker(t, c)

	tr.Consume("item-1")
	waitFor(t, func() bool { return sched.scheduled() == 1 })

	// A fresh consume claims the item; the old timer must not dispatch a
	// second chain.
	tr.Consume("item-1")
	waitFor(t, func() bool {
		st, ok := tr.Status("item-1")
		return ok && st.Status == StatusConsumed && !st.ConsumedAt.IsZero()
	})

	sched.fire(0)
	time.Sleep(10 * time.Millisecond)
	if got := c.callCount(); got != 2 {
		t.Errorf("confirm calls = %d, want 2", got)
	}
}

func TestHasPending(t *testing.T) {
	c := &fakeConfirmer{results: []confirmResult{{err: errors.New("timeout")}}}
	tr, _, sched := newTestTracker(t, c)

	if tr.HasPending() {
		t.Error("HasPending = true on empty tracker")
	}
	tr.Consume("item-1")
	waitFor(t, func() bool { return sched.scheduled() == 1 })
	if !tr.HasPending() {
		t.Error("HasPending = false with a scheduled retry")
	}
}

func TestReconcile(t *testing.T) {
	c := &fakeConfirmer{results: []confirmResult{{ok: true}}}
	tr, store, _ := newTestTracker(t, c)

	tr.Consume("local-1")
	waitFor(t, func() bool {
		st, ok := tr.Status("local-1")
		return ok && !st.ConsumedAt.IsZero()
	})

	store.mu.Lock()
	store.items = []string{"prev-1", "prev-2"}
	store.mu.Unlock()

	if err := tr.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// Items from a previous session get synthesized consumed entries.
	for _, id := range []string{"prev-1", "prev-2"} {
		st, ok := tr.Status(id)
		if !ok || st.Status != StatusConsumed {
			t.Errorf("Status(%q) = %+v, %v, want synthesized consumed", id, st, ok)
		}
	}

	// The locally confirmed item is pushed back to the store.
	found := false
	for _, id := range store.mergedItems() {
		if id == "local-1" {
			found = true
		}
	}
	if !found {
		t.Error("local-1 not merged back to store")
	}
}

func TestCloseStopsWork(t *testing.T) {
	c := &fakeConfirmer{results: []confirmResult{{err: errors.New("timeout")}}}
	store := &fakeConsumedStore{}
	sched := &fakeScheduler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := New("u1", c, store, logger, WithScheduler(sched))

	tr.Consume("item-1")
	waitFor(t, func() bool { return sched.scheduled() == 1 })

	tr.Close()

	sched.fire(0)
	time.Sleep(10 * time.Millisecond)
	if got := c.callCount(); got != 1 {
		t.Errorf("confirm calls after Close = %d, want 1", got)
	}
	if tr.Consume("item-2") {
		t.Error("Consume accepted work after Close")
	}
}
