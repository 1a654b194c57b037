// Package tracker implements the optimistic consumption workflow: an item is
// marked consumed immediately, the backend confirmation runs in the
// background, transient failures are retried with exponential backoff, and
// exhausting the retries rolls the optimistic state back.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 10 * time.Second

	backoffMultiplier = 2
)

// Status describes where an item sits in the confirmation workflow.
type Status string

const (
	// StatusPending means a retry is scheduled and has not fired yet.
	StatusPending Status = "pending"
	// StatusConsuming means a confirmation attempt is in flight after an
	// explicit retry of a failed item.
	StatusConsuming Status = "consuming"
	// StatusConsumed is the optimistic and the terminal success state.
	StatusConsumed Status = "consumed"
	// StatusFailed means the backend rejected the item. The entry stays
	// visible so the caller can inspect or explicitly retry it.
	StatusFailed Status = "failed"
)

// State is a snapshot of one item's workflow state.
type State struct {
	ItemID     string
	Status     Status
	RetryCount int
	LastError  string
	ConsumedAt time.Time
}

// Confirmer performs the backend consumption confirmation. ok=false with a
// nil error is a domain rejection and is never retried.
type Confirmer interface {
	ConfirmConsumption(ctx context.Context, userID, itemID string) (ok bool, err error)
}

// ConsumedStore is the externally-owned persisted list of confirmed items.
// The tracker merges newly confirmed ids into it and seeds itself from it on
// reconciliation. It never deletes from it.
type ConsumedStore interface {
	ConsumedItems(userID string) ([]string, error)
	MergeConsumed(userID string, itemIDs []string) error
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler produces retry timers. The real implementation wraps
// time.AfterFunc; tests substitute a manual one.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type stdScheduler struct{}

func (stdScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// entry is the internal per-item record. gen increments on every external
// mutation (consume, retry, clear) so a stale in-flight attempt or a
// late-firing timer can detect it has been superseded and drop its result.
type entry struct {
	state State
	timer Timer
	gen   uint64
}

// Tracker manages per-item optimistic consumption state machines. State is
// in-memory only; confirmed items survive restarts through the ConsumedStore.
type Tracker struct {
	confirmer Confirmer
	store     ConsumedStore
	sched     Scheduler
	clock     Clock
	logger    *slog.Logger
	userID    string

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// Option adjusts tracker construction.
type Option func(*Tracker)

func WithRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(t *Tracker) {
		t.maxRetries = maxRetries
		t.baseDelay = baseDelay
		t.maxDelay = maxDelay
	}
}

func WithScheduler(s Scheduler) Option {
	return func(t *Tracker) { t.sched = s }
}

func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

func New(userID string, confirmer Confirmer, store ConsumedStore, logger *slog.Logger, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		confirmer:  confirmer,
		store:      store,
		sched:      stdScheduler{},
		clock:      systemClock{},
		logger:     logger,
		userID:     userID,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Consume optimistically marks itemID consumed and dispatches the backend
// confirmation in the background. Any outstanding retry timer for the item is
// cancelled first so only one attempt chain runs per item.
func (t *Tracker) Consume(itemID string) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	e := t.takeOver(itemID)
	e.state = State{ItemID: itemID, Status: StatusConsumed}
	gen := e.gen
	t.mu.Unlock()

	go t.attempt(itemID, gen, 0)
	return true
}

// RetryFailed re-enters the attempt loop for an item in the failed state with
// a fresh retry budget. Returns false when the item is absent or not failed.
func (t *Tracker) RetryFailed(itemID string) bool {
	t.mu.Lock()
	e, ok := t.entries[itemID]
	if t.closed || !ok || e.state.Status != StatusFailed {
		t.mu.Unlock()
		return false
	}
	e = t.takeOver(itemID)
	e.state = State{ItemID: itemID, Status: StatusConsuming}
	gen := e.gen
	t.mu.Unlock()

	go t.attempt(itemID, gen, 0)
	return true
}

// Clear cancels any scheduled retry and deletes the entry unconditionally.
func (t *Tracker) Clear(itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[itemID]; ok {
		e.gen++
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.entries, itemID)
	}
}

// Status returns a snapshot of the item's state, if any.
func (t *Tracker) Status(itemID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[itemID]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// HasPending reports whether any item has an unresolved confirmation, either
// waiting on a retry timer or with an attempt in flight.
func (t *Tracker) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.state.Status == StatusPending || e.state.Status == StatusConsuming {
			return true
		}
	}
	return false
}

// States returns a snapshot of every tracked item.
func (t *Tracker) States() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.state)
	}
	return out
}

// Reconcile merges the persisted consumed-items list with the in-memory map.
// Items confirmed in a previous session get a synthesized consumed entry, and
// items confirmed in this session are pushed back out to the store. The store
// only ever grows here.
func (t *Tracker) Reconcile() error {
	persisted, err := t.store.ConsumedItems(t.userID)
	if err != nil {
		return fmt.Errorf("loading consumed items: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}

	seen := make(map[string]bool, len(persisted))
	for _, id := range persisted {
		seen[id] = true
		if _, ok := t.entries[id]; !ok {
			t.entries[id] = &entry{state: State{ItemID: id, Status: StatusConsumed}}
		}
	}

	var missing []string
	for id, e := range t.entries {
		if e.state.Status == StatusConsumed && !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if err := t.store.MergeConsumed(t.userID, missing); err != nil {
			return fmt.Errorf("merging consumed items: %w", err)
		}
	}
	return nil
}

// Close cancels every outstanding timer and in-flight attempt. The tracker
// accepts no further work afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	for _, e := range t.entries {
		e.gen++
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	t.mu.Unlock()
	t.cancel()
}

// takeOver claims the item for a new attempt chain: it cancels any
// outstanding timer and bumps the generation so stale attempts drop out.
// Caller must hold t.mu.
func (t *Tracker) takeOver(itemID string) *entry {
	e, ok := t.entries[itemID]
	if !ok {
		e = &entry{}
		t.entries[itemID] = e
	}
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	return e
}

// attempt runs one confirmation call and applies its outcome. The next
// attempt, if any, is only scheduled from inside the outcome handling, so
// attempts for an item are strictly sequential.
func (t *Tracker) attempt(itemID string, gen uint64, retryCount int) {
	ok, err := t.confirmer.ConfirmConsumption(t.ctx, t.userID, itemID)

	t.mu.Lock()
	e, live := t.entries[itemID]
	if t.closed || !live || e.gen != gen {
		// Superseded by consume/retry/clear while we were in flight.
		t.mu.Unlock()
		return
	}

	switch {
	case err == nil && ok:
		e.state.Status = StatusConsumed
		e.state.ConsumedAt = t.clock.Now()
		e.state.RetryCount = 0
		e.state.LastError = ""
		t.mu.Unlock()
		if merr := t.store.MergeConsumed(t.userID, []string{itemID}); merr != nil {
			t.logger.Warn("persisting consumed item failed", "item_id", itemID, "error", merr)
		}
		return

	case err == nil:
		// Domain rejection. Retrying cannot help; keep a visible failed
		// marker for the caller.
		e.state.Status = StatusFailed
		e.state.LastError = "consumption rejected by backend"
		t.mu.Unlock()
		t.logger.Info("consumption rejected", "item_id", itemID)
		return

	case retryCount < t.maxRetries:
		delay := t.backoffDelay(retryCount)
		e.state.Status = StatusPending
		e.state.RetryCount = retryCount + 1
		e.state.LastError = fmt.Sprintf("retrying in %dms", delay.Milliseconds())
		e.timer = t.sched.AfterFunc(delay, func() {
			t.mu.Lock()
			cur, live := t.entries[itemID]
			if t.closed || !live || cur.gen != gen {
				t.mu.Unlock()
				return
			}
			cur.timer = nil
			t.mu.Unlock()
			t.attempt(itemID, gen, retryCount+1)
		})
		t.mu.Unlock()
		t.logger.Debug("consumption retry scheduled",
			"item_id", itemID, "retry", retryCount+1, "delay", delay, "error", err)
		return

	default:
		// Retries exhausted: roll the optimistic state back entirely so
		// the item reverts to its pre-consumption display.
		delete(t.entries, itemID)
		t.mu.Unlock()
		t.logger.Warn("consumption rolled back after retries",
			"item_id", itemID, "attempts", retryCount+1, "error", err)
		return
	}
}

func (t *Tracker) backoffDelay(retryCount int) time.Duration {
	delay := t.baseDelay
	for range retryCount {
		delay *= backoffMultiplier
	}
	return min(delay, t.maxDelay)
}
