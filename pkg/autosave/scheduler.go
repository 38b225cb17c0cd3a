// Package autosave coalesces bursts of local edits into one deferred write per target.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDelay is the quiet period after the last edit before a write fires.
const DefaultDelay = 1500 * time.Millisecond

// ErrClosed is returned when scheduling on a closed Scheduler.
var ErrClosed = errors.New("autosave: scheduler closed")

// Kind names the family of a debounced target.
type Kind string

const (
	KindNoteTitle     Kind = "note_title"
	KindNoteBody      Kind = "note_body"
	KindProperty      Kind = "property"
	KindPropertyValue Kind = "property_value"
)

// Key identifies one independently debounced target. Owner groups the keys that belong to
// the same note so they can be cancelled together.
type Key struct {
	Kind  Kind
	ID    string
	Owner string
}

// CommitFunc performs the write for a fired key. ctx is cancelled when the scheduler closes.
type CommitFunc func(ctx context.Context) error

// State describes where a key is in its save cycle.
type State string

const (
	StateSaving State = "saving"
	StateSaved  State = "saved"
	StateFailed State = "failed"
)

// Status is reported for every commit transition.
type Status struct {
	Key   Key
	State State
	Err   error
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	AfterFunc(delay time.Duration, callback func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(delay time.Duration, callback func()) Timer {
	return time.AfterFunc(delay, callback)
}

// Config describes the dependencies of a Scheduler.
type Config struct {
	Delay    time.Duration
	Clock    Clock
	Logger   *zap.Logger
	OnStatus func(Status)
}

type pendingWrite struct {
	timer      Timer
	generation uint64
	commit     CommitFunc
}

// Scheduler owns the pending timers of one editing session.
type Scheduler struct {
	delay    time.Duration
	clock    Clock
	logger   *zap.Logger
	onStatus func(Status)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	pending    map[Key]*pendingWrite
	saving     map[Key]int
	keyLocks   map[Key]*sync.Mutex
	generation uint64
	closed     bool
}

// New constructs a Scheduler. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Scheduler {
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		delay:    delay,
		clock:    clock,
		logger:   logger,
		onStatus: cfg.OnStatus,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[Key]*pendingWrite),
		saving:   make(map[Key]int),
		keyLocks: make(map[Key]*sync.Mutex),
	}
}

// Delay returns the configured quiet period.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Schedule replaces any pending write for key with commit, restarting the delay.
func (s *Scheduler) Schedule(key Key, commit CommitFunc) error {
	if commit == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if existing, ok := s.pending[key]; ok {
		existing.timer.Stop()
	}

	s.generation++
	generation := s.generation
	write := &pendingWrite{generation: generation, commit: commit}
	s.pending[key] = write
	write.timer = s.clock.AfterFunc(s.delay, func() {
		s.fire(key, generation)
	})
	return nil
}

// Cancel drops the pending write for key without running it.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

// CancelOwner drops every pending write whose key belongs to owner.
func (s *Scheduler) CancelOwner(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for key := range s.pending {
		if key.Owner == owner && s.cancelLocked(key) {
			cancelled++
		}
	}
	return cancelled
}

// CancelAll drops every pending write.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for key := range s.pending {
		if s.cancelLocked(key) {
			cancelled++
		}
	}
	return cancelled
}

// Close cancels every pending write, aborts in-flight commits through their context and
// rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for key := range s.pending {
		s.cancelLocked(key)
	}
	s.mu.Unlock()
	s.cancel()
}

// Pending reports whether a write for key is waiting on its timer.
func (s *Scheduler) Pending(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// PendingCount returns the number of waiting writes.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Saving reports whether a commit for key is running.
func (s *Scheduler) Saving(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving[key] > 0
}

// AnySaving reports whether any commit is running.
func (s *Scheduler) AnySaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saving) > 0
}

// SavingOwner reports whether any commit of owner's keys is running.
func (s *Scheduler) SavingOwner(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.saving {
		if key.Owner == owner {
			return true
		}
	}
	return false
}

func (s *Scheduler) cancelLocked(key Key) bool {
	write, ok := s.pending[key]
	if !ok {
		return false
	}
	write.timer.Stop()
	delete(s.pending, key)
	return true
}

func (s *Scheduler) fire(key Key, generation uint64) {
	s.mu.Lock()
	write, ok := s.pending[key]
	if !ok || write.generation != generation || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.saving[key]++
	keyLock, ok := s.keyLocks[key]
	if !ok {
		keyLock = &sync.Mutex{}
		s.keyLocks[key] = keyLock
	}
	ctx := s.ctx
	s.mu.Unlock()

	s.notify(Status{Key: key, State: StateSaving})

	keyLock.Lock()
	err := write.commit(ctx)
	keyLock.Unlock()

	s.mu.Lock()
	s.saving[key]--
	if s.saving[key] <= 0 {
		delete(s.saving, key)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("autosave commit failed",
			zap.String("kind", string(key.Kind)),
			zap.String("id", key.ID),
			zap.String("owner", key.Owner),
			zap.Error(err),
		)
		s.notify(Status{Key: key, State: StateFailed, Err: err})
		return
	}
	s.notify(Status{Key: key, State: StateSaved})
}

func (s *Scheduler) notify(status Status) {
	if s.onStatus != nil {
		s.onStatus(status)
	}
}
