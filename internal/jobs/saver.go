package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
	"modelgen/internal/notify"
)

const (
	DefaultSaveDebounce = time.Second
	DefaultSaveTimeout  = 10 * time.Second
	DefaultMaxHistory   = 100
)

// Store is the durable side of the job history.
type Store interface {
	Load(ctx context.Context) ([]domain.Job, error)
	Save(ctx context.Context, jobs []domain.Job) error
}

// SaverOptions configures a Saver.
type SaverOptions struct {
	Debounce time.Duration
	// SaveTimeout bounds each debounced write.
	SaveTimeout time.Duration
	MaxHistory  int
	Notifier    notify.Notifier
	Logger      *infra.Logger
}

// Saver writes the registry to a Store once changes have been quiet for the
// debounce window. Bursts of changes produce a single write.
type Saver struct {
	registry    *Registry
	store       Store
	debounce    time.Duration
	saveTimeout time.Duration
	maxHistory  atomic.Int64
	notifier    notify.Notifier
	logger      *infra.Logger

	mu     sync.Mutex
	timer  *time.Timer
	dirty  bool
	closed bool

	// saving holds one token; a save waits for it or for its context.
	saving      chan struct{}
	unsubscribe func()
}

func NewSaver(registry *Registry, store Store, opts SaverOptions) *Saver {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultSaveDebounce
	}
	saveTimeout := opts.SaveTimeout
	if saveTimeout <= 0 {
		saveTimeout = DefaultSaveTimeout
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	s := &Saver{
		registry:    registry,
		store:       store,
		debounce:    debounce,
		saveTimeout: saveTimeout,
		notifier:    notifier,
		logger:      infra.OrDiscard(opts.Logger),
		saving:      make(chan struct{}, 1),
	}
	s.SetMaxHistory(opts.MaxHistory)
	s.unsubscribe = registry.Subscribe(s.onChange)
	return s
}

// Restore loads the stored history into the registry. A load failure leaves
// the registry empty and is reported as a warning.
func (s *Saver) Restore(ctx context.Context) int {
	jobs, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("saver: load history failed, starting empty")
		s.notifier.Notify(notify.Warning("History unavailable", "Failed to load job history", ""))
		jobs = nil
	}
	n := s.registry.Restore(jobs)
	s.logger.Info().Int("jobs", n).Msg("saver: history restored")
	return n
}

func (s *Saver) onChange(c Change) {
	if c.Kind == ChangeRestored {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.dirty = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.fire)
		return
	}
	s.timer.Reset(s.debounce)
}

func (s *Saver) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()
	_ = s.save(ctx)
}

// SetMaxHistory changes how many of the newest jobs later saves keep. Values
// below one restore the default.
func (s *Saver) SetMaxHistory(n int) {
	if n <= 0 {
		n = DefaultMaxHistory
	}
	s.maxHistory.Store(int64(n))
}

// MaxHistory reports the current history limit.
func (s *Saver) MaxHistory() int {
	return int(s.maxHistory.Load())
}

// Pending reports whether changes are waiting to be written.
func (s *Saver) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Flush cancels the debounce timer and writes any pending changes now.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	return s.save(ctx)
}

// Close flushes pending changes and stops listening to the registry.
func (s *Saver) Close(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	err := s.Flush(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

func (s *Saver) save(ctx context.Context) error {
	select {
	case s.saving <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.saving }()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	s.mu.Unlock()

	jobs := s.registry.List()
	if limit := s.MaxHistory(); len(jobs) > limit {
		jobs = jobs[:limit]
	}
	if err := s.store.Save(ctx, jobs); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		s.logger.Warn().Err(err).Int("jobs", len(jobs)).Msg("saver: save history failed")
		s.notifier.Notify(notify.Warning("Save failed", "Failed to save job history", ""))
		return err
	}
	s.logger.Debug().Int("jobs", len(jobs)).Msg("saver: history saved")
	return nil
}
