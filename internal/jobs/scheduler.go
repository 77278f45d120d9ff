package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
	"modelgen/internal/notify"
)

const DefaultPollInterval = 3 * time.Second

// StatusFetcher is the part of the generation API the scheduler needs.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (domain.Snapshot, error)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Interval time.Duration
	// MaxConcurrent bounds in-flight status requests per tick. Zero means no limit.
	MaxConcurrent int
	Notifier      notify.Notifier
	Logger        *infra.Logger
}

// Scheduler refreshes every non-terminal job on a fixed interval. At most one
// polling loop runs for the whole registry; it stops by itself once every job
// is terminal and restarts when a non-terminal job appears.
type Scheduler struct {
	ctx           context.Context
	registry      *Registry
	api           StatusFetcher
	interval      time.Duration
	maxConcurrent int
	notifier      notify.Notifier
	logger        *infra.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	unsubscribe func()
}

// NewScheduler wires a scheduler to registry. ctx bounds the lifetime of every
// loop the scheduler starts.
func NewScheduler(ctx context.Context, registry *Registry, api StatusFetcher, opts SchedulerOptions) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	s := &Scheduler{
		ctx:           ctx,
		registry:      registry,
		api:           api,
		interval:      interval,
		maxConcurrent: opts.MaxConcurrent,
		notifier:      notifier,
		logger:        infra.OrDiscard(opts.Logger),
	}
	s.unsubscribe = registry.Subscribe(s.onChange)
	return s
}

func (s *Scheduler) onChange(c Change) {
	switch c.Kind {
	case ChangeAdded, ChangeRestored:
		if s.registry.HasActive() {
			s.Start()
		}
	case ChangeUpdated:
		if !c.Transitioned() {
			return
		}
		switch c.Job.Status {
		case domain.StatusCompleted:
			s.notifier.Notify(notify.Success("Model Generated!", fmt.Sprintf("%s has been completed successfully.", c.Job.Name), c.JobID))
		case domain.StatusFailed:
			s.notifier.Notify(notify.Error("Generation Failed", fmt.Sprintf("%s failed to generate.", c.Job.Name), c.JobID))
		}
	}
}

// Start begins the polling loop unless one is already running. It reports
// whether a new loop was started.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped || s.ctx.Err() != nil {
		return false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	go s.loop(ctx, done)
	s.logger.Debug().Dur("interval", s.interval).Msg("scheduler: polling started")
	return true
}

// Running reports whether a polling loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop cancels the active loop, abandons in-flight requests and waits for the
// loop to exit. The scheduler does not restart afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.done == done {
				s.running = false
			}
			s.mu.Unlock()
			s.logger.Debug().Msg("scheduler: polling cancelled")
			return
		case <-ticker.C:
		}

		s.tick(ctx)
		if s.tryStop(done) {
			s.logger.Debug().Msg("scheduler: no active jobs, polling stopped")
			return
		}
	}
}

// tryStop clears the running flag when no job is left to poll. The check and
// the flag change happen under one lock so a job added concurrently either
// keeps this loop alive or starts a fresh one.
func (s *Scheduler) tryStop(done chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry.HasActive() {
		return false
	}
	if s.done == done {
		s.running = false
		s.cancel()
	}
	return true
}

// tick issues one status request per non-terminal job and applies each result
// as soon as it arrives. It returns the number of requests issued.
func (s *Scheduler) tick(ctx context.Context) int {
	ids := s.registry.Active()
	if len(ids) == 0 {
		return 0
	}

	var g errgroup.Group
	if s.maxConcurrent > 0 {
		g.SetLimit(s.maxConcurrent)
	}
	issued := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		issued++
		g.Go(func() error {
			s.poll(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return issued
}

func (s *Scheduler) poll(ctx context.Context, id string) {
	snap, err := s.api.JobStatus(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Str("job_id", id).Msg("scheduler: status request failed")
		s.notifier.Notify(notify.Error("Error", describe(err, "Failed to get job status"), id))
		return
	}

	_, err = s.registry.Update(id, domain.PatchFromSnapshot(snap))
	var unknown *domain.UnknownStatusError
	switch {
	case err == nil:
	case errors.As(err, &unknown):
		s.logger.Warn().Str("job_id", id).Str("status", unknown.Status).Msg("scheduler: unknown job status")
		s.notifier.Notify(notify.Warning("Unknown status", unknown.Error(), id))
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Debug().Str("job_id", id).Msg("scheduler: job deleted while polling")
	case errors.Is(err, domain.ErrJobTerminal), errors.Is(err, domain.ErrStatusRegression):
		s.logger.Debug().Err(err).Str("job_id", id).Msg("scheduler: stale snapshot ignored")
	default:
		s.logger.Error().Err(err).Str("job_id", id).Msg("scheduler: apply snapshot failed")
	}
}

// describe prefers the API supplied message over the wrapped error text.
func describe(err error, fallback string) string {
	var transport *domain.TransportError
	if errors.As(err, &transport) && transport.Message != "" {
		return transport.Message
	}
	if err != nil {
		return err.Error()
	}
	return fallback
}
