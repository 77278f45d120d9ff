// Package mockgen is an in-memory stand-in for the generation service. Jobs
// advance on a timer and finish with placeholder model files.
package mockgen

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"modelgen/internal/infra"
)

const (
	DefaultStepInterval = time.Second
	maxStep             = 15.0
	progressCap         = 95.0
	completeAt          = 90.0
	failAt              = 50.0
)

// Job is the service side view of a generation job.
type Job struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	Progress    float64           `json:"progress"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Downloads   map[string]string `json:"downloads,omitempty"`
	Thumbnail   string            `json:"thumbnail,omitempty"`
	Settings    json.RawMessage   `json:"settings,omitempty"`
	Error       string            `json:"error,omitempty"`

	image    []byte
	willFail bool
}

// Options configures a Simulator.
type Options struct {
	StepInterval time.Duration
	// FailureRate is the probability in [0,1] that a job ends as failed.
	FailureRate float64
	Rand        *rand.Rand
	Now         func() time.Time
	Logger      *infra.Logger
}

// Simulator holds jobs in memory and advances them on Step.
type Simulator struct {
	mu   sync.Mutex
	jobs map[string]*Job

	interval    time.Duration
	failureRate float64
	rng         *rand.Rand
	now         func() time.Time
	logger      *infra.Logger
}

func NewSimulator(opts Options) *Simulator {
	interval := opts.StepInterval
	if interval <= 0 {
		interval = DefaultStepInterval
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x3d9e))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Simulator{
		jobs:        make(map[string]*Job),
		interval:    interval,
		failureRate: math.Min(math.Max(opts.FailureRate, 0), 1),
		rng:         rng,
		now:         now,
		logger:      infra.OrDiscard(opts.Logger),
	}
}

// Create registers a job and puts it straight into processing.
func (s *Simulator) Create(name string, settings json.RawMessage, image []byte) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    "processing",
		Progress:  0,
		CreatedAt: s.now().UTC(),
		Settings:  settings,
		image:     image,
		willFail:  s.failureRate > 0 && s.rng.Float64() < s.failureRate,
	}
	s.jobs[job.ID] = job
	s.logger.Debug().Str("job_id", job.ID).Bool("will_fail", job.willFail).Msg("mockgen: job created")
	return job.public()
}

func (s *Simulator) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.public(), true
}

// List returns every job, newest first.
func (s *Simulator) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.public())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Simulator) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Image returns the uploaded source image of a job.
func (s *Simulator) Image(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || len(job.image) == 0 {
		return nil, false
	}
	return job.image, true
}

// Step advances every processing job by a random amount of up to 15 points,
// capped at 95. Jobs at 90 or more complete.
func (s *Simulator) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Status != "processing" {
			continue
		}
		job.Progress = math.Min(job.Progress+s.rng.Float64()*maxStep, progressCap)
		switch {
		case job.willFail && job.Progress >= failAt:
			s.fail(job)
		case job.Progress >= completeAt:
			s.complete(job)
		}
	}
}

func (s *Simulator) complete(job *Job) {
	at := s.now().UTC()
	job.Status = "completed"
	job.Progress = 100
	job.CompletedAt = &at
	job.Downloads = map[string]string{
		"glb": "/files/" + job.ID + ".glb",
		"ply": "/files/" + job.ID + ".ply",
		"mp4": "/files/" + job.ID + ".mp4",
	}
	if len(job.image) > 0 {
		job.Thumbnail = "/files/" + job.ID + ".source"
	}
	s.logger.Debug().Str("job_id", job.ID).Msg("mockgen: job completed")
}

func (s *Simulator) fail(job *Job) {
	at := s.now().UTC()
	job.Status = "failed"
	job.CompletedAt = &at
	job.Error = "simulated generation failure"
	s.logger.Debug().Str("job_id", job.ID).Msg("mockgen: job failed")
}

// Run calls Step on every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

func (j *Job) public() Job {
	out := *j
	out.image = nil
	if j.CompletedAt != nil {
		at := *j.CompletedAt
		out.CompletedAt = &at
	}
	if j.Downloads != nil {
		out.Downloads = make(map[string]string, len(j.Downloads))
		for k, v := range j.Downloads {
			out.Downloads[k] = v
		}
	}
	return out
}
