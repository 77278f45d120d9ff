package domain

import (
	"fmt"
	"strings"
	"time"
)

// StatusUpdate is the closed set of status changes a snapshot can carry:
// Pending, Processing, Completed, Failed and the Unknown fallback.
type StatusUpdate interface {
	Target() Status
	isStatusUpdate()
}

type Pending struct{}

type Processing struct {
	Progress int
}

type Completed struct {
	Downloads Downloads
	At        *time.Time
}

type Failed struct {
	At *time.Time
}

// Unknown carries a status value outside the state machine.
type Unknown struct {
	Raw string
}

func (Pending) Target() Status    { return StatusPending }
func (Processing) Target() Status { return StatusProcessing }
func (Completed) Target() Status  { return StatusCompleted }
func (Failed) Target() Status     { return StatusFailed }
func (Unknown) Target() Status    { return "" }

func (Pending) isStatusUpdate()    {}
func (Processing) isStatusUpdate() {}
func (Completed) isStatusUpdate()  {}
func (Failed) isStatusUpdate()     {}
func (Unknown) isStatusUpdate()    {}

// Classify turns a raw snapshot into its status variant.
func Classify(s Snapshot) StatusUpdate {
	status, ok := ParseStatus(s.Status)
	if !ok {
		return Unknown{Raw: s.Status}
	}
	switch status {
	case StatusProcessing:
		return Processing{Progress: s.Progress}
	case StatusCompleted:
		return Completed{Downloads: s.Downloads.Clone(), At: clonePtr(s.CompletedAt)}
	case StatusFailed:
		return Failed{At: clonePtr(s.CompletedAt)}
	default:
		return Pending{}
	}
}

// Patch is a partial update applied to a job. Nil fields are left untouched.
// Name only fills a blank local name: once a job is named, the user owns it.
// Downloads travel inside the Completed variant and replace the old map wholesale.
type Patch struct {
	Name      *string
	Image     *string
	Thumbnail *string
	Status    StatusUpdate
}

// PatchFromSnapshot builds the patch the scheduler applies for a polled snapshot.
// createdAt is immutable locally and is therefore never copied.
func PatchFromSnapshot(s Snapshot) Patch {
	p := Patch{Status: Classify(s)}
	if name := strings.TrimSpace(s.Name); name != "" {
		p.Name = &name
	}
	if thumb := strings.TrimSpace(s.Thumbnail); thumb != "" {
		p.Thumbnail = &thumb
	}
	return p
}

// Merge applies p to job and returns the resulting job. The input is never
// modified. Terminal jobs reject every patch.
func Merge(job Job, p Patch, now time.Time) (Job, error) {
	if job.Status.Terminal() {
		return job, fmt.Errorf("%w: %s is %s", ErrJobTerminal, job.ID, job.Status)
	}
	next := job.Clone()
	if p.Status != nil {
		if u, ok := p.Status.(Unknown); ok {
			return job, &UnknownStatusError{JobID: job.ID, Status: u.Raw}
		}
		target := p.Status.Target()
		if target.rank() < job.Status.rank() {
			return job, fmt.Errorf("%w: %s %s -> %s", ErrStatusRegression, job.ID, job.Status, target)
		}
		switch u := p.Status.(type) {
		case Processing:
			progress := ClampProgress(u.Progress)
			if job.Status == StatusProcessing && progress < job.Progress {
				progress = job.Progress
			}
			next.Status = StatusProcessing
			next.Progress = progress
		case Completed:
			next.Status = StatusCompleted
			next.Progress = 100
			next.Downloads = u.Downloads.Clone()
			stampCompleted(&next, u.At, now)
		case Failed:
			next.Status = StatusFailed
			next.Downloads = nil
			stampCompleted(&next, u.At, now)
		}
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) != "" && strings.TrimSpace(next.Name) == "" {
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.Image != nil {
		next.Image = *p.Image
	}
	if p.Thumbnail != nil {
		next.Thumbnail = *p.Thumbnail
	}
	return next, nil
}

// ClampProgress bounds a reported percentage to [0,100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func stampCompleted(job *Job, reported *time.Time, now time.Time) {
	if job.CompletedAt != nil {
		return
	}
	at := now
	if reported != nil && !reported.IsZero() {
		at = *reported
	}
	job.CompletedAt = &at
}
