package domain

import (
	"strings"
	"time"
)

// Status enumerates job lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions may happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along the state machine. Both terminal states share a rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// ParseStatus maps a raw API value onto a known status.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return s, true
	default:
		return "", false
	}
}

// Format identifies a downloadable asset type.
type Format string

const (
	FormatGLB Format = "glb"
	FormatPLY Format = "ply"
	FormatMP4 Format = "mp4"
)

// Formats lists every asset format the generation service may return.
var Formats = []Format{FormatGLB, FormatPLY, FormatMP4}

// ParseFormat normalizes a user supplied format name.
func ParseFormat(raw string) (Format, bool) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatGLB, FormatPLY, FormatMP4:
		return f, true
	default:
		return "", false
	}
}

// Downloads maps asset formats to retrieval URLs.
type Downloads map[Format]string

// Clone returns a copy with empty URLs dropped. A nil result means no downloads.
func (d Downloads) Clone() Downloads {
	if len(d) == 0 {
		return nil
	}
	out := make(Downloads, len(d))
	for k, v := range d {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Settings are the generation parameters captured at submission time.
type Settings struct {
	Seed              *int     `json:"seed,omitempty"`
	GuidanceStrength1 *float64 `json:"guidanceStrength1,omitempty"`
	SamplingSteps1    *int     `json:"samplingSteps1,omitempty"`
	GuidanceStrength2 *float64 `json:"guidanceStrength2,omitempty"`
	SamplingSteps2    *int     `json:"samplingSteps2,omitempty"`
	Symmetry          string   `json:"symmetry,omitempty"`
}

// Clone deep-copies the settings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := &Settings{Symmetry: s.Symmetry}
	out.Seed = clonePtr(s.Seed)
	out.GuidanceStrength1 = clonePtr(s.GuidanceStrength1)
	out.SamplingSteps1 = clonePtr(s.SamplingSteps1)
	out.GuidanceStrength2 = clonePtr(s.GuidanceStrength2)
	out.SamplingSteps2 = clonePtr(s.SamplingSteps2)
	return out
}

// Job is one image-to-3D generation request and its tracked outcome.
type Job struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Settings    *Settings  `json:"settings,omitempty"`
	Downloads   Downloads  `json:"downloads,omitempty"`
	Image       string     `json:"image,omitempty"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
}

// Clone returns a deep copy safe to hand out to readers.
func (j Job) Clone() Job {
	out := j
	out.CompletedAt = clonePtr(j.CompletedAt)
	out.Settings = j.Settings.Clone()
	out.Downloads = j.Downloads.Clone()
	return out
}

// Snapshot is the status payload returned by the generation API for one job.
type Snapshot struct {
	Status      string
	Progress    int
	Name        string
	CreatedAt   time.Time
	CompletedAt *time.Time
	Downloads   Downloads
	Thumbnail   string
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
