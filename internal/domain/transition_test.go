package domain

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var testNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func pendingJob(id string) Job {
	return Job{ID: id, Name: "cube", Status: StatusPending, CreatedAt: testNow.Add(-time.Minute)}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want Status
	}{
		{name: "pending", snap: Snapshot{Status: "pending"}, want: StatusPending},
		{name: "processing mixed case", snap: Snapshot{Status: " Processing ", Progress: 12}, want: StatusProcessing},
		{name: "completed", snap: Snapshot{Status: "completed", Downloads: Downloads{FormatGLB: "u"}}, want: StatusCompleted},
		{name: "failed", snap: Snapshot{Status: "failed"}, want: StatusFailed},
		{name: "queued is unknown", snap: Snapshot{Status: "queued"}, want: ""},
		{name: "empty is unknown", snap: Snapshot{}, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.snap)
			if got.Target() != tc.want {
				t.Fatalf("Classify(%q).Target() = %q, want %q", tc.snap.Status, got.Target(), tc.want)
			}
			if tc.want == "" {
				if _, ok := got.(Unknown); !ok {
					t.Fatalf("expected Unknown variant, got %#v", got)
				}
			}
		})
	}
}

func TestMergeProcessingThenCompleted(t *testing.T) {
	job := pendingJob("job-1")

	job, err := Merge(job, Patch{Status: Processing{Progress: 45}}, testNow)
	if err != nil {
		t.Fatalf("merge processing: %v", err)
	}
	if job.Status != StatusProcessing || job.Progress != 45 {
		t.Fatalf("unexpected job after processing: %+v", job)
	}

	job, err = Merge(job, Patch{Status: Completed{Downloads: Downloads{FormatGLB: "url"}}}, testNow)
	if err != nil {
		t.Fatalf("merge completed: %v", err)
	}
	if job.Status != StatusCompleted || job.Progress != 100 {
		t.Fatalf("unexpected job after completion: %+v", job)
	}
	if job.Downloads[FormatGLB] != "url" {
		t.Fatalf("downloads = %#v", job.Downloads)
	}
	if job.CompletedAt == nil || !job.CompletedAt.Equal(testNow) {
		t.Fatalf("completedAt = %v, want %v", job.CompletedAt, testNow)
	}
}

func TestMergeKeepsProgressMonotonicWhileProcessing(t *testing.T) {
	job := pendingJob("job-1")
	job, _ = Merge(job, Patch{Status: Processing{Progress: 60}}, testNow)
	job, err := Merge(job, Patch{Status: Processing{Progress: 20}}, testNow)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if job.Progress != 60 {
		t.Fatalf("progress = %d, want 60", job.Progress)
	}
}

func TestMergeClampsProgress(t *testing.T) {
	job, err := Merge(pendingJob("job-1"), Patch{Status: Processing{Progress: 250}}, testNow)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want 100", job.Progress)
	}
}

func TestMergeRejectsTerminalJobs(t *testing.T) {
	job, _ := Merge(pendingJob("job-1"), Patch{Status: Failed{}}, testNow)
	name := "renamed"
	_, err := Merge(job, Patch{Name: &name, Status: Processing{Progress: 5}}, testNow)
	if !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
}

func TestMergeRejectsRegression(t *testing.T) {
	job, _ := Merge(pendingJob("job-1"), Patch{Status: Processing{Progress: 5}}, testNow)
	_, err := Merge(job, Patch{Status: Pending{}}, testNow)
	if !errors.Is(err, ErrStatusRegression) {
		t.Fatalf("expected ErrStatusRegression, got %v", err)
	}
}

func TestMergeUnknownStatusLeavesJobUnchanged(t *testing.T) {
	job := pendingJob("job-1")
	got, err := Merge(job, PatchFromSnapshot(Snapshot{Status: "queued", Name: "other"}), testNow)
	var unknown *UnknownStatusError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownStatusError, got %v", err)
	}
	if unknown.Status != "queued" || unknown.JobID != "job-1" {
		t.Fatalf("unexpected error fields: %+v", unknown)
	}
	if got.Status != StatusPending || got.Name != "cube" {
		t.Fatalf("job changed: %+v", got)
	}
}

func TestMergeKeepsLocalName(t *testing.T) {
	got, err := Merge(pendingJob("job-1"), PatchFromSnapshot(Snapshot{Status: "processing", Progress: 20, Name: "server name"}), testNow)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got.Name != "cube" {
		t.Fatalf("name = %q, want local name kept", got.Name)
	}

	blank := pendingJob("job-2")
	blank.Name = ""
	got, err = Merge(blank, PatchFromSnapshot(Snapshot{Status: "processing", Name: "server name"}), testNow)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got.Name != "server name" {
		t.Fatalf("name = %q, want blank name filled", got.Name)
	}
}

func TestMergeFailedStampsReportedTime(t *testing.T) {
	reported := testNow.Add(-10 * time.Second)
	job, err := Merge(pendingJob("job-1"), Patch{Status: Failed{At: &reported}}, testNow)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if job.CompletedAt == nil || !job.CompletedAt.Equal(reported) {
		t.Fatalf("completedAt = %v, want %v", job.CompletedAt, reported)
	}
	if job.Downloads != nil {
		t.Fatalf("failed job should have no downloads: %#v", job.Downloads)
	}
}

func TestMergeDoesNotAliasInput(t *testing.T) {
	done := Completed{Downloads: Downloads{FormatGLB: "a"}}
	job, _ := Merge(pendingJob("job-1"), Patch{Status: done}, testNow)
	done.Downloads[FormatGLB] = "mutated"
	if job.Downloads[FormatGLB] != "a" {
		t.Fatalf("downloads aliased caller map: %#v", job.Downloads)
	}
}

func drawUpdate(t *rapid.T) StatusUpdate {
	switch rapid.IntRange(0, 4).Draw(t, "kind") {
	case 0:
		return Pending{}
	case 1:
		return Processing{Progress: rapid.IntRange(-20, 120).Draw(t, "progress")}
	case 2:
		downloads := Downloads{}
		if rapid.Bool().Draw(t, "glb") {
			downloads[FormatGLB] = "https://example.com/a.glb"
		}
		if rapid.Bool().Draw(t, "ply") {
			downloads[FormatPLY] = "https://example.com/a.ply"
		}
		return Completed{Downloads: downloads}
	case 3:
		return Failed{}
	default:
		return Unknown{Raw: rapid.SampledFrom([]string{"queued", "cancelled", ""}).Draw(t, "raw")}
	}
}

func TestMergeStateMachineProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		job := pendingJob("job-1")
		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			prev := job
			next, err := Merge(job, Patch{Status: drawUpdate(t)}, testNow)
			if err != nil {
				if !equalJobs(next, prev) {
					t.Fatalf("rejected merge modified job: %+v -> %+v", prev, next)
				}
				continue
			}
			if prev.Status.Terminal() {
				t.Fatalf("terminal job %s accepted a merge", prev.Status)
			}
			if next.Status.rank() < prev.Status.rank() {
				t.Fatalf("status moved backwards: %s -> %s", prev.Status, next.Status)
			}
			if prev.Status == StatusProcessing && next.Status == StatusProcessing && next.Progress < prev.Progress {
				t.Fatalf("progress decreased: %d -> %d", prev.Progress, next.Progress)
			}
			if len(next.Downloads) > 0 && next.Status != StatusCompleted {
				t.Fatalf("downloads present while %s", next.Status)
			}
			if next.Status == StatusCompleted && next.Progress != 100 {
				t.Fatalf("completed job has progress %d", next.Progress)
			}
			if next.Status.Terminal() && next.CompletedAt == nil {
				t.Fatalf("terminal job without completedAt")
			}
			if next.Progress < 0 || next.Progress > 100 {
				t.Fatalf("progress out of range: %d", next.Progress)
			}
			job = next
		}
	})
}

func equalJobs(a, b Job) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Status != b.Status || a.Progress != b.Progress {
		return false
	}
	if len(a.Downloads) != len(b.Downloads) {
		return false
	}
	for k, v := range a.Downloads {
		if b.Downloads[k] != v {
			return false
		}
	}
	return (a.CompletedAt == nil) == (b.CompletedAt == nil)
}
