package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"modelgen/internal/domain"
	"modelgen/internal/genapi"
	"modelgen/internal/imageio"
	"modelgen/internal/infra"
	"modelgen/internal/notify"
	"modelgen/internal/storage"
	"modelgen/pkg/zip"
)

const (
	ProjectVersion = "1.0.0"
	AppVersion     = "1.0.0"
)

var (
	ErrDownloadUnavailable = errors.New("download not available")
	ErrUnsupportedFormat   = errors.New("unsupported download format")
)

// GenerationAPI is the part of the generation client the manager drives.
type GenerationAPI interface {
	SubmitJob(ctx context.Context, req genapi.SubmitRequest) (string, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// AssetStore keeps files under string keys.
type AssetStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
	Path(key string) (string, error)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	AutoDownload  bool
	ThumbnailSize int
	Platform      string
	Notifier      notify.Notifier
	Logger        *infra.Logger
	Now           func() time.Time
}

// Manager turns user actions into registry changes: it submits images,
// saves finished models and exports projects.
type Manager struct {
	ctx      context.Context
	registry *Registry
	api      GenerationAPI
	assets   AssetStore
	outputs  AssetStore

	autoDownload  atomic.Bool
	thumbnailSize int
	platform      string
	notifier      notify.Notifier
	logger        *infra.Logger
	now           func() time.Time

	wg          sync.WaitGroup
	unsubscribe func()
}

// SubmitInput is one upload to turn into a job.
type SubmitInput struct {
	Filename string
	Image    []byte
	Name     string
	Settings *domain.Settings
}

// SavedFile describes a file written to the output directory.
type SavedFile struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Bytes    int    `json:"bytes"`
}

// NewManager builds a manager. assets holds uploads and thumbnails, outputs
// receives downloaded models and exports. ctx bounds background downloads.
func NewManager(ctx context.Context, registry *Registry, api GenerationAPI, assets, outputs AssetStore, opts ManagerOptions) *Manager {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	platform := strings.TrimSpace(opts.Platform)
	if platform == "" {
		platform = runtime.GOOS
	}
	size := opts.ThumbnailSize
	if size <= 0 {
		size = imageio.ThumbnailSize
	}
	m := &Manager{
		ctx:           ctx,
		registry:      registry,
		api:           api,
		assets:        assets,
		outputs:       outputs,
		thumbnailSize: size,
		platform:      platform,
		notifier:      notifier,
		logger:        infra.OrDiscard(opts.Logger),
		now:           now,
	}
	m.autoDownload.Store(opts.AutoDownload)
	m.unsubscribe = registry.Subscribe(m.onChange)
	return m
}

// SetAutoDownload toggles fetching the GLB of every job that completes.
func (m *Manager) SetAutoDownload(enabled bool) {
	m.autoDownload.Store(enabled)
}

func (m *Manager) AutoDownload() bool {
	return m.autoDownload.Load()
}

// Close stops listening for completions and waits for background downloads.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.wg.Wait()
}

func (m *Manager) onChange(c Change) {
	if !c.Transitioned() || c.Job.Status != domain.StatusCompleted || !m.autoDownload.Load() {
		return
	}
	if c.Job.Downloads[domain.FormatGLB] == "" {
		return
	}
	if m.ctx.Err() != nil {
		return
	}
	m.wg.Add(1)
	go func(id string) {
		defer m.wg.Done()
		if _, err := m.Download(m.ctx, id, string(domain.FormatGLB)); err != nil {
			m.logger.Warn().Err(err).Str("job_id", id).Msg("manager: auto download failed")
		}
	}(c.JobID)
}

// Submit validates the upload, starts a generation job and registers it as
// pending. No job is added when any step before registration fails.
func (m *Manager) Submit(ctx context.Context, in SubmitInput) (domain.Job, error) {
	if err := imageio.Validate(in.Filename, int64(len(in.Image))); err != nil {
		m.notifier.Notify(notify.Error("Generation Failed", capitalize(err.Error()), ""))
		return domain.Job{}, fmt.Errorf("jobs: submit: %w", err)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = imageio.DeriveName(in.Filename)
	}

	id, err := m.api.SubmitJob(ctx, genapi.SubmitRequest{
		Filename: in.Filename,
		Image:    in.Image,
		Name:     name,
		Settings: in.Settings,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("filename", in.Filename).Msg("manager: submit failed")
		m.notifier.Notify(notify.Error("Generation Failed", describe(err, "Failed to start 3D model generation."), ""))
		return domain.Job{}, fmt.Errorf("jobs: submit: %w", err)
	}
	if name == "" {
		name = "Job " + id
	}

	job := domain.Job{
		ID:        id,
		Name:      name,
		Status:    domain.StatusPending,
		Progress:  0,
		CreatedAt: m.now(),
		Settings:  in.Settings.Clone(),
	}
	job.Image, job.Thumbnail = m.storePreviews(ctx, id, in)

	if err := m.registry.Add(job); err != nil {
		m.notifier.Notify(notify.Error("Generation Failed", err.Error(), id))
		return domain.Job{}, err
	}
	m.logger.Info().Str("job_id", id).Str("name", name).Msg("manager: job submitted")
	m.notifier.Notify(notify.Success("Generation Started!", "Your 3D model generation has been queued.", id))
	return m.registry.Get(id)
}

// storePreviews keeps the source image and its thumbnail. Failures only cost
// the preview, never the job.
func (m *Manager) storePreviews(ctx context.Context, id string, in SubmitInput) (string, string) {
	if m.assets == nil {
		return "", ""
	}
	ext := strings.ToLower(filepath.Ext(in.Filename))
	imageKey, err := m.assets.Write(ctx, path.Join("jobs", id, "source"+ext), in.Image)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", id).Msg("manager: store source image failed")
		imageKey = ""
	}
	thumb, err := imageio.Thumbnail(in.Image, m.thumbnailSize)
	if err != nil {
		m.logger.Debug().Err(err).Str("job_id", id).Msg("manager: thumbnail skipped")
		return imageKey, ""
	}
	thumbKey, err := m.assets.Write(ctx, path.Join("jobs", id, "thumbnail.png"), thumb)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", id).Msg("manager: store thumbnail failed")
		return imageKey, ""
	}
	return imageKey, thumbKey
}

// Rename changes the display name of a job.
func (m *Manager) Rename(id, name string) (domain.Job, error) {
	return m.registry.Rename(id, name)
}

// Delete removes the job and its stored previews. The generation service is
// not told about the deletion.
func (m *Manager) Delete(ctx context.Context, id string) (domain.Job, error) {
	job, err := m.registry.Delete(id)
	if err != nil {
		return domain.Job{}, err
	}
	if m.assets != nil {
		for _, key := range []string{job.Image, job.Thumbnail} {
			if key == "" {
				continue
			}
			if err := m.assets.Remove(ctx, key); err != nil {
				m.logger.Warn().Err(err).Str("job_id", id).Str("key", key).Msg("manager: remove asset failed")
			}
		}
	}
	m.logger.Info().Str("job_id", id).Msg("manager: job deleted")
	return job, nil
}

// Download fetches one output of a completed job and writes it as
// <name>.<format> in the output directory.
func (m *Manager) Download(ctx context.Context, id, format string) (SavedFile, error) {
	job, err := m.registry.Get(id)
	if err != nil {
		return SavedFile{}, err
	}
	f, ok := domain.ParseFormat(format)
	if !ok {
		return SavedFile{}, fmt.Errorf("jobs: download %s: %w: %q", id, ErrUnsupportedFormat, format)
	}
	url := job.Downloads[f]
	if url == "" {
		return SavedFile{}, fmt.Errorf("%s %w", cases.Upper(language.Und).String(string(f)), ErrDownloadUnavailable)
	}

	data, err := m.api.Download(ctx, url)
	if err != nil {
		m.notifier.Notify(notify.Error("Download Failed", describe(err, "Failed to download model"), id))
		return SavedFile{}, fmt.Errorf("jobs: download %s: %w", id, err)
	}
	saved, err := m.writeOutput(ctx, storage.SafeFilename(job.Name)+"."+string(f), data)
	if err != nil {
		m.notifier.Notify(notify.Error("Download Failed", err.Error(), id))
		return SavedFile{}, fmt.Errorf("jobs: download %s: %w", id, err)
	}
	m.logger.Info().Str("job_id", id).Str("path", saved.Path).Msg("manager: model saved")
	m.notifier.Notify(notify.Success("Download Complete", saved.Filename+" saved.", id))
	return saved, nil
}

type projectFile struct {
	Version       string          `json:"version"`
	Job           exportedJob     `json:"job"`
	IncludeAssets bool            `json:"includeAssets"`
	Metadata      projectMetadata `json:"metadata"`
}

type exportedJob struct {
	domain.Job
	ExportedAt time.Time `json:"exportedAt"`
}

type projectMetadata struct {
	AppVersion string `json:"appVersion"`
	Platform   string `json:"platform"`
}

// Export writes the project description of a job. With includeAssets the
// description, the source image and every available model output are bundled
// into <name>_project.zip; otherwise <name>_project.json is written.
func (m *Manager) Export(ctx context.Context, id string, includeAssets bool) (SavedFile, error) {
	job, err := m.registry.Get(id)
	if err != nil {
		return SavedFile{}, err
	}
	project := projectFile{
		Version:       ProjectVersion,
		Job:           exportedJob{Job: job, ExportedAt: m.now().UTC()},
		IncludeAssets: includeAssets,
		Metadata:      projectMetadata{AppVersion: AppVersion, Platform: m.platform},
	}
	doc, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return SavedFile{}, fmt.Errorf("jobs: export %s: encode: %w", id, err)
	}
	base := storage.SafeFilename(job.Name)

	if !includeAssets {
		return m.finishExport(ctx, id, base+"_project.json", doc)
	}

	entries := []zip.Asset{{Filename: base + "_project.json", Data: doc, Modified: project.Job.ExportedAt}}
	if m.assets != nil && job.Image != "" {
		if data, err := m.assets.Read(ctx, job.Image); err == nil {
			entries = append(entries, zip.Asset{Filename: "source" + path.Ext(job.Image), Data: data})
		} else {
			m.logger.Warn().Err(err).Str("job_id", id).Msg("manager: source image missing from export")
		}
	}
	for _, f := range domain.Formats {
		url := job.Downloads[f]
		if url == "" {
			continue
		}
		data, err := m.api.Download(ctx, url)
		if err != nil {
			m.notifier.Notify(notify.Error("Export Failed", describe(err, "Failed to export project"), id))
			return SavedFile{}, fmt.Errorf("jobs: export %s: %w", id, err)
		}
		entries = append(entries, zip.Asset{Filename: base + "." + string(f), Data: data})
	}
	bundle, err := zip.ArchiveAssets(entries)
	if err != nil {
		return SavedFile{}, fmt.Errorf("jobs: export %s: %w", id, err)
	}
	return m.finishExport(ctx, id, base+"_project.zip", bundle)
}

func (m *Manager) finishExport(ctx context.Context, id, filename string, data []byte) (SavedFile, error) {
	saved, err := m.writeOutput(ctx, filename, data)
	if err != nil {
		m.notifier.Notify(notify.Error("Export Failed", err.Error(), id))
		return SavedFile{}, fmt.Errorf("jobs: export %s: %w", id, err)
	}
	m.logger.Info().Str("job_id", id).Str("path", saved.Path).Msg("manager: project exported")
	m.notifier.Notify(notify.Success("Project Exported", saved.Filename+" saved.", id))
	return saved, nil
}

func (m *Manager) writeOutput(ctx context.Context, filename string, data []byte) (SavedFile, error) {
	if m.outputs == nil {
		return SavedFile{}, errors.New("no output directory configured")
	}
	key, err := m.outputs.Write(ctx, filename, data)
	if err != nil {
		return SavedFile{}, err
	}
	full, err := m.outputs.Path(key)
	if err != nil {
		return SavedFile{}, err
	}
	return SavedFile{Filename: key, Path: full, Bytes: len(data)}, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
