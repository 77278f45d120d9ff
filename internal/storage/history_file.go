package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
)

// HistoryFile stores the job history as a JSON array in a single file.
type HistoryFile struct {
	path   string
	logger *infra.Logger
}

func NewHistoryFile(path string, logger *infra.Logger) (*HistoryFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage: history path is required")
	}
	return &HistoryFile{path: path, logger: infra.OrDiscard(logger)}, nil
}

func (h *HistoryFile) Path() string {
	return h.path
}

// Load reads the stored jobs. A missing file is an empty history.
func (h *HistoryFile) Load(ctx context.Context) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "load", Err: err}
	}
	data, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load", Err: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var jobs []domain.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, &domain.PersistenceError{Op: "load", Err: fmt.Errorf("decode %s: %w", h.path, err)}
	}
	return jobs, nil
}

// Save replaces the file contents. The new history is written to a temporary
// file in the same directory and renamed over the old one.
func (h *HistoryFile) Save(ctx context.Context, jobs []domain.Job) error {
	if err := ctx.Err(); err != nil {
		return &domain.PersistenceError{Op: "save", Err: err}
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return &domain.PersistenceError{Op: "save", Err: fmt.Errorf("encode: %w", err)}
	}

	if err := writeFileAtomic(h.path, data); err != nil {
		return &domain.PersistenceError{Op: "save", Err: err}
	}
	h.logger.Debug().Str("path", h.path).Int("jobs", len(jobs)).Msg("storage: history written")
	return nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers see either the old or the new contents.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
