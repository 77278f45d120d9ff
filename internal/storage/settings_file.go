package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
)

// SettingsFile keeps the user settings as a small JSON object, usually next
// to the history file.
type SettingsFile struct {
	path   string
	logger *infra.Logger
}

func NewSettingsFile(path string, logger *infra.Logger) (*SettingsFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage: settings path is required")
	}
	return &SettingsFile{path: path, logger: infra.OrDiscard(logger)}, nil
}

func (f *SettingsFile) Path() string {
	return f.path
}

// Load returns the stored settings merged over defaults. Fields missing from
// the file, or holding values that cannot be used, keep their default.
func (f *SettingsFile) Load(ctx context.Context, defaults domain.Settings) (domain.Settings, error) {
	if err := ctx.Err(); err != nil {
		return defaults, &domain.PersistenceError{Op: "load settings", Err: err}
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return defaults, &domain.PersistenceError{Op: "load settings", Err: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return defaults, nil
	}

	merged := defaults
	if err := json.Unmarshal(data, &merged); err != nil {
		return defaults, &domain.PersistenceError{Op: "load settings", Err: fmt.Errorf("decode %s: %w", f.path, err)}
	}
	merged.APIURL = strings.TrimRight(strings.TrimSpace(merged.APIURL), "/")
	if !strings.HasPrefix(merged.APIURL, "http://") && !strings.HasPrefix(merged.APIURL, "https://") {
		f.logger.Warn().Str("api_url", merged.APIURL).Msg("storage: ignoring stored api url")
		merged.APIURL = defaults.APIURL
	}
	if merged.MaxHistory <= 0 {
		merged.MaxHistory = defaults.MaxHistory
	}
	return merged, nil
}

// Save replaces the stored settings.
func (f *SettingsFile) Save(ctx context.Context, settings domain.Settings) error {
	if err := ctx.Err(); err != nil {
		return &domain.PersistenceError{Op: "save settings", Err: err}
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return &domain.PersistenceError{Op: "save settings", Err: fmt.Errorf("encode: %w", err)}
	}
	if err := writeFileAtomic(f.path, data); err != nil {
		return &domain.PersistenceError{Op: "save settings", Err: err}
	}
	f.logger.Debug().Str("path", f.path).Msg("storage: settings written")
	return nil
}
