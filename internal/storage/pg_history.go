package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
	"modelgen/internal/sqlinline"
)

const DefaultProfile = "default"

// PGHistory stores the job history of one profile as a JSONB document.
type PGHistory struct {
	db      infra.SQLExecutor
	profile string
}

func NewPGHistory(db infra.SQLExecutor, profile string) *PGHistory {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = DefaultProfile
	}
	return &PGHistory{db: db, profile: profile}
}

// EnsureSchema creates the history table when it does not exist yet.
func (p *PGHistory) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, sqlinline.QEnsureJobHistory); err != nil {
		return &domain.PersistenceError{Op: "ensure schema", Err: err}
	}
	return nil
}

// Load returns the stored jobs. A profile without a row is an empty history.
func (p *PGHistory) Load(ctx context.Context) ([]domain.Job, error) {
	var raw []byte
	err := p.db.QueryRow(ctx, sqlinline.QSelectJobHistory, p.profile).Scan(&raw)
	if infra.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load", Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var jobs []domain.Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return nil, &domain.PersistenceError{Op: "load", Err: fmt.Errorf("decode profile %s: %w", p.profile, err)}
	}
	return jobs, nil
}

// Save replaces the stored document for the profile.
func (p *PGHistory) Save(ctx context.Context, jobs []domain.Job) error {
	if jobs == nil {
		jobs = []domain.Job{}
	}
	payload, err := json.Marshal(jobs)
	if err != nil {
		return &domain.PersistenceError{Op: "save", Err: fmt.Errorf("encode: %w", err)}
	}
	if _, err := p.db.Exec(ctx, sqlinline.QUpsertJobHistory, p.profile, string(payload)); err != nil {
		return &domain.PersistenceError{Op: "save", Err: err}
	}
	return nil
}
