package infra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor is what the postgres history store needs from a database.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var errUnmarkedQuery = errors.New("sql marker missing or invalid")

type markedQuery struct {
	marker string
	body   string
}

// SQLRunner executes marker-tagged queries and logs each call by marker, never
// by statement text. *pgxpool.Pool satisfies the wrapped executor.
type SQLRunner struct {
	db     SQLExecutor
	logger zerolog.Logger
	parsed sync.Map // query text -> markedQuery
}

func NewSQLRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{db: db, logger: logger}
}

// IsNoRows reports whether err signals an empty result set.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// prepare strips the marker line. Queries are package constants, so each one
// is parsed once.
func (r *SQLRunner) prepare(query string) (markedQuery, error) {
	if q, ok := r.parsed.Load(query); ok {
		return q.(markedQuery), nil
	}
	marker, body, err := extractMarker(query)
	if err != nil {
		return markedQuery{}, err
	}
	q := markedQuery{marker: marker, body: body}
	r.parsed.Store(query, q)
	return q, nil
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	q, err := r.prepare(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.db.Exec(ctx, q.body, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("sql", q.marker).Msg("sql exec failed")
		return tag, fmt.Errorf("sql %s: %w", q.marker, err)
	}
	r.logger.Debug().Str("sql", q.marker).Int64("rows", tag.RowsAffected()).Dur("took", time.Since(start)).Msg("sql exec")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	q, err := r.prepare(query)
	if err != nil {
		return errorRow{err: err}
	}
	return &loggingRow{
		row:    r.db.QueryRow(ctx, q.body, args...),
		logger: r.logger,
		marker: q.marker,
		start:  time.Now(),
	}
}

type loggingRow struct {
	row    pgx.Row
	logger zerolog.Logger
	marker string
	start  time.Time
}

func (l *loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	switch {
	case err == nil:
		l.logger.Debug().Str("sql", l.marker).Dur("took", time.Since(l.start)).Msg("sql query_row")
	case IsNoRows(err):
		l.logger.Debug().Str("sql", l.marker).Msg("sql query_row: no rows")
	default:
		l.logger.Error().Err(err).Str("sql", l.marker).Msg("sql scan failed")
	}
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	markerLine, body, _ := strings.Cut(trimmed, "\n")
	markerLine = strings.TrimSpace(markerLine)
	if !markerRegexp.MatchString(markerLine) {
		return "", "", errUnmarkedQuery
	}
	return strings.TrimPrefix(markerLine, "--sql "), body, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
