package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/runner"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/workload"
)

const schema = `
CREATE TABLE IF NOT EXISTS gcperfsim_runs (
	id                       TEXT PRIMARY KEY,
	started_at               TIMESTAMPTZ NOT NULL,
	seconds                  DOUBLE PRECISION NOT NULL,
	ordinary_bytes           BIGINT NOT NULL,
	large_bytes              BIGINT NOT NULL,
	pinned_bytes             BIGINT NOT NULL,
	collections              BIGINT NOT NULL,
	created_with_finalizers  BIGINT NOT NULL,
	finalized                BIGINT NOT NULL,
	interrupted              BOOLEAN NOT NULL,
	config                   JSONB NOT NULL
)`

// DBConfig holds database configuration.
type DBConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultDBConfig returns default database configuration for url.
func DefaultDBConfig(url string) *DBConfig {
	return &DBConfig{
		URL:             url,
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// History appends finished runs to the gcperfsim_runs table.
type History struct {
	db *sql.DB
}

// OpenHistory connects to Postgres and creates the table if needed.
func OpenHistory(ctx context.Context, cfg *DBConfig) (*History, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create gcperfsim_runs")
	}

	slog.Info("Connected to run history database", "url", maskConnectionString(cfg.URL))
	return &History{db: db}, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// Record inserts one row for res.
func (h *History) Record(ctx context.Context, res *runner.Result, cfg *workload.Config) error {
	args, err := recordArgs(res, cfg)
	if err != nil {
		return err
	}
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO gcperfsim_runs (
			id, started_at, seconds, ordinary_bytes, large_bytes, pinned_bytes,
			collections, created_with_finalizers, finalized, interrupted, config
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, args...)
	if err != nil {
		return errors.Wrapf(err, "record run %s", res.RunID)
	}
	return nil
}

// Run is one row of the history table.
type Run struct {
	ID          string          `json:"id"`
	StartedAt   time.Time       `json:"startedAt"`
	Seconds     float64         `json:"seconds"`
	Ordinary    int64           `json:"ordinaryBytes"`
	Large       int64           `json:"largeBytes"`
	Pinned      int64           `json:"pinnedBytes"`
	Interrupted bool            `json:"interrupted"`
	Config      json.RawMessage `json:"config"`
}

// Recent returns up to limit runs, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, started_at, seconds, ordinary_bytes, large_bytes, pinned_bytes, interrupted, config
		FROM gcperfsim_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()
	return scanRuns(rows)
}

// rowScanner is the part of *sql.Rows that scanRuns reads.
type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanRuns(rows rowScanner) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var config []byte
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.Seconds, &r.Ordinary, &r.Large, &r.Pinned, &r.Interrupted, &config); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.Config = config
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate runs")
	}
	return runs, nil
}

// WriteRuns prints runs as a fixed-column table.
func WriteRuns(w io.Writer, runs []Run) error {
	if _, err := fmt.Fprintf(w, "%-36s | %-20s | %9s | %14s | %14s | %14s | %s\n",
		"id", "started", "seconds", "soh bytes", "loh bytes", "poh bytes", "interrupted"); err != nil {
		return err
	}
	for _, r := range runs {
		if _, err := fmt.Fprintf(w, "%-36s | %-20s | %9.2f | %14d | %14d | %14d | %t\n",
			r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.Seconds, r.Ordinary, r.Large, r.Pinned, r.Interrupted); err != nil {
			return err
		}
	}
	return nil
}

func recordArgs(res *runner.Result, cfg *workload.Config) ([]interface{}, error) {
	config, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	return []interface{}{
		res.RunID,
		res.StartedAt,
		res.Seconds,
		int64(res.Regions.Ordinary),
		int64(res.Regions.Large),
		int64(res.Regions.Pinned),
		int64(res.CollectionCount),
		res.CreatedWithFinalizers,
		res.Finalized,
		res.Interrupted,
		string(config),
	}, nil
}

// maskConnectionString hides the credentials of a connection URL for logging.
func maskConnectionString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword("***", "***")
	}
	u.RawQuery = ""
	return u.String()
}
