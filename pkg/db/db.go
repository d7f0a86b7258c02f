// Package db is the supervisor's Database Adapter. It owns the connection
// pool to the workflow catalog/run-provenance database and calls
// the stored procedures that are the only contract between the
// supervisor and the schema (spec §4.B). Every call is a single
// statement; there is no multi-statement transaction anywhere in this
// package, matching the autocommit, single-cursor style of the system
// this supervisor replaces.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/apsviz/workflow-supervisor/pkg/log"
	"github.com/apsviz/workflow-supervisor/pkg/metrics"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

var dbLog = log.WithComponent("db")

// ErrNoRows is returned by calls that found nothing to do, mirroring the
// original adapter's -1/empty sentinel without overloading a real result
// value to mean "nothing happened".
var ErrNoRows = errors.New("db: no rows")

// DB wraps the pool of connections to the workflow database and exposes
// only the stored-procedure calls the rest of the supervisor needs.
type DB struct {
	conn *sql.DB
}

// Open connects to dsn using the pgx stdlib driver and verifies the
// connection with a ping before returning.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// newForConn wraps an already-open *sql.DB, used by tests to inject a
// go-sqlmock connection.
func newForConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Reconnect opens a fresh connection to dsn, retrying with exponential
// backoff until it succeeds or maxElapsed has passed. The supervisor loop
// does not call it: a failed stored-procedure call there is logged and
// the same call is made again on the next tick.
func Reconnect(ctx context.Context, dsn string, maxElapsed time.Duration) (*DB, error) {
	operation := func() (*DB, error) {
		metrics.DBReconnectsTotal.Inc()
		conn, err := Open(ctx, dsn)
		if err != nil {
			dbLog.Warn().Err(err).Msg("reconnect attempt failed")
			return nil, err
		}
		return conn, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
}

// GetJobDefs calls the stored procedure that returns the full workflow
// job-definition catalog as a single JSON document (spec §4.C). The
// catalog package owns parsing it.
func (d *DB) GetJobDefs(ctx context.Context) ([]byte, error) {
	var raw []byte
	row := d.conn.QueryRowContext(ctx, `SELECT public.get_job_defs_json()`)
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("get_job_defs_json: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoRows
	}
	return raw, nil
}

// GetNewRuns calls the stored procedure that returns runs waiting to be
// picked up, as a JSON array (spec §4.B, §4.G). An empty result is
// returned as ErrNoRows: there is nothing new this tick.
func (d *DB) GetNewRuns(ctx context.Context) ([]byte, error) {
	var raw []byte
	row := d.conn.QueryRowContext(ctx, `SELECT public.get_supervisor_config_items_json()`)
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("get_supervisor_config_items_json: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoRows
	}
	return raw, nil
}

// GetFirstJob calls the stored procedure that resolves the first job
// type in a workflow's DAG for the given workflow type, used when a new
// run arrives without one bound already (spec §4.F).
func (d *DB) GetFirstJob(ctx context.Context, workflowType string) (types.JobType, error) {
	var jobType string
	row := d.conn.QueryRowContext(ctx, `SELECT public.get_first_job(CAST($1 AS TEXT))`, workflowType)
	if err := row.Scan(&jobType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoRows
		}
		return "", fmt.Errorf("get_first_job(%s): %w", workflowType, err)
	}
	if jobType == "" {
		return "", ErrNoRows
	}
	return types.JobType(jobType), nil
}

// maxProvenanceLen is the column width the original schema enforces on
// the provenance string (spec §3, §4.B).
const maxProvenanceLen = 1024

// UpdateProvenance calls the stored procedure that overwrites a run's
// status-provenance string. runID is split into its numeric/discriminator
// parts the same way the original adapter splits the run id string before
// the call (spec §4.B, §9). provenance is truncated to maxProvenanceLen
// before the call; the caller owns building the append-only text, this
// adapter only persists it.
func (d *DB) UpdateProvenance(ctx context.Context, runID types.RunID, provenance string) error {
	if len(provenance) > maxProvenanceLen {
		provenance = provenance[:maxProvenanceLen]
	}
	_, err := d.conn.ExecContext(ctx,
		`SELECT public.set_config_item(CAST($1 AS BIGINT), CAST($2 AS TEXT), 'supervisor_job_status', CAST($3 AS TEXT))`,
		runID.Numeric, runID.Discriminator(), provenance,
	)
	if err != nil {
		return fmt.Errorf("set_config_item(%s): %w", runID, err)
	}
	return nil
}
