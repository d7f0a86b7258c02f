/*
Package log provides structured logging for the supervisor using zerolog.

It wraps zerolog to give every component a JSON- or console-formatted
logger with a consistent set of context fields (component, run_id,
job_type, workflow_type) rather than ad hoc string concatenation.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	runnerLog := log.WithComponent("supervisor")
	runnerLog.Info().Str("run_id", "7-a-b").Msg("run accepted")

	stepLog := log.WithJobType(log.WithRunID(log.WithComponent("run"), runID), string(jobType))
	stepLog.Error().Err(err).Msg("job create failed")

JSON output (production):

	{"level":"info","component":"supervisor","run_id":"7-a-b","time":"...","message":"run accepted"}

Console output (development):

	2026-10-31T10:30:00Z INF run accepted component=supervisor run_id=7-a-b

The package has no Fatal helper. Unrecoverable startup errors (missing
config file, undecodable JSON) are returned to cmd/supervisor, which
exits non-zero; per-run errors are recovered by the supervisor loop to a
terminal run state instead.
*/
package log
