// Package logging provides structured logging for krenk runs.
//
// Logs are JSON lines written through log/slog into the run's state
// directory (.krenk/debug.log by default). Child loggers carry the run ID,
// the worker role, and the pipeline stage so a single file can be filtered
// per worker after the fact:
//
//	logger, err := logging.New(stateDir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLog := logger.WithRun(runID)
//	runLog.WithStage("coding").WithRole("builder").Info("worker spawned", "pid", pid)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"worker spawned","run_id":"...","stage":"coding","role":"builder","pid":4242}
//
// The file rotates by size (see [RotationConfig]); rotated files are named
// debug.log.1 ... debug.log.N, optionally gzip compressed.
//
// Use [NopLogger] in tests.
package logging
