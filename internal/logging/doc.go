// Package logging provides structured logging for autodev runs.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. Loggers are created by the command layer and
// injected into the scheduler and the context store; nothing in the module
// logs through a package-level global.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/store", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("run started", "units", 4)
//
// # Context Propagation
//
//	runLogger := logger.WithRun(runID)
//	unitLogger := runLogger.WithLevel(1).WithUnit("tests")
//	unitLogger.Warn("retrying", "attempt", 2)
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"retrying","run_id":"...","graph_level":1,"unit_id":"tests","attempt":2}
//
// # Log Rotation
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// Rotated files are named autodev.log.1, autodev.log.2, ..., where .1 is the
// most recent backup (autodev.log.1.gz when compressed).
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a
// bytes.Buffer to assert on entries.
package logging
