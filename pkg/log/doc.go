// Package log provides structured logging for claimq components.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no package-level default. Records flow through a Formatter and
// one or more Outputs, and a log/slog bridge lets third-party code that
// speaks slog (or the standard library logger, via RedirectStdLog) share
// the same pipeline.
//
//	logger := log.NewLogger(log.WithLevel(log.InfoLevel))
//	logger = logger.With(log.F("component", "queue"))
//	logger.Info("claimed entry", log.F("id", 7), log.F("agent", "a1"))
package log
