// Package logger builds *slog.Logger instances for statechart services and
// binaries, and provides attribute helpers that keep key names consistent.
//
// New applies Option functions to choose the output format (text or json),
// the minimum level, static attributes and ContextExtractor callbacks. The
// resulting handler is wrapped in LogHandlerDecorator, which runs the
// extractors on every record so request-scoped values end up in the output.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "statechartd"),
//	    logger.WithLevelName(cfg.LogLevel),
//	)
//	log.Info("transition",
//	    logger.Machine(svc.ID()),
//	    logger.Transition("idle", "loading"),
//	    logger.EventType("FETCH"),
//	)
//
// Discard returns a logger that drops everything; the statechart engine uses
// it when no logger is configured.
//
// # Error Handling
//
// Error and Errors return an empty attribute for nil errors, so
//
//	log.Info("done", logger.Error(err))
//
// needs no nil check. WithFormat and WithLevelName panic on invalid input.
package logger
