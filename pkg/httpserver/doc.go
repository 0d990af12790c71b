// Package httpserver runs an http.Handler with graceful shutdown.
//
// Server is configured with functional options or from a Config loaded from
// the environment. Run listens on the configured address and Serve uses a
// listener supplied by the caller; both block until the context is cancelled
// or Shutdown is called, then drain connections within the shutdown timeout.
// Signal handling is left to the caller, typically signal.NotifyContext in
// main.
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server failed", logger.Error(err))
//	}
//
// HealthCheckHandler builds liveness and readiness probe handlers.
//
// Errors wrap ErrStart or ErrShutdown.
package httpserver
