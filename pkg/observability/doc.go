// Package observability provides structured logging, Prometheus metrics,
// and health checks for the gatelink service.
//
// Logging uses stdlib slog with a JSON handler, wrapped in a Logger that
// supports field chaining:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("external_id", id).Info("issued invite code")
//
// Metrics are registered on a dedicated Prometheus registry and exposed via
// Metrics.Handler(). HealthChecker serves liveness and readiness probes over
// the database and Redis dependencies.
package observability
