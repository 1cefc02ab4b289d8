// Package health exposes resilience state as health checks for operational
// dashboards and readiness probes.
//
// CircuitChecker reports degraded when any circuit is recovering (half-open)
// and unhealthy when any circuit is open:
//
//	checker := health.NewCircuitChecker("tools", executor.Breaker())
//	result := checker.Check(ctx)
//	if result.Status != health.StatusHealthy {
//	    log.Printf("%s: %s", checker.Name(), result.Message)
//	}
package health
