/*
Package health probes the record source so readiness reflects whether it can
be reached.

A Monitor runs a Checker on a fixed interval and reports the outcome to a
metrics.HealthChecker under one component name. A single failed probe does
not flip the component: it turns unhealthy after Config.Retries consecutive
failures and healthy again after the first success.

	checker := health.NewTCPChecker("records.internal:8080")
	monitor := health.NewMonitor(checker, health.DefaultConfig(), hc, metrics.ComponentRemote)
	monitor.Start()
	defer monitor.Stop()

Probing is independent from request handling. Lookups never wait on it and a
component reported unhealthy does not short-circuit fetches.
*/
package health
