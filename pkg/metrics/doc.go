// Package metrics exposes the supervisor's Prometheus metrics: active run
// count, job create/delete totals, DB reconnects, and tick cadence. All
// metrics are registered once at package init and served by
// promhttp.Handler on the debug listener started in cmd/supervisor.
package metrics
