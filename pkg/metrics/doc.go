/*
Package metrics provides the counter/timer sink and health reporting for remotebackend.

Every component reports through the Recorder interface using dotted event names.
The Prometheus implementation folds those names into two vectors on a private
registry so the process can run several recorders (for example in tests)
without colliding on the default registry:

	remotebackend_events_total{event="engine.replies.negative"}
	remotebackend_duration_seconds{operation="dispatcher.wait"}

Gauges for cache size, in-flight fetches and open connections are sampled by a
Collector on a fixed interval.

# Event names

Engine:

  - engine.requests.total, engine.requests.unsupported_method
  - engine.requests.invalid, engine.requests.valid, engine.requests.<method>
  - engine.qtype.<type> for the known record types and ANY, engine.qtype.other otherwise
  - engine.cache.lookups, engine.cache.hits, engine.cache.misses
  - engine.cache.expirations, engine.cache.inserts, engine.cache.served
  - engine.replies.positive, engine.replies.negative, engine.replies.ok
  - engine.exceptions.protocol, engine.exceptions.io

Dispatcher:

  - dispatcher.submitted, dispatcher.completed, dispatcher.absent
  - dispatcher.timeouts, dispatcher.saturated, dispatcher.stopped

Server:

  - server.connections.accepted, server.connections.failed
  - server.connections.<transport>

Cache:

  - cache.evictions

Record source client:

  - remote.calls, remote.status.<code>, remote.valid_responses
  - remote.absent.<reason>, remote.retries

Admin server:

  - api.health, api.ready, api.metrics, api.other

Timers: engine.request, dispatcher.wait, remote.fetch, api.<route>.

# Health

HealthChecker tracks per-component health. Readiness requires every critical
component (the listener and the record source client) to be registered and
healthy. The api package mounts the handlers next to /metrics.
*/
package metrics
