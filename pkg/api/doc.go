/*
Package api serves the admin HTTP endpoints of remotebackend.

The admin server is optional and listens on its own address, apart from the
PowerDNS sockets:

	GET /health   liveness plus per-component health
	GET /ready    200 once the listener and the record source client are healthy
	GET /metrics  Prometheus exposition of the process registry

Every route is read-only; other methods are rejected with 405.
*/
package api
