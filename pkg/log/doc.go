/*
Package log provides structured logging for remotebackend using zerolog.

A single package-level zerolog.Logger is configured once by Init and shared by
every component. Components derive child loggers that carry their own context
fields so log lines can be filtered per component or per connection.

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stderr,
	})

	dispatchLog := log.WithComponent("dispatcher")
	dispatchLog.Debug().Str("hostname", host).Msg("fetch submitted")

	connLog := log.WithConn(connID, "tcp")
	connLog.Warn().Str("line", line).Msg("protocol violation, closing connection")

# Fields

  - component: engine, dispatcher, remote, cache, server, api
  - conn_id: uuid assigned to every accepted DNS server connection
  - transport: tcp or unix
  - hostname: the name being resolved

Request lines are logged at debug level only. Protocol violations log at warn
because the DNS server is not expected to send them.
*/
package log
