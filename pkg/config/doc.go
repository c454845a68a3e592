/*
Package config loads the remotebackend YAML configuration.

Keys are snake_case and every one is optional; Default supplies the stock
values and Load overlays a file on top of them:

	rest_server_hostname: records.internal
	rest_server_port: 8080
	rest_username: foo
	rest_password: bar
	rest_fetch_timeout: 1000     # milliseconds
	max_rest_client_threads: 40
	max_items_in_cache: 10000    # 0 disables the cache
	cache_timeout: 300           # seconds
	listen_addr: 127.0.0.1:5300
	unix_socket_path: /run/pdns/remote.sock

Validate checks ranges and parses soa_content as an SOA record with miekg/dns.
Millisecond and second values are exposed as time.Duration through
FetchTimeout, StalenessWindow and UnixReadTimeout.
*/
package config
