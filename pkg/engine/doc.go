/*
Package engine implements the PowerDNS remote backend line protocol.

Each accepted connection is served by Engine.Serve, which reads one JSON request
per line and writes at most one reply line before reading the next. Requests on
a connection are processed strictly in order.

# Request handling

For every line:

  - calculateSOASerial and getDomainMetadata are answered {"result":false}
    without decoding, since their parameters do not fit the lookup shape.
  - A line that does not decode, or a request that is neither initialize nor a
    lookup carrying a qname, closes the connection without a reply.
  - initialize is answered {"result":true}.
  - SOA lookups get the configured SOA record; NS lookups get {"result":false}.
    Neither touches the cache or the record source.
  - Any other lookup is answered from the cache when the cached set is fresh,
    otherwise through the Resolver with the configured fetch deadline. An
    absent result is answered {"result":false}.

A cached set is stale when its fetch timestamp is older than the clock's now
minus the staleness window. A set read exactly at the window boundary is still
served. Stale sets are invalidated on read and refetched.

# Replies

Positive replies echo the requested qname in its original case and skip any
SOA record embedded in the set:

	{"result":[{"qname":"foo.bar.baz","qtype":"A","content":"1.1.1.1","ttl":100,"priority":0,"auth":1}]}

Priority is only non-zero for MX records.
*/
package engine
