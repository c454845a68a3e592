/*
Package records defines the DNS record model shared by the record source
client, the cache and the protocol engine.

A Record is a closed sum type: A, AAAA, CNAME, MX, TXT, NS and SOA. Each variant
carries only the fields it needs and Content returns the text PowerDNS expects
in a reply. Type tags reuse the DNS RR type codes from miekg/dns, so
Type.String and ParseType speak the same mnemonics as the wire.

A RecordSet is what one record source answer decodes to:

	set, err := records.Decode(body)
	if err != nil {
		var derr *records.DecodeError
		...
	}

Decode rejects unknown record types and malformed JSON with a *DecodeError and
payloads that fail a variant's checks with a *ValidationError. Records keep the
source's order. TTL defaults to DefaultTTL when the source omits it, and
Timestamp is left for the caller to stamp with the clock reading of the fetch.
*/
package records
