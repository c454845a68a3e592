package records

import (
	"github.com/miekg/dns"
)

// Type is the record type tag. Values match the DNS RR type codes.
type Type uint16

const (
	TypeA     = Type(dns.TypeA)
	TypeAAAA  = Type(dns.TypeAAAA)
	TypeCNAME = Type(dns.TypeCNAME)
	TypeMX    = Type(dns.TypeMX)
	TypeTXT   = Type(dns.TypeTXT)
	TypeNS    = Type(dns.TypeNS)
	TypeSOA   = Type(dns.TypeSOA)
)

var supported = map[Type]bool{
	TypeA:     true,
	TypeAAAA:  true,
	TypeCNAME: true,
	TypeMX:    true,
	TypeTXT:   true,
	TypeNS:    true,
	TypeSOA:   true,
}

// String returns the mnemonic used on the wire (e.g. "AAAA")
func (t Type) String() string {
	if s, ok := dns.TypeToString[uint16(t)]; ok {
		return s
	}
	return "TYPE_UNKNOWN"
}

// ParseType maps a wire mnemonic to one of the supported record types
func ParseType(s string) (Type, bool) {
	v, ok := dns.StringToType[s]
	if !ok {
		return 0, false
	}

	t := Type(v)
	return t, supported[t]
}

const (
	// DefaultTTL is the TTL in seconds used when the record source omits one
	DefaultTTL int64 = 300

	// DefaultSOAContent is served when a record set carries no SOA of its own
	DefaultSOAContent = "dns1.icann.org. hostmaster.icann.org. 2012080849 7200 3600 1209600 3600"
)
