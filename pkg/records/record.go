package records

import (
	"net/netip"
	"strconv"
	"strings"
)

// Record is one of A, AAAA, CNAME, MX, TXT, NS or SOA.
// The set of variants is closed; callers switch on the concrete type.
type Record interface {
	// Type returns the variant tag
	Type() Type

	// Content returns the record data as written to the DNS server
	Content() string

	isRecord()
}

// A is an IPv4 address record
type A struct {
	Address netip.Addr
	raw     string
}

// AAAA is an IPv6 address record. Validation is lax: the literal only needs a colon.
type AAAA struct {
	Address string
}

// CNAME is a canonical name record
type CNAME struct {
	Target string
}

// MX is a mail exchange record
type MX struct {
	Priority int
	Exchange string
}

// TXT is a text record
type TXT struct {
	Text string
}

// NS is a name server record
type NS struct {
	Host string
}

// SOA is a start of authority record with free-form content
type SOA struct {
	Data string
}

func (A) Type() Type     { return TypeA }
func (AAAA) Type() Type  { return TypeAAAA }
func (CNAME) Type() Type { return TypeCNAME }
func (MX) Type() Type    { return TypeMX }
func (TXT) Type() Type   { return TypeTXT }
func (NS) Type() Type    { return TypeNS }
func (SOA) Type() Type   { return TypeSOA }

func (r A) Content() string {
	if r.raw != "" {
		return r.raw
	}
	return r.Address.String()
}
func (r AAAA) Content() string  { return r.Address }
func (r CNAME) Content() string { return r.Target }
func (r MX) Content() string    { return r.Exchange }
func (r TXT) Content() string   { return r.Text }
func (r NS) Content() string    { return r.Host }
func (r SOA) Content() string   { return r.Data }

func (A) isRecord()     {}
func (AAAA) isRecord()  {}
func (CNAME) isRecord() {}
func (MX) isRecord()    {}
func (TXT) isRecord()   {}
func (NS) isRecord()    {}
func (SOA) isRecord()   {}

// NewRecord builds the variant selected by t from an address string.
// A nil address is rejected for every variant. For MX records the priority may be
// embedded in the address ("10 mail.example.com"); otherwise priority is used.
func NewRecord(t Type, address *string, priority int) (Record, error) {
	if address == nil {
		return nil, &ValidationError{Type: t, Reason: "address cannot be null"}
	}
	addr := *address

	switch t {
	case TypeA:
		ip, err := netip.ParseAddr(addr)
		if err != nil || !ip.Is4() {
			return nil, &ValidationError{Type: t, Address: addr, Reason: "not a valid IPv4 address"}
		}
		return A{Address: ip, raw: addr}, nil

	case TypeAAAA:
		if !strings.Contains(addr, ":") {
			return nil, &ValidationError{Type: t, Address: addr, Reason: "IPv6 address is malformed"}
		}
		return AAAA{Address: addr}, nil

	case TypeMX:
		return newMX(addr, priority)

	case TypeCNAME:
		return CNAME{Target: addr}, nil

	case TypeTXT:
		return TXT{Text: addr}, nil

	case TypeNS:
		return NS{Host: addr}, nil

	case TypeSOA:
		return SOA{Data: addr}, nil
	}

	return nil, &ValidationError{Type: t, Address: addr, Reason: "unsupported record type"}
}

func newMX(addr string, priority int) (Record, error) {
	fields := strings.Fields(addr)

	switch len(fields) {
	case 1:
		return MX{Priority: priority, Exchange: fields[0]}, nil
	case 2:
		p, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, &ValidationError{Type: TypeMX, Address: addr, Reason: "priority is not an integer"}
		}
		return MX{Priority: p, Exchange: fields[1]}, nil
	case 0:
		return nil, &ValidationError{Type: TypeMX, Address: addr, Reason: "exchange cannot be empty"}
	}

	return nil, &ValidationError{Type: TypeMX, Address: addr, Reason: "too many fields in address"}
}
