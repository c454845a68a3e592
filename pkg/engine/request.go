package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Methods understood by the engine
const (
	MethodInitialize = "initialize"
	MethodLookup     = "lookup"
)

// ErrProtocolViolation marks a request line that ends the connection
var ErrProtocolViolation = errors.New("protocol violation")

// unsupported lines carry parameter shapes the request decoder cannot take
var unsupported = [][]byte{
	[]byte(`"method":"calculateSOASerial"`),
	[]byte(`"method":"getDomainMetadata"`),
}

// Request is one decoded line from the DNS server
type Request struct {
	Method     string     `json:"method"`
	Parameters Parameters `json:"parameters"`
}

// Parameters holds the lookup fields the engine acts on. Other keys are ignored.
type Parameters struct {
	Qname *string `json:"qname"`
	Qtype *string `json:"qtype"`
}

// Qname returns the requested name as sent, or "" if absent
func (r *Request) Qname() string {
	if r.Parameters.Qname == nil {
		return ""
	}
	return *r.Parameters.Qname
}

// Qtype returns the requested type, or "" if absent
func (r *Request) Qtype() string {
	if r.Parameters.Qtype == nil {
		return ""
	}
	return *r.Parameters.Qtype
}

// IsUnsupported reports whether line asks for a method that is always answered negatively
func IsUnsupported(line []byte) bool {
	for _, m := range unsupported {
		if bytes.Contains(line, m) {
			return true
		}
	}
	return false
}

// ParseRequest decodes one request line
func ParseRequest(line []byte) (*Request, error) {
	// Decoding would swap invalid bytes for U+FFFD and break the qname echo
	if !utf8.Valid(line) {
		return nil, fmt.Errorf("%w: request is not valid UTF-8", ErrProtocolViolation)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("%w: decode request: %v", ErrProtocolViolation, err)
	}
	return &req, nil
}

// Validate accepts initialize, and lookup carrying a qname
func Validate(req *Request) error {
	switch req.Method {
	case MethodInitialize:
		return nil
	case MethodLookup:
		if req.Parameters.Qname == nil {
			return fmt.Errorf("%w: lookup without qname", ErrProtocolViolation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown method %q", ErrProtocolViolation, req.Method)
	}
}
