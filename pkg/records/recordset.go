package records

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordSet is the answer for one hostname as served by the record source.
// A set is treated as immutable once it has been stamped and shared.
type RecordSet struct {
	// Records keeps the record source's order
	Records []Record

	// TTL in seconds
	TTL int64

	// Timestamp is when the set was fetched, in milliseconds since the epoch
	Timestamp int64
}

// NewRecordSet returns an empty set with the default TTL
func NewRecordSet() *RecordSet {
	return &RecordSet{TTL: DefaultTTL}
}

// Add appends r to the set
func (s *RecordSet) Add(r Record) *RecordSet {
	s.Records = append(s.Records, r)
	return s
}

// SOA returns the first embedded SOA record, or the default one
func (s *RecordSet) SOA() SOA {
	for _, r := range s.Records {
		if soa, ok := r.(SOA); ok {
			return soa
		}
	}
	return SOA{Data: DefaultSOAContent}
}

// Answers returns every record except SOA records, in order
func (s *RecordSet) Answers() []Record {
	out := make([]Record, 0, len(s.Records))
	for _, r := range s.Records {
		if r.Type() == TypeSOA {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Reset clears the records and restores the default TTL
func (s *RecordSet) Reset() {
	s.Records = nil
	s.TTL = DefaultTTL
}

type wireRecord struct {
	Type     *string `json:"type"`
	Address  *string `json:"address"`
	Priority *int    `json:"priority"`
}

type wireRecordSet struct {
	TTL     *int64       `json:"ttl"`
	Records []wireRecord `json:"records"`
}

// Decode parses a record source body. Unknown fields are ignored.
// The returned set is not stamped; the caller sets Timestamp.
func Decode(data []byte) (*RecordSet, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty body"}
	}

	var wire wireRecordSet
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}

	set := NewRecordSet()
	if wire.TTL != nil {
		set.TTL = *wire.TTL
	}

	for i, wr := range wire.Records {
		if wr.Type == nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("record %d has no type", i)}
		}

		t, ok := ParseType(*wr.Type)
		if !ok {
			return nil, &DecodeError{Reason: fmt.Sprintf("record %d has unknown type %q", i, *wr.Type)}
		}

		priority := 0
		if wr.Priority != nil && t == TypeMX {
			priority = *wr.Priority
		}

		r, err := NewRecord(t, wr.Address, priority)
		if err != nil {
			return nil, err
		}
		set.Add(r)
	}

	return set, nil
}
