package engine

import (
	"bytes"
	"encoding/json"

	"github.com/cuemby/remotebackend/pkg/records"
)

const soaTTL = 3600

var (
	replyOK       = []byte("{\"result\":true}\n")
	replyNegative = []byte("{\"result\":false}\n")
)

type answer struct {
	Qname    string `json:"qname"`
	Qtype    string `json:"qtype"`
	Content  string `json:"content"`
	TTL      int64  `json:"ttl"`
	Priority int    `json:"priority"`
	Auth     int    `json:"auth"`
}

type soaAnswer struct {
	Qtype    string `json:"qtype"`
	Qname    string `json:"qname"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl"`
	Priority int    `json:"priority"`
	DomainID int    `json:"domain_id"`
}

type reply[T any] struct {
	Result []T `json:"result"`
}

// EncodeOK returns the initialize reply line
func EncodeOK() []byte {
	return replyOK
}

// EncodeNegative returns the reply line for an absent answer
func EncodeNegative() []byte {
	return replyNegative
}

// EncodePositive renders every non-SOA record of set as answers for qname.
// It returns nil when the set has nothing to answer with.
func EncodePositive(qname string, set *records.RecordSet) ([]byte, error) {
	answers := set.Answers()
	if len(answers) == 0 {
		return nil, nil
	}

	out := reply[answer]{Result: make([]answer, 0, len(answers))}
	for _, r := range answers {
		a := answer{
			Qname:   qname,
			Qtype:   r.Type().String(),
			Content: r.Content(),
			TTL:     set.TTL,
			Auth:    1,
		}
		if mx, ok := r.(records.MX); ok {
			a.Priority = mx.Priority
		}
		out.Result = append(out.Result, a)
	}
	return encodeLine(out)
}

// EncodeSOA renders the fixed SOA answer for qname
func EncodeSOA(qname, content string) ([]byte, error) {
	return encodeLine(reply[soaAnswer]{Result: []soaAnswer{{
		Qtype:    records.TypeSOA.String(),
		Qname:    qname,
		Content:  content,
		TTL:      soaTTL,
		DomainID: -1,
	}}})
}

// encodeLine marshals v as one newline-terminated line without HTML escaping
func encodeLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
