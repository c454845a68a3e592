package records

import "fmt"

// DecodeError reports a record source body that could not be mapped onto a record set
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode record set: %s: %v", e.Reason, e.Err)
	}
	return "decode record set: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError reports a record payload rejected by its variant
type ValidationError struct {
	Type    Type
	Address string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s record %q: %s", e.Type, e.Address, e.Reason)
}
