package segment

import "fmt"

// UnknownFieldError is returned when a rule references a field outside
// the donor attribute allow-list.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown segment field %q", e.Field)
}

// UnsupportedOperatorError is returned when a rule uses an operator the
// compiler does not implement, or one that does not apply to the field's
// type.
type UnsupportedOperatorError struct {
	Operator Operator
	Field    string
}

func (e *UnsupportedOperatorError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("unsupported operator %q for field %q", e.Operator, e.Field)
	}
	return fmt.Sprintf("unsupported operator %q", e.Operator)
}

// MalformedValueError is returned when a rule's value does not have the
// shape its operator requires, e.g. between without an ordered pair.
type MalformedValueError struct {
	Field  string
	Reason string
}

func (e *MalformedValueError) Error() string {
	return fmt.Sprintf("malformed value for field %q: %s", e.Field, e.Reason)
}
