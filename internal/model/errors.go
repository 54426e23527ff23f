package model

import "fmt"

// MalformedFieldError reports a present but undecodable JSON sub-field.
// Absence of a field is fine; garbage in a field means the upstream record
// is corrupt, so the record is rejected rather than silently degraded.
type MalformedFieldError struct {
	Field string
	Err   error
}

func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("model: malformed field %q: %v", e.Field, e.Err)
}

func (e *MalformedFieldError) Unwrap() error { return e.Err }

// RecordIntegrityError reports a record missing an identifying field.
// The caller decides whether to skip the record or abort the run.
type RecordIntegrityError struct {
	Field string
}

func (e *RecordIntegrityError) Error() string {
	return fmt.Sprintf("model: record missing identifying field %q", e.Field)
}
