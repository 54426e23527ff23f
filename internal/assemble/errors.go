package assemble

import "errors"

// ErrEmptyResult is returned when the filters match zero calls. It fires
// before any page or turn fetch is attempted.
var ErrEmptyResult = errors.New("assemble: no calls matched the given filters")

// ErrInvalidArguments is returned for caller input that can never succeed.
var ErrInvalidArguments = errors.New("assemble: invalid arguments")
