package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated        = errors.New("truncated")
	ErrBadMarker        = errors.New("bad marker")
	ErrBadLength        = errors.New("bad length")
	ErrMalformed        = errors.New("malformed")
	ErrUnknownType      = errors.New("unknown message type")
	ErrUnknownAttribute = errors.New("unknown path attribute type")
	ErrNotImplemented   = errors.New("not implemented")
)

// DecodeError reports malformed or truncated wire data. Field names the part
// of the message that could not be read.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(field string, err error) error {
	return &DecodeError{Field: field, Err: err}
}

// UnsupportedError is returned for well-formed input that uses a protocol
// feature this codec does not implement.
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Feature, ErrNotImplemented)
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrNotImplemented
}

func IsDecodeFault(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

func IsUnsupported(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}
