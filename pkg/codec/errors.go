package codec

import "errors"

// Sentinel errors
var (
	ErrDecode        = errors.New("envelope decode failed")
	ErrUnknownFormat = errors.New("unknown envelope format")
)

// DecodeError reports why an envelope could not be decoded.
type DecodeError struct {
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	return "decode " + string(e.Format) + " envelope: " + e.Err.Error()
}

// Unwrap exposes both ErrDecode and the underlying cause to errors.Is and
// errors.As.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
