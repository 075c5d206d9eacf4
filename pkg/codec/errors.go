package codec

import (
	"errors"
	"fmt"
)

// Sentinel errors. Concrete failures wrap one of these and are usually
// delivered inside an [*Error].
var (
	ErrUnknownCodec          = errors.New("codec: unknown codec")
	ErrInvalidData           = errors.New("codec: invalid data")
	ErrInvalidConfiguration  = errors.New("codec: invalid configuration")
	ErrUnsupportedSampleRate = errors.New("codec: unsupported sample rate")
	ErrEncoding              = errors.New("codec: encoding failed")
	ErrDecoding              = errors.New("codec: decoding failed")
	ErrExternalCommand       = errors.New("codec: external command failed")
)

// Error records which codec operation failed.
type Error struct {
	Codec string // codec name
	Op    string // "encode", "decode", "new", ...
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Codec, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
