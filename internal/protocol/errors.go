package protocol

import "errors"

var (
	ErrTruncated          = errors.New("protocol: truncated data")
	ErrShortRecord        = errors.New("protocol: record shorter than header")
	ErrBadChecksum        = errors.New("protocol: bad checksum")
	ErrUnknownFieldType   = errors.New("protocol: unknown field type")
	ErrUnterminatedString = errors.New("protocol: unterminated string")
	ErrInvalidSizes       = errors.New("protocol: invalid field sizes")
	ErrFieldTypeMismatch  = errors.New("protocol: field type mismatch")
)
