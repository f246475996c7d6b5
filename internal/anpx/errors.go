// Package anpx implements the ANPX binary tunnel protocol: a fixed 24-byte
// header followed by a TLV body, optionally split across chunked messages.
package anpx

import "fmt"

// ErrorCode classifies protocol-level failures so callers can branch with
// errors.As instead of matching error strings.
type ErrorCode int

const (
	ErrBadMagic ErrorCode = iota
	ErrUnsupportedVersion
	ErrHeaderCRC
	ErrBodyCRC
	ErrTruncatedHeader
	ErrTruncatedTLV
	ErrMissingField
	ErrDuplicateChunk
	ErrChunkMismatch
	ErrUnknownMessageType
)

func (c ErrorCode) String() string {
	switch c {
	case ErrBadMagic:
		return "bad magic"
	case ErrUnsupportedVersion:
		return "unsupported version"
	case ErrHeaderCRC:
		return "header crc mismatch"
	case ErrBodyCRC:
		return "body crc mismatch"
	case ErrTruncatedHeader:
		return "truncated header"
	case ErrTruncatedTLV:
		return "truncated tlv field"
	case ErrMissingField:
		return "missing required field"
	case ErrDuplicateChunk:
		return "duplicate chunk index"
	case ErrChunkMismatch:
		return "chunk index sequence mismatch"
	case ErrUnknownMessageType:
		return "unknown message type"
	default:
		return "unknown protocol error"
	}
}

// ProtocolError is returned for every ANPX encode/decode/chunking failure.
type ProtocolError struct {
	Code    ErrorCode
	Detail  string
	wrapped error
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "anpx: " + e.Code.String()
	}
	return fmt.Sprintf("anpx: %s: %s", e.Code, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.wrapped }

// NewProtocolError builds a ProtocolError for callers outside the package;
// the gateway pump uses it to flag malformed chunk envelopes
// that only become visible above the codec layer.
func NewProtocolError(code ErrorCode, detail string) *ProtocolError {
	return &ProtocolError{Code: code, Detail: detail}
}

func newErr(code ErrorCode, detail string) error {
	return &ProtocolError{Code: code, Detail: detail}
}

func wrapErr(code ErrorCode, detail string, err error) error {
	return &ProtocolError{Code: code, Detail: detail, wrapped: err}
}
