package wire

import "errors"

// ErrMalformedPacket indicates a buffer that cannot be decoded: a length
// prefix reading past the end of the buffer, a truncated varint or
// fixed-width field, or an unrecognized wire kind. The offending packet
// is dropped by callers; the connection it arrived on stays open.
var ErrMalformedPacket = errors.New("malformed media packet")
