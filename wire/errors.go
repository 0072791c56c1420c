package wire

import "errors"

// ErrShortMessage is returned when a message is too small to hold a DNS
// header.
var ErrShortMessage = errors.New("dns message shorter than header")

// ErrBadRcode is returned when a response's RCODE is non-zero.
var ErrBadRcode = errors.New("dns response rcode indicates failure")

// ErrLabelTooLong is returned by BuildQuery when a name label exceeds 63
// bytes.
var ErrLabelTooLong = errors.New("dns label exceeds 63 bytes")

// ErrBadPointer is returned by the name decoder when a compression pointer
// is truncated, points forward of itself, or exceeds the jump budget.
var ErrBadPointer = errors.New("dns name compression pointer out of range")

// ErrTruncated is returned when a record's declared length runs past the
// end of the message.
var ErrTruncated = errors.New("dns record runs past end of message")

// ErrNoMatch is returned when parsing succeeded but no record of the
// requested type was found in the answer section.
var ErrNoMatch = errors.New("no matching records in dns response")
