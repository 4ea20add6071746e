// Package connerr defines the connection-fatal error taxonomy shared by
// the frame, hpack, and conn packages. A connection-fatal error unwinds
// the connection's owning goroutine, which closes the socket; it is
// distinct from a request-level gRPC status, which never touches this
// type.
package connerr

import "fmt"

// Kind classifies a connection-fatal error so callers can log or test
// without string matching.
type Kind string

const (
	KindInvalidHTTP2     Kind = "invalid_http2"
	KindInvalidHPACK     Kind = "invalid_hpack"
	KindInvalidHuffman   Kind = "invalid_huffman"
	KindInvalidProtobuf  Kind = "invalid_protobuf"
	KindIOFail           Kind = "io_fail"
	KindChannelClosed    Kind = "channel_closed"
	KindUnknownMethod    Kind = "unknown_method"
	KindNoPathSet        Kind = "no_path_set"
)

// Error is a connection-fatal error: one of these unwinds the connection.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error around an underlying cause (I/O failures, protobuf
// decode failures).
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// InvalidHTTP2 reports a malformed-HTTP/2 condition (bad preface, missing
// END_HEADERS, frame too long, padded/priority underflow).
func InvalidHTTP2(message string) *Error { return New(KindInvalidHTTP2, message) }

// InvalidHPACK reports a malformed HPACK representation, integer, or
// string literal.
func InvalidHPACK(message string) *Error { return New(KindInvalidHPACK, message) }

// InvalidHuffman reports a Huffman decode rejection.
func InvalidHuffman() *Error { return New(KindInvalidHuffman, "invalid huffman code") }

// UnknownMethod reports a `:path` that no configured service accepted.
func UnknownMethod(path string) *Error {
	return New(KindUnknownMethod, "unknown method: "+path)
}

// NoPathSet reports a HEADERS block that never carried a `:path`.
func NoPathSet() *Error { return New(KindNoPathSet, "no :path set") }

// ChannelClosed reports a dispatch worker channel whose receiver is gone.
func ChannelClosed() *Error { return New(KindChannelClosed, "channel closed") }
