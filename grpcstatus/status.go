// Package grpcstatus implements the canonical gRPC status codes and the
// Status value the connection engine's response builder emits as a
// trailing HEADERS frame.
package grpcstatus

import "strconv"

// Code is a canonical gRPC status code (0-16 are defined by the protocol;
// larger values are permitted but have no precomputed decimal form).
type Code uint32

const (
	OK                 Code = 0
	Canceled           Code = 1
	Unknown            Code = 2
	InvalidArgument    Code = 3
	DeadlineExceeded   Code = 4
	NotFound           Code = 5
	AlreadyExists      Code = 6
	PermissionDenied   Code = 7
	ResourceExhausted  Code = 8
	FailedPrecondition Code = 9
	Aborted            Code = 10
	OutOfRange         Code = 11
	Unimplemented      Code = 12
	Internal           Code = 13
	Unavailable        Code = 14
	DataLoss           Code = 15
	Unauthenticated    Code = 16
)

// decimalStrings holds the precomputed ASCII decimal encoding of codes
// 0-16, avoiding a strconv.Itoa call on the hot error path for known codes.
var decimalStrings = [...]string{
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10",
	"11", "12", "13", "14", "15", "16",
}

// Decimal returns the ASCII decimal encoding of code, using a precomputed
// table for the canonical codes 0-16 and formatting anything else.
func (c Code) Decimal() string {
	if int(c) < len(decimalStrings) {
		return decimalStrings[c]
	}
	return strconv.FormatUint(uint64(c), 10)
}

// Status is the gRPC response-completion signal. OK never flows through
// the error/status-frame path; a successful response is the ordinary
// HEADERS+DATA+HEADERS sequence with grpc-status: 0.
type Status struct {
	Code    Code
	Message string
}

func (s Status) Error() string {
	return "grpc status " + s.Code.Decimal() + ": " + s.Message
}

// New builds a Status with the given code and message.
func New(code Code, message string) Status {
	return Status{Code: code, Message: message}
}
