// Package service defines the contract generated (or hand-written) glue
// code fulfills to plug a gRPC service into the connection engine: a
// pure routing function from wire path to a small method ordinal, and a
// handler that decodes a request body and produces a reply.
package service

import (
	"github.com/pajamax-go/pajamax/connio"
	"github.com/pajamax-go/pajamax/dispatch"
)

// Service routes `:path` bytes to a method ordinal and, in Local mode,
// handles the decoded request directly into the connection's response
// buffer. One Service value serves every connection concurrently — its
// Route and Handle must not mutate shared state without their own
// synchronization (the generated wrapper around a user's handler type is
// expected to be read-mostly or to own its own locks).
type Service interface {
	// Route examines a wire path of the form /<package>.<Service>/<Method>
	// and returns the method ordinal it identifies, or ok=false if this
	// service does not own that path. Pure function, no side effects.
	Route(path []byte) (methodOrdinal int, ok bool)

	// Handle decodes body as methodOrdinal's request type, invokes the
	// user's handler, and writes the resulting reply or gRPC status into
	// out. A non-nil return is connection-fatal (body failed to decode);
	// a handler-returned gRPC status is written into out via
	// out.BuildStatus and is not an error here.
	Handle(methodOrdinal int, body []byte, streamID uint32, dataLen int, out *connio.ResponseBuffer) error
}

// DispatchService is implemented by services whose methods may route to
// a worker goroutine instead of running on the connection's input
// goroutine (spec.md §4.9). HandleDispatch owns the full Dispatch-mode
// decision: decode the body, decide (internally) whether to ship the
// request to a worker channel or answer it locally, and in both cases
// ensure exactly one dispatch.Response reaches respTx.
type DispatchService interface {
	Service

	// HandleDispatch decodes body as methodOrdinal's request type and
	// either ships it to a worker channel (the request carries respTx
	// for the worker to reply on) or answers it immediately, sending the
	// reply on respTx itself. A non-nil return is connection-fatal.
	HandleDispatch(methodOrdinal int, body []byte, streamID uint32, dataLen int, respTx chan<- dispatch.Response) error
}
