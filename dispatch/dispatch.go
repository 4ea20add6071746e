// Package dispatch implements Dispatch-mode execution: a request decoded
// on the connection's input goroutine is shipped over a bounded channel
// to a user-owned worker, and every reply — whether produced by a worker
// or synthesized in the input goroutine on dispatch failure — flows
// through a single per-connection output goroutine that owns the socket
// and the HPACK encoder.
package dispatch

import (
	"go.uber.org/zap"

	"github.com/pajamax-go/pajamax/connio"
	"github.com/pajamax-go/pajamax/grpcstatus"
	"github.com/pajamax-go/pajamax/message"
	"github.com/pajamax-go/pajamax/metrics"
)

// Request is a decoded request shipped from the input goroutine to a
// worker goroutine, generic over that service's request representation
// (typically a sum type over its methods, the way the Dict example
// models it).
type Request[Req any] struct {
	StreamID   uint32
	ReqDataLen int
	Req        Req

	// RespTx is this connection's shared response channel; workers send
	// their reply here rather than writing to the socket directly.
	RespTx chan<- Response
}

// Response is a completed reply (or error status) in transit from a
// worker, or from the input goroutine synthesizing a dispatch failure,
// to the output goroutine. Exactly one of Reply/Status is meaningful,
// selected by IsError.
type Response struct {
	StreamID   uint32
	ReqDataLen int

	IsError bool
	Reply   message.Encoder
	Status  grpcstatus.Status
}

// RequestTx is the send half of a worker's request channel.
type RequestTx[Req any] chan<- Request[Req]

// Send ships req to reqTx, packaging it with streamID/reqDataLen and the
// per-connection response channel. If the channel is full, a synthesized
// Unavailable status is sent directly on respTx instead; if the channel
// is closed (worker gone), Internal is synthesized. The request is never
// silently dropped. logger receives an Info line whenever a status is
// synthesized instead of reaching the worker; pass zap.NewNop() to
// silence it.
func Send[Req any](reqTx RequestTx[Req], respTx chan<- Response, req Req, streamID uint32, reqDataLen int, logger *zap.Logger) {
	disp := Request[Req]{
		StreamID:   streamID,
		ReqDataLen: reqDataLen,
		Req:        req,
		RespTx:     respTx,
	}

	sent, closed := trySend(reqTx, disp)
	if sent {
		return
	}
	if closed {
		SendClosed(respTx, streamID, reqDataLen, logger)
		return
	}

	metrics.DispatchOverflowTotal.Inc()
	logger.Info("dispatch channel full, synthesizing Unavailable", zap.Uint32("stream_id", streamID))
	respTx <- Response{
		StreamID:   streamID,
		ReqDataLen: reqDataLen,
		IsError:    true,
		Status:     grpcstatus.New(grpcstatus.Unavailable, "dispatch channel is full"),
	}
}

// trySend attempts a non-blocking send, reporting sent=false on a full
// channel. Go's channels have no try-send primitive that reports
// "closed" (mirroring mpsc::TrySendError::Disconnected); a send on a
// closed channel panics instead, so that panic is recovered here and
// reported as closed=true.
func trySend[Req any](reqTx RequestTx[Req], req Request[Req]) (sent, closed bool) {
	defer func() {
		if recover() != nil {
			sent, closed = false, true
		}
	}()
	select {
	case reqTx <- req:
		return true, false
	default:
		return false, false
	}
}

// SendClosed synthesizes Internal the way a disconnected mpsc sender
// would. Send calls it when the worker's channel is closed; a service's
// dispatch glue may also call it when it has already determined the
// target worker is gone (e.g. a closed-channel sentinel it tracks
// itself).
func SendClosed(respTx chan<- Response, streamID uint32, reqDataLen int, logger *zap.Logger) {
	logger.Info("dispatch worker gone, synthesizing Internal", zap.Uint32("stream_id", streamID))
	respTx <- Response{
		StreamID:   streamID,
		ReqDataLen: reqDataLen,
		IsError:    true,
		Status:     grpcstatus.New(grpcstatus.Internal, "dispatch channel is closed"),
	}
}

// OutputRoutine drains respRx, builds each response into rb, and flushes
// under the same policy the input goroutine uses in Local mode. It
// returns when respRx is closed (connection teardown).
//
// A response is built into rb the moment it arrives, but rb is only
// flushed once respRx has no further response immediately ready — the
// Dispatch-mode analogue of "flush at the end of a read burst" in Local
// mode. Without this, a connection whose traffic never crosses the
// flush policy's count/size threshold (most traffic) would sit buffered
// until the connection closes.
func OutputRoutine(rb *connio.ResponseBuffer, respRx <-chan Response, logger *zap.Logger) {
	for resp := range respRx {
		buildResponse(rb, resp, logger)

		for drained := false; !drained; {
			select {
			case resp, ok := <-respRx:
				if !ok {
					_ = rb.Flush(true)
					return
				}
				buildResponse(rb, resp, logger)
			default:
				drained = true
			}
		}

		_ = rb.Flush(true)
	}
	_ = rb.Flush(true)
}

func buildResponse(rb *connio.ResponseBuffer, resp Response, logger *zap.Logger) {
	if resp.IsError {
		rb.BuildStatus(resp.StreamID, resp.Status, resp.ReqDataLen)
		return
	}
	if err := rb.BuildResponse(resp.StreamID, resp.Reply, resp.ReqDataLen); err != nil {
		logger.Info("reply marshal failed, synthesizing Internal", zap.Uint32("stream_id", resp.StreamID), zap.Error(err))
		rb.BuildStatus(resp.StreamID, grpcstatus.New(grpcstatus.Internal, err.Error()), 0)
	}
}
