// Package connio implements the per-connection write side: the response
// buffer that accumulates HEADERS/DATA frames across a read burst, the
// response builder that composes them, and the flush policy that decides
// when to push accumulated bytes to the socket.
package connio

import (
	"encoding/binary"
	"io"

	"github.com/valyala/bytebufferpool"

	"github.com/pajamax-go/pajamax/frame"
	"github.com/pajamax-go/pajamax/grpcstatus"
	"github.com/pajamax-go/pajamax/hpack"
	"github.com/pajamax-go/pajamax/message"
	"github.com/pajamax-go/pajamax/metrics"
)

// FlushPolicy bounds how much the response buffer accumulates before a
// write is forced, matching spec defaults (50 requests / 15 KB).
type FlushPolicy struct {
	MaxFlushRequests int
	MaxFlushSize     int
}

// DefaultFlushPolicy is the framework's documented default.
var DefaultFlushPolicy = FlushPolicy{MaxFlushRequests: 50, MaxFlushSize: 15000}

// ResponseBuffer accumulates response bytes produced during a read burst
// and writes them to w on flush, prepending exactly one connection-level
// WINDOW_UPDATE. Not safe for concurrent use; in Dispatch mode exactly
// one goroutine (the output routine) owns a ResponseBuffer.
type ResponseBuffer struct {
	w       io.Writer
	encoder *hpack.Encoder
	policy  FlushPolicy

	bb *bytebufferpool.ByteBuffer

	reqCount   int
	reqDataLen int
}

// New returns a ResponseBuffer that writes flushed bytes to w using the
// given flush policy, backed by a pooled byte buffer.
func New(w io.Writer, policy FlushPolicy) *ResponseBuffer {
	return &ResponseBuffer{
		w:       w,
		encoder: hpack.NewEncoder(),
		policy:  policy,
		bb:      bytebufferpool.Get(),
	}
}

// Release returns the pooled backing buffer; call when the connection
// closes.
func (r *ResponseBuffer) Release() {
	bytebufferpool.Put(r.bb)
	r.bb = nil
}

// BuildResponse appends a successful reply's HEADERS+DATA+HEADERS
// sequence (spec.md §4.5) for the given stream, accounting reqDataLen
// against the DATA payload length that produced this response.
func (r *ResponseBuffer) BuildResponse(streamID uint32, reply message.Encoder, reqDataLen int) error {
	r.reqDataLen += reqDataLen
	r.reqCount++

	buf := r.bb.B

	// HEADERS: :status 200, content-type
	start := len(buf)
	buf = append(buf, make([]byte, frame.HeadSize)...)
	buf = r.encoder.EncodeStatus200(buf)
	buf = r.encoder.EncodeContentType(buf)
	frame.PatchHead(buf, start, frame.KindHeaders, frame.FlagEndHeaders, streamID)

	// DATA: 5-byte gRPC prefix + encoded message
	dataStart := len(buf)
	payloadStart := dataStart + frame.HeadSize
	msgStart := payloadStart + 5
	buf = append(buf, make([]byte, msgStart-len(buf))...)

	var err error
	buf, err = reply.MarshalAppend(buf)
	if err != nil {
		r.bb.B = buf
		return err
	}

	msgLen := len(buf) - msgStart
	frame.PatchHead(buf, dataStart, frame.KindData, 0, streamID)
	binary.BigEndian.PutUint32(buf[payloadStart+1:payloadStart+5], uint32(msgLen))

	// trailing HEADERS: grpc-status 0
	start = len(buf)
	buf = append(buf, make([]byte, frame.HeadSize)...)
	buf = r.encoder.EncodeGrpcStatusZero(buf)
	frame.PatchHead(buf, start, frame.KindHeaders, frame.FlagEndHeaders|frame.FlagEndStream, streamID)

	r.bb.B = buf
	return nil
}

// BuildStatus appends a single HEADERS frame (END_HEADERS|END_STREAM)
// carrying the gRPC error status, per spec.md §4.5.
func (r *ResponseBuffer) BuildStatus(streamID uint32, status grpcstatus.Status, reqDataLen int) {
	r.reqDataLen += reqDataLen
	r.reqCount++

	buf := r.bb.B
	start := len(buf)
	buf = append(buf, make([]byte, frame.HeadSize)...)
	buf = r.encoder.EncodeStatus200(buf)
	buf = r.encoder.EncodeContentType(buf)
	buf = r.encoder.EncodeGrpcStatusNonzero(buf, uint32(status.Code))
	buf = r.encoder.EncodeGrpcMessage(buf, status.Message)
	frame.PatchHead(buf, start, frame.KindHeaders, frame.FlagEndHeaders|frame.FlagEndStream, streamID)

	r.bb.B = buf
}

// ShouldFlush reports whether either accumulation threshold has been
// crossed.
func (r *ResponseBuffer) ShouldFlush() bool {
	return r.reqCount >= r.policy.MaxFlushRequests || len(r.bb.B) >= r.policy.MaxFlushSize
}

// Flush writes accumulated bytes to the socket, prepending a
// WINDOW_UPDATE for reqDataLen bytes of connection-level credit. If
// force is false, flush is skipped unless a threshold is crossed; if
// force is true, flush is skipped only when nothing is buffered (the
// "soft" end-of-burst flush, spec.md §4.7).
func (r *ResponseBuffer) Flush(force bool) error {
	if len(r.bb.B) == 0 {
		return nil
	}
	crossedThreshold := r.ShouldFlush()
	if !force && !crossedThreshold {
		return nil
	}

	out := frame.BuildWindowUpdate(nil, uint32(r.reqDataLen))
	out = append(out, r.bb.B...)

	if _, err := r.w.Write(out); err != nil {
		return err
	}

	reason := "end_of_burst"
	if crossedThreshold {
		reason = "threshold"
	}
	metrics.FlushesTotal.WithLabelValues(reason).Inc()
	metrics.FlushedBytes.Observe(float64(len(out)))

	r.bb.Reset()
	r.reqCount = 0
	r.reqDataLen = 0
	return nil
}
