// Package conn implements the per-connection protocol engine: the read
// loop that drives one accepted TCP connection from handshake to close,
// the route cache that turns an HPACK-resolved `:path` into a method
// call in O(1), and the StreamSlot bookkeeping that matches a HEADERS
// frame to its following DATA frame.
package conn

import (
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/pajamax-go/pajamax/connerr"
	"github.com/pajamax-go/pajamax/connio"
	"github.com/pajamax-go/pajamax/dispatch"
	"github.com/pajamax-go/pajamax/frame"
	"github.com/pajamax-go/pajamax/hpack"
	"github.com/pajamax-go/pajamax/service"
)

// Options configures one connection's protocol engine. Defaults mirror
// spec.md §6.
type Options struct {
	MaxFrameSize     int
	MaxConcurrentStreams int
	FlushPolicy      connio.FlushPolicy
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration
	Logger           *zap.Logger
}

// DefaultOptions returns the framework's documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxFrameSize:         16 * 1024,
		MaxConcurrentStreams: 1000,
		FlushPolicy:          connio.DefaultFlushPolicy,
		IdleTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		Logger:               zap.NewNop(),
	}
}

// routeCacheEntry is a resolved (service, method) pair, appended once per
// distinct cache index the HPACK decoder mints.
type routeCacheEntry struct {
	serviceIndex  int
	methodOrdinal int
}

// streamSlot is a pending request awaiting its DATA frame. Slots form a
// short FIFO per spec.md §5: matched by stream_id but scanned linearly,
// so DATA frames may arrive out of order across distinct streams within
// one read burst. The reference implementation this is grounded on
// instead tracks a single `last_in_header` slot (DATA must immediately
// follow its HEADERS); spec.md's FIFO description is authoritative here
// and is what this type implements.
type streamSlot struct {
	streamID      uint32
	serviceIndex  int
	methodOrdinal int
}

// Engine drives one accepted connection. Construct with New and call Run
// on a dedicated goroutine.
type Engine struct {
	conn     net.Conn
	opts     Options
	services []service.Service

	input    []byte
	decoder  *hpack.Decoder
	out      *connio.ResponseBuffer

	routeCache []routeCacheEntry
	slots      []streamSlot
}

// New builds an Engine for an already-accepted connection. services are
// consulted in order for newly seen paths; the first to accept a path
// via Route owns every subsequent request on that path for the life of
// the connection.
func New(c net.Conn, services []service.Service, opts Options) *Engine {
	return &Engine{
		conn:     c,
		opts:     opts,
		services: services,
		input:    make([]byte, opts.MaxFrameSize),
		decoder:  hpack.NewDecoder(),
		out:      connio.New(c, opts.FlushPolicy),
	}
}

// Run performs the handshake and then drives read bursts until the
// connection closes or a connection-fatal error occurs. It always
// releases the response buffer's pooled backing array before returning.
func (e *Engine) Run() error {
	defer e.out.Release()

	if err := e.handshake(); err != nil {
		return e.fatal(err)
	}

	lastEnd := 0
	for {
		if e.opts.IdleTimeout > 0 {
			_ = e.conn.SetReadDeadline(time.Now().Add(e.opts.IdleTimeout))
		}
		n, err := e.conn.Read(e.input[lastEnd:])
		if n == 0 {
			if err == io.EOF || err == nil {
				return nil
			}
			return e.fatal(err)
		}

		end := lastEnd + n
		pos, err := e.processBurst(end)
		if err != nil {
			return e.fatal(err)
		}

		if e.opts.WriteTimeout > 0 {
			_ = e.conn.SetWriteDeadline(time.Now().Add(e.opts.WriteTimeout))
		}
		if err := e.out.Flush(true); err != nil {
			return e.fatal(err)
		}

		if pos == 0 && end == len(e.input) {
			return e.fatal(connerr.InvalidHTTP2("too long frame"))
		}
		if pos < end {
			copy(e.input, e.input[pos:end])
			lastEnd = end - pos
		} else {
			lastEnd = 0
		}
	}
}

// fatal logs a connection-fatal error at Warn before it unwinds back to
// the caller (server.go logs the same error again at the listener level,
// once per connection, rather than per occurrence here).
func (e *Engine) fatal(err error) error {
	e.opts.Logger.Warn("connection-fatal error", zap.Error(err))
	return err
}

func (e *Engine) handshake() error {
	preface := make([]byte, len(frame.Preface))
	if _, err := io.ReadFull(e.conn, preface); err != nil {
		return connerr.InvalidHTTP2("short handshake")
	}
	if string(preface) != frame.Preface {
		return connerr.InvalidHTTP2("invalid handshake message")
	}

	settings := frame.BuildSettings(nil, frame.SettingsMaxConcurrentStreams, uint32(e.opts.MaxConcurrentStreams))
	settings = frame.BuildSettings(settings, frame.SettingsMaxFrameSize, uint32(e.opts.MaxFrameSize))
	_, err := e.conn.Write(settings)
	return err
}

// processBurst parses every complete frame in input[0:end] and returns
// the position past the last parsed frame.
func (e *Engine) processBurst(end int) (int, error) {
	pos := 0
	for {
		f, ok := frame.Parse(e.input[pos:end])
		if !ok {
			break
		}
		consumed := frame.HeadSize + f.Len

		switch f.Kind {
		case frame.KindHeaders:
			if err := e.handleHeaders(f); err != nil {
				return 0, err
			}
		case frame.KindData:
			if err := e.handleData(f); err != nil {
				return 0, err
			}
		default:
			// SETTINGS, PING, WINDOW_UPDATE, PRIORITY, RST_STREAM and
			// anything else are accepted and ignored.
		}

		pos += consumed
	}
	return pos, nil
}

func (e *Engine) handleHeaders(f frame.Frame) error {
	headerBuf, err := f.ProcessHeaders()
	if err != nil {
		return err
	}

	path, err := e.decoder.FindPath(headerBuf)
	if err != nil {
		return err
	}

	var entry routeCacheEntry
	if path.IsCached {
		if path.CacheIndex < 0 || path.CacheIndex >= len(e.routeCache) {
			return connerr.InvalidHPACK("cache index out of range")
		}
		entry = e.routeCache[path.CacheIndex]
	} else {
		resolved := false
		for i, svc := range e.services {
			if ordinal, ok := svc.Route(path.Path); ok {
				entry = routeCacheEntry{serviceIndex: i, methodOrdinal: ordinal}
				resolved = true
				break
			}
		}
		if !resolved {
			return connerr.UnknownMethod(string(path.Path))
		}
		e.routeCache = append(e.routeCache, entry)
	}

	for _, s := range e.slots {
		if s.streamID == f.StreamID {
			return connerr.InvalidHTTP2("duplicate HEADERS for same stream")
		}
	}

	e.slots = append(e.slots, streamSlot{
		streamID:      f.StreamID,
		serviceIndex:  entry.serviceIndex,
		methodOrdinal: entry.methodOrdinal,
	})
	return nil
}

func (e *Engine) handleData(f frame.Frame) error {
	body, err := f.ProcessData()
	if err != nil {
		return err
	}
	if len(body) == 0 {
		// END_STREAM carrier with no data, tolerated per spec.md §9.
		return nil
	}
	if len(body) < 5 {
		return connerr.InvalidHTTP2("DATA frame too short for grpc")
	}
	body = body[5:]

	slotIdx := -1
	for i, s := range e.slots {
		if s.streamID == f.StreamID {
			slotIdx = i
			break
		}
	}
	if slotIdx == -1 {
		return connerr.InvalidHTTP2("DATA frame without HEADERS")
	}
	slot := e.slots[slotIdx]
	e.slots = append(e.slots[:slotIdx], e.slots[slotIdx+1:]...)

	svc := e.services[slot.serviceIndex]
	return svc.Handle(slot.methodOrdinal, body, f.StreamID, f.Len, e.out)
}

// RunDispatch is the Dispatch-mode counterpart of Run: the input loop is
// identical except DATA frames are handed to HandleDispatch instead of
// Handle, and a second goroutine (started by the caller, see
// dispatch.OutputRoutine) owns its own ResponseBuffer and the socket
// writes. The input goroutine here never calls e.out.Flush and never
// constructs responses directly; e.out is only released on return.
func (e *Engine) RunDispatch(respTx chan<- dispatch.Response) error {
	defer e.out.Release()

	if err := e.handshake(); err != nil {
		return e.fatal(err)
	}

	lastEnd := 0
	for {
		if e.opts.IdleTimeout > 0 {
			_ = e.conn.SetReadDeadline(time.Now().Add(e.opts.IdleTimeout))
		}
		n, err := e.conn.Read(e.input[lastEnd:])
		if n == 0 {
			if err == io.EOF || err == nil {
				return nil
			}
			return e.fatal(err)
		}

		end := lastEnd + n
		pos, err := e.processDispatchBurst(end, respTx)
		if err != nil {
			return e.fatal(err)
		}

		if pos == 0 && end == len(e.input) {
			return e.fatal(connerr.InvalidHTTP2("too long frame"))
		}
		if pos < end {
			copy(e.input, e.input[pos:end])
			lastEnd = end - pos
		} else {
			lastEnd = 0
		}
	}
}

func (e *Engine) processDispatchBurst(end int, respTx chan<- dispatch.Response) (int, error) {
	pos := 0
	for {
		f, ok := frame.Parse(e.input[pos:end])
		if !ok {
			break
		}
		consumed := frame.HeadSize + f.Len

		switch f.Kind {
		case frame.KindHeaders:
			if err := e.handleHeaders(f); err != nil {
				return 0, err
			}
		case frame.KindData:
			if err := e.handleDispatchData(f, respTx); err != nil {
				return 0, err
			}
		}

		pos += consumed
	}
	return pos, nil
}

func (e *Engine) handleDispatchData(f frame.Frame, respTx chan<- dispatch.Response) error {
	body, err := f.ProcessData()
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if len(body) < 5 {
		return connerr.InvalidHTTP2("DATA frame too short for grpc")
	}
	body = body[5:]

	slotIdx := -1
	for i, s := range e.slots {
		if s.streamID == f.StreamID {
			slotIdx = i
			break
		}
	}
	if slotIdx == -1 {
		return connerr.InvalidHTTP2("DATA frame without HEADERS")
	}
	slot := e.slots[slotIdx]
	e.slots = append(e.slots[:slotIdx], e.slots[slotIdx+1:]...)

	svc, ok := e.services[slot.serviceIndex].(service.DispatchService)
	if !ok {
		return connerr.InvalidHTTP2("service does not support dispatch mode")
	}
	return svc.HandleDispatch(slot.methodOrdinal, body, f.StreamID, f.Len, respTx)
}
