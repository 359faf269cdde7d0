package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sahmadiut/dapnet-proxy/internal/codec"
	"github.com/sahmadiut/dapnet-proxy/internal/constants"
	dperrors "github.com/sahmadiut/dapnet-proxy/internal/errors"
)

// Source identifies which side of a session a connection serves.
type Source int

const (
	Frontend Source = iota
	Backend
)

// String returns a string representation of the source.
func (s Source) String() string {
	switch s {
	case Frontend:
		return "frontend"
	case Backend:
		return "backend"
	default:
		return "unknown"
	}
}

// EventKind is the type of an Event.
type EventKind int

const (
	FrameReceived  EventKind = iota // A frame was decoded
	WriteCompleted                  // A queued frame was written and flushed
	Closed                          // The connection failed or the peer closed it
)

// String returns a string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case FrameReceived:
		return "frame_received"
	case WriteCompleted:
		return "write_completed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is emitted by a Conn onto its owner's event channel.
type Event struct {
	Source Source
	Kind   EventKind
	Frame  string // FrameReceived and WriteCompleted
	Tag    int    // WriteCompleted, the tag passed to Write
	Err    error  // Closed
}

var errWriteQueueFull = errors.New("write queue full")

type writeOp struct {
	frame string
	tag   int
	close bool
}

// Conn is an actor around one framed TCP connection.
//
// A reader goroutine decodes exactly one frame per RequestRead call, so no
// frame is read from the socket before the owner asks for it. A writer
// goroutine encodes queued frames in order and reports each one with a
// WriteCompleted event once it is flushed. Failures are reported with a
// single Closed event. Locally requested closes are signalled through Done
// only.
type Conn struct {
	nc     net.Conn
	source Source
	events chan<- Event

	readReq chan struct{}
	writeq  chan writeOp
	done    chan struct{}

	closing    atomic.Bool
	closeOnce  sync.Once
	reportOnce sync.Once
}

// NewConn wraps nc and starts its reader and writer goroutines. Reads stay
// suspended until the first RequestRead.
func NewConn(nc net.Conn, source Source, events chan<- Event) *Conn {
	c := &Conn{
		nc:      nc,
		source:  source,
		events:  events,
		readReq: make(chan struct{}, 1),
		writeq:  make(chan writeOp, constants.WriteQueueSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Source returns the side this connection serves.
func (c *Conn) Source() Source {
	return c.source
}

// RemoteAddr returns the remote address for the connection.
func (c *Conn) RemoteAddr() string {
	if c == nil || c.nc == nil {
		return ""
	}
	return c.nc.RemoteAddr().String()
}

// RequestRead permits the reader to decode one more frame. At most one
// permit is buffered; extra calls are dropped.
func (c *Conn) RequestRead() {
	select {
	case c.readReq <- struct{}{}:
	default:
	}
}

// Write queues frame for writing. It never blocks; a full queue or a
// closing connection is reported as an error.
func (c *Conn) Write(frame string, tag int) error {
	if c.closing.Load() {
		return dperrors.Wrap("write", dperrors.ErrConnectionClosed, nil)
	}
	select {
	case <-c.done:
		return dperrors.Wrap("write", dperrors.ErrConnectionClosed, nil)
	case c.writeq <- writeOp{frame: frame, tag: tag}:
		return nil
	default:
		return dperrors.Wrap("write", dperrors.ErrWriteFailed, errWriteQueueFull)
	}
}

// CloseOnFlush closes the connection after every frame already queued has
// been written. Later writes are rejected.
func (c *Conn) CloseOnFlush() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	select {
	case c.writeq <- writeOp{close: true}:
	case <-c.done:
	default:
		c.terminate()
	}
}

// Abort closes the connection immediately, dropping queued frames.
func (c *Conn) Abort() {
	c.closing.Store(true)
	c.terminate()
}

// Done returns a channel that is closed once the socket is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) terminate() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.nc.Close()
	})
}

// fail reports err to the owner once and closes the socket.
func (c *Conn) fail(err error) {
	if !c.closing.Load() {
		c.reportOnce.Do(func() {
			c.emit(Event{Kind: Closed, Err: err})
		})
	}
	c.terminate()
}

func (c *Conn) emit(ev Event) {
	ev.Source = c.source
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Conn) readLoop() {
	dec := codec.NewDecoder(c.nc)
	for {
		select {
		case <-c.done:
			return
		case <-c.readReq:
		}

		frame, err := dec.ReadFrame()
		if err != nil {
			if c.closing.Load() {
				// The writer owns the close while queued frames drain.
				return
			}
			c.fail(err)
			return
		}
		c.emit(Event{Kind: FrameReceived, Frame: frame})
	}
}

func (c *Conn) writeLoop() {
	enc := codec.NewEncoder(c.nc)
	for {
		select {
		case <-c.done:
			return
		case op := <-c.writeq:
			if op.close {
				c.terminate()
				return
			}
			if err := enc.WriteFrame(op.frame); err != nil {
				c.fail(dperrors.Wrap("write", dperrors.ErrWriteFailed, err))
				return
			}
			c.emit(Event{Kind: WriteCompleted, Frame: op.frame, Tag: op.tag})
		}
	}
}
