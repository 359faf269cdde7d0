// Package session bridges one frontend connection and one backend
// connection for a profile.
//
// A session is owned by a single goroutine (Run). The two connections
// report frames, completed writes and failures as events on one channel, so
// every state change of the bridge happens on that goroutine.
package session

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sahmadiut/dapnet-proxy/internal/codec"
	"github.com/sahmadiut/dapnet-proxy/internal/config"
	"github.com/sahmadiut/dapnet-proxy/internal/constants"
	dperrors "github.com/sahmadiut/dapnet-proxy/internal/errors"
	"github.com/sahmadiut/dapnet-proxy/internal/keepalive"
	"github.com/sahmadiut/dapnet-proxy/internal/metrics"
	"github.com/sahmadiut/dapnet-proxy/internal/transport"
	"github.com/sahmadiut/dapnet-proxy/internal/welcome"
	"github.com/sahmadiut/dapnet-proxy/pkg/logger"
)

// State represents the lifecycle state of a session.
type State int32

const (
	StateDialing    State = iota // Frontend connected, dialing the backend
	StateForwarding              // Both peers connected
	StateClosing                 // Flushing and closing both peers
	StateClosed                  // Both sockets closed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDialing:
		return "DIALING"
	case StateForwarding:
		return "FORWARDING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Write tags.
const (
	tagForward = iota // Frame relayed from the other peer
	tagProbe          // Keepalive probe
)

// DialFunc opens a connection to addr.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Options holds the collaborators of a session.
type Options struct {
	// Dial opens the backend connection (required)
	Dial DialFunc
	// Logger defaults to a no-op logger
	Logger *logger.Logger
	// Metrics defaults to an unregistered collector
	Metrics *metrics.Collector
	// CloseGrace bounds the flush on close, defaults to constants.DefaultCloseGrace
	CloseGrace time.Duration
	// OnEstablished is called on the session goroutine once the backend is
	// connected, before any frame is forwarded
	OnEstablished func()
}

// Session is one frontend/backend bridge.
type Session struct {
	ID      uuid.UUID
	profile *config.Profile
	opts    Options
	log     *logger.Logger
	metrics *metrics.Collector

	frontendConn net.Conn
	frontend     *transport.Conn
	backend      *transport.Conn
	events       chan transport.Event

	rewriter  *welcome.Rewriter
	keepalive *keepalive.Machine
	idle      *time.Timer

	state       atomic.Int32
	cause       error
	establishAt time.Time
}

// New creates a session for profile around an established frontend
// connection. It fails only on configuration errors.
func New(profile *config.Profile, frontend net.Conn, opts Options) (*Session, error) {
	if opts.Dial == nil {
		return nil, dperrors.WrapProfile("new session", profile.Name, dperrors.ErrInvalidValue, errors.New("dial function is required"))
	}
	rewriter, err := welcome.New(profile.FrontendAuthName, profile.FrontendAuthKey)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = constants.DefaultCloseGrace
	}

	id := uuid.New()
	return &Session{
		ID:           id,
		profile:      profile,
		opts:         opts,
		log:          opts.Logger.WithProfile(profile.Name).WithSession(id.String()),
		metrics:      opts.Metrics,
		frontendConn: frontend,
		events:       make(chan transport.Event, 2*constants.WriteQueueSize),
		rewriter:     rewriter,
		keepalive:    keepalive.New(),
	}, nil
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run dials the backend, forwards frames until either peer closes or ctx
// is cancelled, and returns once both sockets are closed. The returned error
// describes why the session ended; it is never nil.
func (s *Session) Run(ctx context.Context) error {
	defer s.release()

	// Frontend reads stay suspended until the backend is up.
	s.frontend = transport.NewConn(s.frontendConn, transport.Frontend, s.events)

	backendConn, err := s.opts.Dial(ctx, s.profile.BackendAddr)
	if err != nil {
		s.log.Debug().Err(err).Str("backend", s.profile.BackendAddr).Msg("Backend dial failed")
		s.cause = dperrors.WrapProfile("dial backend", s.profile.Name, dperrors.ErrBackendUnavailable, err)
		s.frontend.CloseOnFlush()
		s.awaitClosed(s.frontend)
		s.state.Store(int32(StateClosed))
		return s.cause
	}

	s.backend = transport.NewConn(backendConn, transport.Backend, s.events)
	s.state.Store(int32(StateForwarding))
	s.establishAt = time.Now()
	s.metrics.RecordSessionCreated()

	s.log.Info().
		Str("frontend", s.frontend.RemoteAddr()).
		Str("backend", s.backend.RemoteAddr()).
		Msg("Session established")

	if s.opts.OnEstablished != nil {
		s.opts.OnEstablished()
	}

	var idleC <-chan time.Time
	if s.profile.KeepaliveEnabled() {
		s.idle = time.NewTimer(s.profile.BackendTimeout)
		idleC = s.idle.C
	}

	s.backend.RequestRead()
	s.frontend.RequestRead()

	for s.State() == StateForwarding {
		select {
		case <-ctx.Done():
			s.beginClose(ctx.Err())
		case ev := <-s.events:
			s.handle(ev)
		case <-idleC:
			s.onIdle()
		}
	}

	if s.idle != nil {
		s.idle.Stop()
	}
	s.keepalive.OnClose()
	s.drain()

	s.metrics.RecordSessionClosed(time.Since(s.establishAt))
	s.log.Info().
		Err(s.cause).
		Dur("lifetime", time.Since(s.establishAt)).
		Msg("Session closed")
	return s.cause
}

func (s *Session) handle(ev transport.Event) {
	switch ev.Kind {
	case transport.FrameReceived:
		if ev.Source == transport.Frontend {
			s.fromFrontend(ev.Frame)
		} else {
			s.fromBackend(ev.Frame)
		}

	case transport.WriteCompleted:
		if ev.Tag != tagForward {
			return
		}
		// The paired read resumes only once the frame is on the wire.
		if ev.Source == transport.Backend {
			s.metrics.RecordFrameForwarded(s.profile.Name, metrics.ToBackend, codec.EncodedLen(ev.Frame))
			s.frontend.RequestRead()
		} else {
			s.metrics.RecordFrameForwarded(s.profile.Name, metrics.ToFrontend, codec.EncodedLen(ev.Frame))
			s.backend.RequestRead()
		}

	case transport.Closed:
		s.beginClose(s.closeCause(ev))
	}
}

func (s *Session) fromFrontend(frame string) {
	s.log.Debug().Str("frame", frame).Msg("Frontend -> backend")
	if err := s.backend.Write(frame, tagForward); err != nil {
		s.beginClose(dperrors.WrapProfile("forward to backend", s.profile.Name, dperrors.ErrWriteFailed, err))
	}
}

func (s *Session) fromBackend(frame string) {
	s.resetIdle()

	confirmed := s.keepalive.Stats().ProbesConfirmed
	if !s.keepalive.OnFrame(frame) {
		s.log.Debug().Str("frame", frame).Str("keepalive", s.keepalive.State().String()).Msg("Keepalive reply suppressed")
		s.metrics.RecordFrameSuppressed(s.profile.Name)
		if stats := s.keepalive.Stats(); stats.ProbesConfirmed > confirmed {
			s.metrics.RecordProbeConfirmed(s.profile.Name, stats.Latency)
		}
		s.backend.RequestRead()
		return
	}

	out := s.rewriter.Rewrite(frame)
	if out != frame {
		s.log.Info().Str("banner", frame).Msg("Welcome banner rewritten")
	} else {
		s.log.Debug().Str("frame", frame).Msg("Backend -> frontend")
	}

	if err := s.frontend.Write(out, tagForward); err != nil {
		s.beginClose(dperrors.WrapProfile("forward to frontend", s.profile.Name, dperrors.ErrWriteFailed, err))
	}
}

func (s *Session) onIdle() {
	switch s.keepalive.OnIdle() {
	case keepalive.SendProbe:
		s.log.Debug().Msg("Backend idle, sending keepalive probe")
		s.metrics.RecordProbeSent(s.profile.Name)
		if err := s.backend.Write(constants.KeepAliveRequest, tagProbe); err != nil {
			s.beginClose(dperrors.WrapProfile("keepalive", s.profile.Name, dperrors.ErrWriteFailed, err))
			return
		}
	case keepalive.Close:
		s.log.Warn().Dur("timeout", s.profile.BackendTimeout).Msg("Keepalive probe unanswered, closing session")
		s.metrics.RecordKeepaliveTimeout(s.profile.Name)
		s.beginClose(dperrors.WrapProfile("keepalive", s.profile.Name, dperrors.ErrKeepaliveTimeout, nil))
		return
	}
	// The idle window fires again after every silent period.
	s.idle.Reset(s.profile.BackendTimeout)
}

func (s *Session) resetIdle() {
	if s.idle == nil {
		return
	}
	if !s.idle.Stop() {
		select {
		case <-s.idle.C:
		default:
		}
	}
	s.idle.Reset(s.profile.BackendTimeout)
}

func (s *Session) closeCause(ev transport.Event) error {
	peer := ev.Source.String()
	if errors.Is(ev.Err, dperrors.ErrFrameTooLong) {
		s.log.Warn().Str("peer", peer).Msg("Frame exceeds maximum length")
		s.metrics.RecordFramingError(s.profile.Name, peer)
		return dperrors.WrapProfile(peer, s.profile.Name, dperrors.ErrFrameTooLong, ev.Err)
	}
	if errors.Is(ev.Err, dperrors.ErrWriteFailed) {
		return dperrors.WrapProfile(peer, s.profile.Name, dperrors.ErrWriteFailed, ev.Err)
	}
	return dperrors.WrapProfile(peer, s.profile.Name, dperrors.ErrConnectionLost, ev.Err)
}

// beginClose records the first cause and asks both peers to flush and close.
func (s *Session) beginClose(cause error) {
	if s.State() != StateForwarding {
		return
	}
	s.state.Store(int32(StateClosing))
	s.cause = cause
	s.log.Debug().Err(cause).Msg("Closing session")

	s.frontend.CloseOnFlush()
	s.backend.CloseOnFlush()
}

// drain consumes events until both sockets are closed. Sockets that do not
// finish flushing within the close grace period are aborted.
func (s *Session) drain() {
	grace := time.NewTimer(s.opts.CloseGrace)
	defer grace.Stop()

	frontDone, backDone := s.frontend.Done(), s.backend.Done()
	for frontDone != nil || backDone != nil {
		select {
		case <-s.events:
		case <-frontDone:
			frontDone = nil
		case <-backDone:
			backDone = nil
		case <-grace.C:
			s.log.Warn().Msg("Close grace period elapsed, aborting connections")
			s.frontend.Abort()
			s.backend.Abort()
		}
	}
	s.state.Store(int32(StateClosed))
}

// release closes any socket still open when Run unwinds early, e.g. on a
// panic. After a normal return both are already closed.
func (s *Session) release() {
	if s.frontend != nil {
		s.frontend.Abort()
	} else {
		_ = s.frontendConn.Close()
	}
	if s.backend != nil {
		s.backend.Abort()
	}
}

// awaitClosed waits for a single connection to close after a failed start.
func (s *Session) awaitClosed(c *transport.Conn) {
	grace := time.NewTimer(s.opts.CloseGrace)
	defer grace.Stop()

	for {
		select {
		case <-s.events:
		case <-c.Done():
			return
		case <-grace.C:
			c.Abort()
		}
	}
}
