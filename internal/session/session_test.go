package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sahmadiut/dapnet-proxy/internal/config"
	"github.com/sahmadiut/dapnet-proxy/internal/constants"
	dperrors "github.com/sahmadiut/dapnet-proxy/internal/errors"
	"github.com/sahmadiut/dapnet-proxy/internal/metrics"
)

func testProfile(timeout time.Duration) *config.Profile {
	return &config.Profile{
		Name:             "test",
		FrontendAddr:     "frontend.invalid:43434",
		FrontendAuthName: "name",
		FrontendAuthKey:  "key",
		BackendAddr:      "backend.invalid:43434",
		BackendTimeout:   timeout,
		ReconnectDelay:   time.Second,
	}
}

type harness struct {
	t           *testing.T
	session     *Session
	frontend    net.Conn // frontend peer side
	backend     net.Conn // backend peer side
	frontR      *bufio.Reader
	backR       *bufio.Reader
	cancel      context.CancelFunc
	result      chan error
	established chan struct{}
	collector   *metrics.Collector
}

func start(t *testing.T, profile *config.Profile, dialErr error) *harness {
	t.Helper()

	frontLocal, frontPeer := net.Pipe()
	backLocal, backPeer := net.Pipe()

	h := &harness{
		t:           t,
		frontend:    frontPeer,
		backend:     backPeer,
		frontR:      bufio.NewReader(frontPeer),
		backR:       bufio.NewReader(backPeer),
		result:      make(chan error, 1),
		established: make(chan struct{}),
		collector:   metrics.NewCollector(),
	}

	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		if addr != profile.BackendAddr {
			t.Errorf("dialed %s, want %s", addr, profile.BackendAddr)
		}
		if dialErr != nil {
			backLocal.Close()
			return nil, dialErr
		}
		return backLocal, nil
	}

	s, err := New(profile, frontLocal, Options{
		Dial:          dial,
		Metrics:       h.collector,
		CloseGrace:    time.Second,
		OnEstablished: func() { close(h.established) },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.session = s

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.result <- s.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		frontPeer.Close()
		backPeer.Close()
	})
	return h
}

func (h *harness) write(conn net.Conn, lines ...string) {
	go func() {
		for _, line := range lines {
			if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
				return
			}
		}
	}()
}

func (h *harness) read(conn net.Conn, r *bufio.Reader) string {
	h.t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		h.t.Fatalf("peer read failed: %v", err)
	}
	return strings.TrimSuffix(line, "\r\n")
}

func (h *harness) readFrontend() string { return h.read(h.frontend, h.frontR) }
func (h *harness) readBackend() string  { return h.read(h.backend, h.backR) }

func (h *harness) expectEOF(conn net.Conn, r *bufio.Reader) {
	h.t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != io.EOF {
		h.t.Fatalf("expected EOF, got (%q, %v)", line, err)
	}
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(3 * time.Second):
		h.t.Fatal("session did not finish")
		return nil
	}
}

// eventually polls cond until it holds or a deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWelcomeBannerRewrittenOnce(t *testing.T) {
	h := start(t, testProfile(0), nil)

	h.write(h.backend, "[Test v1.0]", "[Test v1.0]", "forward")

	if got := h.readFrontend(); got != "[Test v1.0 name key]" {
		t.Errorf("first banner = %q, want %q", got, "[Test v1.0 name key]")
	}
	if got := h.readFrontend(); got != "[Test v1.0]" {
		t.Errorf("second banner = %q, want it unchanged", got)
	}
	if got := h.readFrontend(); got != "forward" {
		t.Errorf("got %q, want %q", got, "forward")
	}

	select {
	case <-h.established:
	default:
		t.Error("OnEstablished was not called")
	}
	if h.session.State() != StateForwarding {
		t.Errorf("state = %v, want FORWARDING", h.session.State())
	}
}

func TestFramesKeepOrder(t *testing.T) {
	h := start(t, testProfile(0), nil)

	var frames []string
	for i := 0; i < 20; i++ {
		frames = append(frames, "#"+string(rune('A'+i))+" 5:1:9C8:0:MSG")
	}
	h.write(h.frontend, frames...)

	for _, want := range frames {
		if got := h.readBackend(); got != want {
			t.Fatalf("backend got %q, want %q", got, want)
		}
	}

	counter := h.collector.FramesForwarded.WithLabelValues("test", metrics.ToBackend)
	eventually(t, func() bool { return testutil.ToFloat64(counter) == float64(len(frames)) })
}

func TestBackpressure(t *testing.T) {
	h := start(t, testProfile(0), nil)
	<-h.established

	if _, err := h.frontend.Write([]byte("one\r\n")); err != nil {
		t.Fatalf("first write failed: %v", err)
	}

	// "one" is stuck towards the backend, so the frontend must not be read.
	_ = h.frontend.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
	_, err := h.frontend.Write([]byte("two\r\n"))
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("second write should block while the first is in flight, got %v", err)
	}

	if got := h.readBackend(); got != "one" {
		t.Fatalf("backend got %q, want %q", got, "one")
	}

	_ = h.frontend.SetWriteDeadline(time.Time{})
	h.write(h.frontend, "three")
	if got := h.readBackend(); got != "three" {
		t.Errorf("backend got %q, want %q", got, "three")
	}
}

func TestKeepaliveProbeSuppressesReply(t *testing.T) {
	h := start(t, testProfile(100*time.Millisecond), nil)

	h.write(h.backend, "2:4a2f")
	if got := h.readFrontend(); got != "2:4a2f" {
		t.Fatalf("frontend got %q, want handshake frame", got)
	}

	if got := h.readBackend(); got != constants.KeepAliveRequest {
		t.Fatalf("backend got %q, want %q", got, constants.KeepAliveRequest)
	}

	h.write(h.backend, "2:PING", "+", "after")
	if got := h.readFrontend(); got != "after" {
		t.Errorf("frontend got %q, want the probe reply suppressed", got)
	}

	if v := testutil.ToFloat64(h.collector.FramesSuppressed.WithLabelValues("test")); v != 2 {
		t.Errorf("suppressed frames = %v, want 2", v)
	}
	if v := testutil.ToFloat64(h.collector.ProbesSent.WithLabelValues("test")); v < 1 {
		t.Errorf("probes sent = %v, want at least 1", v)
	}
}

func TestKeepaliveTimeoutClosesSession(t *testing.T) {
	h := start(t, testProfile(30*time.Millisecond), nil)

	h.write(h.backend, "2:4a2f")
	h.readFrontend()

	if got := h.readBackend(); got != constants.KeepAliveRequest {
		t.Fatalf("backend got %q, want probe", got)
	}

	err := h.wait()
	if !errors.Is(err, dperrors.ErrKeepaliveTimeout) {
		t.Fatalf("Run() = %v, want ErrKeepaliveTimeout", err)
	}
	h.expectEOF(h.frontend, h.frontR)
	if h.session.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", h.session.State())
	}
}

func TestNoProbeBeforeHandshake(t *testing.T) {
	h := start(t, testProfile(20*time.Millisecond), nil)
	<-h.established

	_ = h.backend.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	line, err := h.backR.ReadString('\n')
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("backend received %q (%v) before the handshake completed", line, err)
	}

	select {
	case err := <-h.result:
		t.Fatalf("session ended during handshake: %v", err)
	default:
	}
}

func TestBackendDialFailure(t *testing.T) {
	h := start(t, testProfile(0), &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED})

	err := h.wait()
	if !errors.Is(err, dperrors.ErrBackendUnavailable) {
		t.Fatalf("Run() = %v, want ErrBackendUnavailable", err)
	}
	if dperrors.Classify(err) != dperrors.ClassUnreachable {
		t.Errorf("Classify() = %v, want unreachable", dperrors.Classify(err))
	}
	h.expectEOF(h.frontend, h.frontR)

	select {
	case <-h.established:
		t.Error("OnEstablished called after a failed backend dial")
	default:
	}
}

func TestPeerCloseTearsDownBoth(t *testing.T) {
	t.Run("backend closes", func(t *testing.T) {
		h := start(t, testProfile(0), nil)
		<-h.established

		h.backend.Close()

		err := h.wait()
		if !errors.Is(err, dperrors.ErrConnectionLost) {
			t.Fatalf("Run() = %v, want ErrConnectionLost", err)
		}
		h.expectEOF(h.frontend, h.frontR)
	})

	t.Run("frontend closes", func(t *testing.T) {
		h := start(t, testProfile(0), nil)
		<-h.established

		h.frontend.Close()

		err := h.wait()
		if !errors.Is(err, dperrors.ErrConnectionLost) {
			t.Fatalf("Run() = %v, want ErrConnectionLost", err)
		}
		h.expectEOF(h.backend, h.backR)
	})
}

func TestPendingFrameFlushedBeforeClose(t *testing.T) {
	h := start(t, testProfile(0), nil)
	<-h.established

	go func() {
		_, _ = h.backend.Write([]byte("last words\r\n"))
		h.backend.Close()
	}()

	if got := h.readFrontend(); got != "last words" {
		t.Fatalf("frontend got %q, want the final frame", got)
	}
	h.expectEOF(h.frontend, h.frontR)

	if err := h.wait(); !errors.Is(err, dperrors.ErrConnectionLost) {
		t.Errorf("Run() = %v, want ErrConnectionLost", err)
	}
}

func TestFrameTooLongClosesSession(t *testing.T) {
	h := start(t, testProfile(0), nil)
	<-h.established

	go func() {
		_, _ = h.frontend.Write([]byte(strings.Repeat("x", constants.MaxFrameLength+100)))
	}()

	err := h.wait()
	if !errors.Is(err, dperrors.ErrFrameTooLong) {
		t.Fatalf("Run() = %v, want ErrFrameTooLong", err)
	}
	h.expectEOF(h.backend, h.backR)

	if v := testutil.ToFloat64(h.collector.FramingErrors.WithLabelValues("test", "frontend")); v != 1 {
		t.Errorf("framing errors = %v, want 1", v)
	}
}

func TestContextCancelClosesSession(t *testing.T) {
	h := start(t, testProfile(0), nil)
	<-h.established

	h.cancel()

	err := h.wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	h.expectEOF(h.frontend, h.frontR)
	h.expectEOF(h.backend, h.backR)
}

func TestPanicReleasesConnections(t *testing.T) {
	frontLocal, frontPeer := net.Pipe()
	backLocal, backPeer := net.Pipe()
	defer frontPeer.Close()
	defer backPeer.Close()

	s, err := New(testProfile(0), frontLocal, Options{
		Dial:          func(ctx context.Context, addr string) (net.Conn, error) { return backLocal, nil },
		CloseGrace:    time.Second,
		OnEstablished: func() { panic("boom") },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected Run to panic")
			}
		}()
		_ = s.Run(context.Background())
	}()

	for name, c := range map[string]net.Conn{"frontend": frontPeer, "backend": backPeer} {
		_ = c.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := c.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
			t.Errorf("%s peer read = %v, want EOF", name, err)
		}
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	frontLocal, frontPeer := net.Pipe()
	defer frontLocal.Close()
	defer frontPeer.Close()

	profile := testProfile(0)
	profile.FrontendAuthKey = ""

	dial := func(ctx context.Context, addr string) (net.Conn, error) { return nil, errors.New("unused") }
	if _, err := New(profile, frontLocal, Options{Dial: dial}); !errors.Is(err, dperrors.ErrMissingKey) {
		t.Errorf("New() = %v, want ErrMissingKey", err)
	}
	if _, err := New(testProfile(0), frontLocal, Options{}); !errors.Is(err, dperrors.ErrInvalidValue) {
		t.Errorf("New() without dial = %v, want ErrInvalidValue", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateDialing, "DIALING"},
		{StateForwarding, "FORWARDING"},
		{StateClosing, "CLOSING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}
