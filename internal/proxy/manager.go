// Package proxy runs the dial, forward and reconnect cycle of every
// configured profile.
package proxy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sahmadiut/dapnet-proxy/internal/config"
	"github.com/sahmadiut/dapnet-proxy/internal/constants"
	dperrors "github.com/sahmadiut/dapnet-proxy/internal/errors"
	"github.com/sahmadiut/dapnet-proxy/internal/metrics"
	"github.com/sahmadiut/dapnet-proxy/internal/retry"
	"github.com/sahmadiut/dapnet-proxy/internal/session"
	"github.com/sahmadiut/dapnet-proxy/internal/transport"
	"github.com/sahmadiut/dapnet-proxy/pkg/logger"
)

// Options holds the collaborators of a Manager.
type Options struct {
	// Listener receives lifecycle events, defaults to NopListener
	Listener Listener
	// Logger defaults to logger.NewDefault()
	Logger *logger.Logger
	// Metrics defaults to an unregistered collector
	Metrics *metrics.Collector
	// Dial opens frontend and backend connections, defaults to a
	// transport.Dialer with default settings
	Dial session.DialFunc
	// CloseGrace bounds the flush when a session closes
	CloseGrace time.Duration
}

// Manager owns the profiles of one process. Each profile runs on its own
// goroutine: dial the frontend, run a session, wait the reconnect delay,
// repeat. Profiles never share session state.
type Manager struct {
	listener   Listener
	log        *logger.Logger
	metrics    *metrics.Collector
	dial       session.DialFunc
	closeGrace time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	profiles map[string]*config.Profile
	shutdown bool

	wg   sync.WaitGroup
	done chan struct{}
}

// NewManager creates a manager with no profiles.
func NewManager(opts Options) *Manager {
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Dial == nil {
		opts.Dial = transport.NewDialer(nil).Dial
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = constants.DefaultCloseGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		listener:   opts.Listener,
		log:        opts.Logger.WithStr("component", "proxy"),
		metrics:    opts.Metrics,
		dial:       opts.Dial,
		closeGrace: opts.CloseGrace,
		ctx:        ctx,
		cancel:     cancel,
		profiles:   make(map[string]*config.Profile),
		done:       make(chan struct{}),
	}
}

// Open registers profile and starts its dial sequence in the background.
// It fails on an invalid profile, a duplicate name, or after Shutdown.
func (m *Manager) Open(profile *config.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return dperrors.WrapProfile("open", profile.Name, dperrors.ErrManagerClosed, nil)
	}
	if _, ok := m.profiles[profile.Name]; ok {
		return dperrors.WrapProfile("open", profile.Name, dperrors.ErrProfileExists, nil)
	}
	m.profiles[profile.Name] = profile

	m.listener.OnRegister(profile.Name)
	m.metrics.SetProfileState(profile.Name, metrics.StateConnecting)

	m.log.Info().
		Str("profile", profile.Name).
		Str("frontend", profile.FrontendAddr).
		Str("backend", profile.BackendAddr).
		Dur("backend_timeout", profile.BackendTimeout).
		Dur("reconnect_delay", profile.ReconnectDelay).
		Msg("Profile registered")

	m.wg.Add(1)
	go m.run(profile)
	return nil
}

// Profiles returns the names of all registered profiles, sorted.
func (m *Manager) Profiles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown stops reconnecting, closes every session, cancels pending
// reconnects and emits the shutdown event. It blocks until all sockets are
// closed. Calling it again waits for the first call to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.Wait()
		return
	}
	m.shutdown = true
	m.mu.Unlock()

	m.log.Info().Msg("Shutting down proxy manager")
	m.cancel()
	m.wg.Wait()

	m.listener.OnShutdown()
	m.log.Info().Msg("Proxy manager stopped")
	close(m.done)
}

// Wait blocks until Shutdown has completed.
func (m *Manager) Wait() {
	<-m.done
}

func (m *Manager) shuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// run is the runner goroutine of one profile. At any time the profile has
// either one session in progress or one pending reconnect, never both.
func (m *Manager) run(profile *config.Profile) {
	defer m.wg.Done()

	log := m.log.WithProfile(profile.Name)
	policy := retry.Fixed(profile.ReconnectDelay)

	for {
		err := m.attempt(profile, policy, log)

		reconnect := profile.ReconnectEnabled() && !m.shuttingDown()
		m.report(profile, log, err, reconnect)
		m.listener.OnDisconnect(profile.Name, reconnect)
		if !reconnect {
			return
		}

		m.metrics.RecordReconnect(profile.Name)
		log.Info().
			Dur("delay", profile.ReconnectDelay).
			Int("attempt", policy.Attempts()+1).
			Msg("Reconnect scheduled")
		if err := policy.Wait(m.ctx); err != nil {
			log.Debug().Err(err).Msg("Reconnect cancelled")
			return
		}
	}
}

// attempt dials the frontend and runs one session to completion. Panics are
// turned into ErrInternal so that they are retried like any other failure.
// The attempt counter of policy restarts once a session is established.
func (m *Manager) attempt(profile *config.Profile, policy *retry.Policy, log *logger.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("fault", "internal").Interface("panic", r).Msg("Recovered from internal fault")
			err = dperrors.WrapProfile("session", profile.Name, dperrors.ErrInternal, fmt.Errorf("%v", r))
		}
	}()

	log.Debug().Str("frontend", profile.FrontendAddr).Msg("Dialing frontend")
	conn, err := m.dial(m.ctx, profile.FrontendAddr)
	if err != nil {
		return dperrors.WrapProfile("dial frontend", profile.Name, dperrors.ErrFrontendUnavailable, err)
	}

	s, err := session.New(profile, conn, session.Options{
		Dial:       m.dial,
		Logger:     m.log,
		Metrics:    m.metrics,
		CloseGrace: m.closeGrace,
		OnEstablished: func() {
			policy.Reset()
			m.metrics.SetProfileState(profile.Name, metrics.StateOnline)
			m.listener.OnConnect(profile.Name)
		},
	})
	if err != nil {
		_ = conn.Close()
		return err
	}

	return s.Run(m.ctx)
}

func (m *Manager) report(profile *config.Profile, log *logger.Logger, err error, reconnect bool) {
	if reconnect {
		m.metrics.SetProfileState(profile.Name, metrics.StateConnecting)
	} else {
		m.metrics.SetProfileState(profile.Name, metrics.StateOffline)
	}

	class := dperrors.Classify(err)
	switch class {
	case dperrors.ClassNone, dperrors.ClassCancelled:
		log.Info().Msg("Session stopped")
		return
	case dperrors.ClassUnreachable:
		log.Error().Str("class", class.String()).Msgf("Cannot connect: %v", err)
	case dperrors.ClassInternal:
		log.Error().Err(err).Str("class", class.String()).Msg("Session failed")
	default:
		log.Error().Err(err).Str("class", class.String()).Msg("Connection lost")
	}
	m.metrics.RecordSessionFailure(profile.Name, class.String())
}
