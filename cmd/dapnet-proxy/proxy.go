package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sahmadiut/dapnet-proxy/internal/config"
	"github.com/sahmadiut/dapnet-proxy/internal/metrics"
	"github.com/sahmadiut/dapnet-proxy/internal/proxy"
	"github.com/sahmadiut/dapnet-proxy/internal/status"
	"github.com/sahmadiut/dapnet-proxy/internal/transport"
	"github.com/sahmadiut/dapnet-proxy/pkg/logger"
)

const serverShutdownTimeout = 5 * time.Second

// runProxy starts one proxy per profile argument and blocks until SIGINT or
// SIGTERM. It returns the process exit code.
func runProxy(args []string) int {
	fs := newProxyFlags()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}

	if v, _ := fs.GetBool("version"); v {
		fmt.Printf("dapnet-proxy %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}
	if fs.NArg() == 0 {
		printUsage()
		return 1
	}

	configPath, _ := fs.GetString("config")
	cfg, err := config.LoadAppConfig(configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("Starting DAPNET proxy")

	profiles := loadProfiles(log, fs.Args())
	if len(profiles) == 0 {
		log.Error().Msg("No valid profile loaded")
		return 1
	}

	collector := metrics.NewCollector()
	registry := status.NewRegistry()

	var listener proxy.Listener = proxy.NopListener{}
	if cfg.Status.Enabled {
		listener = registry
	}

	dialer := transport.NewDialer(&transport.Config{
		DialTimeout:  cfg.Connection.DialTimeout,
		TCPKeepAlive: cfg.Connection.TCPKeepAlive,
		IPVersion:    cfg.Connection.IPVersion,
		TCPNoDelay:   cfg.Connection.TCPNoDelay,
	})
	mgr := proxy.NewManager(proxy.Options{
		Listener:   listener,
		Logger:     log,
		Metrics:    collector,
		Dial:       dialer.Dial,
		CloseGrace: cfg.Connection.CloseGrace,
	})

	opened := 0
	for _, p := range profiles {
		if err := mgr.Open(p); err != nil {
			log.Error().Err(err).Str("profile", p.Name).Msg("Failed to open profile")
			continue
		}
		opened++
	}
	if opened == 0 {
		mgr.Shutdown()
		log.Error().Msg("No profile could be opened")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Status.Enabled {
		var metricsHandler http.Handler
		if cfg.Status.Metrics {
			metricsHandler = metrics.Handler(metrics.NewRegistry(collector))
		}
		srv := status.NewServer(&status.ServerConfig{
			Addr:           cfg.Status.Listen,
			MetricsHandler: metricsHandler,
			MetricsPath:    cfg.Metrics.Path,
			Logger:         log,
		}, registry)

		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			return shutdownServer(srv.Shutdown)
		})
	}

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(&metrics.ServerConfig{
			Addr: cfg.Metrics.Listen,
			Path: cfg.Metrics.Path,
		}, collector)

		g.Go(func() error {
			log.Info().Str("addr", ms.Addr()).Msg("Metrics server listening")
			if err := ms.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdownServer(ms.Shutdown)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info().Msg("Received shutdown signal")
		}
		mgr.Shutdown()
		return nil
	})

	log.Info().Int("profiles", opened).Msg("DAPNET proxy is running")

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("DAPNET proxy stopped with error")
		return 1
	}
	log.Info().Msg("DAPNET proxy stopped")
	return 0
}

// loadProfiles loads every profile file, skipping the ones that fail.
func loadProfiles(log *logger.Logger, paths []string) []*config.Profile {
	profiles := make([]*config.Profile, 0, len(paths))
	for _, path := range paths {
		p, err := config.LoadProfile(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Skipping profile")
			continue
		}
		log.Debug().Str("path", path).Str("profile", p.Name).Msg("Profile loaded")
		profiles = append(profiles, p)
	}
	return profiles
}

func shutdownServer(shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	return shutdown(ctx)
}
