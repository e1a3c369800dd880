package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"devserve/internal/adapter/livereload"
	"devserve/internal/adapter/platform"
	"devserve/internal/domain"
)

// InstanceName is reported on the info endpoint.
const InstanceName = "devserve"

const (
	// DefaultHost is the bind host when none is configured, and the address
	// wildcard hosts are dialled on.
	DefaultHost = "127.0.0.1"
	// DefaultMaxPortTries is how many ports above the starting one are tried.
	DefaultMaxPortTries = 20
	// DefaultShutdownRequestTimeout bounds the shutdown request to a prior
	// instance and the status info query.
	DefaultShutdownRequestTimeout = 800 * time.Millisecond
	// DefaultProbeTimeout bounds a single liveness probe.
	DefaultProbeTimeout = 200 * time.Millisecond
	// DefaultProbeInterval is the pause between liveness probes.
	DefaultProbeInterval = 100 * time.Millisecond
	// DefaultReleaseDeadline is how long a prior instance gets to free its port.
	DefaultReleaseDeadline = 2 * time.Second
	// DefaultShutdownGrace is how long in-flight requests get on shutdown.
	DefaultShutdownGrace = time.Second

	// shutdownDelay lets the shutdown response reach the caller first.
	shutdownDelay = 10 * time.Millisecond
)

// Config holds resolved runtime configuration for one server.
type Config struct {
	Root string
	Host string
	Port int
	// PortExplicit disables both the prior-instance negotiation and the
	// search for a free port.
	PortExplicit bool
	Replace      bool
	LiveReload   bool
	MaxPortTries int
	// PID identifies this process in the instance record. Zero means os.Getpid().
	PID int

	ShutdownRequestTimeout time.Duration
	ProbeTimeout           time.Duration
	ProbeInterval          time.Duration
	ReleaseDeadline        time.Duration
	ShutdownGrace          time.Duration
	Debounce               time.Duration
}

func (c Config) withDefaults() Config {
	c.Host = platform.StripBrackets(c.Host)
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.MaxPortTries <= 0 {
		c.MaxPortTries = DefaultMaxPortTries
	}
	if c.PID == 0 {
		c.PID = os.Getpid()
	}
	if c.ShutdownRequestTimeout <= 0 {
		c.ShutdownRequestTimeout = DefaultShutdownRequestTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ReleaseDeadline <= 0 {
		c.ReleaseDeadline = DefaultReleaseDeadline
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Debounce <= 0 {
		c.Debounce = livereload.DefaultDebounce
	}
	return c
}

// Service coordinates a single dev server instance per project root.
type Service struct {
	store    domain.RecordStore
	peer     domain.PeerClient
	runner   domain.ServerRunner
	tokenGen domain.TokenGenerator
	metrics  domain.Metrics
	logger   domain.Logger

	mu    sync.Mutex
	state domain.State
	addr  string

	ready    chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewService creates the application service with all dependencies injected.
func NewService(
	st domain.RecordStore,
	pc domain.PeerClient,
	sr domain.ServerRunner,
	tg domain.TokenGenerator,
	mt domain.Metrics,
	lg domain.Logger,
) *Service {
	return &Service{
		store:    st,
		peer:     pc,
		runner:   sr,
		tokenGen: tg,
		metrics:  mt,
		logger:   lg,
		state:    domain.StateStarting,
		ready:    make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Run negotiates with any prior instance for the root, binds, records the
// claim and serves until ctx is done or a shutdown is requested. It returns
// nil on a clean shutdown and an error when the server could not start or
// failed while serving.
func (s *Service) Run(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	s.logger.Debug("starting", "root", cfg.Root, "host", cfg.Host, "port", cfg.Port, "pid", cfg.PID)

	token, err := s.tokenGen.Generate()
	if err != nil {
		s.setState(domain.StateTerminated)
		return fmt.Errorf("token: %w", err)
	}

	if cfg.Replace && !cfg.PortExplicit {
		s.setState(domain.StateNegotiating)
		s.ResolvePriorInstance(ctx, cfg)
	} else {
		s.metrics.ObserveNegotiation(domain.OutcomeSkipped)
		s.logger.Debug("prior instance negotiation skipped", "replace", cfg.Replace, "explicit_port", cfg.PortExplicit)
	}

	ln, err := s.bind(cfg)
	if err != nil {
		s.setState(domain.StateTerminated)
		return err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	addr := net.JoinHostPort(ConnectHost(cfg.Host), strconv.Itoa(port))
	s.mu.Lock()
	s.state = domain.StateBound
	s.addr = addr
	s.mu.Unlock()

	rec := domain.InstanceRecord{
		PID:       cfg.PID,
		Host:      cfg.Host,
		Port:      port,
		Root:      cfg.Root,
		Token:     token,
		StartedAt: time.Now().UTC(),
	}

	var hub *livereload.Hub
	var watcher *livereload.Watcher
	if cfg.LiveReload {
		hub = livereload.NewHub(s.logger, s.metrics.SetReloadClients)
		watcher, err = livereload.NewWatcher(cfg.Root, cfg.Debounce, func() {
			n := hub.Broadcast()
			s.metrics.ObserveReload()
			s.logger.Debug("reload broadcast", "clients", n)
		}, s.logger)
		if err != nil {
			s.logger.Warn("live reload watcher unavailable", "err", err)
			watcher = nil
		}
	}

	wait, stop, err := s.runner.Start(ln, s.routes(cfg, rec, hub))
	if err != nil {
		_ = ln.Close()
		if watcher != nil {
			_ = watcher.Close()
		}
		s.setState(domain.StateTerminated)
		return fmt.Errorf("serve: %w", err)
	}

	if err := s.store.Write(rec); err != nil {
		s.logger.Warn("write instance record failed", "path", s.store.Path(), "err", err)
	}
	s.setState(domain.StateRunning)
	close(s.ready)
	s.logger.Info("serving", "url", "http://"+addr+"/", "root", cfg.Root, "live_reload", hub != nil)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		err := wait()
		s.Shutdown()
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(runCtx)
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.stopCh:
		}
		s.setState(domain.StateShuttingDown)
		s.logger.Info("shutting down", "url", "http://"+addr+"/")
		if hub != nil {
			hub.Close()
		}
		stop(cfg.ShutdownGrace)
		cancel()
		return nil
	})

	runErr := g.Wait()

	removed, err := s.store.RemoveIfOwned(cfg.PID)
	switch {
	case err != nil:
		s.logger.Error("remove instance record failed", "path", s.store.Path(), "err", err)
	case removed:
		s.logger.Debug("instance record removed", "path", s.store.Path())
	default:
		s.logger.Debug("instance record left in place, owned by another process", "path", s.store.Path())
	}
	s.setState(domain.StateTerminated)
	return runErr
}

// bind listens on the configured port, moving up one port at a time while
// the port is taken, unless the port was given explicitly.
func (s *Service) bind(cfg Config) (net.Listener, error) {
	port := cfg.Port
	for attempt := 0; ; attempt++ {
		ln, err := s.runner.Listen(cfg.Host, port)
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen on %s: %w", net.JoinHostPort(cfg.Host, strconv.Itoa(port)), err)
		}
		if cfg.PortExplicit {
			return nil, fmt.Errorf("port %d is already in use; stop the other process or run with a different port, e.g. PORT=%d", port, port+1)
		}
		if attempt >= cfg.MaxPortTries || port == 0 || port >= 65535 {
			return nil, fmt.Errorf("no free port in %d-%d: %w", cfg.Port, port, err)
		}
		s.logger.Warn("port in use, trying the next one", "port", port, "next", port+1)
		port++
	}
}

// Shutdown asks a running server to stop. It is safe to call more than once
// and from any goroutine.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// State returns the current lifecycle state.
func (s *Service) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready is closed once the server is accepting requests and its record is
// written.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the host:port clients should use, or "" before binding.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Service) setState(st domain.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// ConnectHost maps wildcard bind addresses to the loopback address a client
// can dial.
func ConnectHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		return DefaultHost
	}
	return host
}
