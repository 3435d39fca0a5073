package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/logging"
)

// Server runs the gateway's listeners and background workers.
type Server struct {
	gateway    *Gateway
	config     *config.Config
	configPath string
	watcher    *config.Watcher
	public     *http.Server
	admin      *http.Server

	mu         sync.Mutex
	ready      chan struct{}
	publicAddr net.Addr
	adminAddr  net.Addr
}

// NewServer creates the gateway server. configPath is watched for origin
// policy changes; empty means the config came from the environment.
func NewServer(cfg *config.Config, configPath string) (*Server, error) {
	gw, err := New(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		gateway:    gw,
		config:     cfg,
		configPath: configPath,
		ready:      make(chan struct{}),
		public: &http.Server{
			Handler:           gw.Handler(),
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       cfg.Server.IdleTimeout,
			MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
		},
	}

	s.public.RegisterOnShutdown(func() {
		if n := gw.ws.CloseAll(); n > 0 {
			logging.Info("closed websocket connections", zap.Int("count", n))
		}
	})

	if cfg.Admin.Enabled {
		s.admin = &http.Server{
			Handler:           gw.adminHandler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	if configPath != "" {
		s.watcher, err = config.NewWatcher(configPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
		s.watcher.OnChange(func(next *config.Config) {
			if err := gw.ApplyConfig(next); err != nil {
				logging.Error("config change rejected", zap.Error(err))
			}
		})
	}

	return s, nil
}

// Run serves until ctx is cancelled or a listener fails, then shuts down
// gracefully. SIGHUP reloads the origin policy.
func (s *Server) Run(ctx context.Context) error {
	publicLn, err := net.Listen("tcp", s.config.Server.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Server.Address, err)
	}
	var adminLn net.Listener
	if s.admin != nil {
		adminLn, err = net.Listen("tcp", s.config.Admin.Address)
		if err != nil {
			publicLn.Close()
			return fmt.Errorf("listen admin %s: %w", s.config.Admin.Address, err)
		}
	}

	s.mu.Lock()
	s.publicAddr = publicLn.Addr()
	if adminLn != nil {
		s.adminAddr = adminLn.Addr()
	}
	s.mu.Unlock()
	close(s.ready)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("edge listening", zap.String("address", publicLn.Addr().String()))
		return serve(s.public, publicLn)
	})
	if adminLn != nil {
		g.Go(func() error {
			logging.Info("admin listening", zap.String("address", adminLn.Addr().String()))
			return serve(s.admin, adminLn)
		})
	}
	if relay := s.gateway.Relay(); relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	if checker := s.gateway.Health(); checker != nil {
		g.Go(func() error { return checker.Run(gctx) })
	}
	if s.watcher != nil {
		g.Go(func() error {
			if err := s.watcher.Run(gctx); err != nil {
				// hot reload is optional; SIGHUP still works
				logging.Warn("config watcher stopped", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		s.handleSignals(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	err = g.Wait()
	logging.Info("server stopped")
	return err
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSignals(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			s.Reload()
		}
	}
}

// Reload re-reads the config file and applies the origin policy.
func (s *Server) Reload() {
	if s.watcher == nil {
		logging.Warn("reload requested but no config file is in use")
		return
	}
	s.watcher.Reload()
}

// shutdown drains both listeners within server.shutdown_timeout.
func (s *Server) shutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logging.Info("shutting down gracefully", zap.Duration("timeout", timeout))

	var firstErr error
	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			logging.Error("admin server shutdown error", zap.Error(err))
			firstErr = err
		}
	}
	if err := s.public.Shutdown(ctx); err != nil {
		logging.Error("server shutdown error", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := s.gateway.Close(ctx); err != nil {
		logging.Error("gateway close error", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound public address, nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publicAddr
}

// AdminAddr returns the bound admin address, nil when disabled or before Ready.
func (s *Server) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminAddr
}

// Gateway returns the underlying gateway.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}
