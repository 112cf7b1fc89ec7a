package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/fcgi"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jmcleod/totpauth/api"
	"github.com/jmcleod/totpauth/cookie"
	"github.com/jmcleod/totpauth/dispatch"
	"github.com/jmcleod/totpauth/internal/config"
	"github.com/jmcleod/totpauth/internal/logging"
	"github.com/jmcleod/totpauth/ratelimit"
	"github.com/jmcleod/totpauth/web"
)

const shutdownTimeout = 10 * time.Second

var quiet bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the startup banner")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	level, err := cfg.LogLevelValue()
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.Open(cfg.LogPath, level)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	// Teardown runs in reverse: limiter, then the cookie secret, then the log.
	cookies, err := cookie.New([]byte(cfg.Secret))
	if err != nil {
		return err
	}
	defer cookies.Destroy()
	if cfg.Secret == "" {
		logger.Warn("no secret configured, generated a random one; sessions will not survive a restart")
	}

	limiter, err := newLimiter(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer limiter.Close()

	pages, err := web.New(cfg.TemplateDir)
	if err != nil {
		return err
	}
	sites, err := cfg.Directory()
	if err != nil {
		return err
	}
	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	a := api.New(sites, cookies, limiter, pages,
		api.WithLogger(logger),
		api.WithTrustedProxies(proxies),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("alert", "type", e.Type, "message", e.Message, "count", e.Count, "threshold", e.Threshold)
		}),
	)

	network, address, err := cfg.ListenAddr()
	if err != nil {
		return err
	}
	ln, err := listen(network, address)
	if err != nil {
		return err
	}

	queue := dispatch.NewQueue[*api.Job](cfg.QueueSize)
	pool := dispatch.NewPool(queue, cfg.Workers, a.Process)
	pool.Start()

	front := api.NewFrontend(queue, logger)
	srv := newServer(cfg.Mode, ln, front.Router(), logger)

	signal.Ignore(syscall.SIGPIPE)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	done := make(chan error, 1)
	go func() {
		done <- srv.serve()
	}()

	if !quiet {
		printBanner(cmd.OutOrStdout())
	}
	logger.Info("serving",
		"mode", cfg.Mode,
		"listen", cfg.Listen,
		"workers", pool.Size(),
		"auth_per_second", cfg.AuthPerSecond,
		"rate_limit_backend", cfg.RateLimit.Backend,
		"hosts", sites.Hosts(),
		"version", Version,
	)

	var serveErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.shutdown(ctx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
	case serveErr = <-done:
		if serveErr != nil {
			logger.Error("server failed", "error", serveErr)
		}
	}

	queue.Close()
	pool.Wait()
	logger.Info("workers stopped")
	return serveErr
}

// newLimiter builds the configured rate limiter backend. A Redis backend
// must answer a PING before the service starts.
func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, error) {
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RateLimit.RedisAddr, err)
		}
		return ratelimit.NewRedis(client, cfg.AuthPerSecond, ratelimit.WithKeyPrefix(cfg.RateLimit.KeyPrefix)), nil
	default:
		return ratelimit.NewMemory(cfg.AuthPerSecond, ratelimit.WithIdleTTL(cfg.RateLimit.IdleTTL)), nil
	}
}

// listen opens the listening socket. A stale unix socket file is replaced
// and the new one is made group-writable for the proxy.
func listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s:%s: %w", network, address, err)
	}
	if network == "unix" {
		if err := os.Chmod(address, 0o660); err != nil {
			ln.Close()
			return nil, fmt.Errorf("setting socket permissions: %w", err)
		}
	}
	return ln, nil
}

// server hides the difference between the FastCGI and plain HTTP front ends.
type server struct {
	ln      net.Listener
	handler http.Handler
	http    *http.Server // nil in FastCGI mode
}

func newServer(mode string, ln net.Listener, handler http.Handler, logger *slog.Logger) *server {
	s := &server{ln: ln, handler: handler}
	if mode == config.ModeHTTP {
		s.http = &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		}
	}
	return s
}

// serve blocks until the listener is closed. A deliberate stop is not an error.
func (s *server) serve() error {
	var err error
	if s.http != nil {
		err = s.http.Serve(s.ln)
	} else {
		err = fcgi.Serve(s.ln, s.handler)
	}
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// shutdown stops accepting. In HTTP mode it also waits, up to ctx, for
// requests in flight.
func (s *server) shutdown(ctx context.Context) error {
	if s.http != nil {
		return s.http.Shutdown(ctx)
	}
	return s.ln.Close()
}
