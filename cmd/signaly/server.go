package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gravitalia/signaly/auth"
	"github.com/gravitalia/signaly/cachestore"
	"github.com/gravitalia/signaly/countstore"
	"github.com/gravitalia/signaly/identity"
	"github.com/gravitalia/signaly/notify"
	"github.com/gravitalia/signaly/pkg/robusthttp"
	"github.com/gravitalia/signaly/platform"
	"github.com/gravitalia/signaly/propagate"
	"github.com/gravitalia/signaly/ratelimit"
	"github.com/gravitalia/signaly/sanction"
	"github.com/gravitalia/signaly/store"
	"github.com/gravitalia/signaly/sweep"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"golang.org/x/time/rate"
	"gorm.io/plugin/opentelemetry/tracing"
)

type Server struct {
	echo    *echo.Echo
	httpd   *http.Server
	logger  *slog.Logger
	engine  *sanction.Engine
	sweeper *sweep.Sweeper
	closers []func()
}

type Config struct {
	Logger            *slog.Logger
	Bind              string
	DatabaseURL       string
	MaxDatabaseConns  int
	DatabaseTracing   bool
	CassandraHosts    []string
	CassandraKeyspace string
	CassandraUsername string
	CassandraPassword string
	RedisURL          string
	MemcachedHosts    []string
	PublicKey         string
	IdentityHost      string
	GlobalAuth        string
	// platform name to base URL
	Platforms          map[string]string
	Services           []string
	DiscordWebhookURL  string
	DiscordMentionRole string
	SlackWebhookURL    string
	PlatformRateLimit  int
	SuspendQuotaPerDay int
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	if config.PublicKey == "" {
		return nil, fmt.Errorf("a public key is required to verify tokens")
	}
	verifier, err := auth.LoadVerifier(config.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("loading token public key: %w", err)
	}
	if config.IdentityHost == "" {
		return nil, fmt.Errorf("identity service host is required")
	}
	if len(config.Platforms) == 0 {
		return nil, fmt.Errorf("at least one federated platform must be configured")
	}

	srv := &Server{logger: logger}

	var db store.Store
	if len(config.CassandraHosts) > 0 {
		logger.Info("configuring cassandra store", "hosts", config.CassandraHosts, "keyspace", config.CassandraKeyspace)
		scylla, err := store.NewScyllaStore(store.ScyllaConfig{
			Hosts:    config.CassandraHosts,
			Keyspace: config.CassandraKeyspace,
			Username: config.CassandraUsername,
			Password: config.CassandraPassword,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing cassandra store: %w", err)
		}
		srv.closers = append(srv.closers, scylla.Close)
		db = scylla
	} else {
		gdb, err := store.SetupDatabase(config.DatabaseURL, config.MaxDatabaseConns)
		if err != nil {
			return nil, err
		}
		if config.DatabaseTracing {
			if err := gdb.Use(tracing.NewPlugin()); err != nil {
				return nil, err
			}
		}
		gs, err := store.NewGormStore(gdb)
		if err != nil {
			return nil, fmt.Errorf("initializing SQL store: %w", err)
		}
		db = gs
	}

	var limiter ratelimit.Limiter
	var counters countstore.CountStore
	var cache cachestore.CacheStore
	switch {
	case len(config.MemcachedHosts) > 0:
		logger.Info("configuring memcached rate limiter", "hosts", config.MemcachedHosts)
		limiter = ratelimit.NewMemcacheLimiter(ratelimit.Window, config.MemcachedHosts...)
	case config.RedisURL != "":
		rl, err := ratelimit.NewRedisLimiter(config.RedisURL, ratelimit.Window)
		if err != nil {
			return nil, fmt.Errorf("initializing redis rate limiter: %w", err)
		}
		limiter = rl
	default:
		limiter = ratelimit.NewMemLimiter(ratelimit.Window)
	}
	if config.RedisURL != "" {
		cnt, err := countstore.NewRedisCountStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %w", err)
		}
		counters = cnt

		csh, err := cachestore.NewRedisCacheStore(config.RedisURL, 5*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %w", err)
		}
		srv.closers = append(srv.closers, func() { csh.Close() })
		cache = csh
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(5_000, 5*time.Minute)
	}

	hc := robusthttp.NewClient(
		robusthttp.WithLogger(logger.With("subsystem", "robusthttp")),
		robusthttp.WithHeader("Authorization", config.GlobalAuth),
	)

	registry := platform.NewRegistry()
	for name, host := range config.Platforms {
		var lim *rate.Limiter
		if config.PlatformRateLimit > 0 {
			lim = rate.NewLimiter(rate.Limit(config.PlatformRateLimit), 1)
		}
		registry.Register(name, &platform.CachingClient{
			Name:   name,
			Inner:  platform.NewHTTPClient(host, hc, lim),
			Cache:  cache,
			Logger: logger,
		})
		logger.Info("registered platform", "platform", name, "host", host)
	}

	services := make([]platform.Client, 0, len(config.Services))
	for _, host := range config.Services {
		services = append(services, platform.NewHTTPClient(host, hc, nil))
	}

	idc := identity.NewHTTPClient(config.IdentityHost, hc)
	prop := &propagate.Propagator{
		Identity:  idc,
		Platforms: registry,
		Services:  services,
		Logger:    logger,
	}

	srv.engine = &sanction.Engine{
		Logger:       logger,
		Verifier:     verifier,
		Identity:     idc,
		Platforms:    registry,
		Store:        db,
		Limiter:      limiter,
		Counters:     counters,
		Propagator:   prop,
		Notifier:     buildNotifier(config, logger),
		SuspendQuota: config.SuspendQuotaPerDay,
		CallTimeout:  20 * time.Second,
	}

	hostname, _ := os.Hostname()
	srv.sweeper = &sweep.Sweeper{
		Store:      db,
		Propagator: prop,
		Logger:     logger.With("subsystem", "sweep"),
		Owner:      fmt.Sprintf("%s/%s", hostname, uuid.NewString()),
	}

	srv.setupEcho(config.Bind)
	return srv, nil
}

func buildNotifier(config Config, logger *slog.Logger) notify.Notifier {
	var out notify.MultiNotifier
	webhookClient := robusthttp.NewClient(robusthttp.WithLogger(logger), robusthttp.WithMaxRetries(2))
	if config.DiscordWebhookURL != "" {
		logger.Info("configuring discord notifications")
		out = append(out, &notify.DiscordNotifier{
			WebhookURL:  config.DiscordWebhookURL,
			MentionRole: config.DiscordMentionRole,
			Client:      webhookClient,
		})
	}
	if config.SlackWebhookURL != "" {
		logger.Info("configuring slack notifications")
		out = append(out, &notify.SlackNotifier{
			SlackWebhookURL: config.SlackWebhookURL,
			Client:          webhookClient,
		})
	}
	if len(out) == 0 {
		logger.Warn("no webhook configured, notifications are only logged")
		return &notify.LogNotifier{Logger: logger}
	}
	return out
}

func (srv *Server) setupEcho(bind string) {
	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv.echo = e
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(srv.logger))
	e.Use(middleware.Recover())
	e.Use(httpMetrics)
	e.Use(middleware.BodyLimit("64K"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)
	e.POST("/report", srv.HandleReport)
	e.POST("/suspend", srv.HandleSuspend)
	e.POST("/unsuspend", srv.HandleUnsuspend)
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Serves the API until ctx is done, then shuts down gracefully.
func (srv *Server) RunAPI(ctx context.Context) error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	srv.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.httpd.Shutdown(sctx)
}

func (srv *Server) Close() {
	for _, c := range srv.closers {
		c()
	}
}
