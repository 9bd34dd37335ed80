package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gravitalia/signaly/pkg/metrics"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "signaly",
		Usage:   "report and sanction daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"SIGNALY_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.IntFlag{
			Name:    "max-metadb-connections",
			EnvVars: []string{"MAX_METADB_CONNECTIONS"},
			Value:   40,
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":8888",
			EnvVars: []string{"SIGNALY_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":8889",
			EnvVars: []string{"SIGNALY_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "SQL database for reports and sanctions, when cassandra is not configured",
			Value:   "sqlite://data/signaly/signaly.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.BoolFlag{
			Name:    "enable-db-tracing",
			Usage:   "trace SQL queries with OpenTelemetry",
			EnvVars: []string{"SIGNALY_ENABLE_DB_TRACING"},
		},
		&cli.StringSliceFlag{
			Name:    "cassandra-hosts",
			Usage:   "cassandra/scylla contact points; takes precedence over --database-url",
			EnvVars: []string{"CASSANDRA_HOSTS", "CASSANDRA_HOST"},
		},
		&cli.StringFlag{
			Name:    "cassandra-keyspace",
			Value:   "signaly",
			EnvVars: []string{"CASSANDRA_KEYSPACE"},
		},
		&cli.StringFlag{
			Name:    "cassandra-username",
			EnvVars: []string{"CASSANDRA_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "cassandra-password",
			EnvVars: []string{"CASSANDRA_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL: redis://<user>:<pass>@<hostname>:6379/<db>",
			EnvVars: []string{"SIGNALY_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringSliceFlag{
			Name:    "memcached-hosts",
			Usage:   "memcached servers holding rate limit slots; takes precedence over redis",
			EnvVars: []string{"MEMCACHED_HOSTS", "MEMCACHED_HOST"},
		},
		&cli.StringFlag{
			Name:    "public-key",
			Usage:   "PEM public key (or path to one) verifying caller tokens",
			EnvVars: []string{"RSA_PUBLIC_KEY", "SIGNALY_PUBLIC_KEY"},
		},
		&cli.StringFlag{
			Name:    "identity-host",
			Usage:   "base URL of the identity service",
			EnvVars: []string{"AUTHA_URL", "SIGNALY_IDENTITY_HOST"},
		},
		&cli.StringFlag{
			Name:    "global-auth",
			Usage:   "credential sent in the Authorization header to downstream services",
			EnvVars: []string{"GLOBAL_AUTH"},
		},
		&cli.StringSliceFlag{
			Name:    "platform",
			Usage:   "federated platform as name=url (repeatable)",
			EnvVars: []string{"SIGNALY_PLATFORMS"},
		},
		&cli.StringFlag{
			Name:    "gravitalia-url",
			Usage:   "base URL of the gravitalia platform (shorthand for --platform gravitalia=<url>)",
			EnvVars: []string{"GRAVITALIA_URL"},
		},
		&cli.StringFlag{
			Name:    "services-config",
			Usage:   "YAML file listing every federated service for account-wide sanctions",
			Value:   "config.yaml",
			EnvVars: []string{"SIGNALY_SERVICES_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "discord-webhook",
			EnvVars: []string{"DISCORD_WEBHOOK"},
		},
		&cli.StringFlag{
			Name:    "discord-mention-role",
			Usage:   "discord role ID pinged for actionable notifications",
			EnvVars: []string{"DISCORD_MENTION_ROLE"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.IntFlag{
			Name:    "platform-rate-limit",
			Usage:   "max number of requests per second to each federated platform",
			Value:   50,
			EnvVars: []string{"SIGNALY_PLATFORM_RATE_LIMIT"},
		},
		&cli.IntFlag{
			Name:    "suspend-quota-day",
			Usage:   "max automatic suspensions per UTC day (negative disables the quota)",
			Value:   50,
			EnvVars: []string{"SIGNALY_SUSPEND_QUOTA_DAY"},
		},
		&cli.BoolFlag{
			Name:    "sweep-disable",
			Usage:   "do not run the expiry sweep in this instance",
			EnvVars: []string{"SIGNALY_SWEEP_DISABLE"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		logger := configLogger(cctx, os.Stdout)

		shutdownOTEL := configOTEL("signaly")
		defer shutdownOTEL()

		platforms, err := parsePlatforms(cctx.StringSlice("platform"))
		if err != nil {
			return err
		}
		if u := cctx.String("gravitalia-url"); u != "" {
			if _, ok := platforms["gravitalia"]; !ok {
				platforms["gravitalia"] = u
			}
		}
		services, err := loadServicesConfig(cctx.String("services-config"))
		if err != nil {
			return err
		}

		srv, err := NewServer(Config{
			Logger:             logger,
			Bind:               cctx.String("bind"),
			DatabaseURL:        cctx.String("database-url"),
			MaxDatabaseConns:   cctx.Int("max-metadb-connections"),
			DatabaseTracing:    cctx.Bool("enable-db-tracing"),
			CassandraHosts:     cctx.StringSlice("cassandra-hosts"),
			CassandraKeyspace:  cctx.String("cassandra-keyspace"),
			CassandraUsername:  cctx.String("cassandra-username"),
			CassandraPassword:  cctx.String("cassandra-password"),
			RedisURL:           cctx.String("redis-url"),
			MemcachedHosts:     cctx.StringSlice("memcached-hosts"),
			PublicKey:          cctx.String("public-key"),
			IdentityHost:       cctx.String("identity-host"),
			GlobalAuth:         cctx.String("global-auth"),
			Platforms:          platforms,
			Services:           services.Services,
			DiscordWebhookURL:  cctx.String("discord-webhook"),
			DiscordMentionRole: cctx.String("discord-mention-role"),
			SlackWebhookURL:    cctx.String("slack-webhook"),
			PlatformRateLimit:  cctx.Int("platform-rate-limit"),
			SuspendQuotaPerDay: cctx.Int("suspend-quota-day"),
		})
		if err != nil {
			return err
		}
		defer srv.Close()

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return metrics.RunServer(ctx, cctx.String("metrics-listen"))
		})
		eg.Go(func() error {
			return srv.RunAPI(ctx)
		})
		if !cctx.Bool("sweep-disable") {
			eg.Go(func() error {
				return srv.sweeper.Run(ctx)
			})
		}
		if err := eg.Wait(); err != nil {
			return fmt.Errorf("failed to run signaly service: %w", err)
		}
		logger.Info("graceful shutdown complete")
		return nil
	},
}
