package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/socialcommunity/moderation/automod/assets"
	"github.com/socialcommunity/moderation/automod/classifier"
	"github.com/socialcommunity/moderation/automod/engine"
	"github.com/socialcommunity/moderation/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "moderator",
		Usage:   "post moderation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"MODERATOR_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: text or json",
			EnvVars: []string{"MODERATOR_LOG_FMT", "LOG_FMT"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   20,
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/moderator/posts.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.BoolFlag{
			Name:    "enable-db-tracing",
			Usage:   "emit OTEL spans for database queries",
			EnvVars: []string{"MODERATOR_ENABLE_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":5000",
			EnvVars: []string{"MODERATOR_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":5001",
			EnvVars: []string{"MODERATOR_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL, for counters and verdict cache (in-process memory if not set)",
			EnvVars: []string{"MODERATOR_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:     "jwt-secret",
			Usage:    "HMAC secret used to verify bearer tokens",
			Required: true,
			EnvVars:  []string{"JWT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "gemini-api-key",
			Usage:   "API key for the Generative Language API",
			EnvVars: []string{"GEMINI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "gemini-model",
			Value:   classifier.DefaultGeminiModel,
			EnvVars: []string{"GEMINI_MODEL"},
		},
		&cli.StringFlag{
			Name:    "gemini-host",
			Value:   classifier.DefaultGeminiHost,
			EnvVars: []string{"GEMINI_HOST"},
		},
		&cli.StringFlag{
			Name:    "verdict-schema",
			Usage:   "JSON shape requested from the classifier: full or simple",
			Value:   string(classifier.SchemaFull),
			EnvVars: []string{"MODERATOR_VERDICT_SCHEMA"},
		},
		&cli.StringFlag{
			Name:    "policy",
			Usage:   "action for qualifying verdicts: remove (redact) or review (flag for human review)",
			Value:   string(engine.PolicyRemove),
			EnvVars: []string{"MODERATOR_POLICY"},
		},
		&cli.Float64Flag{
			Name:    "confidence-threshold",
			Usage:   "verdicts must be more confident than this to be acted on, in [0, 1)",
			Value:   engine.DefaultThreshold,
			EnvVars: []string{"MODERATOR_CONFIDENCE_THRESHOLD"},
		},
		&cli.Float64Flag{
			Name:    "classifier-rate-limit",
			Usage:   "max classifier requests per second (0 for unlimited)",
			Value:   1,
			EnvVars: []string{"MODERATOR_CLASSIFIER_RATE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "verdict-cache-ttl",
			Value:   30 * time.Minute,
			EnvVars: []string{"MODERATOR_VERDICT_CACHE_TTL"},
		},
		&cli.IntFlag{
			Name:    "eval-parallelism",
			Usage:   "number of concurrent post evaluations",
			Value:   4,
			EnvVars: []string{"MODERATOR_EVAL_PARALLELISM"},
		},
		&cli.IntFlag{
			Name:    "eval-queue-size",
			Usage:   "evaluations waiting beyond this are dropped",
			Value:   1000,
			EnvVars: []string{"MODERATOR_EVAL_QUEUE_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "eval-timeout",
			Value:   time.Minute,
			EnvVars: []string{"MODERATOR_EVAL_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "S3-compatible endpoint for image assets (empty for AWS)",
			EnvVars: []string{"MODERATOR_S3_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Value:   "us-east-1",
			EnvVars: []string{"MODERATOR_S3_REGION", "AWS_REGION"},
		},
		&cli.StringFlag{
			Name:    "s3-bucket",
			Usage:   "bucket holding image assets; asset deletions are only logged if not set",
			EnvVars: []string{"MODERATOR_S3_BUCKET"},
		},
		&cli.StringFlag{
			Name:    "s3-access-key",
			EnvVars: []string{"MODERATOR_S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID"},
		},
		&cli.StringFlag{
			Name:    "s3-secret-key",
			EnvVars: []string{"MODERATOR_S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY"},
		},
		&cli.StringFlag{
			Name:    "asset-folder",
			Value:   assets.DefaultFolder,
			EnvVars: []string{"MODERATOR_ASSET_FOLDER"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		})
		if err != nil {
			return err
		}

		shutdownOTEL := configOTEL("moderator")
		defer shutdownOTEL()

		schema, err := classifier.ParseSchema(cctx.String("verdict-schema"))
		if err != nil {
			return err
		}
		policy, err := engine.ParsePolicy(cctx.String("policy"))
		if err != nil {
			return err
		}
		threshold := cctx.Float64("confidence-threshold")
		if err := engine.ValidateThreshold(threshold); err != nil {
			return err
		}

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if cctx.Bool("enable-db-tracing") {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return err
			}
		}

		srv, err := NewServer(
			db,
			Config{
				Logger:              logger,
				RedisURL:            cctx.String("redis-url"),
				JWTSecret:           cctx.String("jwt-secret"),
				GeminiAPIKey:        cctx.String("gemini-api-key"),
				GeminiModel:         cctx.String("gemini-model"),
				GeminiHost:          cctx.String("gemini-host"),
				VerdictSchema:       schema,
				VerdictCacheTTL:     cctx.Duration("verdict-cache-ttl"),
				ClassifierRateLimit: cctx.Float64("classifier-rate-limit"),
				Policy:              policy,
				Threshold:           &threshold,
				EvalParallelism:     cctx.Int("eval-parallelism"),
				EvalQueueSize:       cctx.Int("eval-queue-size"),
				EvalTimeout:         cctx.Duration("eval-timeout"),
				S3: assets.S3Config{
					Endpoint:  cctx.String("s3-endpoint"),
					Region:    cctx.String("s3-region"),
					Bucket:    cctx.String("s3-bucket"),
					AccessKey: cctx.String("s3-access-key"),
					SecretKey: cctx.String("s3-secret-key"),
					Folder:    cctx.String("asset-folder"),
				},
				SlackWebhookURL: cctx.String("slack-webhook-url"),
			},
		)
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.Run(ctx, cctx.String("bind")); err != nil {
			return fmt.Errorf("failed to run moderation service: %w", err)
		}
		logger.Info("graceful shutdown complete")
		return nil
	},
}
