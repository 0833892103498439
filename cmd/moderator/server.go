package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/socialcommunity/moderation/automod/assets"
	"github.com/socialcommunity/moderation/automod/cachestore"
	"github.com/socialcommunity/moderation/automod/classifier"
	"github.com/socialcommunity/moderation/automod/countstore"
	"github.com/socialcommunity/moderation/automod/engine"
	"github.com/socialcommunity/moderation/automod/notify"
	"github.com/socialcommunity/moderation/automod/poststore"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	slogecho "github.com/samber/slog-echo"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Server struct {
	logger      *slog.Logger
	echo        *echo.Echo
	httpd       *http.Server
	posts       poststore.PostStore
	scheduler   *engine.Scheduler
	broadcaster *notify.Broadcaster
	counters    countstore.CountStore
	assets      assets.AssetStore
	rdb         *redis.Client
	jwtSecret   []byte
}

type Config struct {
	Logger              *slog.Logger
	RedisURL            string
	JWTSecret           string
	GeminiAPIKey        string
	GeminiModel         string
	GeminiHost          string
	VerdictSchema       classifier.Schema
	VerdictCacheTTL     time.Duration
	ClassifierRateLimit float64
	Policy              engine.Policy
	Threshold           *float64 // nil means engine.DefaultThreshold
	EvalParallelism     int
	EvalQueueSize       int
	EvalTimeout         time.Duration
	S3                  assets.S3Config
	SlackWebhookURL     string

	// used instead of the Gemini client, if set
	Classifier classifier.Classifier
	// used instead of the S3 asset store, if set
	Assets assets.AssetStore
	// registry for HTTP request metrics; defaults to the global prometheus registry
	MetricsRegisterer prometheus.Registerer
	// called after each scheduled evaluation (optional)
	OnEvaluation func(engine.Job, engine.Result)
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("a JWT secret is required")
	}

	threshold := engine.DefaultThreshold
	if config.Threshold != nil {
		threshold = *config.Threshold
	}
	if err := engine.ValidateThreshold(threshold); err != nil {
		return nil, err
	}

	posts, err := poststore.NewGormPostStore(db)
	if err != nil {
		return nil, err
	}

	var counters countstore.CountStore
	var cache cachestore.VerdictStore
	var rdb *redis.Client
	if config.VerdictCacheTTL == 0 {
		config.VerdictCacheTTL = 30 * time.Minute
	}
	if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}
		counters = countstore.NewRedisCountStore(rdb)
		cache = cachestore.NewRedisVerdictStore(rdb, config.VerdictCacheTTL)
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemVerdictStore(5_000, config.VerdictCacheTTL)
	}

	clf := config.Classifier
	if clf == nil {
		if config.GeminiAPIKey == "" {
			return nil, fmt.Errorf("a Gemini API key is required")
		}
		logger.Info("configuring Gemini content classifier", "model", config.GeminiModel, "schema", config.VerdictSchema)
		gc := classifier.NewGeminiClient(classifier.GeminiConfig{
			Host:    config.GeminiHost,
			APIKey:  config.GeminiAPIKey,
			Model:   config.GeminiModel,
			Schema:  config.VerdictSchema,
			Timeout: config.EvalTimeout,
			Logger:  logger,
		})
		// cache hits skip the rate limiter
		clf = cachestore.NewCachedClassifier(
			classifier.NewRateLimited(gc, config.ClassifierRateLimit, 1),
			cache,
			gc.Schema,
			logger,
		)
	}

	assetStore := config.Assets
	if assetStore == nil {
		if config.S3.Bucket != "" {
			logger.Info("configuring S3 asset cleanup", "bucket", config.S3.Bucket, "endpoint", config.S3.Endpoint)
			config.S3.Logger = logger
			assetStore, err = assets.NewS3AssetStore(context.Background(), config.S3)
			if err != nil {
				return nil, err
			}
		} else {
			logger.Warn("no asset bucket configured, image deletions will only be recorded in memory")
			assetStore = assets.NewMemAssetStore(config.S3.Folder)
		}
	}

	broadcaster := notify.NewBroadcaster(logger, 256)
	var notifier notify.Notifier = broadcaster
	if config.SlackWebhookURL != "" {
		logger.Info("configuring slack notifications")
		notifier = notify.Multi{broadcaster, notify.NewSlackNotifier(config.SlackWebhookURL)}
	}

	eng := &engine.Engine{
		Logger:     logger.With("component", "engine"),
		Posts:      posts,
		Classifier: clf,
		Notifier:   notifier,
		Assets:     assetStore,
		Counters:   counters,
		Policy:     config.Policy,
		Threshold:  threshold,
	}
	scheduler := engine.NewScheduler(eng, engine.SchedulerConfig{
		Parallelism: config.EvalParallelism,
		QueueSize:   config.EvalQueueSize,
		Timeout:     config.EvalTimeout,
		Logger:      logger,
		OnResult:    config.OnEvaluation,
	})

	s := &Server{
		logger:      logger,
		posts:       posts,
		scheduler:   scheduler,
		broadcaster: broadcaster,
		counters:    counters,
		assets:      assetStore,
		rdb:         rdb,
		jwtSecret:   []byte(config.JWTSecret),
	}
	s.echo = s.setupEcho(config.MetricsRegisterer)
	return s, nil
}

func (s *Server) setupEcho(reg prometheus.Registerer) *echo.Echo {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "moderator",
		Registerer: reg,
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/health", s.HandleHealthCheck)

	api := e.Group("/api", s.requireAuth)
	api.POST("/posts", s.HandleCreatePost)
	api.GET("/posts", s.HandleListPosts)
	api.GET("/posts/flagged", s.HandleFlaggedPosts)
	api.PUT("/posts/:id", s.HandleUpdatePost)
	api.DELETE("/posts/:id", s.HandleDeletePost)
	api.GET("/review/queue", s.HandleReviewQueue)
	api.GET("/review/stream", s.HandleReviewStream)
	api.GET("/review/stream/stats", s.HandleReviewStreamStats)
	api.GET("/review/authors/:id/stats", s.HandleAuthorStats)
	return e
}

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= 500 {
		s.logger.Warn("moderator-http-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	c.JSON(code, GenericError{Error: http.StatusText(code), Message: msg})
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	s.echo.ServeHTTP(rw, req)
}

// Runs the HTTP server, the fan-out loop and the evaluation workers until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context, bind string) error {
	s.httpd = &http.Server{
		Handler:        s,
		Addr:           bind,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1024 * 1024,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.broadcaster.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		return s.scheduler.Run(ctx)
	})
	eg.Go(func() error {
		s.logger.Info("starting server", "bind", bind)
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		return s.Shutdown()
	})
	return eg.Wait()
}

func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.httpd.Shutdown(ctx)
	if s.rdb != nil {
		if cerr := s.rdb.Close(); cerr != nil {
			s.logger.Warn("closing redis client", "err", cerr)
		}
	}
	return err
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}
