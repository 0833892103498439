package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/socialcommunity/moderation/automod/classifier"

	"golang.org/x/sync/errgroup"
)

type Job struct {
	Kind     classifier.Kind
	PostID   string
	AssetRef string
}

type SchedulerConfig struct {
	// number of concurrent evaluations
	Parallelism int
	// evaluations waiting beyond this are dropped
	QueueSize int
	// per-evaluation deadline, covering the classifier call and store write
	Timeout time.Duration
	Logger  *slog.Logger
	// called by the worker after each evaluation (optional)
	OnResult func(Job, Result)
}

// Runs evaluations out-of-band from the code that schedules them, on a fixed pool of workers fed by a bounded queue.
type Scheduler struct {
	engine   *Engine
	logger   *slog.Logger
	queue    chan Job
	parallel int
	timeout  time.Duration
	onResult func(Job, Result)
	stopped  atomic.Bool
}

func NewScheduler(eng *Engine, config SchedulerConfig) *Scheduler {
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Scheduler{
		engine:   eng,
		logger:   config.Logger.With("component", "scheduler"),
		queue:    make(chan Job, config.QueueSize),
		parallel: config.Parallelism,
		timeout:  config.Timeout,
		onResult: config.OnResult,
	}
}

// Queues a text evaluation. Never blocks; returns false if the job was dropped.
func (s *Scheduler) ScheduleText(postID string) bool {
	return s.enqueue(Job{Kind: classifier.KindText, PostID: postID})
}

// Queues an image evaluation. Never blocks; returns false if the job was dropped.
func (s *Scheduler) ScheduleImage(postID, assetRef string) bool {
	return s.enqueue(Job{Kind: classifier.KindImage, PostID: postID, AssetRef: assetRef})
}

func (s *Scheduler) enqueue(j Job) bool {
	if s.stopped.Load() {
		schedulerDropped.WithLabelValues(string(j.Kind)).Inc()
		s.logger.Warn("dropping evaluation, scheduler stopped", "post", j.PostID, "kind", j.Kind)
		return false
	}
	select {
	case s.queue <- j:
		schedulerQueueDepth.Inc()
		return true
	default:
		schedulerDropped.WithLabelValues(string(j.Kind)).Inc()
		s.logger.Warn("dropping evaluation, queue full", "post", j.PostID, "kind", j.Kind)
		return false
	}
}

// Runs workers until ctx is done. Evaluations in flight at shutdown are cancelled with ctx; queued ones are dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting evaluation workers", "parallelism", s.parallel, "queueSize", cap(s.queue))
	defer s.stopped.Store(true)

	var eg errgroup.Group
	for i := 0; i < s.parallel; i++ {
		eg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-s.queue:
					schedulerQueueDepth.Dec()
					s.runJob(ctx, j)
				}
			}
		})
	}
	err := eg.Wait()
	if n := len(s.queue); n > 0 {
		s.logger.Warn("dropping queued evaluations at shutdown", "count", n)
	}
	return err
}

func (s *Scheduler) runJob(ctx context.Context, j Job) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var res Result
	switch j.Kind {
	case classifier.KindImage:
		res = s.engine.EvaluateImage(ctx, j.PostID, j.AssetRef)
	default:
		res = s.engine.EvaluateText(ctx, j.PostID)
	}
	if s.onResult != nil {
		s.onResult(j, res)
	}
}
