package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/socialcommunity/moderation/automod/assets"
	"github.com/socialcommunity/moderation/automod/classifier"
	"github.com/socialcommunity/moderation/automod/countstore"
	"github.com/socialcommunity/moderation/automod/notify"
	"github.com/socialcommunity/moderation/automod/poststore"
	"github.com/socialcommunity/moderation/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultThreshold = 0.7

// What happens to a post when a verdict qualifies.
type Policy string

const (
	// redact content and move to REMOVED
	PolicyRemove Policy = "remove"
	// move to PENDING_REVIEW, leaving content in place
	PolicyReview Policy = "review"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyRemove, "":
		return PolicyRemove, nil
	case PolicyReview:
		return PolicyReview, nil
	}
	return "", fmt.Errorf("unknown moderation policy: %q", s)
}

type Outcome string

const (
	OutcomeApplied Outcome = "APPLIED"
	OutcomeSkipped Outcome = "SKIPPED"
	OutcomeFailed  Outcome = "FAILED"
)

const (
	ReasonApplied           = "applied"
	ReasonPostMissing       = "post-missing"
	ReasonNotActive         = "not-active"
	ReasonImageSuperseded   = "image-superseded"
	ReasonNoViolation       = "no-violation"
	ReasonBelowThreshold    = "below-threshold"
	ReasonContentSuperseded = "content-superseded"
	ReasonRaceLost          = "race-lost"
	ReasonClassifierFailure = "classifier-failure"
	ReasonStoreFailure      = "store-failure"
	ReasonPanic             = "panic"
)

// Terminal state of a single evaluation.
type Result struct {
	Outcome Outcome
	Reason  string
	// the post as written, only set when APPLIED
	Post    *models.Post
	Verdict *classifier.Verdict
	Err     error
}

var tracer = otel.Tracer("moderation-engine")

// Runtime for evaluating posts and applying verdicts.
//
// Counters is optional; all other fields must be set. Threshold is used as given: zero acts on any violation with non-zero confidence, so callers normally start from DefaultThreshold.
type Engine struct {
	Logger     *slog.Logger
	Posts      poststore.PostStore
	Classifier classifier.Classifier
	Notifier   notify.Notifier
	Assets     assets.AssetStore
	Counters   countstore.CountStore
	Policy     Policy
	Threshold  float64
}

// Classifies the current text body of a post, and applies the verdict.
func (eng *Engine) EvaluateText(ctx context.Context, postID string) Result {
	return eng.evaluate(ctx, classifier.KindText, postID, "")
}

// Classifies the image at assetRef, which must still be the post's image when the evaluation runs.
func (eng *Engine) EvaluateImage(ctx context.Context, postID, assetRef string) Result {
	return eng.evaluate(ctx, classifier.KindImage, postID, assetRef)
}

func (eng *Engine) evaluate(ctx context.Context, kind classifier.Kind, postID, assetRef string) (res Result) {
	ctx, span := tracer.Start(ctx, "Evaluate"+string(kind), trace.WithAttributes(attribute.String("post", postID)))
	defer span.End()

	logger := eng.Logger.With("post", postID, "kind", kind)
	start := time.Now()

	defer func() {
		// similar to an HTTP server, we want to recover any panics from evaluation
		if r := recover(); r != nil {
			logger.Error("moderation evaluation exception", "err", r)
			res = Result{Outcome: OutcomeFailed, Reason: ReasonPanic, Err: fmt.Errorf("panic: %v", r)}
		}
		evaluationCount.WithLabelValues(string(kind), string(res.Outcome), res.Reason).Inc()
		evaluationDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)), attribute.String("reason", res.Reason))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Reason)
		}
		res.canonicalLogLine(logger, time.Since(start))
	}()

	post, err := eng.Posts.FindByID(ctx, postID)
	if errors.Is(err, poststore.ErrNotFound) {
		// deleted before the evaluation ran
		return skipped(ReasonPostMissing)
	} else if err != nil {
		return failed(ReasonStoreFailure, err)
	}
	if post.Status != models.PostStatusActive {
		return skipped(ReasonNotActive)
	}

	payload := classifier.Payload{Kind: kind, Content: post.Content}
	if kind == classifier.KindImage {
		if post.ImageURL == nil || *post.ImageURL != assetRef {
			return skipped(ReasonImageSuperseded)
		}
		payload.Content = assetRef
	}

	verdict, err := eng.Classifier.Classify(ctx, payload)
	if err != nil {
		// no retry: the post stays ACTIVE until something triggers a new evaluation
		return failed(ReasonClassifierFailure, err)
	}
	if !verdict.IsViolation {
		return Result{Outcome: OutcomeSkipped, Reason: ReasonNoViolation, Verdict: verdict}
	}
	if verdict.Confidence <= eng.Threshold {
		return Result{Outcome: OutcomeSkipped, Reason: ReasonBelowThreshold, Verdict: verdict}
	}

	// the write only lands on the exact content or image that was classified
	patch := eng.verdictPatch(kind, verdict)
	if kind == classifier.KindImage {
		patch.ExpectedImageURL = &assetRef
	} else {
		patch.ExpectedContent = &payload.Content
	}
	updated, err := eng.Posts.Update(ctx, postID, patch, models.PostStatusActive)
	if errors.Is(err, poststore.ErrStatusMismatch) {
		return Result{Outcome: OutcomeSkipped, Reason: ReasonRaceLost, Verdict: verdict}
	} else if errors.Is(err, poststore.ErrSuperseded) {
		reason := ReasonContentSuperseded
		if kind == classifier.KindImage {
			reason = ReasonImageSuperseded
		}
		return Result{Outcome: OutcomeSkipped, Reason: reason, Verdict: verdict}
	} else if errors.Is(err, poststore.ErrNotFound) {
		return Result{Outcome: OutcomeSkipped, Reason: ReasonPostMissing, Verdict: verdict}
	} else if err != nil {
		return Result{Outcome: OutcomeFailed, Reason: ReasonStoreFailure, Verdict: verdict, Err: err}
	}

	imageTakedown := kind == classifier.KindImage && eng.policy() == PolicyRemove

	// from here on the write is committed; side-effect failures are logged and never roll it back
	var payloadOut any = updated
	if imageTakedown {
		payloadOut = notify.ImageRemoved{PostID: postID, ImageRemoved: true}
	}
	if err := eng.Notifier.Publish(ctx, notify.EventNewFlaggedPost, payloadOut); err != nil {
		logger.Warn("failed to publish flagged post event", "err", err)
	}

	if imageTakedown {
		if err := eng.Assets.DeleteAsset(ctx, assetRef); err != nil {
			assetCleanupFailures.Inc()
			logger.Warn("asset cleanup failed", "assetRef", assetRef, "err", err)
		}
	}

	if err := eng.persistCounters(ctx, updated, verdict); err != nil {
		logger.Warn("failed to update counters", "err", err)
	}

	return Result{Outcome: OutcomeApplied, Reason: ReasonApplied, Post: updated, Verdict: verdict}
}

// Thresholds are exclusive, so 1 or more would never act on anything.
func ValidateThreshold(v float64) error {
	if math.IsNaN(v) || v < 0 || v >= 1 {
		return fmt.Errorf("confidence threshold must be in [0, 1): %v", v)
	}
	return nil
}

func (eng *Engine) policy() Policy {
	if eng.Policy == "" {
		return PolicyRemove
	}
	return eng.Policy
}

func (eng *Engine) verdictPatch(kind classifier.Kind, v *classifier.Verdict) poststore.Patch {
	reason := v.Reason()
	patch := poststore.Patch{AIReason: &reason}
	switch eng.policy() {
	case PolicyReview:
		status := models.PostStatusPendingReview
		patch.Status = &status
	default:
		status := models.PostStatusRemoved
		content := models.RemovedContentNotice
		patch.Status = &status
		patch.Content = &content
		if kind == classifier.KindImage {
			patch.ClearImage = true
		}
	}
	return patch
}

func (eng *Engine) persistCounters(ctx context.Context, post *models.Post, v *classifier.Verdict) error {
	if eng.Counters == nil {
		return nil
	}
	if err := eng.Counters.Increment(ctx, countstore.CounterFlaggedByAuthor, post.AuthorID); err != nil {
		return err
	}
	if v.Category == "" {
		return nil
	}
	if err := eng.Counters.Increment(ctx, countstore.CounterFlaggedByCategory, v.Category); err != nil {
		return err
	}
	return eng.Counters.IncrementDistinct(ctx, countstore.CounterDistinctAuthorsByCategory, v.Category, post.AuthorID)
}

func skipped(reason string) Result {
	return Result{Outcome: OutcomeSkipped, Reason: reason}
}

func failed(reason string, err error) Result {
	return Result{Outcome: OutcomeFailed, Reason: reason, Err: err}
}

// One log line summarizing the evaluation. Failures are warnings; everything else is informational.
func (res *Result) canonicalLogLine(logger *slog.Logger, dur time.Duration) {
	attrs := []any{"outcome", res.Outcome, "reason", res.Reason, "duration", dur}
	if res.Verdict != nil {
		attrs = append(attrs, "isViolation", res.Verdict.IsViolation, "category", res.Verdict.Category, "confidence", res.Verdict.Confidence)
	}
	if res.Err != nil {
		attrs = append(attrs, "err", res.Err)
	}
	if res.Outcome == OutcomeFailed {
		logger.Warn("moderation evaluation", attrs...)
		return
	}
	logger.Info("moderation evaluation", attrs...)
}
