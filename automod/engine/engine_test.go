package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/socialcommunity/moderation/automod/assets"
	"github.com/socialcommunity/moderation/automod/classifier"
	"github.com/socialcommunity/moderation/automod/countstore"
	"github.com/socialcommunity/moderation/automod/notify"
	"github.com/socialcommunity/moderation/automod/poststore"
	"github.com/socialcommunity/moderation/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func createPost(t *testing.T, f EngineFixture, id, content string, imageURL *string) {
	require.NoError(t, f.Posts.Create(context.Background(), &models.Post{
		ID:       id,
		AuthorID: "author-" + id,
		Content:  content,
		ImageURL: imageURL,
	}))
}

func TestEvaluateTextViolation(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	createPost(t, f, "p1", "You are all idiots", nil)
	f.Classifier.Set("You are all idiots", &classifier.Verdict{IsViolation: true, Category: "harassment", Confidence: 0.92, Justification: "personal attack"})

	res := f.Engine.EvaluateText(ctx, "p1")
	assert.Equal(OutcomeApplied, res.Outcome)
	require.NotNil(res.Post)

	p, err := f.Posts.FindByID(ctx, "p1")
	require.NoError(err)
	assert.Equal(models.PostStatusRemoved, p.Status)
	assert.Equal("This post was removed by the moderator due to inappropriate content.", p.Content)
	require.NotNil(p.AIReason)
	assert.Equal("[harassment] personal attack", *p.AIReason)

	evts := f.Notifier.Events()
	require.Len(evts, 1)
	assert.Equal(notify.EventNewFlaggedPost, evts[0].Name)
	pub, ok := evts[0].Payload.(*models.Post)
	require.True(ok)
	assert.Equal("p1", pub.ID)
	assert.Equal(models.PostStatusRemoved, pub.Status)

	c, err := f.Counters.GetCount(ctx, countstore.CounterFlaggedByAuthor, "author-p1", countstore.PeriodTotal)
	assert.NoError(err)
	assert.Equal(1, c)
	c, err = f.Counters.GetCountDistinct(ctx, countstore.CounterDistinctAuthorsByCategory, "harassment", countstore.PeriodDay)
	assert.NoError(err)
	assert.Equal(1, c)

	// idempotent: a second evaluation never reaches the classifier or the store
	res = f.Engine.EvaluateText(ctx, "p1")
	assert.Equal(OutcomeSkipped, res.Outcome)
	assert.Equal(ReasonNotActive, res.Reason)
	assert.Len(f.Classifier.Calls(), 1)
	assert.Len(f.Notifier.Events(), 1)
}

func TestEvaluateTextNoChange(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	createPost(t, f, "p2", "Nice weather today", strPtr("https://cdn/x/social-community/sun.jpg"))
	createPost(t, f, "p4", "borderline", nil)
	createPost(t, f, "p5", "also borderline", nil)
	f.Classifier.Set("Nice weather today", &classifier.Verdict{IsViolation: false, Confidence: 0.05})
	f.Classifier.Set("borderline", &classifier.Verdict{IsViolation: true, Category: "spam", Confidence: 0.7, Justification: "maybe"})
	f.Classifier.Set("also borderline", &classifier.Verdict{IsViolation: true, Category: "spam", Confidence: 0.3, Justification: "maybe"})

	fixtures := []struct {
		id      string
		content string
		reason  string
	}{
		{id: "p2", content: "Nice weather today", reason: ReasonNoViolation},
		// threshold is exclusive
		{id: "p4", content: "borderline", reason: ReasonBelowThreshold},
		{id: "p5", content: "also borderline", reason: ReasonBelowThreshold},
	}
	for _, fx := range fixtures {
		res := f.Engine.EvaluateText(ctx, fx.id)
		assert.Equal(OutcomeSkipped, res.Outcome, fx.id)
		assert.Equal(fx.reason, res.Reason, fx.id)

		p, err := f.Posts.FindByID(ctx, fx.id)
		require.NoError(err)
		assert.Equal(models.PostStatusActive, p.Status)
		assert.Equal(fx.content, p.Content)
		assert.Nil(p.AIReason)
	}
	p, err := f.Posts.FindByID(ctx, "p2")
	require.NoError(err)
	assert.Equal("https://cdn/x/social-community/sun.jpg", *p.ImageURL)
	assert.Empty(f.Notifier.Events())
}

func TestEvaluateImageTakedown(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	ref := "https://cdn/x/social-community/abc123.jpg"
	createPost(t, f, "p3", "look at this", &ref)
	f.Classifier.Set(ref, &classifier.Verdict{IsViolation: true, Category: "nsfw", Confidence: 0.81, Justification: "explicit"})

	res := f.Engine.EvaluateImage(ctx, "p3", ref)
	assert.Equal(OutcomeApplied, res.Outcome)

	calls := f.Classifier.Calls()
	require.Len(calls, 1)
	assert.Equal(classifier.KindImage, calls[0].Kind)
	assert.Equal(ref, calls[0].Content)

	p, err := f.Posts.FindByID(ctx, "p3")
	require.NoError(err)
	assert.Nil(p.ImageURL)
	assert.Equal(models.PostStatusRemoved, p.Status)
	assert.Equal("[nsfw] explicit", *p.AIReason)

	assert.Equal([]string{"social-community/abc123"}, f.Assets.Deleted())

	evts := f.Notifier.Events()
	require.Len(evts, 1)
	assert.Equal(notify.EventNewFlaggedPost, evts[0].Name)
	assert.Equal(notify.ImageRemoved{PostID: "p3", ImageRemoved: true}, evts[0].Payload)
}

func TestEvaluateImageSuperseded(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	createPost(t, f, "p3", "look at this", strPtr("https://cdn/x/social-community/new.jpg"))
	old := "https://cdn/x/social-community/old.jpg"
	f.Classifier.Set(old, &classifier.Verdict{IsViolation: true, Category: "nsfw", Confidence: 0.99, Justification: "explicit"})

	res := f.Engine.EvaluateImage(ctx, "p3", old)
	assert.Equal(OutcomeSkipped, res.Outcome)
	assert.Equal(ReasonImageSuperseded, res.Reason)
	assert.Empty(f.Classifier.Calls())
	assert.Empty(f.Assets.Deleted())
}

func TestEvaluateClassifierFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	logBuf := &bytes.Buffer{}
	f.Engine.Logger = slog.New(slog.NewTextHandler(logBuf, nil))
	createPost(t, f, "p1", "You are all idiots", nil)
	f.Classifier.Set("You are all idiots", &classifier.Verdict{IsViolation: true, Category: "harassment", Confidence: 0.92, Justification: "personal attack"})
	f.Classifier.Err = errors.New("dial tcp: connection refused")

	res := f.Engine.EvaluateText(ctx, "p1")
	assert.Equal(OutcomeFailed, res.Outcome)
	assert.Equal(ReasonClassifierFailure, res.Reason)
	var failure *classifier.Failure
	assert.True(errors.As(res.Err, &failure))

	p, err := f.Posts.FindByID(ctx, "p1")
	require.NoError(err)
	assert.Equal(models.PostStatusActive, p.Status)
	assert.Equal("You are all idiots", p.Content)
	assert.Empty(f.Notifier.Events())
	assert.Contains(logBuf.String(), "classifier-failure")
	assert.Contains(logBuf.String(), "connection refused")
}

func TestEvaluateDeletedPost(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	createPost(t, f, "p1", "You are all idiots", nil)
	_, err := f.Posts.Delete(ctx, "p1")
	assert.NoError(err)

	res := f.Engine.EvaluateText(ctx, "p1")
	assert.Equal(OutcomeSkipped, res.Outcome)
	assert.Equal(ReasonPostMissing, res.Reason)
	assert.Empty(f.Classifier.Calls())
	assert.Empty(f.Notifier.Events())

	// deleted while the classifier call was in flight
	createPost(t, f, "p2", "You are all idiots", nil)
	f.Classifier.Set("You are all idiots", &classifier.Verdict{IsViolation: true, Category: "harassment", Confidence: 0.92, Justification: "personal attack"})
	f.Classifier.Hook = func(p classifier.Payload) {
		f.Posts.Delete(ctx, "p2")
	}
	res = f.Engine.EvaluateText(ctx, "p2")
	assert.Equal(OutcomeSkipped, res.Outcome)
	assert.Equal(ReasonPostMissing, res.Reason)
	assert.Empty(f.Notifier.Events())
}

func TestEvaluateImageReplacedDuringClassification(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	oldRef := "https://cdn/x/social-community/old.jpg"
	newRef := "https://cdn/x/social-community/new.jpg"
	createPost(t, f, "p1", "look at this", strPtr(oldRef))
	f.Classifier.Set(oldRef, &classifier.Verdict{IsViolation: true, Category: "nsfw", Confidence: 0.81, Justification: "explicit"})

	// the author swaps the image while the old one is being classified
	f.Classifier.Hook = func(p classifier.Payload) {
		_, err := f.Posts.Update(ctx, "p1", poststore.Patch{ImageURL: strPtr(newRef)}, models.PostStatusActive)
		assert.NoError(err)
	}

	res := f.Engine.EvaluateImage(ctx, "p1", oldRef)
	assert.Equal(OutcomeSkipped, res.Outcome)
	assert.Equal(ReasonImageSuperseded, res.Reason)
	assert.Empty(f.Notifier.Events())
	assert.Empty(f.Assets.Deleted())

	p, err := f.Posts.FindByID(ctx, "p1")
	require.NoError(err)
	assert.Equal(models.PostStatusActive, p.Status)
	assert.Equal("look at this", p.Content)
	require.NotNil(p.ImageURL)
	assert.Equal(newRef, *p.ImageURL)
	assert.Nil(p.AIReason)
}

func TestEvaluateTextEditedDuringClassification(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	createPost(t, f, "p1", "You are all idiots", nil)
	f.Classifier.Set("You are all idiots", &classifier.Verdict{IsViolation: true, Category: "harassment", Confidence: 0.92, Justification: "personal attack"})
	f.Classifier.Hook = func(p classifier.Payload) {
		_, err := f.Posts.Update(ctx, "p1", poststore.Patch{Content: strPtr("sorry everyone")}, models.PostStatusActive)
		assert.NoError(err)
	}

	res := f.Engine.EvaluateText(ctx, "p1")
	assert.Equal(OutcomeSkipped, res.Outcome)
	assert.Equal(ReasonContentSuperseded, res.Reason)
	assert.Empty(f.Notifier.Events())

	p, err := f.Posts.FindByID(ctx, "p1")
	require.NoError(err)
	assert.Equal(models.PostStatusActive, p.Status)
	assert.Equal("sorry everyone", p.Content)
}

func TestEvaluateZeroThreshold(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Engine.Threshold = 0
	createPost(t, f, "p1", "mildly rude", nil)
	createPost(t, f, "p2", "not sure", nil)
	f.Classifier.Set("mildly rude", &classifier.Verdict{IsViolation: true, Category: "harassment", Confidence: 0.5, Justification: "rude"})
	f.Classifier.Set("not sure", &classifier.Verdict{IsViolation: true, Category: "harassment", Confidence: 0, Justification: "unsure"})

	res := f.Engine.EvaluateText(ctx, "p1")
	assert.Equal(OutcomeApplied, res.Outcome)

	res = f.Engine.EvaluateText(ctx, "p2")
	assert.Equal(OutcomeSkipped, res.Outcome)
	assert.Equal(ReasonBelowThreshold, res.Reason)
}

func TestValidateThreshold(t *testing.T) {
	assert := assert.New(t)

	for _, v := range []float64{0, DefaultThreshold, 0.99} {
		assert.NoError(ValidateThreshold(v), v)
	}
	for _, v := range []float64{-0.1, 1, 1.5, math.NaN()} {
		assert.Error(ValidateThreshold(v), v)
	}
}

func TestEvaluateRaceLost(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	createPost(t, f, "p1", "buy my stuff", nil)
	f.Classifier.Set("buy my stuff", &classifier.Verdict{IsViolation: true, Category: "spam", Confidence: 0.95, Justification: "self-promotion"})

	// another evaluation wins while this one is classifying
	status := models.PostStatusPendingReview
	f.Classifier.Hook = func(p classifier.Payload) {
		f.Posts.Update(ctx, "p1", poststore.Patch{Status: &status, AIReason: strPtr("earlier verdict")}, models.PostStatusActive)
	}

	res := f.Engine.EvaluateText(ctx, "p1")
	assert.Equal(OutcomeSkipped, res.Outcome)
	assert.Equal(ReasonRaceLost, res.Reason)
	assert.Empty(f.Notifier.Events())

	p, err := f.Posts.FindByID(ctx, "p1")
	require.NoError(err)
	assert.Equal(models.PostStatusPendingReview, p.Status)
	assert.Equal("buy my stuff", p.Content)
	assert.Equal("earlier verdict", *p.AIReason)
}

func TestEvaluateConcurrentDuplicates(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	createPost(t, f, "p1", "You are all idiots", nil)
	f.Classifier.Set("You are all idiots", &classifier.Verdict{IsViolation: true, Category: "harassment", Confidence: 0.92, Justification: "personal attack"})

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Engine.EvaluateText(ctx, "p1")
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, res := range results {
		if res.Outcome == OutcomeApplied {
			applied++
		} else {
			assert.Equal(OutcomeSkipped, res.Outcome)
		}
	}
	assert.Equal(1, applied)
	assert.Len(f.Notifier.Events(), 1)
}

func TestEvaluateReviewPolicy(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Engine.Policy = PolicyReview
	ref := "https://cdn/x/social-community/abc123.jpg"
	createPost(t, f, "p1", "buy my stuff", nil)
	createPost(t, f, "p3", "look at this", &ref)
	f.Classifier.Set("buy my stuff", &classifier.Verdict{IsViolation: true, Justification: "self-promotion", Confidence: 1.0})
	f.Classifier.Set(ref, &classifier.Verdict{IsViolation: true, Category: "nsfw", Confidence: 0.9, Justification: "explicit"})

	res := f.Engine.EvaluateText(ctx, "p1")
	assert.Equal(OutcomeApplied, res.Outcome)
	p, err := f.Posts.FindByID(ctx, "p1")
	require.NoError(err)
	assert.Equal(models.PostStatusPendingReview, p.Status)
	assert.Equal("buy my stuff", p.Content)
	// no category: reason is just the justification
	assert.Equal("self-promotion", *p.AIReason)

	res = f.Engine.EvaluateImage(ctx, "p3", ref)
	assert.Equal(OutcomeApplied, res.Outcome)
	p, err = f.Posts.FindByID(ctx, "p3")
	require.NoError(err)
	assert.Equal(models.PostStatusPendingReview, p.Status)
	require.NotNil(p.ImageURL)
	assert.Equal(ref, *p.ImageURL)
	assert.Empty(f.Assets.Deleted())

	evts := f.Notifier.Events()
	require.Len(evts, 2)
	pub, ok := evts[1].Payload.(*models.Post)
	require.True(ok)
	assert.Equal("p3", pub.ID)
}

type failingAssetStore struct{}

func (failingAssetStore) DeleteAsset(ctx context.Context, ref string) error {
	return errors.New("storage unavailable")
}

var _ assets.AssetStore = failingAssetStore{}

func TestEvaluateImageAssetCleanupFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Engine.Assets = failingAssetStore{}
	ref := "https://cdn/x/social-community/abc123.jpg"
	createPost(t, f, "p3", "look at this", &ref)
	f.Classifier.Set(ref, &classifier.Verdict{IsViolation: true, Category: "nsfw", Confidence: 0.81, Justification: "explicit"})

	// cleanup failure never rolls back the takedown
	res := f.Engine.EvaluateImage(ctx, "p3", ref)
	assert.Equal(OutcomeApplied, res.Outcome)
	p, err := f.Posts.FindByID(ctx, "p3")
	require.NoError(err)
	assert.Nil(p.ImageURL)
	assert.Equal(models.PostStatusRemoved, p.Status)
	assert.Len(f.Notifier.Events(), 1)
}

func TestEvaluatePanicRecovered(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	createPost(t, f, "p1", "hello", nil)
	f.Classifier.Hook = func(p classifier.Payload) {
		panic("classifier exploded")
	}

	res := f.Engine.EvaluateText(ctx, "p1")
	assert.Equal(OutcomeFailed, res.Outcome)
	assert.Equal(ReasonPanic, res.Reason)
	assert.Empty(f.Notifier.Events())
}

func TestParsePolicy(t *testing.T) {
	assert := assert.New(t)

	p, err := ParsePolicy("")
	assert.NoError(err)
	assert.Equal(PolicyRemove, p)
	p, err = ParsePolicy("review")
	assert.NoError(err)
	assert.Equal(PolicyReview, p)
	_, err = ParsePolicy("ban")
	assert.Error(err)
}
