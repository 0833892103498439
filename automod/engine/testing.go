package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/socialcommunity/moderation/automod/assets"
	"github.com/socialcommunity/moderation/automod/classifier"
	"github.com/socialcommunity/moderation/automod/countstore"
	"github.com/socialcommunity/moderation/automod/poststore"
)

// Classifier returning canned verdicts keyed by payload content. Unknown content is not a violation.
type MockClassifier struct {
	mu       sync.Mutex
	Verdicts map[string]*classifier.Verdict
	Err      error
	// runs inside Classify, before the verdict is returned (optional)
	Hook  func(p classifier.Payload)
	calls []classifier.Payload
}

var _ classifier.Classifier = (*MockClassifier)(nil)

func NewMockClassifier() *MockClassifier {
	return &MockClassifier{Verdicts: make(map[string]*classifier.Verdict)}
}

func (mc *MockClassifier) Set(content string, v *classifier.Verdict) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Verdicts[content] = v
}

func (mc *MockClassifier) Classify(ctx context.Context, p classifier.Payload) (*classifier.Verdict, error) {
	mc.mu.Lock()
	mc.calls = append(mc.calls, p)
	v, ok := mc.Verdicts[p.Content]
	err := mc.Err
	hook := mc.Hook
	mc.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	if err != nil {
		return nil, &classifier.Failure{Kind: p.Kind, Stage: classifier.StageRequest, Cause: err}
	}
	if !ok {
		return &classifier.Verdict{IsViolation: false, Confidence: 0.0}, nil
	}
	out := *v
	return &out, nil
}

func (mc *MockClassifier) Calls() []classifier.Payload {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]classifier.Payload, len(mc.calls))
	copy(out, mc.calls)
	return out
}

type PublishedEvent struct {
	Name    string
	Payload any
}

// Notifier which keeps everything published to it.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []PublishedEvent
}

func (rn *RecordingNotifier) Publish(ctx context.Context, name string, payload any) error {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.events = append(rn.events, PublishedEvent{Name: name, Payload: payload})
	return nil
}

func (rn *RecordingNotifier) Events() []PublishedEvent {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	out := make([]PublishedEvent, len(rn.events))
	copy(out, rn.events)
	return out
}

type EngineFixture struct {
	Engine     *Engine
	Posts      *poststore.MemPostStore
	Classifier *MockClassifier
	Notifier   *RecordingNotifier
	Assets     *assets.MemAssetStore
	Counters   countstore.MemCountStore
}

// Engine wired to in-memory stores and a mock classifier, with the canonical (remove) policy.
func EngineTestFixture() EngineFixture {
	f := EngineFixture{
		Posts:      poststore.NewMemPostStore(),
		Classifier: NewMockClassifier(),
		Notifier:   &RecordingNotifier{},
		Assets:     assets.NewMemAssetStore(assets.DefaultFolder),
		Counters:   countstore.NewMemCountStore(),
	}
	f.Engine = &Engine{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Posts:      f.Posts,
		Classifier: f.Classifier,
		Notifier:   f.Notifier,
		Assets:     f.Assets,
		Counters:   f.Counters,
		Policy:     PolicyRemove,
		Threshold:  DefaultThreshold,
	}
	return f
}
