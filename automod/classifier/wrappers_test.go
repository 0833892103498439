package classifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingClassifier struct {
	mu      sync.Mutex
	calls   int
	verdict *Verdict
	err     error
}

func (c *countingClassifier) Classify(ctx context.Context, p Payload) (*Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	v := *c.verdict
	return &v, nil
}

func TestRateLimitedCancelled(t *testing.T) {
	assert := assert.New(t)

	inner := &countingClassifier{verdict: &Verdict{}}
	rl := NewRateLimited(inner, 0.001, 1)

	// first call consumes the burst
	_, err := rl.Classify(context.Background(), Payload{Kind: KindText, Content: "a"})
	assert.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = rl.Classify(ctx, Payload{Kind: KindText, Content: "b"})
	var f *Failure
	assert.True(errors.As(err, &f))
	assert.Equal(StageRequest, f.Stage)
	assert.Equal(1, inner.calls)
}

func TestRateLimitedUnlimited(t *testing.T) {
	assert := assert.New(t)

	inner := &countingClassifier{verdict: &Verdict{}}
	rl := NewRateLimited(inner, 0, 0)
	for i := 0; i < 50; i++ {
		_, err := rl.Classify(context.Background(), Payload{Kind: KindText, Content: "a"})
		assert.NoError(err)
	}
	assert.Equal(50, inner.calls)
}
