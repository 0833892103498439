package countstore

import (
	"context"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func testCountStoreBasics(t *testing.T, cs CountStore) {
	assert := assert.New(t)
	ctx := context.Background()

	c, err := cs.GetCount(ctx, CounterFlaggedByAuthor, "author-1", PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)
	assert.NoError(cs.Increment(ctx, CounterFlaggedByAuthor, "author-1"))
	assert.NoError(cs.Increment(ctx, CounterFlaggedByAuthor, "author-1"))

	for _, period := range AllPeriods {
		c, err = cs.GetCount(ctx, CounterFlaggedByAuthor, "author-1", period)
		assert.NoError(err)
		assert.Equal(2, c)
	}

	// other authors are unaffected
	c, err = cs.GetCount(ctx, CounterFlaggedByAuthor, "author-2", PeriodDay)
	assert.NoError(err)
	assert.Equal(0, c)

	c, err = cs.GetCountDistinct(ctx, CounterDistinctAuthorsByCategory, "harassment", PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)
	assert.NoError(cs.IncrementDistinct(ctx, CounterDistinctAuthorsByCategory, "harassment", "author-1"))
	assert.NoError(cs.IncrementDistinct(ctx, CounterDistinctAuthorsByCategory, "harassment", "author-1"))
	assert.NoError(cs.IncrementDistinct(ctx, CounterDistinctAuthorsByCategory, "harassment", "author-2"))

	for _, period := range AllPeriods {
		c, err = cs.GetCountDistinct(ctx, CounterDistinctAuthorsByCategory, "harassment", period)
		assert.NoError(err)
		assert.Equal(2, c)
	}
}

func TestMemCountStoreBasics(t *testing.T) {
	testCountStoreBasics(t, NewMemCountStore())
}

func TestMemCountStoreConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	// several evaluation workers incrementing the same author at once (run with -race)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				assert.NoError(cs.Increment(ctx, CounterFlaggedByAuthor, "author-1"))
				assert.NoError(cs.IncrementDistinct(ctx, CounterDistinctAuthorsByCategory, "spam", "author-1"))
				_, err := cs.GetCount(ctx, CounterFlaggedByAuthor, "author-1", PeriodTotal)
				assert.NoError(err)
			}
		}()
	}
	wg.Wait()

	c, err := cs.GetCount(ctx, CounterFlaggedByAuthor, "author-1", PeriodTotal)
	assert.NoError(err)
	assert.Equal(100, c)

	c, err = cs.GetCountDistinct(ctx, CounterDistinctAuthorsByCategory, "spam", PeriodHour)
	assert.NoError(err)
	assert.Equal(1, c)
}

func TestRedisCountStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")

	opt, err := redis.ParseURL("redis://localhost:6379/0")
	if err != nil {
		t.Fatal(err)
	}
	testCountStoreBasics(t, NewRedisCountStore(redis.NewClient(opt)))
}
