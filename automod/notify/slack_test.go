package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/socialcommunity/moderation/models"

	"github.com/stretchr/testify/assert"
)

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var mu sync.Mutex
	var msgs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body SlackWebhookBody
		assert.NoError(json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		msgs = append(msgs, body.Text)
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sn := NewSlackNotifier(srv.URL)
	reason := "[spam] ad"
	assert.NoError(sn.Publish(ctx, EventNewFlaggedPost, &models.Post{ID: "p1", AuthorID: "alice", Status: models.PostStatusRemoved, AIReason: &reason}))
	assert.NoError(sn.Publish(ctx, EventNewFlaggedPost, ImageRemoved{PostID: "p3", ImageRemoved: true}))
	// ignored
	assert.NoError(sn.Publish(ctx, "other_event", "hello"))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(msgs, 2)
	assert.Contains(msgs[0], "p1")
	assert.Contains(msgs[0], "[spam] ad")
	assert.Contains(msgs[1], "image removed from post `p3`")
}

type recordingNotifier struct {
	names []string
	err   error
}

func (r *recordingNotifier) Publish(ctx context.Context, name string, payload any) error {
	r.names = append(r.names, name)
	return r.err
}

func TestMulti(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	failing := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}
	m := Multi{failing, ok}

	err := m.Publish(ctx, EventNewFlaggedPost, nil)
	assert.ErrorContains(err, "down")
	assert.Equal([]string{EventNewFlaggedPost}, failing.names)
	assert.Equal([]string{EventNewFlaggedPost}, ok.names)
}
