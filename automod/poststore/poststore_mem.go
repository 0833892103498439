package poststore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/socialcommunity/moderation/models"
)

// In-process PostStore, for tests and local development. Returned posts are copies.
type MemPostStore struct {
	mu    sync.Mutex
	posts map[string]models.Post
}

var _ PostStore = (*MemPostStore)(nil)

func NewMemPostStore() *MemPostStore {
	return &MemPostStore{
		posts: make(map[string]models.Post),
	}
}

func copyPost(p models.Post) *models.Post {
	if p.ImageURL != nil {
		v := *p.ImageURL
		p.ImageURL = &v
	}
	if p.AIReason != nil {
		v := *p.AIReason
		p.AIReason = &v
	}
	return &p
}

func (s *MemPostStore) Create(ctx context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[post.ID]; ok {
		return fmt.Errorf("failed to create post: duplicate id %s", post.ID)
	}
	now := time.Now().UTC()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	if post.Status == "" {
		post.Status = models.PostStatusActive
	}
	s.posts[post.ID] = *copyPost(*post)
	return nil
}

func (s *MemPostStore) FindByID(ctx context.Context, id string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPost(p), nil
}

func (s *MemPostStore) Update(ctx context.Context, id string, patch Patch, expected models.PostStatus) (*models.Post, error) {
	if patch.IsEmpty() {
		return nil, fmt.Errorf("empty post patch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != expected {
		return nil, ErrStatusMismatch
	}
	if !patch.matches(&p) {
		return nil, ErrSuperseded
	}
	if patch.Content != nil {
		p.Content = *patch.Content
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.AIReason != nil {
		v := *patch.AIReason
		p.AIReason = &v
	}
	if patch.ClearImage {
		p.ImageURL = nil
	} else if patch.ImageURL != nil {
		v := *patch.ImageURL
		p.ImageURL = &v
	}
	p.UpdatedAt = time.Now().UTC()
	s.posts[id] = p
	return copyPost(p), nil
}

func (s *MemPostStore) Delete(ctx context.Context, id string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.posts, id)
	return copyPost(p), nil
}

func (s *MemPostStore) List(ctx context.Context, q Query) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Post{}
	for _, p := range s.posts {
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, p.Status) {
			continue
		}
		if q.AuthorID != "" && p.AuthorID != q.AuthorID {
			continue
		}
		out = append(out, *copyPost(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > q.limit() {
		out = out[:q.limit()]
	}
	return out, nil
}
