// Durable record of posts and their moderation status.
//
// The moderation engine only reads posts (FindByID) and applies verdicts through the conditional Update; the rest of the interface serves the authoring and review surfaces.
package poststore

import (
	"context"
	"errors"

	"github.com/socialcommunity/moderation/models"
)

var (
	ErrNotFound       = errors.New("post not found")
	ErrStatusMismatch = errors.New("post status did not match expected status")
	// the status matched, but the content or image the write was conditioned on has changed
	ErrSuperseded = errors.New("post changed since it was read")
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// Partial update. nil fields are left unchanged; ClearImage sets ImageURL to NULL and takes precedence over ImageURL.
//
// The Expected fields are extra conditions on the write, not changes: when set, the row must still hold exactly that value.
type Patch struct {
	Content    *string
	Status     *models.PostStatus
	AIReason   *string
	ImageURL   *string
	ClearImage bool

	ExpectedContent  *string
	ExpectedImageURL *string
}

// Whether the current row still satisfies the patch's Expected conditions.
func (p Patch) matches(post *models.Post) bool {
	if p.ExpectedContent != nil && post.Content != *p.ExpectedContent {
		return false
	}
	if p.ExpectedImageURL != nil && (post.ImageURL == nil || *post.ImageURL != *p.ExpectedImageURL) {
		return false
	}
	return true
}

// True when the patch changes nothing; conditions alone don't count.
func (p Patch) IsEmpty() bool {
	return p.Content == nil && p.Status == nil && p.AIReason == nil && p.ImageURL == nil && !p.ClearImage
}

type Query struct {
	// empty means any status
	Statuses []models.PostStatus
	// empty means any author
	AuthorID string
	Limit    int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		return MaxListLimit
	}
	return q.Limit
}

type PostStore interface {
	Create(ctx context.Context, post *models.Post) error
	FindByID(ctx context.Context, id string) (*models.Post, error)
	// Applies patch only if the post's current status equals expected and the patch's Expected conditions hold. A single atomic write; returns the post as updated.
	// Fails with ErrNotFound, ErrStatusMismatch or ErrSuperseded, checked in that order.
	Update(ctx context.Context, id string, patch Patch, expected models.PostStatus) (*models.Post, error)
	// Returns the row as it was just before deletion.
	Delete(ctx context.Context, id string) (*models.Post, error)
	// Newest first.
	List(ctx context.Context, q Query) ([]models.Post, error)
}
