// Real-time fan-out of moderation events to review clients and other sinks.
package notify

import (
	"context"
	"errors"
)

const EventNewFlaggedPost = "new_flagged_post"

// Minimal payload for an image taken down off an otherwise untouched post body.
type ImageRemoved struct {
	PostID       string `json:"postId"`
	ImageRemoved bool   `json:"imageRemoved"`
}

// Best-effort publish. Implementations must not block for long, and there is no delivery guarantee.
type Notifier interface {
	Publish(ctx context.Context, name string, payload any) error
}

// Publishes to every notifier in order. All are attempted; errors are joined.
type Multi []Notifier

var _ Notifier = (Multi)(nil)

func (m Multi) Publish(ctx context.Context, name string, payload any) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, name, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
