package models

import (
	"time"
)

type PostStatus string

const (
	PostStatusActive        PostStatus = "ACTIVE"
	PostStatusPendingReview PostStatus = "PENDING_REVIEW"
	PostStatusRemoved       PostStatus = "REMOVED"
)

// Replacement body for posts redacted by automated moderation.
const RemovedContentNotice = "This post was removed by the moderator due to inappropriate content."

func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusActive, PostStatusPendingReview, PostStatusRemoved:
		return true
	}
	return false
}

// A single user-generated post (text plus optional image reference).
//
// Only the moderation engine moves Status away from ACTIVE, and it never moves it back.
type Post struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	AuthorID  string     `gorm:"not null;index" json:"authorId"`
	Content   string     `gorm:"not null" json:"content"`
	ImageURL  *string    `json:"imageUrl"`
	Status    PostStatus `gorm:"not null;default:ACTIVE;index" json:"status"`
	AIReason  *string    `json:"aiReason"`
	CreatedAt time.Time  `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (p *Post) HasImage() bool {
	return p.ImageURL != nil && *p.ImageURL != ""
}
