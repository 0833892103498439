package poststore

import (
	"context"
	"errors"
	"fmt"

	"github.com/socialcommunity/moderation/models"

	"gorm.io/gorm"
)

type GormPostStore struct {
	db *gorm.DB
}

var _ PostStore = (*GormPostStore)(nil)

func NewGormPostStore(db *gorm.DB) (*GormPostStore, error) {
	if err := db.AutoMigrate(&models.Post{}); err != nil {
		return nil, fmt.Errorf("migrating posts table: %w", err)
	}
	return &GormPostStore{db: db}, nil
}

func (s *GormPostStore) Create(ctx context.Context, post *models.Post) error {
	if post.Status == "" {
		post.Status = models.PostStatusActive
	}
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (s *GormPostStore) FindByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

func patchColumns(patch Patch) map[string]any {
	cols := map[string]any{}
	if patch.Content != nil {
		cols["content"] = *patch.Content
	}
	if patch.Status != nil {
		cols["status"] = *patch.Status
	}
	if patch.AIReason != nil {
		cols["ai_reason"] = *patch.AIReason
	}
	if patch.ClearImage {
		cols["image_url"] = nil
	} else if patch.ImageURL != nil {
		cols["image_url"] = *patch.ImageURL
	}
	return cols
}

func (s *GormPostStore) Update(ctx context.Context, id string, patch Patch, expected models.PostStatus) (*models.Post, error) {
	if patch.IsEmpty() {
		return nil, fmt.Errorf("empty post patch")
	}

	var post models.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Post{}).Where("id = ? AND status = ?", id, expected)
		if patch.ExpectedContent != nil {
			q = q.Where("content = ?", *patch.ExpectedContent)
		}
		if patch.ExpectedImageURL != nil {
			q = q.Where("image_url = ?", *patch.ExpectedImageURL)
		}
		res := q.Updates(patchColumns(patch))
		if res.Error != nil {
			return fmt.Errorf("failed to update post: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// work out which condition rejected the write
			var cur models.Post
			if err := tx.Where("id = ?", id).First(&cur).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if cur.Status != expected {
				return ErrStatusMismatch
			}
			if !patch.matches(&cur) {
				return ErrSuperseded
			}
			return fmt.Errorf("post update affected no rows")
		}
		return tx.Where("id = ?", id).First(&post).Error
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *GormPostStore) Delete(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&post).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Post{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete post: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *GormPostStore) List(ctx context.Context, q Query) ([]models.Post, error) {
	tx := s.db.WithContext(ctx).Model(&models.Post{})
	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN ?", q.Statuses)
	}
	if q.AuthorID != "" {
		tx = tx.Where("author_id = ?", q.AuthorID)
	}
	var posts []models.Post
	if err := tx.Order("created_at DESC").Limit(q.limit()).Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}
