package assets

import (
	"context"
	"sync"
)

// Records deletions instead of performing them. Used in tests and local runs without object storage.
type MemAssetStore struct {
	Folder string

	mu      sync.Mutex
	deleted []string
}

var _ AssetStore = (*MemAssetStore)(nil)

func NewMemAssetStore(folder string) *MemAssetStore {
	return &MemAssetStore{Folder: folder}
}

func (s *MemAssetStore) DeleteAsset(ctx context.Context, ref string) error {
	id, err := StorageID(ref, s.Folder)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

// Storage identifiers passed to DeleteAsset so far, in call order.
func (s *MemAssetStore) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.deleted))
	copy(out, s.deleted)
	return out
}
