// Removal of post image assets from external object storage.
//
// Deletion is best-effort and idempotent: an asset which is already gone is not an error.
package assets

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

const DefaultFolder = "social-community"

type AssetStore interface {
	// ref is the asset locator as stored on the post (usually a CDN URL)
	DeleteAsset(ctx context.Context, ref string) error
}

// Derives the storage identifier for an asset locator: the last path segment without its extension, under folder.
//
// "https://cdn/x/social-community/abc123.jpg" -> "social-community/abc123"
func StorageID(ref, folder string) (string, error) {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(strings.TrimRight(p, "/"))
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("no asset name in reference: %q", ref)
	}
	if folder == "" {
		return name, nil
	}
	return strings.TrimRight(folder, "/") + "/" + name, nil
}
