// Package download provides a minimal stream.Downloader that renders an
// upstream asset URL as a markdown link without fetching or caching the
// underlying bytes. Real asset download/caching to local disk is named
// as an external collaborator and is not built in this module; a
// gateway operator who needs that should inject their own Downloader in
// its place.
package download

import (
	"context"
	"fmt"
)

// PassthroughDownloader renders asset URLs inline instead of proxying
// them through local storage.
type PassthroughDownloader struct{}

// NewPassthrough creates a PassthroughDownloader.
func NewPassthrough() *PassthroughDownloader {
	return &PassthroughDownloader{}
}

// RenderImage returns a markdown image link to the upstream URL
// unchanged; imageID is accepted to satisfy stream.Downloader's
// signature but unused since there is no local cache to key by it.
func (d *PassthroughDownloader) RenderImage(ctx context.Context, url, token, imageID string) (string, error) {
	return fmt.Sprintf("![generated image](%s)", url), nil
}
