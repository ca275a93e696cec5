package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/integrations"
)

var ErrNothingCached = errors.New("no chapter is fully cached")

// Export builds an EPUB in outDir from the chapters of mangaID whose pages
// are all in the cache. Incomplete chapters are left out.
func (c *Controller) Export(ctx context.Context, mangaID, outDir string, opts ...integrations.EPubOption) (string, error) {
	manga, err := c.repo.GetManga(ctx, mangaID)
	if err != nil {
		return "", err
	}
	if manga == nil {
		return "", fmt.Errorf("unknown manga %s", mangaID)
	}
	chapters, err := c.repo.GetChapters(ctx, mangaID)
	if err != nil {
		return "", err
	}

	var exports []integrations.ExportChapter
	for _, ch := range chapters {
		pages, ok := c.cachedPages(ch)
		if !ok {
			c.log.WithField("chapter", ch.ID).Debug("chapter not cached, skipping")
			continue
		}
		exports = append(exports, integrations.ExportChapter{Chapter: ch, Pages: pages})
	}
	if len(exports) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNothingCached, mangaID)
	}

	var cover string
	if manga.CoverURL != "" && c.cache.IsImageInCache(manga.CoverURL) {
		cover = c.cache.ImagePath(manga.CoverURL)
	}
	return integrations.NewEPubBuilder(outDir, opts...).Build(manga, exports, cover)
}

func (c *Controller) cachedPages(ch *data.Chapter) ([]string, bool) {
	infos, err := c.cache.GetPageList(ch)
	if err != nil || len(infos) == 0 {
		return nil, false
	}
	paths := make([]string, 0, len(infos))
	for _, p := range infos {
		url := p.ImageSource()
		if !c.cache.IsImageInCache(url) {
			return nil, false
		}
		paths = append(paths, c.cache.ImagePath(url))
	}
	return paths, true
}
