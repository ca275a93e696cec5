package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/download"
)

var ErrUnknownChapter = errors.New("chapter has no known page list")

// PageLister resolves the pages of a chapter.
type PageLister interface {
	ListPages(ctx context.Context, manga *data.Manga, chapter *data.Chapter) ([]data.PageInfo, error)
}

// Manifest describes chapters to download, with the image URLs of every page.
//
//	{
//	  "source": "mangadex",
//	  "manga": {"id": "...", "name": "...", "cover_url": "..."},
//	  "chapters": [{"id": "...", "url": "...", "number": "1", "pages": ["https://..."]}]
//	}
type Manifest struct {
	Source   string            `json:"source"`
	Manga    data.Manga        `json:"manga"`
	Chapters []ManifestChapter `json:"chapters"`
}

type ManifestChapter struct {
	data.Chapter
	Pages []string `json:"pages"`
}

func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Manga.ID == "" {
		return nil, errors.New("manifest manga id cannot be empty")
	}
	for i := range m.Chapters {
		c := &m.Chapters[i]
		if c.ID == "" {
			return nil, fmt.Errorf("manifest chapter %d has no id", i)
		}
		if c.MangaID == "" {
			c.MangaID = m.Manga.ID
		}
		if c.URL == "" {
			c.URL = c.ID
		}
	}
	if m.Manga.Source == "" {
		m.Manga.Source = m.Source
	}
	return &m, nil
}

func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return ReadManifest(f)
}

// Downloads returns a new download per chapter, in manifest order.
func (m *Manifest) Downloads() []*download.Download {
	manga := m.Manga
	out := make([]*download.Download, 0, len(m.Chapters))
	for i := range m.Chapters {
		chapter := m.Chapters[i].Chapter
		out = append(out, download.New(m.Source, &manga, &chapter))
	}
	return out
}

func (c ManifestChapter) pageInfos() []data.PageInfo {
	infos := make([]data.PageInfo, len(c.Pages))
	for i, u := range c.Pages {
		infos[i] = data.PageInfo{Index: i, URL: u}
	}
	return infos
}

// ManifestLister serves page lists from loaded manifests.
type ManifestLister struct {
	mu    sync.RWMutex
	pages map[string][]data.PageInfo
}

func NewManifestLister(manifests ...*Manifest) *ManifestLister {
	l := &ManifestLister{pages: make(map[string][]data.PageInfo)}
	for _, m := range manifests {
		l.Add(m)
	}
	return l
}

func (l *ManifestLister) Add(m *Manifest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range m.Chapters {
		if len(c.Pages) > 0 {
			l.pages[c.ID] = c.pageInfos()
		}
	}
}

func (l *ManifestLister) ListPages(_ context.Context, _ *data.Manga, chapter *data.Chapter) ([]data.PageInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pages, ok := l.pages[chapter.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChapter, chapter.ID)
	}
	return append([]data.PageInfo(nil), pages...), nil
}
