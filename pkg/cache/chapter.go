package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/utils"
	"github.com/sirupsen/logrus"
)

// ErrNotCached is returned when a value could not be stored. The previous
// value for the key, if any, is left untouched.
var ErrNotCached = errors.New("cache: value not cached")

const defaultAppVersion = 1

type Option func(*ChapterCache)

func WithLogger(log *logrus.Entry) Option {
	return func(c *ChapterCache) { c.log = log }
}

func WithCodec(codec PageListCodec) Option {
	return func(c *ChapterCache) { c.codec = codec }
}

// WithAppVersion changes the version recorded in the journal. Opening a
// directory written with another version discards its contents.
func WithAppVersion(v int) Option {
	return func(c *ChapterCache) { c.appVersion = v }
}

// ChapterCache stores page lists and page images of chapters on disk, bounded
// by a capacity derived from the number of chapters to preload. Every
// operation holds a shared lock on the current DiskLRU handle; Resize opens
// the next handle without it and takes it exclusively only for the swap.
type ChapterCache struct {
	dir        string
	appVersion int
	codec      PageListCodec
	log        *logrus.Entry

	// resizeMu serializes Resize; mu guards the handle swap
	resizeMu sync.Mutex
	mu       sync.RWMutex
	disk     *DiskLRU
	preload  int
}

func NewChapterCache(dir string, preload int, opts ...Option) (*ChapterCache, error) {
	c := &ChapterCache{
		dir:        dir,
		appVersion: defaultAppVersion,
		codec:      JSONCodec{},
		log:        logrus.WithField("component", "cache"),
		preload:    preload,
	}
	for _, opt := range opts {
		opt(c)
	}

	disk, err := Open(dir, c.appVersion, CacheSize(preload), c.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open chapter cache: %w", err)
	}
	c.disk = disk
	return c, nil
}

func (c *ChapterCache) Dir() string {
	return c.dir
}

// Capacity is the current maximum size in bytes.
func (c *ChapterCache) Capacity() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disk.MaxSize()
}

func (c *ChapterCache) PreloadSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.preload
}

// Size is the number of bytes held by committed entries.
func (c *ChapterCache) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disk.Size()
}

// Get returns the value stored under key. Any failure to read is reported as
// ErrNotFound.
func (c *ChapterCache) Get(key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b, err := c.disk.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.log.WithError(err).WithField("key", key).Debug("cache read failed")
		}
		return nil, ErrNotFound
	}
	return b, nil
}

func (c *ChapterCache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disk.Contains(key)
}

// Put stores the bytes produced by write under key. When another writer
// holds the key the call does nothing.
func (c *ChapterCache) Put(key string, write func(w io.Writer) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	editor, err := c.disk.Edit(key)
	if errors.Is(err, ErrEditInProgress) {
		return nil
	}
	if err != nil {
		return c.notCached(key, err)
	}
	defer editor.AbortUnlessCommitted()

	w, err := editor.Writer()
	if err != nil {
		return c.notCached(key, err)
	}
	if err := write(w); err != nil {
		return c.notCached(key, err)
	}
	if err := editor.Commit(); err != nil {
		return c.notCached(key, err)
	}
	return nil
}

func (c *ChapterCache) notCached(key string, err error) error {
	c.log.WithError(err).WithField("key", key).Warn("failed to write cache entry")
	return fmt.Errorf("%w: %w", ErrNotCached, err)
}

func (c *ChapterCache) Remove(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disk.Remove(key)
}

// RemoveFileFromCache removes the entry stored in the file called name. The
// journal files are never removed.
func (c *ChapterCache) RemoveFileFromCache(name string) bool {
	if isJournalFile(name) {
		return false
	}
	return c.Remove(strings.TrimSuffix(name, filepath.Ext(name)))
}

// Resize reopens the cache with the capacity for preload chapters. The new
// handle is opened while reads keep using the current one, which stays in
// use when the open fails.
func (c *ChapterCache) Resize(preload int) error {
	c.resizeMu.Lock()
	defer c.resizeMu.Unlock()

	c.mu.RLock()
	old, current := c.disk, c.preload
	c.mu.RUnlock()

	if preload == current && !old.IsClosed() {
		return nil
	}
	if err := old.Flush(); err != nil && !errors.Is(err, ErrClosed) {
		c.log.WithError(err).Warn("failed to flush cache before resize")
	}

	next, err := Open(c.dir, c.appVersion, CacheSize(preload), c.log)
	if err != nil {
		return fmt.Errorf("failed to resize cache: %w", err)
	}

	c.mu.Lock()
	c.disk = next
	c.preload = preload
	c.mu.Unlock()

	if err := old.Close(); err != nil && !errors.Is(err, ErrClosed) {
		c.log.WithError(err).Warn("failed to close previous cache handle")
	}

	c.log.WithFields(logrus.Fields{
		"preload":  preload,
		"capacity": utils.ReadableSize(next.MaxSize()),
	}).Info("cache resized")
	return nil
}

// DirectorySize sums the size of every file in the cache directory.
func (c *ChapterCache) DirectorySize() int64 {
	return utils.DirectorySize(c.dir)
}

func (c *ChapterCache) ReadableSize() string {
	return utils.ReadableSize(c.DirectorySize())
}

// Purge deletes every cached file except the journal and files being written,
// returning the bytes and number of files reclaimed. Files that cannot be
// deleted are skipped.
func (c *ChapterCache) Purge() (int64, int) {
	c.resizeMu.Lock()
	defer c.resizeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.WithError(err).Warn("failed to list cache directory")
		return 0, 0
	}

	var reclaimed int64
	var deleted int
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || isJournalFile(name) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}

		key := strings.TrimSuffix(name, filepath.Ext(name))
		switch {
		case c.disk.Remove(key):
		case !c.disk.Contains(key):
			if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
				continue
			}
		default:
			continue
		}
		reclaimed += info.Size()
		deleted++
	}

	if err := c.disk.Flush(); err != nil {
		c.log.WithError(err).Warn("failed to flush cache journal")
	}
	return reclaimed, deleted
}

func (c *ChapterCache) Close() error {
	c.resizeMu.Lock()
	defer c.resizeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disk.Close()
}

// ChapterKey is the cache key of a chapter's page list.
func ChapterKey(mangaID, chapterURL string) string {
	return utils.HashKeyForDisk(mangaID + chapterURL)
}

// ImageKey is the cache key of a page image.
func ImageKey(imageURL string) string {
	return utils.HashKeyForDisk(imageURL)
}

// GetPageList returns the cached page list of chapter.
func (c *ChapterCache) GetPageList(chapter *data.Chapter) ([]data.PageInfo, error) {
	b, err := c.Get(ChapterKey(chapter.MangaID, chapter.URL))
	if err != nil {
		return nil, err
	}
	pages, err := c.codec.Unmarshal(b)
	if err != nil {
		c.log.WithError(err).WithField("chapter", chapter.ID).Warn("discarding unreadable page list")
		c.Remove(ChapterKey(chapter.MangaID, chapter.URL))
		return nil, ErrNotFound
	}
	return pages, nil
}

func (c *ChapterCache) PutPageList(chapter *data.Chapter, pages []data.PageInfo) error {
	b, err := c.codec.Marshal(pages)
	if err != nil {
		return fmt.Errorf("failed to encode page list: %w", err)
	}
	return c.Put(ChapterKey(chapter.MangaID, chapter.URL), func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(b))
		return err
	})
}

func (c *ChapterCache) IsImageInCache(imageURL string) bool {
	return c.Contains(ImageKey(imageURL))
}

// ImagePath returns where the image for imageURL is stored. The file exists
// only when IsImageInCache reports true.
func (c *ChapterCache) ImagePath(imageURL string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disk.Path(ImageKey(imageURL))
}

func (c *ChapterCache) PutImage(imageURL string, r io.Reader) error {
	return c.Put(ImageKey(imageURL), func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// GetImage opens the cached image for imageURL.
func (c *ChapterCache) GetImage(imageURL string) (io.ReadCloser, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, err := c.disk.Reader(ImageKey(imageURL))
	if err != nil {
		return nil, ErrNotFound
	}
	return r, nil
}
