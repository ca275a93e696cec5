package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kerbaras/mangadl/pkg/cache"
	"github.com/kerbaras/mangadl/pkg/config"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/download"
	"github.com/kerbaras/mangadl/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Controller wires the queue, its store, the chapter cache and the
// downloader from a Config.
type Controller struct {
	cfg        *config.Config
	repo       *data.Repository
	store      store.Store
	cache      *cache.ChapterCache
	prefs      *config.Preferences
	queue      *download.Queue
	lister     *ManifestLister
	downloader *Downloader
	log        *logrus.Entry

	cancelPrefs func()
	closers     []func() error
}

func NewController(ctx context.Context, cfg *config.Config, opts ...DownloaderOption) (*Controller, error) {
	c := &Controller{
		cfg: cfg,
		log: logrus.WithField("component", "controller"),
	}

	repo, err := data.OpenRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	c.repo = repo
	c.closers = append(c.closers, repo.Close)

	c.prefs = config.NewPreferences(repo, cfg.PreloadSize)
	if err := c.prefs.Load(ctx); err != nil {
		c.log.WithError(err).Warn("failed to load preferences, using defaults")
	}

	chapterCache, err := cache.NewChapterCache(cfg.CacheDir, c.prefs.PreloadSize(),
		cache.WithLogger(logrus.WithField("component", "cache")))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.cache = chapterCache
	c.closers = append(c.closers, c.closeCache)
	c.cancelPrefs = c.prefs.OnPreloadSizeChange(func(n int) {
		if err := c.cache.Resize(n); err != nil {
			c.log.WithError(err).WithField("preload", n).Warn("cache keeps its previous size")
		}
	})

	st, err := c.openStore(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.store = st

	var queueStore download.Store
	if st != nil {
		queueStore = st
	}
	c.queue = download.NewQueue(queueStore, download.WithLogger(logrus.WithField("component", "queue")))

	fetcher := NewHTTPFetcher(
		&http.Client{Timeout: cfg.HTTPTimeout},
		rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg.UserAgent,
	)
	c.lister = NewManifestLister()

	opts = append([]DownloaderOption{
		WithConcurrency(cfg.Concurrency),
		WithPageConcurrency(cfg.PageConcurrency),
	}, opts...)
	c.downloader = NewDownloader(c.queue, c.cache, fetcher, c.lister, opts...)
	return c, nil
}

func (c *Controller) openStore(ctx context.Context) (store.Store, error) {
	switch c.cfg.Store {
	case "redis":
		client, err := store.DialRedis(ctx, c.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s := store.NewRedisStore(client, "mangadl")
		c.closers = append(c.closers, s.Close)
		return s, nil
	case "memory":
		return nil, nil
	default:
		return store.NewDuckDBStore(c.repo), nil
	}
}

func (c *Controller) closeCache() error {
	if err := c.cache.Close(); err != nil && !errors.Is(err, cache.ErrClosed) {
		return err
	}
	return nil
}

func (c *Controller) Queue() *download.Queue           { return c.queue }
func (c *Controller) Cache() *cache.ChapterCache        { return c.cache }
func (c *Controller) Preferences() *config.Preferences { return c.prefs }
func (c *Controller) Downloader() *Downloader           { return c.downloader }

// Store returns the queue store, or nil when the queue is kept in memory.
func (c *Controller) Store() store.Store { return c.store }

// Restore re-adds the downloads persisted by a previous run to the queue.
func (c *Controller) Restore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	entries, err := c.store.Restore(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to restore queue: %w", err)
	}
	downloads := make([]*download.Download, 0, len(entries))
	for _, e := range entries {
		downloads = append(downloads, e.Download())
	}
	before := c.queue.Len()
	c.queue.AddAll(downloads)
	return c.queue.Len() - before, nil
}

// Enqueue makes the manifest pages known to the downloader and queues its
// chapters. It returns how many chapters were added.
func (c *Controller) Enqueue(ctx context.Context, m *Manifest) int {
	c.lister.Add(m)
	c.remember(ctx, m)
	before := c.queue.Len()
	c.queue.AddAll(m.Downloads())
	return c.queue.Len() - before
}

// remember records the manifest manga and chapters for later exports.
func (c *Controller) remember(ctx context.Context, m *Manifest) {
	err := c.repo.SaveManga(ctx, &m.Manga)
	for i := 0; err == nil && i < len(m.Chapters); i++ {
		err = c.repo.SaveChapter(ctx, &m.Chapters[i].Chapter)
	}
	if err != nil {
		c.log.WithError(err).WithField("manga", m.Manga.ID).Warn("failed to record manifest")
	}
}

// Run downloads everything queued.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	return c.downloader.Run(ctx)
}

// Retry requeues a failed chapter.
func (c *Controller) Retry(chapterID string) error {
	return c.queue.RequeueChapter(chapterID)
}

// SetPreloadSize persists n and resizes the cache to match.
func (c *Controller) SetPreloadSize(ctx context.Context, n int) error {
	return c.prefs.SetPreloadSize(ctx, n)
}

func (c *Controller) Close() error {
	if c.cancelPrefs != nil {
		c.cancelPrefs()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
