package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kerbaras/mangadl/pkg/cache"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/download"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrNoPages = errors.New("no pages found for chapter")

// Summary is the outcome of one Run.
type Summary struct {
	Completed int
	Failed    []*download.Download
}

// Err reports the failed chapters as a single error, or nil.
func (s Summary) Err() error {
	switch len(s.Failed) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("1 chapter failed")
	default:
		return fmt.Errorf("%d chapters failed", len(s.Failed))
	}
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeSkipped
)

type DownloaderOption func(*Downloader)

// WithConcurrency sets how many chapters download at once.
func WithConcurrency(n int) DownloaderOption {
	return func(d *Downloader) { d.concurrency = max(n, 1) }
}

// WithPageConcurrency sets how many pages of one chapter download at once.
func WithPageConcurrency(n int) DownloaderOption {
	return func(d *Downloader) { d.pageConcurrency = max(n, 1) }
}

// WithKeepCompleted leaves finished downloads in the queue.
func WithKeepCompleted(keep bool) DownloaderOption {
	return func(d *Downloader) { d.keepCompleted = keep }
}

func WithDownloaderLogger(log *logrus.Entry) DownloaderOption {
	return func(d *Downloader) { d.log = log }
}

// Downloader works through the queue: it takes queued downloads, resolves
// their pages and stores every page image in the chapter cache.
type Downloader struct {
	queue   *download.Queue
	cache   *cache.ChapterCache
	fetcher Fetcher
	lister  PageLister
	log     *logrus.Entry

	concurrency     int
	pageConcurrency int
	keepCompleted   bool

	mu      sync.Mutex
	claimed map[*download.Download]struct{}
}

// NewDownloader creates a new Downloader. lister may be nil when every
// chapter's page list is already cached.
func NewDownloader(queue *download.Queue, c *cache.ChapterCache, fetcher Fetcher, lister PageLister, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		queue:           queue,
		cache:           c,
		fetcher:         fetcher,
		lister:          lister,
		log:             logrus.WithField("component", "downloader"),
		concurrency:     3,
		pageConcurrency: 4,
		claimed:         make(map[*download.Download]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run downloads queued chapters until none are left or ctx is done. Chapters
// interrupted by ctx go back to the queue.
func (d *Downloader) Run(ctx context.Context) (Summary, error) {
	var (
		summary Summary
		mu      sync.Mutex
	)
	semaphore := make(chan struct{}, d.concurrency)

	for ctx.Err() == nil {
		var wg sync.WaitGroup
		dispatched := 0

	dispatch:
		for {
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				break dispatch
			}

			job := d.claimNext()
			if job == nil {
				<-semaphore
				break
			}
			dispatched++

			wg.Add(1)
			go func(job *download.Download) {
				defer wg.Done()
				defer func() { <-semaphore }()
				defer d.release(job)

				result := d.downloadChapter(ctx, job)
				mu.Lock()
				defer mu.Unlock()
				switch result {
				case outcomeCompleted:
					summary.Completed++
				case outcomeFailed:
					summary.Failed = append(summary.Failed, job)
				}
			}(job)
		}

		wg.Wait()
		if dispatched == 0 {
			break
		}
	}

	if len(summary.Failed) > 0 {
		d.log.WithField("failed", len(summary.Failed)).Warn(summary.Err().Error())
	}
	return summary, ctx.Err()
}

// claimNext returns the first queued download no worker owns yet.
func (d *Downloader) claimNext() *download.Download {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, job := range d.queue.Pending() {
		if _, taken := d.claimed[job]; taken {
			continue
		}
		d.claimed[job] = struct{}{}
		return job
	}
	return nil
}

func (d *Downloader) release(job *download.Download) {
	d.mu.Lock()
	delete(d.claimed, job)
	d.mu.Unlock()
}

// downloadChapter downloads a single queued chapter into the cache.
func (d *Downloader) downloadChapter(ctx context.Context, job *download.Download) outcome {
	log := d.log.WithFields(logrus.Fields{"manga": job.MangaID(), "chapter": job.ChapterID()})

	if job.Pages() == nil {
		infos, err := d.pageList(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return outcomeSkipped
			}
			log.WithError(err).Warn("failed to get pages")
			if job.Transition(download.StateQueue, download.StateError) {
				return outcomeFailed
			}
			return outcomeSkipped
		}
		job.SetPages(download.NewPages(infos))
	}

	// pages that will be fetched restart from 0 while the job is still
	// queued, so progress only grows once it is downloading
	var pending []*download.Page
	for _, page := range job.Pages() {
		if page.State() == download.PageReady && d.cache.IsImageInCache(page.ImageSource()) {
			continue
		}
		page.SetProgress(0)
		page.SetState(download.PageQueue)
		pending = append(pending, page)
	}

	// pages must be set before this so the queue can follow their progress
	if !job.Transition(download.StateQueue, download.StateDownloading) {
		return outcomeSkipped
	}
	log.WithField("pages", len(job.Pages())).Info("downloading chapter")

	d.cacheCover(ctx, job.Manga)

	var g errgroup.Group
	g.SetLimit(d.pageConcurrency)
	for _, page := range pending {
		g.Go(func() error {
			return d.downloadPage(ctx, page)
		})
	}
	err := g.Wait()

	switch {
	case err != nil && ctx.Err() != nil:
		job.Transition(download.StateDownloading, download.StateQueue)
		return outcomeSkipped
	case err != nil:
		log.WithError(err).Warn("chapter download failed")
		if job.Transition(download.StateDownloading, download.StateError) {
			return outcomeFailed
		}
		return outcomeSkipped
	}

	if !job.Transition(download.StateDownloading, download.StateDownloaded) {
		// removed while downloading
		return outcomeSkipped
	}
	log.Info("chapter downloaded")
	if !d.keepCompleted {
		d.queue.Remove(job)
	}
	return outcomeCompleted
}

// pageList returns the cached page list of the chapter or asks the lister,
// caching its answer.
func (d *Downloader) pageList(ctx context.Context, job *download.Download) ([]data.PageInfo, error) {
	if job.Chapter == nil {
		return nil, errors.New("download has no chapter")
	}
	if pages, err := d.cache.GetPageList(job.Chapter); err == nil && len(pages) > 0 {
		return pages, nil
	}
	if d.lister == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChapter, job.ChapterID())
	}

	pages, err := d.lister.ListPages(ctx, job.Manga, job.Chapter)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	if err := d.cache.PutPageList(job.Chapter, pages); err != nil {
		d.log.WithError(err).WithField("chapter", job.ChapterID()).Debug("page list not cached")
	}
	return pages, nil
}

func (d *Downloader) downloadPage(ctx context.Context, page *download.Page) error {
	url := page.ImageSource()
	if d.cache.IsImageInCache(url) {
		page.SetPath(d.cache.ImagePath(url))
		page.SetProgress(100)
		page.SetState(download.PageReady)
		return nil
	}

	page.SetState(download.PageDownloadImage)
	content, err := d.fetchImage(ctx, url, page)
	if err != nil {
		page.SetProgress(0)
		page.SetState(download.PageError)
		return fmt.Errorf("failed to download page %d: %w", page.Index, err)
	}

	if err := d.cache.PutImage(url, bytes.NewReader(content)); err != nil {
		d.log.WithError(err).WithField("page", page.Index).Warn("page image not cached")
	} else if d.cache.IsImageInCache(url) {
		page.SetPath(d.cache.ImagePath(url))
	}
	page.SetProgress(100)
	page.SetState(download.PageReady)
	return nil
}

// fetchImage reads the image at url, reporting byte progress to page when
// the length is known, and rejects bodies that are not images.
func (d *Downloader) fetchImage(ctx context.Context, url string, page *download.Page) ([]byte, error) {
	resp, err := d.fetcher.Fetch(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if page != nil && resp.ContentLength > 0 {
		body = &progressReader{r: resp.Body, total: resp.ContentLength, page: page}
	}
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image content: %w", err)
	}

	mtype := mimetype.Detect(content)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("unexpected content type %s", mtype.String())
	}
	return content, nil
}

// cacheCover stores the manga cover next to the pages. Failures are not fatal.
func (d *Downloader) cacheCover(ctx context.Context, manga *data.Manga) {
	if manga == nil || manga.CoverURL == "" || d.cache.IsImageInCache(manga.CoverURL) {
		return
	}
	content, err := d.fetchImage(ctx, manga.CoverURL, nil)
	if err == nil {
		err = d.cache.PutImage(manga.CoverURL, bytes.NewReader(content))
	}
	if err != nil {
		d.log.WithError(err).WithField("manga", manga.ID).Debug("cover not cached")
	}
}

type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	page  *download.Page
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	// 100 is reserved for a page that is stored
	p.page.SetProgress(min(int(p.read*100/p.total), 99))
	return n, err
}
