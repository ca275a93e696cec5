package download

import (
	"math"
	"sync/atomic"

	"github.com/kerbaras/mangadl/pkg/data"
)

// hooks connect a Download to the queue that owns it.
type hooks struct {
	publish  func(*Download)
	callback func(*Download)
}

// Download is the unit of work for one chapter.
type Download struct {
	Source  string
	Manga   *data.Manga
	Chapter *data.Chapter

	pages  atomic.Pointer[[]*Page]
	status atomic.Int32
	hooks  atomic.Pointer[hooks]
}

// New returns a download in StateNotDownloaded with no known pages.
func New(source string, manga *data.Manga, chapter *data.Chapter) *Download {
	return &Download{Source: source, Manga: manga, Chapter: chapter}
}

func (d *Download) ChapterID() string {
	if d.Chapter == nil {
		return ""
	}
	return d.Chapter.ID
}

func (d *Download) MangaID() string {
	if d.Manga != nil {
		return d.Manga.ID
	}
	if d.Chapter != nil {
		return d.Chapter.MangaID
	}
	return ""
}

// Key identifies the download by manga and chapter.
func (d *Download) Key() string {
	return d.MangaID() + "/" + d.ChapterID()
}

// Pages returns nil until the page list is known.
func (d *Download) Pages() []*Page {
	if p := d.pages.Load(); p != nil {
		return *p
	}
	return nil
}

func (d *Download) SetPages(pages []*Page) {
	d.pages.Store(&pages)
}

func (d *Download) Status() State {
	return State(d.status.Load())
}

// SetStatus stores s and then notifies the owning queue: first its status
// subject, then its callback.
func (d *Download) SetStatus(s State) {
	d.status.Store(int32(s))
	d.notify()
}

// Transition moves the download from one state to another only if it is
// still in from. Listeners are notified only when the transition happened.
func (d *Download) Transition(from, to State) bool {
	if !d.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	d.notify()
	return true
}

func (d *Download) notify() {
	h := d.hooks.Load()
	if h == nil {
		return
	}
	if h.publish != nil {
		h.publish(d)
	}
	if h.callback != nil {
		h.callback(d)
	}
}

func (d *Download) attach(h *hooks) {
	d.hooks.Store(h)
}

func (d *Download) detach() {
	d.hooks.Store(nil)
}

func (d *Download) attachedTo(h *hooks) bool {
	return h != nil && d.hooks.Load() == h
}

// resetInFlight moves a queued or downloading job back to StateNotDownloaded.
func (d *Download) resetInFlight() {
	for {
		s := d.Status()
		if !s.InFlight() {
			return
		}
		if d.Transition(s, StateNotDownloaded) {
			return
		}
	}
}

// TotalProgress is the sum of page progress values.
func (d *Download) TotalProgress() int {
	total := 0
	for _, p := range d.Pages() {
		total += p.Progress()
	}
	return total
}

// PageProgress is the sum of page progress values, 0 when no pages are known.
func (d *Download) PageProgress() int {
	return d.TotalProgress()
}

// Progress is the mean page progress rounded to the nearest integer.
func (d *Download) Progress() int {
	pages := d.Pages()
	if len(pages) == 0 {
		return 0
	}
	return int(math.Round(float64(d.TotalProgress()) / float64(len(pages))))
}

// DownloadedImages counts pages whose image has been fetched.
func (d *Download) DownloadedImages() int {
	n := 0
	for _, p := range d.Pages() {
		if p.State() == PageReady {
			n++
		}
	}
	return n
}
