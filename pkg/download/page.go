package download

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/kerbaras/mangadl/pkg/data"
)

// Page is one image of a chapter. Its index and URLs never change once
// created; progress, state and the cached path are updated by workers and
// observed through Subscribe.
type Page struct {
	data.PageInfo

	progress atomic.Int32
	state    atomic.Int32
	path     atomic.Pointer[string]

	subsMu sync.Mutex
	subs   atomic.Pointer[[]*pageSubscription]
}

type pageSubscription struct {
	fn func(*Page)
}

func NewPage(info data.PageInfo) *Page {
	return &Page{PageInfo: info}
}

// NewPages builds pages in the order given by infos.
func NewPages(infos []data.PageInfo) []*Page {
	pages := make([]*Page, len(infos))
	for i, info := range infos {
		pages[i] = NewPage(info)
	}
	return pages
}

// Info returns the serializable description of the page.
func (p *Page) Info() data.PageInfo {
	return p.PageInfo
}

// Progress returns the download progress of the page image, 0 to 100.
func (p *Page) Progress() int {
	return int(p.progress.Load())
}

// SetProgress clamps v to [0, 100] and notifies subscribers when it changed.
func (p *Page) SetProgress(v int) {
	v = min(max(v, 0), 100)
	if p.progress.Swap(int32(v)) != int32(v) {
		p.notify()
	}
}

func (p *Page) State() PageState {
	return PageState(p.state.Load())
}

func (p *Page) SetState(s PageState) {
	if p.state.Swap(int32(s)) != int32(s) {
		p.notify()
	}
}

// Path is the local file holding the page image, empty when not cached.
func (p *Page) Path() string {
	if v := p.path.Load(); v != nil {
		return *v
	}
	return ""
}

func (p *Page) SetPath(path string) {
	p.path.Store(&path)
}

// Subscribe registers fn to be called after every progress or state change.
// The returned function cancels the subscription and is safe to call twice.
func (p *Page) Subscribe(fn func(*Page)) (cancel func()) {
	sub := &pageSubscription{fn: fn}

	p.subsMu.Lock()
	var next []*pageSubscription
	if cur := p.subs.Load(); cur != nil {
		next = slices.Clone(*cur)
	}
	next = append(next, sub)
	p.subs.Store(&next)
	p.subsMu.Unlock()

	return func() {
		p.subsMu.Lock()
		defer p.subsMu.Unlock()
		cur := p.subs.Load()
		if cur == nil {
			return
		}
		next := slices.DeleteFunc(slices.Clone(*cur), func(s *pageSubscription) bool { return s == sub })
		p.subs.Store(&next)
	}
}

func (p *Page) notify() {
	subs := p.subs.Load()
	if subs == nil {
		return
	}
	for _, s := range *subs {
		s.fn(p)
	}
}
