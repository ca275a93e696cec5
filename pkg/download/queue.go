package download

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrNotQueued = errors.New("download: chapter is not queued")

// Store durably records queue membership so the queue can be rebuilt after a
// restart. Order is owned by the in-memory queue.
type Store interface {
	AddAll(ctx context.Context, downloads []*Download) error
	Remove(ctx context.Context, d *Download) error
	Clear(ctx context.Context) error
}

// Listener observes a Queue. OnRefresh receives the full queue after
// membership changed, OnUpdate a single download whose status or progress
// changed. Callbacks run on the goroutine that caused the change and must not
// add or remove downloads synchronously.
type Listener interface {
	OnRefresh(downloads []*Download)
	OnUpdate(d *Download)
}

// ListenerFuncs adapts plain functions to Listener. Register it by pointer.
type ListenerFuncs struct {
	Refresh func(downloads []*Download)
	Update  func(d *Download)
}

func (l *ListenerFuncs) OnRefresh(downloads []*Download) {
	if l.Refresh != nil {
		l.Refresh(downloads)
	}
}

func (l *ListenerFuncs) OnUpdate(d *Download) {
	if l.Update != nil {
		l.Update(d)
	}
}

type Option func(*Queue)

func WithLogger(log *logrus.Entry) Option {
	return func(q *Queue) { q.log = log }
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(q *Queue) { q.storeTimeout = d }
}

// Queue is the ordered set of downloads. Reads are lock-free over an
// immutable snapshot; membership changes are serialized.
type Queue struct {
	store        Store
	log          *logrus.Entry
	storeTimeout time.Duration
	hooks        *hooks

	mu   sync.Mutex
	jobs atomic.Pointer[[]*Download]

	listenersMu sync.Mutex
	listeners   atomic.Pointer[[]Listener]

	pagesMu  sync.Mutex
	pageSubs map[*Download][]func()

	statusMu   sync.Mutex
	statusSubs map[int]chan *Download
	nextSub    int
}

// NewQueue returns an empty queue persisting membership to store. A nil
// store keeps the queue in memory only.
func NewQueue(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:        store,
		log:          logrus.WithField("component", "queue"),
		storeTimeout: 10 * time.Second,
		pageSubs:     make(map[*Download][]func()),
		statusSubs:   make(map[int]chan *Download),
	}
	q.hooks = &hooks{publish: q.publishStatus, callback: q.onStatus}
	empty := []*Download{}
	q.jobs.Store(&empty)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Snapshot returns the queued downloads in FIFO order.
func (q *Queue) Snapshot() []*Download {
	return slices.Clone(*q.jobs.Load())
}

func (q *Queue) Len() int {
	return len(*q.jobs.Load())
}

// Get returns the queued download for chapterID, or nil.
func (q *Queue) Get(chapterID string) *Download {
	for _, d := range *q.jobs.Load() {
		if d.ChapterID() == chapterID {
			return d
		}
	}
	return nil
}

func (q *Queue) Contains(chapterID string) bool {
	return q.Get(chapterID) != nil
}

// Active returns the downloads currently being fetched.
func (q *Queue) Active() []*Download {
	return q.filter(StateDownloading)
}

// Pending returns the downloads waiting for a worker, in queue order.
func (q *Queue) Pending() []*Download {
	return q.filter(StateQueue)
}

func (q *Queue) filter(s State) []*Download {
	var out []*Download
	for _, d := range *q.jobs.Load() {
		if d.Status() == s {
			out = append(out, d)
		}
	}
	return out
}

// AddAll appends downloads to the queue and marks them queued. Downloads for a
// chapter that is already queued, or repeated within the batch, are skipped.
func (q *Queue) AddAll(downloads []*Download) {
	q.mu.Lock()
	current := *q.jobs.Load()
	seen := make(map[string]struct{}, len(current)+len(downloads))
	for _, d := range current {
		seen[d.ChapterID()] = struct{}{}
	}

	added := make([]*Download, 0, len(downloads))
	for _, d := range downloads {
		if d == nil {
			continue
		}
		if _, dup := seen[d.ChapterID()]; dup {
			q.log.WithField("chapter", d.ChapterID()).Debug("chapter already queued, skipping")
			continue
		}
		seen[d.ChapterID()] = struct{}{}
		d.attach(q.hooks)
		d.SetStatus(StateQueue)
		added = append(added, d)
	}
	if len(added) == 0 {
		q.mu.Unlock()
		return
	}

	next := make([]*Download, 0, len(current)+len(added))
	next = append(next, current...)
	next = append(next, added...)
	q.jobs.Store(&next)
	q.mu.Unlock()

	q.notifyRefresh(next)
	q.persist("add", func(ctx context.Context) error { return q.store.AddAll(ctx, added) })
}

// Requeue moves a failed download back to StateQueue.
func (q *Queue) Requeue(d *Download) bool {
	if !d.attachedTo(q.hooks) {
		return false
	}
	return d.Transition(StateError, StateQueue)
}

// RequeueChapter requeues the failed download for chapterID.
func (q *Queue) RequeueChapter(chapterID string) error {
	d := q.Get(chapterID)
	if d == nil {
		return ErrNotQueued
	}
	if !q.Requeue(d) {
		return fmt.Errorf("chapter %s is %s, not failed", chapterID, d.Status())
	}
	return nil
}

// Remove drops d from the queue and the store. A queued or downloading d is
// reset to StateNotDownloaded even when it was not found in the queue.
func (q *Queue) Remove(d *Download) bool {
	if d == nil {
		return false
	}

	q.mu.Lock()
	current := *q.jobs.Load()
	idx := slices.Index(current, d)
	var next []*Download
	if idx >= 0 {
		next = slices.Delete(slices.Clone(current), idx, idx+1)
		q.jobs.Store(&next)
	}
	q.detach(d)
	q.mu.Unlock()

	q.persist("remove", func(ctx context.Context) error { return q.store.Remove(ctx, d) })

	if idx < 0 {
		return false
	}
	q.callListeners(d)
	q.notifyRefresh(next)
	return true
}

// RemoveChapter removes the download queued for chapterID.
func (q *Queue) RemoveChapter(chapterID string) bool {
	d := q.Get(chapterID)
	if d == nil {
		return false
	}
	return q.Remove(d)
}

// RemoveChapters removes every listed chapter and returns how many were queued.
func (q *Queue) RemoveChapters(chapterIDs []string) int {
	n := 0
	for _, id := range chapterIDs {
		if q.RemoveChapter(id) {
			n++
		}
	}
	return n
}

// RemoveManga removes all downloads belonging to mangaID.
func (q *Queue) RemoveManga(mangaID string) int {
	n := 0
	for _, d := range q.Snapshot() {
		if d.MangaID() == mangaID && q.Remove(d) {
			n++
		}
	}
	return n
}

// Clear removes every download.
func (q *Queue) Clear() {
	q.mu.Lock()
	current := *q.jobs.Load()
	empty := []*Download{}
	q.jobs.Store(&empty)
	for _, d := range current {
		q.detach(d)
	}
	q.mu.Unlock()

	q.persist("clear", func(ctx context.Context) error { return q.store.Clear(ctx) })

	if len(current) == 0 {
		return
	}
	for _, d := range current {
		q.callListeners(d)
	}
	q.notifyRefresh(empty)
}

// UpdateListeners republishes every queued download to the listeners.
func (q *Queue) UpdateListeners() {
	for _, d := range *q.jobs.Load() {
		q.callListeners(d)
	}
}

func (q *Queue) AddListener(l Listener) {
	q.listenersMu.Lock()
	defer q.listenersMu.Unlock()
	var next []Listener
	if cur := q.listeners.Load(); cur != nil {
		next = slices.Clone(*cur)
	}
	next = append(next, l)
	q.listeners.Store(&next)
}

func (q *Queue) RemoveListener(l Listener) {
	q.listenersMu.Lock()
	defer q.listenersMu.Unlock()
	cur := q.listeners.Load()
	if cur == nil {
		return
	}
	idx := slices.Index(*cur, l)
	if idx < 0 {
		return
	}
	next := slices.Delete(slices.Clone(*cur), idx, idx+1)
	q.listeners.Store(&next)
}

// SubscribeStatus returns a channel receiving every status change of queued
// downloads. Sends never block; updates are dropped when the buffer is full.
func (q *Queue) SubscribeStatus(buffer int) (<-chan *Download, func()) {
	ch := make(chan *Download, buffer)

	q.statusMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.statusSubs[id] = ch
	q.statusMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.statusMu.Lock()
			delete(q.statusSubs, id)
			q.statusMu.Unlock()
			close(ch)
		})
	}
}

func (q *Queue) publishStatus(d *Download) {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	for _, ch := range q.statusSubs {
		select {
		case ch <- d:
		default:
		}
	}
}

// onStatus runs after every status change of an attached download.
func (q *Queue) onStatus(d *Download) {
	switch d.Status() {
	case StateDownloading:
		q.subscribePages(d)
		q.callListeners(d)
	case StateDownloaded, StateError:
		q.unsubscribePages(d)
		q.callListeners(d)
	default:
		q.callListeners(d)
	}
}

func (q *Queue) subscribePages(d *Download) {
	q.pagesMu.Lock()
	defer q.pagesMu.Unlock()

	for _, cancel := range q.pageSubs[d] {
		cancel()
	}
	delete(q.pageSubs, d)
	if !d.attachedTo(q.hooks) {
		return
	}

	pages := d.Pages()
	cancels := make([]func(), 0, len(pages))
	for _, p := range pages {
		cancels = append(cancels, p.Subscribe(func(*Page) {
			if d.attachedTo(q.hooks) {
				q.callListeners(d)
			}
		}))
	}
	q.pageSubs[d] = cancels
}

func (q *Queue) unsubscribePages(d *Download) {
	q.pagesMu.Lock()
	defer q.pagesMu.Unlock()
	for _, cancel := range q.pageSubs[d] {
		cancel()
	}
	delete(q.pageSubs, d)
}

// detach disconnects d from the queue before resetting its status, so the
// reset itself is not published.
func (q *Queue) detach(d *Download) {
	d.detach()
	q.unsubscribePages(d)
	d.resetInFlight()
}

func (q *Queue) callListeners(d *Download) {
	ls := q.listeners.Load()
	if ls == nil {
		return
	}
	for _, l := range *ls {
		l.OnUpdate(d)
	}
}

func (q *Queue) notifyRefresh(downloads []*Download) {
	ls := q.listeners.Load()
	if ls == nil {
		return
	}
	for _, l := range *ls {
		l.OnRefresh(slices.Clone(downloads))
	}
}

func (q *Queue) persist(op string, fn func(ctx context.Context) error) {
	if q.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.storeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		q.log.WithError(err).WithField("op", op).Warn("failed to persist download queue")
	}
}
