package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu       sync.Mutex
	added    []string
	removed  []string
	cleared  int
	addAllFn func(downloads []*Download) error
}

func (m *mockStore) AddAll(_ context.Context, downloads []*Download) error {
	m.mu.Lock()
	for _, d := range downloads {
		m.added = append(m.added, d.ChapterID())
	}
	fn := m.addAllFn
	m.mu.Unlock()
	if fn != nil {
		return fn(downloads)
	}
	return nil
}

func (m *mockStore) Remove(_ context.Context, d *Download) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, d.ChapterID())
	return nil
}

func (m *mockStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
	return nil
}

type recordingListener struct {
	mu        sync.Mutex
	refreshes [][]*Download
	updates   []*Download
}

func (l *recordingListener) OnRefresh(downloads []*Download) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes = append(l.refreshes, downloads)
}

func (l *recordingListener) OnUpdate(d *Download) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, d)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.refreshes), len(l.updates)
}

func (l *recordingListener) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes = nil
	l.updates = nil
}

// simulate the worker side of the contract for a single-page job.
func completeJob(t *testing.T, d *Download) {
	t.Helper()
	require.True(t, d.Transition(StateQueue, StateDownloading))
	for _, p := range d.Pages() {
		p.SetState(PageDownloadImage)
		p.SetProgress(50)
		p.SetProgress(100)
		p.SetState(PageReady)
	}
	require.True(t, d.Transition(StateDownloading, StateDownloaded))
}

func failJob(t *testing.T, d *Download) {
	t.Helper()
	require.True(t, d.Transition(StateQueue, StateDownloading))
	for _, p := range d.Pages() {
		p.SetState(PageError)
	}
	require.True(t, d.Transition(StateDownloading, StateError))
}

func TestQueueScenarioThreeChapters(t *testing.T) {
	store := &mockStore{}
	q := NewQueue(store)
	listener := &recordingListener{}
	q.AddListener(listener)

	jobs := []*Download{
		newTestDownload("m1", "c1", 1),
		newTestDownload("m1", "c2", 1),
		newTestDownload("m1", "c3", 1),
	}
	q.AddAll(jobs)

	for _, d := range jobs {
		assert.Equal(t, StateQueue, d.Status())
	}
	require.Len(t, listener.refreshes, 1)
	assert.Equal(t, jobs, listener.refreshes[0])
	assert.Equal(t, []string{"c1", "c2", "c3"}, store.added)

	completeJob(t, jobs[0])
	completeJob(t, jobs[1])
	failJob(t, jobs[2])

	assert.Equal(t, StateDownloaded, jobs[0].Status())
	assert.Equal(t, StateDownloaded, jobs[1].Status())
	assert.Equal(t, StateError, jobs[2].Status())
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 1, jobs[0].DownloadedImages())
	assert.Equal(t, 0, jobs[2].DownloadedImages())
}

func TestQueueRefreshPrecedesStore(t *testing.T) {
	listener := &recordingListener{}
	store := &mockStore{}
	store.addAllFn = func([]*Download) error {
		refreshes, _ := listener.counts()
		assert.Equal(t, 1, refreshes, "listeners must see the refresh before the store is written")
		return nil
	}
	q := NewQueue(store)
	q.AddListener(listener)

	q.AddAll([]*Download{newTestDownload("m1", "c1", 0)})
	assert.Len(t, store.added, 1)
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(nil)
	q.AddAll([]*Download{newTestDownload("m1", "c1", 0), newTestDownload("m1", "c2", 0)})
	q.AddAll([]*Download{newTestDownload("m2", "c3", 0)})

	var ids []string
	for _, d := range q.Snapshot() {
		ids = append(ids, d.ChapterID())
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)
	assert.Equal(t, []string{"c1", "c2", "c3"}, chapterIDs(q.Pending()))
}

func chapterIDs(ds []*Download) []string {
	var ids []string
	for _, d := range ds {
		ids = append(ids, d.ChapterID())
	}
	return ids
}

func TestQueueAtMostOneJobPerChapter(t *testing.T) {
	store := &mockStore{}
	q := NewQueue(store)

	q.AddAll([]*Download{
		newTestDownload("m1", "c1", 0),
		newTestDownload("m1", "c1", 0),
		newTestDownload("m1", "c2", 0),
	})
	dup := newTestDownload("m1", "c2", 0)
	q.AddAll([]*Download{dup})

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, StateNotDownloaded, dup.Status(), "skipped duplicates are not touched")
	assert.Equal(t, []string{"c1", "c2"}, store.added)
}

func TestQueueConcurrentAddAll(t *testing.T) {
	q := NewQueue(nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				q.AddAll([]*Download{newTestDownload("m1", fmt.Sprintf("c%d", i), 0)})
				_ = q.Snapshot()
				_ = q.Contains("c3")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, q.Len())
	seen := map[string]bool{}
	for _, d := range q.Snapshot() {
		assert.False(t, seen[d.ChapterID()], "duplicate chapter %s", d.ChapterID())
		seen[d.ChapterID()] = true
	}
}

func TestQueueRemoveResetsState(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		store := &mockStore{}
		q := NewQueue(store)
		d := newTestDownload("m1", "c1", 1)
		q.AddAll([]*Download{d})

		assert.True(t, q.Remove(d))
		assert.Equal(t, StateNotDownloaded, d.Status())
		assert.Equal(t, 0, q.Len())
		assert.Equal(t, []string{"c1"}, store.removed)
	})

	t.Run("downloading", func(t *testing.T) {
		q := NewQueue(&mockStore{})
		d := newTestDownload("m1", "c1", 1)
		q.AddAll([]*Download{d})
		require.True(t, d.Transition(StateQueue, StateDownloading))

		assert.True(t, q.Remove(d))
		assert.Equal(t, StateNotDownloaded, d.Status())
	})

	t.Run("downloaded keeps state", func(t *testing.T) {
		q := NewQueue(nil)
		d := newTestDownload("m1", "c1", 1)
		q.AddAll([]*Download{d})
		completeJob(t, d)

		assert.True(t, q.Remove(d))
		assert.Equal(t, StateDownloaded, d.Status())
	})

	t.Run("not present", func(t *testing.T) {
		store := &mockStore{}
		q := NewQueue(store)
		listener := &recordingListener{}
		q.AddListener(listener)

		d := newTestDownload("m1", "c1", 0)
		d.SetStatus(StateDownloading)

		assert.False(t, q.Remove(d))
		assert.Equal(t, StateNotDownloaded, d.Status())
		refreshes, updates := listener.counts()
		assert.Zero(t, refreshes)
		assert.Zero(t, updates)
	})
}

func TestQueueRemoveNotifiesListeners(t *testing.T) {
	q := NewQueue(nil)
	d1 := newTestDownload("m1", "c1", 0)
	d2 := newTestDownload("m1", "c2", 0)
	q.AddAll([]*Download{d1, d2})

	listener := &recordingListener{}
	q.AddListener(listener)
	q.Remove(d1)

	require.Len(t, listener.refreshes, 1)
	assert.Equal(t, []*Download{d2}, listener.refreshes[0])
	assert.Equal(t, []*Download{d1}, listener.updates)
}

func TestQueueRemoveByChapterAndManga(t *testing.T) {
	q := NewQueue(nil)
	q.AddAll([]*Download{
		newTestDownload("m1", "c1", 0),
		newTestDownload("m1", "c2", 0),
		newTestDownload("m2", "c3", 0),
		newTestDownload("m2", "c4", 0),
	})

	assert.True(t, q.RemoveChapter("c1"))
	assert.False(t, q.RemoveChapter("c1"))
	assert.Equal(t, 2, q.RemoveManga("m2"))
	assert.Equal(t, []string{"c2"}, chapterIDs(q.Snapshot()))

	q.AddAll([]*Download{newTestDownload("m3", "c5", 0)})
	assert.Equal(t, 1, q.RemoveChapters([]string{"c5", "missing"}))
}

func TestQueueClear(t *testing.T) {
	store := &mockStore{}
	q := NewQueue(store)
	jobs := []*Download{newTestDownload("m1", "c1", 1), newTestDownload("m1", "c2", 1)}
	q.AddAll(jobs)
	require.True(t, jobs[1].Transition(StateQueue, StateDownloading))

	listener := &recordingListener{}
	q.AddListener(listener)
	q.Clear()

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, store.cleared)
	for _, d := range jobs {
		assert.Equal(t, StateNotDownloaded, d.Status())
	}
	require.Len(t, listener.refreshes, 1)
	assert.Empty(t, listener.refreshes[0])
	assert.Len(t, listener.updates, 2)
}

func TestQueuePageProgressReachesListeners(t *testing.T) {
	q := NewQueue(nil)
	d := newTestDownload("m1", "c1", 2)
	q.AddAll([]*Download{d})

	var progress []int
	var mu sync.Mutex
	q.AddListener(&ListenerFuncs{Update: func(got *Download) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, got.Progress())
	}})

	require.True(t, d.Transition(StateQueue, StateDownloading))
	pages := d.Pages()
	for _, v := range []int{10, 40, 100} {
		pages[0].SetProgress(v)
	}
	for _, v := range []int{30, 100} {
		pages[1].SetProgress(v)
	}
	eventsBeforeDone := len(progress)
	require.True(t, d.Transition(StateDownloading, StateDownloaded))

	// one for DOWNLOADING, one per page event, one for DOWNLOADED
	assert.Equal(t, 1+5, eventsBeforeDone)
	assert.Len(t, progress, eventsBeforeDone+1)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress must not decrease")
	}
	assert.Equal(t, 100, progress[len(progress)-1])

	// page events after completion are no longer forwarded
	pages[0].SetProgress(99)
	assert.Len(t, progress, eventsBeforeDone+1)
}

func TestQueueErrorTriggersListenersOnce(t *testing.T) {
	q := NewQueue(nil)
	d := newTestDownload("m1", "c1", 1)
	q.AddAll([]*Download{d})

	listener := &recordingListener{}
	q.AddListener(listener)
	failJob(t, d)

	// DOWNLOADING, page error event, ERROR
	_, updates := listener.counts()
	assert.Equal(t, 3, updates)
	assert.Equal(t, StateError, listener.updates[len(listener.updates)-1].Status())
}

func TestQueueNoGhostUpdatesAfterRemove(t *testing.T) {
	q := NewQueue(nil)
	d := newTestDownload("m1", "c1", 1)
	q.AddAll([]*Download{d})
	require.True(t, d.Transition(StateQueue, StateDownloading))

	listener := &recordingListener{}
	q.AddListener(listener)
	q.Remove(d)
	listener.reset()

	// the in-flight fetch keeps reporting after removal
	d.Pages()[0].SetProgress(80)
	d.Pages()[0].SetState(PageReady)
	assert.False(t, d.Transition(StateDownloading, StateDownloaded))
	d.SetStatus(StateError)

	refreshes, updates := listener.counts()
	assert.Zero(t, refreshes)
	assert.Zero(t, updates)
}

func TestQueueRequeue(t *testing.T) {
	q := NewQueue(nil)
	d := newTestDownload("m1", "c1", 1)
	q.AddAll([]*Download{d})

	assert.False(t, q.Requeue(d), "only failed downloads are requeued")
	failJob(t, d)
	assert.True(t, q.Requeue(d))
	assert.Equal(t, StateQueue, d.Status())

	stranger := newTestDownload("m1", "c9", 0)
	stranger.SetStatus(StateError)
	assert.False(t, q.Requeue(stranger))
}

func TestQueueRequeueChapter(t *testing.T) {
	q := NewQueue(nil)
	d := newTestDownload("m1", "c1", 1)
	q.AddAll([]*Download{d})

	assert.ErrorIs(t, q.RequeueChapter("missing"), ErrNotQueued)
	assert.Error(t, q.RequeueChapter("c1"))

	failJob(t, d)
	require.NoError(t, q.RequeueChapter("c1"))
	assert.Equal(t, StateQueue, d.Status())
}

func TestQueueAddListenerDuringCallback(t *testing.T) {
	q := NewQueue(nil)
	late := &recordingListener{}
	registered := false
	q.AddListener(&ListenerFuncs{Update: func(*Download) {
		if !registered {
			registered = true
			q.AddListener(late)
		}
	}})

	d := newTestDownload("m1", "c1", 1)
	q.AddAll([]*Download{d})
	require.True(t, registered)

	require.True(t, d.Transition(StateQueue, StateDownloading))
	_, updates := late.counts()
	assert.Equal(t, 1, updates)
}

func TestQueueRemoveListener(t *testing.T) {
	q := NewQueue(nil)
	a := &recordingListener{}
	b := &recordingListener{}
	q.AddListener(a)
	q.AddListener(b)
	q.RemoveListener(a)
	q.RemoveListener(a)

	q.AddAll([]*Download{newTestDownload("m1", "c1", 0)})

	refreshes, _ := a.counts()
	assert.Zero(t, refreshes)
	refreshes, _ = b.counts()
	assert.Equal(t, 1, refreshes)
}

func TestQueueListenersInRegistrationOrder(t *testing.T) {
	q := NewQueue(nil)
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		q.AddListener(&ListenerFuncs{Refresh: func([]*Download) { order = append(order, name) }})
	}
	q.AddAll([]*Download{newTestDownload("m1", "c1", 0)})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestQueueSubscribeStatus(t *testing.T) {
	q := NewQueue(nil)
	ch, cancel := q.SubscribeStatus(10)

	d := newTestDownload("m1", "c1", 0)
	q.AddAll([]*Download{d})
	require.True(t, d.Transition(StateQueue, StateDownloading))

	got := <-ch
	assert.Same(t, d, got)
	<-ch

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// publishing after cancel must not panic
	require.True(t, d.Transition(StateDownloading, StateDownloaded))
}

func TestQueueSubscribeStatusNeverBlocks(t *testing.T) {
	q := NewQueue(nil)
	_, cancel := q.SubscribeStatus(0)
	defer cancel()

	d := newTestDownload("m1", "c1", 0)
	q.AddAll([]*Download{d})
	assert.True(t, d.Transition(StateQueue, StateDownloading))
}

func TestQueueStoreErrorIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := &mockStore{addAllFn: func([]*Download) error { return errors.New("disk full") }}
	q := NewQueue(store, WithLogger(logrus.NewEntry(logger)))

	q.AddAll([]*Download{newTestDownload("m1", "c1", 0)})

	assert.Equal(t, 1, q.Len(), "in-memory queue stays authoritative")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "add", hook.LastEntry().Data["op"])
}

func TestQueueActive(t *testing.T) {
	q := NewQueue(nil)
	d1 := newTestDownload("m1", "c1", 0)
	d2 := newTestDownload("m1", "c2", 0)
	q.AddAll([]*Download{d1, d2})
	require.True(t, d2.Transition(StateQueue, StateDownloading))

	assert.Equal(t, []*Download{d2}, q.Active())
	assert.Equal(t, []*Download{d1}, q.Pending())
	assert.Same(t, d2, q.Get("c2"))
	assert.Nil(t, q.Get("missing"))
}

func TestQueueUpdateListeners(t *testing.T) {
	q := NewQueue(nil)
	q.AddAll([]*Download{newTestDownload("m1", "c1", 0), newTestDownload("m1", "c2", 0)})

	listener := &recordingListener{}
	q.AddListener(listener)
	q.UpdateListeners()

	_, updates := listener.counts()
	assert.Equal(t, 2, updates)
}
