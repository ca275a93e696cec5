package cache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound       = errors.New("cache: entry not found")
	ErrEditInProgress = errors.New("cache: entry is being edited")
	ErrClosed         = errors.New("cache: closed")
	ErrInvalidKey     = errors.New("cache: invalid key")
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,120}$`)

type entry struct {
	key  string
	size int64
}

// DiskLRU is a size-bounded least-recently-used cache of files in a single
// directory. Every entry is one file named "<key>.0". Changes are recorded in
// an append-only journal so the index survives process death; values become
// visible only when an Editor commits.
type DiskLRU struct {
	dir        string
	appVersion int
	maxSize    int64
	log        *logrus.Entry

	mu           sync.Mutex
	lru          *simplelru.LRU[string, *entry]
	editors      map[string]*Editor
	size         int64
	journal      *os.File
	jw           *bufio.Writer
	journalSize  int64
	redundantOps int
	closed       bool
}

// Open opens the cache in dir, creating it if needed, and replays the
// journal. A journal that cannot be parsed discards the cache contents.
func Open(dir string, appVersion int, maxSize int64, log *logrus.Entry) (*DiskLRU, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("cache: max size must be positive, got %d", maxSize)
	}
	if log == nil {
		log = logrus.WithField("component", "disklru")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &DiskLRU{
		dir:        dir,
		appVersion: appVersion,
		maxSize:    maxSize,
		log:        log.WithField("dir", dir),
		editors:    make(map[string]*Editor),
	}
	lru, err := simplelru.NewLRU[string, *entry](math.MaxInt, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = lru

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := restoreJournalBackup(dir); err != nil {
		return nil, err
	}

	if _, err := os.Stat(c.path(JournalFile)); err == nil {
		entries, rebuild, err := c.readJournal()
		if err == nil {
			c.processJournal(entries)
			if rebuild {
				err = c.rebuildJournal()
			} else {
				err = c.openJournalForAppend()
			}
			if err != nil {
				_ = c.closeJournal()
				return nil, err
			}
			c.trimToSize()
			if err := c.flushJournal(); err != nil {
				c.log.WithError(err).Warn("failed to flush cache journal")
			}
			return c, nil
		}
		c.log.WithError(err).Warn("cache journal is corrupt, discarding cache")
		if err := clearDirectory(dir); err != nil {
			return nil, err
		}
	}

	if err := c.rebuildJournal(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *DiskLRU) Dir() string {
	return c.dir
}

func (c *DiskLRU) MaxSize() int64 {
	return c.maxSize
}

// Size is the number of bytes held by committed entries.
func (c *DiskLRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *DiskLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the committed keys from least to most recently used.
func (c *DiskLRU) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

func (c *DiskLRU) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Path returns the file that holds the committed value for key.
func (c *DiskLRU) Path(key string) string {
	return c.path(key + ".0")
}

func (c *DiskLRU) path(name string) string {
	return filepath.Join(c.dir, name)
}

// Contains reports whether key has a committed value, without touching its
// position in the LRU order.
func (c *DiskLRU) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.lru.Contains(key)
}

// Reader opens the committed value for key and marks it as recently used.
func (c *DiskLRU) Reader(key string) (io.ReadCloser, error) {
	if !keyPattern.MatchString(key) {
		return nil, ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if _, ok := c.lru.Get(key); !ok {
		return nil, ErrNotFound
	}

	f, err := os.Open(c.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// removed behind our back
			c.lru.Remove(key)
			return nil, ErrNotFound
		}
		return nil, err
	}

	c.redundantOps++
	c.writeJournal("READ " + key)
	c.compactIfNeeded()
	return f, nil
}

// Get reads the whole committed value for key.
func (c *DiskLRU) Get(key string) ([]byte, error) {
	r, err := c.Reader(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Edit returns the editor for key. Only one editor per key may be open at a
// time; a second call returns ErrEditInProgress until the first commits or
// aborts.
func (c *DiskLRU) Edit(key string) (*Editor, error) {
	if !keyPattern.MatchString(key) {
		return nil, ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if _, busy := c.editors[key]; busy {
		return nil, ErrEditInProgress
	}

	e := newEditor(c, key)
	c.editors[key] = e
	c.writeJournal("DIRTY " + key)
	// the DIRTY record must hit the disk before the staging file does
	if err := c.flushJournal(); err != nil {
		delete(c.editors, key)
		return nil, err
	}
	return e, nil
}

// Remove evicts key. Entries currently being edited are not removed.
func (c *DiskLRU) Remove(key string) bool {
	if !keyPattern.MatchString(key) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, busy := c.editors[key]; busy {
		return false
	}
	if !c.lru.Remove(key) {
		return false
	}
	c.compactIfNeeded()
	return true
}

// Flush writes buffered journal records to disk.
func (c *DiskLRU) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.flushJournal()
}

// Close flushes and closes the journal. Editors still open will fail to
// commit. Closing twice returns ErrClosed.
func (c *DiskLRU) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	return c.closeJournal()
}

// completeEdit publishes or discards the staged value of e.
func (c *DiskLRU) completeEdit(e *Editor, success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.editors[e.key] == e {
		delete(c.editors, e.key)
	}

	if c.closed {
		removeQuietly(e.stagingPath)
		return ErrClosed
	}

	var commitErr error
	if success {
		commitErr = c.publish(e)
	} else {
		removeQuietly(e.stagingPath)
	}

	// nothing was published: the journal must show the previous value again
	if !success || commitErr != nil {
		if old, ok := c.lru.Peek(e.key); ok {
			c.writeJournal(fmt.Sprintf("CLEAN %s %d", e.key, old.size))
		} else {
			c.writeJournal("REMOVE " + e.key)
		}
	}
	c.redundantOps++

	c.trimToSize()
	c.compactIfNeeded()
	if err := c.flushJournal(); err != nil {
		c.log.WithError(err).Warn("failed to flush cache journal")
	}
	return commitErr
}

func (c *DiskLRU) publish(e *Editor) error {
	info, err := os.Stat(e.stagingPath)
	if err != nil {
		return fmt.Errorf("failed to stat staged value: %w", err)
	}
	if err := os.Rename(e.stagingPath, c.Path(e.key)); err != nil {
		removeQuietly(e.stagingPath)
		return fmt.Errorf("failed to publish staged value: %w", err)
	}

	if old, ok := c.lru.Peek(e.key); ok {
		c.size -= old.size
	}
	c.lru.Add(e.key, &entry{key: e.key, size: info.Size()})
	c.size += info.Size()
	c.writeJournal(fmt.Sprintf("CLEAN %s %d", e.key, info.Size()))
	return nil
}

// onEvict runs with c.mu held for every entry leaving the LRU.
func (c *DiskLRU) onEvict(key string, e *entry) {
	if err := os.Remove(c.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.WithError(err).WithField("key", key).Warn("failed to delete cache entry")
	}
	c.size -= e.size
	c.redundantOps++
	c.writeJournal("REMOVE " + key)
}

func (c *DiskLRU) over() bool {
	return c.size+c.journalSize > c.maxSize
}

// trimToSize evicts least recently used entries until entries plus journal
// fit in maxSize. The journal is compacted instead when it has grown past an
// eighth of maxSize and at least half of it is redundant, so a full cache
// rewrites it once per Len() operations at most.
func (c *DiskLRU) trimToSize() {
	for c.over() {
		if c.journalSize > c.maxSize/8 && c.redundantOps > 0 && c.redundantOps >= c.lru.Len() {
			if err := c.rebuildJournal(); err == nil {
				continue
			}
		}
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			return
		}
	}
}

func (c *DiskLRU) compactIfNeeded() {
	if c.redundantOps >= redundantOpCompactThreshold && c.redundantOps >= c.lru.Len() {
		if err := c.rebuildJournal(); err != nil {
			c.log.WithError(err).Warn("failed to compact cache journal")
		}
	}
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// clearDirectory deletes every file in dir, leaving dir itself in place.
func clearDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("failed to clear cache directory: %w", err)
		}
	}
	return nil
}

func isJournalFile(name string) bool {
	return name == JournalFile || strings.HasPrefix(name, JournalFile+".")
}
