package cache

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

var ErrEditorDone = errors.New("cache: editor already committed or aborted")

// Editor stages a new value for one key. Nothing written through it is
// visible to readers until Commit; callers should defer AbortUnlessCommitted
// right after obtaining it.
type Editor struct {
	cache       *DiskLRU
	key         string
	stagingPath string
	file        *os.File
	done        bool
}

func newEditor(c *DiskLRU, key string) *Editor {
	return &Editor{
		cache:       c,
		key:         key,
		stagingPath: c.path(fmt.Sprintf("%s.0.%s.tmp", key, uuid.NewString())),
	}
}

func (e *Editor) Key() string {
	return e.key
}

// Writer returns the staging file, creating it on first use.
func (e *Editor) Writer() (io.Writer, error) {
	if e.done {
		return nil, ErrEditorDone
	}
	if e.file == nil {
		f, err := os.OpenFile(e.stagingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to create staging file: %w", err)
		}
		e.file = f
	}
	return e.file, nil
}

// Commit makes the staged value durable and visible under the key.
func (e *Editor) Commit() error {
	if e.done {
		return ErrEditorDone
	}
	if e.file == nil {
		_ = e.Abort()
		return errors.New("cache: nothing was written")
	}

	syncErr := e.file.Sync()
	closeErr := e.file.Close()
	e.file = nil
	e.done = true
	if err := errors.Join(syncErr, closeErr); err != nil {
		_ = e.cache.completeEdit(e, false)
		return fmt.Errorf("failed to write staged value: %w", err)
	}
	return e.cache.completeEdit(e, true)
}

// Abort discards the staged value. The previous value, if any, is kept.
func (e *Editor) Abort() error {
	if e.done {
		return nil
	}
	e.done = true
	if e.file != nil {
		e.file.Close()
		e.file = nil
	}
	return e.cache.completeEdit(e, false)
}

// AbortUnlessCommitted is meant to be deferred.
func (e *Editor) AbortUnlessCommitted() {
	if !e.done {
		_ = e.Abort()
	}
}
