// Package store persists download queue membership so a queue can be rebuilt
// after a restart.
package store

import (
	"context"

	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/download"
)

// Entry is one persisted download.
type Entry struct {
	Source  string        `json:"source"`
	Manga   *data.Manga   `json:"manga"`
	Chapter *data.Chapter `json:"chapter"`
}

// Download builds a fresh download for the entry.
func (e Entry) Download() *download.Download {
	return download.New(e.Source, e.Manga, e.Chapter)
}

// Store is a download.Store that can hand its contents back.
type Store interface {
	download.Store
	// Restore returns the persisted entries in enqueue order for re-adding
	// to a queue. The store keeps them; adding them back does not move them.
	Restore(ctx context.Context) ([]Entry, error)
	// List returns the persisted entries in enqueue order.
	List(ctx context.Context) ([]Entry, error)
}

func entryOf(d *download.Download) Entry {
	return Entry{Source: d.Source, Manga: d.Manga, Chapter: d.Chapter}
}

var (
	_ Store = (*DuckDBStore)(nil)
	_ Store = (*RedisStore)(nil)
)
