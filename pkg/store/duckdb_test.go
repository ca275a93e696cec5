package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDuckDBStore(t *testing.T) (*DuckDBStore, *data.Repository) {
	t.Helper()
	repo, err := data.OpenRepository(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return NewDuckDBStore(repo), repo
}

func testDownload(mangaID, chapterID string) *download.Download {
	return download.New("mangadex",
		&data.Manga{ID: mangaID, Name: "Manga " + mangaID},
		&data.Chapter{ID: chapterID, MangaID: mangaID, URL: "/chapter/" + chapterID, Number: chapterID})
}

func chapterIDs(entries []Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Chapter.ID)
	}
	return ids
}

func TestDuckDBStoreKeepsEnqueueOrder(t *testing.T) {
	s, _ := setupDuckDBStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddAll(ctx, []*download.Download{testDownload("m1", "c2"), testDownload("m1", "c1")}))
	require.NoError(t, s.AddAll(ctx, []*download.Download{testDownload("m2", "c3")}))
	require.NoError(t, s.AddAll(ctx, []*download.Download{testDownload("m1", "c2")}), "re-adding is ignored")

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c1", "c3"}, chapterIDs(entries))

	first := entries[0]
	assert.Equal(t, "mangadex", first.Source)
	require.NotNil(t, first.Manga)
	assert.Equal(t, "Manga m1", first.Manga.Name)
	assert.Equal(t, "/chapter/c2", first.Chapter.URL)
}

func TestDuckDBStoreSavesMangaAndChapters(t *testing.T) {
	s, repo := setupDuckDBStore(t)
	ctx := context.Background()

	d := download.New("mangadex", &data.Manga{ID: "m1", Name: "One"}, &data.Chapter{ID: "c1", URL: "/c1"})
	require.NoError(t, s.AddAll(ctx, []*download.Download{d}))

	manga, err := repo.GetManga(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, manga)
	assert.Equal(t, "One", manga.Name)

	chapter, err := repo.GetChapter(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, chapter)
	assert.Equal(t, "m1", chapter.MangaID, "chapter inherits the manga id")
}

func TestDuckDBStoreRemoveAndClear(t *testing.T) {
	s, _ := setupDuckDBStore(t)
	ctx := context.Background()
	d1, d2 := testDownload("m1", "c1"), testDownload("m1", "c2")
	require.NoError(t, s.AddAll(ctx, []*download.Download{d1, d2}))

	require.NoError(t, s.Remove(ctx, d1))
	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, chapterIDs(entries))

	require.NoError(t, s.Clear(ctx))
	entries, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDuckDBStoreRestoreKeepsEntries(t *testing.T) {
	s, _ := setupDuckDBStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddAll(ctx, []*download.Download{testDownload("m1", "c1"), testDownload("m1", "c2")}))

	entries, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, chapterIDs(entries))

	// a run that stops before the queue saves them again loses nothing
	again, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, chapterIDs(again))

	// re-adding the restored entries keeps their order
	downloads := []*download.Download{entries[1].Download(), entries[0].Download()}
	require.NoError(t, s.AddAll(ctx, downloads))
	listed, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, chapterIDs(listed))

	d := entries[0].Download()
	assert.Equal(t, "c1", d.ChapterID())
	assert.Equal(t, "m1", d.MangaID())
	assert.Equal(t, download.StateNotDownloaded, d.Status())
}

func TestDuckDBStoreBacksQueue(t *testing.T) {
	s, _ := setupDuckDBStore(t)
	ctx := context.Background()
	q := download.NewQueue(s)

	d1, d2, d3 := testDownload("m1", "c1"), testDownload("m1", "c2"), testDownload("m2", "c3")
	q.AddAll([]*download.Download{d1, d2, d3})
	q.Remove(d2)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c3"}, chapterIDs(entries))

	q.Clear()
	entries, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
