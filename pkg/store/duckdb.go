package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/download"
)

// DuckDBStore keeps the queue in the download_queue table, alongside the
// manga and chapter rows it references.
type DuckDBStore struct {
	repo *data.Repository
}

func NewDuckDBStore(repo *data.Repository) *DuckDBStore {
	return &DuckDBStore{repo: repo}
}

func (s *DuckDBStore) AddAll(ctx context.Context, downloads []*download.Download) error {
	tx, err := s.repo.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var position int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) FROM download_queue`).Scan(&position); err != nil {
		return fmt.Errorf("failed to read queue position: %w", err)
	}

	savedMangas := make(map[string]struct{})
	for _, d := range downloads {
		if d.Chapter == nil {
			continue
		}
		if d.Manga != nil {
			if _, ok := savedMangas[d.Manga.ID]; !ok {
				if err := data.SaveManga(ctx, tx, d.Manga); err != nil {
					return err
				}
				savedMangas[d.Manga.ID] = struct{}{}
			}
		}

		chapter := *d.Chapter
		if chapter.MangaID == "" {
			chapter.MangaID = d.MangaID()
		}
		if err := data.SaveChapter(ctx, tx, &chapter); err != nil {
			return err
		}

		position++
		_, err := tx.ExecContext(ctx, `
			INSERT INTO download_queue (chapter_id, manga_id, source, position) VALUES (?, ?, ?, ?)
			ON CONFLICT (chapter_id) DO NOTHING`,
			chapter.ID, chapter.MangaID, d.Source, position)
		if err != nil {
			return fmt.Errorf("failed to enqueue chapter %s: %w", chapter.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue: %w", err)
	}
	return nil
}

func (s *DuckDBStore) Remove(ctx context.Context, d *download.Download) error {
	if _, err := s.repo.DB().ExecContext(ctx, `DELETE FROM download_queue WHERE chapter_id = ?`, d.ChapterID()); err != nil {
		return fmt.Errorf("failed to dequeue chapter %s: %w", d.ChapterID(), err)
	}
	return nil
}

func (s *DuckDBStore) Clear(ctx context.Context) error {
	if _, err := s.repo.DB().ExecContext(ctx, `DELETE FROM download_queue`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// List returns the persisted entries in enqueue order without removing them.
func (s *DuckDBStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.repo.DB().QueryContext(ctx, `
		SELECT q.source,
			m.id, m.name, m.cover_url, m.source,
			c.id, c.manga_id, c.url, c.title, c.volume, c.number
		FROM download_queue q
		JOIN chapters c ON c.id = q.chapter_id
		LEFT JOIN mangas m ON m.id = q.manga_id
		ORDER BY q.position`)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			manga struct{ id, name, cover, source sql.NullString }
			c     data.Chapter
		)
		if err := rows.Scan(&e.Source,
			&manga.id, &manga.name, &manga.cover, &manga.source,
			&c.ID, &c.MangaID, &c.URL, &c.Title, &c.Volume, &c.Number); err != nil {
			return nil, err
		}
		if manga.id.Valid {
			e.Manga = &data.Manga{
				ID:       manga.id.String,
				Name:     manga.name.String,
				CoverURL: manga.cover.String,
				Source:   manga.source.String,
			}
		}
		e.Chapter = &c
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *DuckDBStore) Restore(ctx context.Context) ([]Entry, error) {
	return s.List(ctx)
}
