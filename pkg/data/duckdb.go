package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/marcboeker/go-duckdb/v2"
)

const schema = `
CREATE TABLE IF NOT EXISTS mangas (
	id        VARCHAR PRIMARY KEY,
	name      VARCHAR NOT NULL DEFAULT '',
	cover_url VARCHAR NOT NULL DEFAULT '',
	source    VARCHAR NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS chapters (
	id       VARCHAR PRIMARY KEY,
	manga_id VARCHAR NOT NULL,
	url      VARCHAR NOT NULL DEFAULT '',
	title    VARCHAR NOT NULL DEFAULT '',
	volume   VARCHAR NOT NULL DEFAULT '',
	number   VARCHAR NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS download_queue (
	chapter_id VARCHAR PRIMARY KEY,
	manga_id   VARCHAR NOT NULL,
	source     VARCHAR NOT NULL DEFAULT '',
	position   BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS preferences (
	pref_key   VARCHAR PRIMARY KEY,
	pref_value VARCHAR NOT NULL
);
`

// InitDuckDB opens (creating if needed) the database at path and applies the schema.
func InitDuckDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// OpenRepository opens the DuckDB database at path.
func OpenRepository(path string) (*Repository, error) {
	db, err := InitDuckDB(path)
	if err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) DB() *sql.DB {
	return r.db
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) SaveManga(ctx context.Context, manga *Manga) error {
	return SaveManga(ctx, r.db, manga)
}

func (r *Repository) SaveChapter(ctx context.Context, chapter *Chapter) error {
	return SaveChapter(ctx, r.db, chapter)
}

// SaveManga upserts manga using ex.
func SaveManga(ctx context.Context, ex Execer, manga *Manga) error {
	if manga == nil || manga.ID == "" {
		return fmt.Errorf("manga id cannot be empty")
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO mangas (id, name, cover_url, source) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			cover_url = excluded.cover_url,
			source = excluded.source`,
		manga.ID, manga.Name, manga.CoverURL, manga.Source)
	if err != nil {
		return fmt.Errorf("failed to save manga %s: %w", manga.ID, err)
	}
	return nil
}

// SaveChapter upserts chapter using ex.
func SaveChapter(ctx context.Context, ex Execer, chapter *Chapter) error {
	if chapter == nil || chapter.ID == "" {
		return fmt.Errorf("chapter id cannot be empty")
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO chapters (id, manga_id, url, title, volume, number) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			manga_id = excluded.manga_id,
			url = excluded.url,
			title = excluded.title,
			volume = excluded.volume,
			number = excluded.number`,
		chapter.ID, chapter.MangaID, chapter.URL, chapter.Title, chapter.Volume, chapter.Number)
	if err != nil {
		return fmt.Errorf("failed to save chapter %s: %w", chapter.ID, err)
	}
	return nil
}

// GetManga returns nil, nil when the manga does not exist.
func (r *Repository) GetManga(ctx context.Context, id string) (*Manga, error) {
	m := &Manga{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, cover_url, source FROM mangas WHERE id = ?`, id).
		Scan(&m.ID, &m.Name, &m.CoverURL, &m.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manga %s: %w", id, err)
	}
	return m, nil
}

// GetChapter returns nil, nil when the chapter does not exist.
func (r *Repository) GetChapter(ctx context.Context, id string) (*Chapter, error) {
	c := &Chapter{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, manga_id, url, title, volume, number FROM chapters WHERE id = ?`, id).
		Scan(&c.ID, &c.MangaID, &c.URL, &c.Title, &c.Volume, &c.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter %s: %w", id, err)
	}
	return c, nil
}

// GetChapters returns the chapters of a manga ordered by volume and number.
func (r *Repository) GetChapters(ctx context.Context, mangaID string) ([]*Chapter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, manga_id, url, title, volume, number FROM chapters
		WHERE manga_id = ?
		ORDER BY TRY_CAST(volume AS DOUBLE) NULLS FIRST, TRY_CAST(number AS DOUBLE) NULLS FIRST, id`, mangaID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chapters for %s: %w", mangaID, err)
	}
	defer rows.Close()

	var chapters []*Chapter
	for rows.Next() {
		c := &Chapter{}
		if err := rows.Scan(&c.ID, &c.MangaID, &c.URL, &c.Title, &c.Volume, &c.Number); err != nil {
			return nil, err
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

// GetIntPreference returns def when key is unset or not an integer.
func (r *Repository) GetIntPreference(ctx context.Context, key string, def int) (int, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT pref_value FROM preferences WHERE pref_key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, nil
	}
	return v, nil
}

func (r *Repository) SetIntPreference(ctx context.Context, key string, value int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO preferences (pref_key, pref_value) VALUES (?, ?)
		ON CONFLICT (pref_key) DO UPDATE SET pref_value = excluded.pref_value`,
		key, strconv.Itoa(value))
	if err != nil {
		return fmt.Errorf("failed to save preference %s: %w", key, err)
	}
	return nil
}
