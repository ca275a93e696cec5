package integrations

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-shiori/go-epub"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/sirupsen/logrus"
)

// ExportChapter is a chapter whose page images are available locally, in
// reading order.
type ExportChapter struct {
	Chapter *data.Chapter
	Pages   []string
}

type EPubBuilder struct {
	outputDir string
	processor *ImageProcessor
	log       *logrus.Entry
}

type EPubOption func(*EPubBuilder)

// WithDevice converts every page for the device screen.
func WithDevice(d Device) EPubOption {
	return func(b *EPubBuilder) { b.processor = NewImageProcessor(d.ImageSettings()) }
}

func NewEPubBuilder(outputDir string, opts ...EPubOption) *EPubBuilder {
	b := &EPubBuilder{outputDir: outputDir, log: logrus.WithField("component", "epub")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build writes one EPUB holding every chapter and returns its path.
// coverPath may be empty.
func (b *EPubBuilder) Build(manga *data.Manga, chapters []ExportChapter, coverPath string) (string, error) {
	if len(chapters) == 0 {
		return "", fmt.Errorf("no chapters to export")
	}
	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	// converted pages must exist until the book is written
	work, err := os.MkdirTemp("", "mangadl-epub-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(work)

	e, err := epub.NewEpub(manga.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create EPub: %w", err)
	}
	e.SetAuthor(manga.Source)
	e.SetLang("en")

	if coverPath != "" {
		cover, err := e.AddImage(coverPath, "cover"+extension(coverPath))
		if err != nil {
			b.log.WithError(err).Debug("cover not added")
		} else {
			e.SetCover(cover, "")
		}
	}

	sorted := sortChapters(chapters)
	for i, ch := range sorted {
		if err := b.addChapter(e, work, i, ch); err != nil {
			return "", fmt.Errorf("failed to add chapter %s: %w", ch.Chapter.Number, err)
		}
	}

	out := filepath.Join(b.outputDir, sanitizeFilename(manga.Name)+".epub")
	if err := e.Write(out); err != nil {
		return "", fmt.Errorf("failed to write EPub: %w", err)
	}
	b.log.WithFields(logrus.Fields{"manga": manga.Name, "chapters": len(sorted), "path": out}).Info("epub written")
	return out, nil
}

func (b *EPubBuilder) addChapter(e *epub.Epub, work string, n int, ch ExportChapter) error {
	if len(ch.Pages) == 0 {
		return fmt.Errorf("chapter has no pages")
	}

	title := chapterTitle(ch.Chapter)
	var body strings.Builder
	fmt.Fprintf(&body, "<h1>%s</h1>\n", title)

	for i, page := range ch.Pages {
		source, name := page, fmt.Sprintf("c%04d_p%04d%s", n, i, extension(page))
		if b.processor != nil {
			converted, err := b.convert(page, work)
			if err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			source, name = converted, fmt.Sprintf("c%04d_p%04d.jpg", n, i)
		}
		internal, err := e.AddImage(source, name)
		if err != nil {
			return fmt.Errorf("failed to add page %d: %w", i, err)
		}
		fmt.Fprintf(&body, `<div class="page"><img src="%s" alt="Page %d" style="width:100%%;height:auto;"/></div>`+"\n", internal, i+1)
	}

	_, err := e.AddSection(body.String(), title, "", "")
	return err
}

func (b *EPubBuilder) convert(path, work string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	converted, err := b.processor.Process(f)
	if err != nil {
		return "", err
	}
	out, err := os.CreateTemp(work, "page-*.jpg")
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := out.Write(converted); err != nil {
		return "", err
	}
	return out.Name(), nil
}

// extension guesses the image extension from the file content; cached pages
// have none.
func extension(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return ".img"
	}
	return mtype.Extension()
}

func sortChapters(chapters []ExportChapter) []ExportChapter {
	sorted := append([]ExportChapter(nil), chapters...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Chapter, sorted[j].Chapter
		va, _ := strconv.ParseFloat(a.Volume, 64)
		vb, _ := strconv.ParseFloat(b.Volume, 64)
		if va != vb {
			return va < vb
		}
		na, _ := strconv.ParseFloat(a.Number, 64)
		nb, _ := strconv.ParseFloat(b.Number, 64)
		return na < nb
	})
	return sorted
}

func chapterTitle(c *data.Chapter) string {
	title := "Chapter " + c.Number
	if c.Volume != "" && c.Volume != "0" {
		title = fmt.Sprintf("Vol. %s, %s", c.Volume, title)
	}
	if c.Title != "" {
		title += ": " + c.Title
	}
	return title
}

func sanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, name)
	result = strings.Trim(strings.TrimSpace(result), ".")
	if result == "" {
		return "manga"
	}
	return result
}
