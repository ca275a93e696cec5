package components

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/download"
)

// ProgressTracker follows a download queue and renders the downloads it has
// seen. It keeps finished downloads after they leave the queue so a final
// View still shows them.
type ProgressTracker struct {
	mu        sync.Mutex
	order     []string
	downloads map[string]*download.Download
	statuses  map[string]download.State
	bar       progress.Model
	width     int
	out       io.Writer
}

func NewProgressTracker(width int) *ProgressTracker {
	return &ProgressTracker{
		downloads: make(map[string]*download.Download),
		statuses:  make(map[string]download.State),
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(max(width-4, 10)),
		),
		width: width,
	}
}

// WithStatusLines makes the tracker print a line to w on every status change.
func (p *ProgressTracker) WithStatusLines(w io.Writer) *ProgressTracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = w
	return p
}

func (p *ProgressTracker) OnRefresh(downloads []*download.Download) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range downloads {
		p.track(d)
	}
}

func (p *ProgressTracker) OnUpdate(d *download.Download) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track(d)

	status := d.Status()
	if last, seen := p.statuses[d.Key()]; seen && last == status {
		return
	}
	p.statuses[d.Key()] = status
	if p.out != nil {
		fmt.Fprintf(p.out, "%s %s\n", styles.StatusStyle(status.String()).Render(fmt.Sprintf("%-12s", status)), title(d))
	}
}

func (p *ProgressTracker) track(d *download.Download) {
	key := d.Key()
	if _, ok := p.downloads[key]; !ok {
		p.order = append(p.order, key)
	}
	p.downloads[key] = d
}

func (p *ProgressTracker) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = nil
	p.downloads = make(map[string]*download.Download)
	p.statuses = make(map[string]download.State)
}

// HasActive reports whether any tracked download is queued or downloading.
func (p *ProgressTracker) HasActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.downloads {
		if d.Status().InFlight() {
			return true
		}
	}
	return false
}

func (p *ProgressTracker) View() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render("Downloads"))
	b.WriteString("\n\n")

	for _, key := range p.order {
		d := p.downloads[key]
		b.WriteString(styles.TextStyle.Render(title(d)))
		b.WriteString("\n")

		if pages := d.Pages(); len(pages) > 0 {
			b.WriteString(p.bar.ViewAs(float64(d.Progress()) / 100))
			b.WriteString("\n")
		}

		status := d.Status()
		statusText := status.String()
		if pages := d.Pages(); len(pages) > 0 {
			statusText = fmt.Sprintf("%s (%d/%d pages)", status, d.DownloadedImages(), len(pages))
		}
		b.WriteString(styles.StatusStyle(status.String()).Render(statusText))
		b.WriteString("\n\n")
	}

	return b.String()
}

func title(d *download.Download) string {
	chapter := d.ChapterID()
	if d.Chapter != nil && d.Chapter.Number != "" {
		chapter = "Chapter " + d.Chapter.Number
	}
	if d.Manga != nil && d.Manga.Name != "" {
		return d.Manga.Name + " · " + chapter
	}
	return chapter
}
