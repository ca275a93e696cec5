package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kerbaras/mangadl/pkg/app/components"
	"github.com/kerbaras/mangadl/pkg/download"
	"github.com/kerbaras/mangadl/pkg/services"
)

func TestModelQuitsWhenRunFinishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newModel(ctx, cancel, components.NewProgressTracker(60), nil)

	next, cmd := m.Update(doneMsg{summary: services.Summary{Completed: 2}})
	if cmd == nil {
		t.Fatal("Expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Expected tea.QuitMsg")
	}

	view := next.View()
	if !strings.Contains(view, "2 chapters downloaded") {
		t.Errorf("Expected summary in view, got %q", view)
	}
}

func TestModelReportsFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newModel(ctx, cancel, components.NewProgressTracker(60), nil)

	failed := services.Summary{Completed: 1, Failed: []*download.Download{download.New("test", nil, nil)}}
	next, _ := m.Update(doneMsg{summary: failed})
	if view := next.View(); !strings.Contains(view, "1 chapter failed") {
		t.Errorf("Expected failure count in view, got %q", view)
	}
}

func TestModelCancelsOnQuitKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newModel(ctx, cancel, components.NewProgressTracker(60), nil)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Error("Expected q to cancel the run")
	}
}

func TestModelInitRunsDownloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	called := false
	run := func(context.Context) (services.Summary, error) {
		called = true
		return services.Summary{Completed: 1}, nil
	}
	m := newModel(ctx, cancel, components.NewProgressTracker(60), run)

	msg := m.Init()()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		t.Fatalf("Expected a batch, got %T", msg)
	}
	var done doneMsg
	for _, cmd := range batch {
		if d, ok := cmd().(doneMsg); ok {
			done = d
		}
	}
	if !called || done.summary.Completed != 1 {
		t.Errorf("Expected run to be called, got %+v", done)
	}
}
