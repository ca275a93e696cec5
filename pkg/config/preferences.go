package config

import (
	"context"
	"fmt"
	"sync"
)

const PreloadSizeKey = "preload_size"

// PreferenceStore persists integer preferences.
type PreferenceStore interface {
	GetIntPreference(ctx context.Context, key string, def int) (int, error)
	SetIntPreference(ctx context.Context, key string, value int) error
}

// Preferences holds settings the user may change while downloads run. A nil
// store keeps them in memory.
type Preferences struct {
	store PreferenceStore

	mu       sync.Mutex
	preload  int
	watchers map[int]func(int)
	nextID   int
}

func NewPreferences(store PreferenceStore, preload int) *Preferences {
	return &Preferences{
		store:    store,
		preload:  preload,
		watchers: make(map[int]func(int)),
	}
}

// Load replaces the in-memory values with the persisted ones, if any.
func (p *Preferences) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	p.mu.Lock()
	def := p.preload
	p.mu.Unlock()

	v, err := p.store.GetIntPreference(ctx, PreloadSizeKey, def)
	if err != nil {
		return err
	}
	if v < 1 {
		v = def
	}

	p.mu.Lock()
	p.preload = v
	p.mu.Unlock()
	return nil
}

func (p *Preferences) PreloadSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preload
}

// SetPreloadSize persists n and notifies watchers when the value changed.
func (p *Preferences) SetPreloadSize(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("preload size must be at least 1, got %d", n)
	}
	if p.store != nil {
		if err := p.store.SetIntPreference(ctx, PreloadSizeKey, n); err != nil {
			return err
		}
	}

	p.mu.Lock()
	changed := p.preload != n
	p.preload = n
	watchers := make([]func(int), 0, len(p.watchers))
	for _, fn := range p.watchers {
		watchers = append(watchers, fn)
	}
	p.mu.Unlock()

	if changed {
		for _, fn := range watchers {
			fn(n)
		}
	}
	return nil
}

// OnPreloadSizeChange registers fn to run after every change.
func (p *Preferences) OnPreloadSizeChange(fn func(int)) (cancel func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}
