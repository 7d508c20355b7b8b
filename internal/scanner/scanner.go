package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"NewsDesk/internal/domain"
)

// Category describes a concrete section endpoint provided by config.
type Category struct {
	Name string
	URL  string
}

// Request carries all parameters required to execute a scan.
type Request struct {
	Day        time.Time
	SiteName   string
	Category   string
	Categories []Category
	Options    map[string]string
}

// Provider is a single fetch strategy (arxiv listing, generic HTML list, ...).
type Provider interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.NewsItem, error)
}

// Constructor builds a provider for one configured site.
type Constructor func(options map[string]string) (Provider, error)

// Registry maps provider names to constructors. It is populated at program
// start; lookups are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: map[string]Constructor{}}
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctors == nil {
		r.ctors = map[string]Constructor{}
	}
	r.ctors[name] = ctor
}

// RegisterProvider registers a ready instance shared by every site.
func (r *Registry) RegisterProvider(p Provider) {
	r.Register(p.Name(), func(map[string]string) (Provider, error) { return p, nil })
}

// Build resolves name and constructs a provider with site options.
func (r *Registry) Build(name string, options map[string]string) (Provider, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %s is not registered", name)
	}
	p, err := ctor(options)
	if err != nil {
		return nil, fmt.Errorf("build provider %s: %w", name, err)
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
