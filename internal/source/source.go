package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/set-night/dealhunter/internal/domain"
)

// Category is one catalogue section of a source.
type Category struct {
	Name  string
	URL   string
	Emoji string
}

// Request carries the per-source settings from the source catalogue.
type Request struct {
	SourceName string
	Path       string
	Categories []Category
	Limit      int
}

// Fetcher yields raw records for one kind of source. Records are untrusted and
// go through the normalizer afterwards.
type Fetcher interface {
	Kind() string
	Fetch(ctx context.Context, req Request) ([]domain.RawRecord, error)
}

// Registry maps source kinds to their fetchers.
type Registry struct {
	fetchers map[string]Fetcher
}

func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{fetchers: map[string]Fetcher{}}
	for _, f := range fetchers {
		r.Register(f)
	}
	return r
}

// Register adds or replaces a fetcher.
func (r *Registry) Register(f Fetcher) {
	if r.fetchers == nil {
		r.fetchers = map[string]Fetcher{}
	}
	r.fetchers[f.Kind()] = f
}

func (r *Registry) Resolve(kind string) (Fetcher, error) {
	if f, ok := r.fetchers[kind]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, kind)
}

func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.fetchers))
	for k := range r.fetchers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
