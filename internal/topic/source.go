// Package topic fetches and selects debate topics.
package topic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/easeaico/agora/internal/types"
)

// DefaultTopic is used when no source yields a candidate.
const DefaultTopic = "Should artificial intelligence be allowed to make decisions without human oversight?"

// Source produces topic candidates.
type Source interface {
	Name() string
	FetchTopics(ctx context.Context) ([]types.TopicCandidate, error)
}

// Registry holds the known sources by name.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry returns a registry with the given sources registered.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: map[string]Source{}}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a source.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build resolves names in order. Unknown names are an error.
func (r *Registry) Build(names []string) ([]Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s, ok := r.sources[name]
		if !ok {
			return nil, fmt.Errorf("unknown topic source %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}

// StaticSource serves a fixed list of topics.
type StaticSource struct {
	topics []string
}

// NewStaticSource returns a source for topics.
func NewStaticSource(topics []string) *StaticSource {
	return &StaticSource{topics: topics}
}

func (s *StaticSource) Name() string {
	return "static"
}

func (s *StaticSource) FetchTopics(context.Context) ([]types.TopicCandidate, error) {
	out := make([]types.TopicCandidate, 0, len(s.topics))
	for _, t := range s.topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, types.TopicCandidate{Title: t, Source: s.Name(), Relevance: 0.5, Controversy: 0.5})
	}
	return out, nil
}

// Selector picks the best candidate across sources.
type Selector struct {
	sources  []Source
	fallback string
	logger   *slog.Logger
}

// NewSelector returns a Selector. An empty fallback uses DefaultTopic.
func NewSelector(sources []Source, fallback string, logger *slog.Logger) *Selector {
	if fallback == "" {
		fallback = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{sources: sources, fallback: fallback, logger: logger.With("component", "topic")}
}

// Select returns the highest scoring candidate, ties broken by title.
// Failing sources are skipped.
func (s *Selector) Select(ctx context.Context) (types.TopicCandidate, error) {
	var best *types.TopicCandidate
	for _, src := range s.sources {
		candidates, err := src.FetchTopics(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return types.TopicCandidate{}, ctx.Err()
			}
			s.logger.Warn("topic source failed", "source", src.Name(), "error", err)
			continue
		}
		for i := range candidates {
			c := candidates[i]
			if strings.TrimSpace(c.Title) == "" {
				continue
			}
			if best == nil || c.Score() > best.Score() || (c.Score() == best.Score() && c.Title < best.Title) {
				best = &c
			}
		}
	}
	if best == nil {
		return types.TopicCandidate{Title: s.fallback, Source: "default"}, nil
	}
	return *best, nil
}
