package character

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/easeaico/agora/internal/types"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu         sync.Mutex
	characters map[string]types.Character
	nowFunc    func() time.Time
}

// NewMemoryStore returns a store seeded with the given characters.
func NewMemoryStore(seed ...types.Character) *MemoryStore {
	s := &MemoryStore{
		characters: make(map[string]types.Character, len(seed)),
		nowFunc:    time.Now,
	}
	for _, c := range seed {
		s.Put(c)
	}
	return s
}

// Put inserts or replaces a character, normalising its bounds.
func (s *MemoryStore) Put(c types.Character) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if existing, ok := s.characters[c.ID]; ok {
		c.Version = existing.Version + 1
		c.CreatedAt = existing.CreatedAt
	} else {
		c.Version = 1
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.LifeEnergy = types.ClampEnergy(c.LifeEnergy)
	c.Traits = c.Traits.Clamped()
	if c.Stage == "" {
		c.Stage = types.StageNascent
	}
	s.characters[c.ID] = c
}

func (s *MemoryStore) Read(ctx context.Context, id string) (types.Character, error) {
	if err := ctx.Err(); err != nil {
		return types.Character{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.characters[id]
	if !ok {
		return types.Character{}, fmt.Errorf("failed to read character %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) ApplyUpdate(ctx context.Context, id string, delta Delta) (types.Character, error) {
	if err := ctx.Err(); err != nil {
		return types.Character{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.characters[id]
	if !ok {
		return types.Character{}, fmt.Errorf("failed to update character %s: %w", id, ErrNotFound)
	}
	if delta.ExpectedVersion != 0 && delta.ExpectedVersion != c.Version {
		return types.Character{}, fmt.Errorf("failed to update character %s at version %d: %w", id, delta.ExpectedVersion, ErrConcurrentModification)
	}

	next := Apply(c, delta)
	next.Version = c.Version + 1
	next.UpdatedAt = s.nowFunc()
	s.characters[id] = next
	return next, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]types.Character, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Character, 0, len(s.characters))
	for _, c := range s.characters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
