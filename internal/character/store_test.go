package character

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/agora/internal/types"
)

func TestApplyClampsEnergyAndTraits(t *testing.T) {
	c := types.Character{ID: "grok", LifeEnergy: 1, Traits: types.DefaultTraits(), Stage: types.StageNascent}

	got := Apply(c, Delta{Energy: -9, Traits: map[string]float64{types.TraitSkeptical: 2, types.TraitCreative: -3}})

	assert.Equal(t, 0.0, got.LifeEnergy)
	assert.Equal(t, 1.0, got.Traits.Skeptical)
	assert.Equal(t, 0.0, got.Traits.Creative)

	got = Apply(types.Character{LifeEnergy: 99, Traits: types.DefaultTraits()}, Delta{Energy: 50})
	assert.Equal(t, 100.0, got.LifeEnergy)
}

func TestApplyStageOnlyRegressesOnReset(t *testing.T) {
	c := types.Character{Stage: types.StageMatureAdaptation, BreakthroughCount: 30}

	got := Apply(c, Delta{AdvanceStage: true})
	assert.Equal(t, types.StageMatureAdaptation, got.Stage)

	got = Apply(c, Delta{Reset: true})
	assert.Equal(t, types.StageNascent, got.Stage)
	assert.Zero(t, got.BreakthroughCount)
}

func TestMemoryStoreRejectsStaleVersion(t *testing.T) {
	store := NewMemoryStore(types.Character{ID: "claude", LifeEnergy: 50, Traits: types.DefaultTraits()})
	ctx := context.Background()

	c, err := store.Read(ctx, "claude")
	require.NoError(t, err)

	updated, err := store.ApplyUpdate(ctx, "claude", Delta{ExpectedVersion: c.Version, Energy: 5})
	require.NoError(t, err)
	assert.Equal(t, 55.0, updated.LifeEnergy)
	assert.Equal(t, c.Version+1, updated.Version)

	_, err = store.ApplyUpdate(ctx, "claude", Delta{ExpectedVersion: c.Version, Energy: 5})
	assert.True(t, errors.Is(err, ErrConcurrentModification))

	_, err = store.ApplyUpdate(ctx, "nobody", Delta{Energy: 1})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalLockerSerialisesPerCharacter(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "gpt")
	require.NoError(t, err)

	other, err := locker.Acquire(ctx, "grok")
	require.NoError(t, err)
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(waitCtx, "gpt")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()

	again, err := locker.Acquire(ctx, "gpt")
	require.NoError(t, err)
	again()
}
