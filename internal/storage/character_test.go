package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/easeaico/agora/internal/character"
	"github.com/easeaico/agora/internal/types"
)

// openSQLiteGorm runs gorm over the pure-Go modernc driver so the character
// store can be tested without PostgreSQL.
func openSQLiteGorm(t *testing.T) *gorm.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "characters.db"))
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&characterModel{}))
	return db
}

func seedCharacter(t *testing.T, store *CharacterStore, id string) types.Character {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, types.Character{
		ID:         id,
		Name:       id,
		LifeEnergy: 50,
		Traits:     types.DefaultTraits(),
	}))
	c, err := store.Read(ctx, id)
	require.NoError(t, err)
	return c
}

func TestCharacterStoreRejectsStaleVersion(t *testing.T) {
	store := NewCharacterStore(openSQLiteGorm(t))
	ctx := context.Background()

	c := seedCharacter(t, store, "claude")
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, types.StageNascent, c.Stage)

	updated, err := store.ApplyUpdate(ctx, "claude", character.Delta{ExpectedVersion: c.Version, Energy: 5, Traits: map[string]float64{types.TraitCreative: 0.1}})
	require.NoError(t, err)
	assert.Equal(t, 55.0, updated.LifeEnergy)
	assert.Equal(t, c.Version+1, updated.Version)

	_, err = store.ApplyUpdate(ctx, "claude", character.Delta{ExpectedVersion: c.Version, Energy: 5})
	assert.ErrorIs(t, err, character.ErrConcurrentModification)

	stored, err := store.Read(ctx, "claude")
	require.NoError(t, err)
	assert.Equal(t, updated.Version, stored.Version)
	assert.Equal(t, 55.0, stored.LifeEnergy)
	assert.InDelta(t, updated.Traits.Creative, stored.Traits.Creative, 1e-9)

	_, err = store.ApplyUpdate(ctx, "nobody", character.Delta{Energy: 1})
	assert.ErrorIs(t, err, character.ErrNotFound)
}

func TestCharacterStoreDetectsInterleavedWrite(t *testing.T) {
	db := openSQLiteGorm(t)
	store := NewCharacterStore(db)
	ctx := context.Background()
	c := seedCharacter(t, store, "gpt")

	// Another writer lands between the transaction's read and its update.
	var once sync.Once
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("agora:interleave", func(tx *gorm.DB) {
		if tx.Statement.Table != "characters" {
			return
		}
		once.Do(func() {
			tx.Session(&gorm.Session{NewDB: true}).Exec("UPDATE characters SET version = version + 1 WHERE id = ?", "gpt")
		})
	}))

	_, err := store.ApplyUpdate(ctx, "gpt", character.Delta{ExpectedVersion: c.Version, Energy: 5})
	assert.ErrorIs(t, err, character.ErrConcurrentModification)

	stored, err := store.Read(ctx, "gpt")
	require.NoError(t, err)
	assert.Equal(t, 50.0, stored.LifeEnergy)
	assert.Equal(t, c.Version+1, stored.Version)
}

func TestCharacterStoreUpsertKeepsEvolvedState(t *testing.T) {
	store := NewCharacterStore(openSQLiteGorm(t))
	ctx := context.Background()
	c := seedCharacter(t, store, "grok")

	_, err := store.ApplyUpdate(ctx, "grok", character.Delta{ExpectedVersion: c.Version, Energy: -20, Sessions: 1})
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, types.Character{ID: "grok", Name: "Grok", Persona: "contrarian", LifeEnergy: 50, Traits: types.DefaultTraits()}))
	stored, err := store.Read(ctx, "grok")
	require.NoError(t, err)
	assert.Equal(t, "Grok", stored.Name)
	assert.Equal(t, "contrarian", stored.Persona)
	assert.Equal(t, 30.0, stored.LifeEnergy)
	assert.Equal(t, 1, stored.TotalSessions)
	assert.Equal(t, int64(2), stored.Version)
}
