// Package storage persists characters, learning events, voice experiments,
// memories, relationships and speech events in PostgreSQL.
package storage

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store holds the DB handle and repositories.
type Store struct {
	db             *gorm.DB
	Characters     *CharacterStore
	LearningEvents *LearningEventRepo
	Experiments    *VoiceExperimentRepo
	Memories       *MemoryRepo
	Relationships  *RelationshipRepo
	Speeches       *SpeechArchive
}

// Open connects to PostgreSQL and builds the repositories.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{
		db:             db,
		Characters:     NewCharacterStore(db),
		LearningEvents: NewLearningEventRepo(db),
		Experiments:    NewVoiceExperimentRepo(db),
		Memories:       NewMemoryRepo(db),
		Relationships:  NewRelationshipRepo(db),
		Speeches:       NewSpeechArchive(db),
	}
}

// AutoMigrate enables pgvector and creates or updates every table.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(
		&characterModel{},
		&learningEventModel{},
		&voiceExperimentModel{},
		&memoryModel{},
		&relationshipModel{},
		&speechEventModel{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() {
	if s.db == nil {
		return
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return
	}
	_ = sqlDB.Close()
}
