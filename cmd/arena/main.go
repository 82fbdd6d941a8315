// Package main boots the agora arena: character debates driven by the
// session engine and served over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/easeaico/agora/internal/broadcast"
	"github.com/easeaico/agora/internal/character"
	"github.com/easeaico/agora/internal/config"
	"github.com/easeaico/agora/internal/evolution"
	"github.com/easeaico/agora/internal/handler"
	"github.com/easeaico/agora/internal/memory"
	"github.com/easeaico/agora/internal/models"
	"github.com/easeaico/agora/internal/prompt"
	"github.com/easeaico/agora/internal/provider"
	"github.com/easeaico/agora/internal/reaction"
	"github.com/easeaico/agora/internal/scheduler"
	"github.com/easeaico/agora/internal/session"
	"github.com/easeaico/agora/internal/speech"
	"github.com/easeaico/agora/internal/storage"
	"github.com/easeaico/agora/internal/topic"
	"github.com/easeaico/agora/internal/types"
)

const shutdownTimeout = 15 * time.Second

// defaultTextOrder ranks providers for characters without their own chain.
var defaultTextOrder = []string{
	models.ProviderGemini,
	models.ProviderOpenRouter,
	models.ProviderOpenAI,
	models.ProviderAnthropic,
	models.ProviderGrok,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	roster, err := config.LoadRoster(cfg.RosterPath)
	if err != nil {
		slog.Error("failed to load roster", "path", cfg.RosterPath, "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"characters", len(roster.Characters),
		"postgres", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"topic_sources", cfg.TopicSources,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, roster, logger); err != nil {
		slog.Error("arena stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("arena shutdown complete")
}

func run(ctx context.Context, cfg config.Config, roster config.Roster, logger *slog.Logger) error {
	var (
		characters  character.Store
		events      evolution.EventLog
		experiments evolution.ExperimentStore
		archive     session.SpeechArchive
		gateway     memory.Gateway
		ingestor    *memory.Ingestor
	)

	if cfg.DatabaseURL != "" {
		store, err := storage.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer store.Close()

		for _, c := range roster.Seed() {
			if err := store.Characters.Upsert(ctx, c); err != nil {
				return fmt.Errorf("failed to seed character %s: %w", c.ID, err)
			}
		}
		characters = store.Characters
		events = store.LearningEvents
		experiments = store.Experiments
		archive = store.Speeches

		if cfg.GoogleAPIKey != "" {
			embedder, err := memory.NewEmbedder(ctx, cfg.GoogleAPIKey, cfg.EmbeddingModel)
			if err != nil {
				logger.Warn("memory disabled", "error", err)
			} else {
				svc := memory.NewService(embedder, store.Memories, store.Relationships, cfg.SimilarityThreshold)
				gateway = svc
				ingestor = memory.NewIngestor(embedder, store.Memories, store.Relationships, 0, logger)
			}
		}
		slog.Info("database connected")
	} else {
		characters = character.NewMemoryStore(roster.Seed()...)
		events = &evolution.MemoryLog{}
		experiments = &evolution.MemoryExperiments{}
		if cfg.JournalPath != "" {
			journal, err := storage.OpenJournal(cfg.JournalPath)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer func() {
				if err := journal.Close(); err != nil {
					logger.Warn("failed to close journal", "error", err)
				}
			}()
			events = journal
		}
		slog.Info("using in-memory character store", "journal", cfg.JournalPath)
	}

	var locker character.Locker = character.NewLocalLocker()
	var sinks []broadcast.Sink
	if cfg.RedisURL != "" {
		redisLocker, err := character.NewRedisLocker(ctx, cfg.RedisURL, 0)
		if err != nil {
			return fmt.Errorf("failed to connect redis locker: %w", err)
		}
		defer redisLocker.Close()
		locker = redisLocker

		mirror, err := broadcast.NewRedisStreamSink(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect redis mirror: %w", err)
		}
		defer mirror.Close()
		sinks = append(sinks, mirror)
	}
	if ingestor != nil {
		ingestor.Start(ctx)
		defer ingestor.Close()
		sinks = append(sinks, ingestor)
	}
	hub := broadcast.NewHub(cfg.BroadcastBuffer, logger, sinks...)

	text, characterText, err := buildTextChains(ctx, cfg, roster, logger)
	if err != nil {
		return err
	}
	audio, err := speech.NewFileAudioStore(cfg.AudioDir())
	if err != nil {
		return err
	}
	voices := evolution.NewVoiceTracker(experiments)
	coordinator, err := speech.NewCoordinator(speech.Options{
		Text:          text,
		CharacterText: characterText,
		Synth:         buildSynthChain(ctx, cfg, logger),
		Visemes:       buildVisemeChain(cfg, logger),
		Audio:         audio,
		Experiments:   voices,
		CueTolerance:  cfg.CueGapTolerance,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create speech coordinator: %w", err)
	}

	selector, err := buildTopicSelector(cfg, roster, logger)
	if err != nil {
		return err
	}

	evolver := evolution.NewService(evolution.NewEngine(cfg.Evolution), characters, events, voices, logger)
	registry, err := session.NewRegistry(session.Deps{
		Characters:  characters,
		Locker:      locker,
		Topics:      selector,
		Context:     prompt.NewBuilder(gateway, cfg.HistoryLimit, cfg.TopK, logger),
		Speech:      coordinator,
		Reactions:   buildReactions(ctx, cfg, logger),
		Evolution:   evolver,
		Events:      hub,
		Archive:     archive,
		Scheduler:   scheduler.New(),
		TurnRetries: cfg.TurnRetries,
		Logger:      logger,
	}, cfg.MaxRounds)
	if err != nil {
		return err
	}

	if cfg.SessionRetention > 0 {
		registry.StartJanitor(cfg.SessionRetention, min(cfg.SessionRetention, time.Minute))
	}

	h := handler.New(handler.Options{
		Sessions:       registry,
		Events:         hub,
		Characters:     characters,
		TurnDelay:      cfg.TurnDelay,
		OriginPatterns: cfg.AllowedOrigins,
		Logger:         logger,
	})
	// WebSocket streams are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Sessions go first so subscribers receive their completion event.
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

// buildTextChains returns the default chain and one chain per roster
// character, in the character's provider order. Providers without a key are
// left out.
func buildTextChains(ctx context.Context, cfg config.Config, roster config.Roster, logger *slog.Logger) (*speech.TextChain, map[string]*speech.TextChain, error) {
	built := make(map[string]*speech.LLMTextProvider)
	lookup := func(kind string) (*speech.LLMTextProvider, bool) {
		if p, ok := built[kind]; ok {
			return p, p != nil
		}
		built[kind] = nil
		key := cfg.APIKey(kind)
		if key == "" {
			return nil, false
		}
		llm, err := models.New(ctx, models.Spec{Kind: kind, Model: cfg.TextModel(kind), APIKey: key})
		if err != nil {
			logger.Warn("skipping text provider", "provider", kind, "error", err)
			return nil, false
		}
		p := speech.NewLLMTextProvider(kind, llm)
		built[kind] = p
		return p, true
	}
	chain := func(kinds []string) *speech.TextChain {
		var providers []provider.Provider[speech.TextRequest, speech.TextResult]
		for _, kind := range kinds {
			if p, ok := lookup(kind); ok {
				providers = append(providers, p)
			}
		}
		if len(providers) == 0 {
			return nil
		}
		return provider.NewChain(provider.CapabilityText, cfg.TextTimeout, logger, providers...)
	}

	defaults := chain(defaultTextOrder)
	if defaults == nil {
		return nil, nil, fmt.Errorf("no text provider configured: set at least one provider API key")
	}
	perCharacter := make(map[string]*speech.TextChain)
	for _, rc := range roster.Characters {
		if c := chain(rc.Providers); c != nil {
			perCharacter[rc.ID] = c
			slog.Info("text chain ready", "character_id", rc.ID, "providers", c.Names())
		}
	}
	return defaults, perCharacter, nil
}

// buildSynthChain returns nil when no synthesizer is configured; every turn
// is then degraded.
func buildSynthChain(ctx context.Context, cfg config.Config, logger *slog.Logger) *speech.SynthChain {
	var providers []provider.Provider[speech.SynthesisRequest, speech.Synthesis]
	if cfg.GoogleAPIKey != "" {
		gemini, err := speech.NewGeminiSynthesizer(ctx, cfg.GoogleAPIKey, cfg.TTSModel)
		if err != nil {
			logger.Warn("skipping gemini synthesizer", "error", err)
		} else {
			providers = append(providers, gemini)
		}
	}
	if cfg.ElevenLabsAPIKey != "" {
		eleven, err := speech.NewElevenLabsSynthesizer(cfg.ElevenLabsAPIKey, "")
		if err != nil {
			logger.Warn("skipping elevenlabs synthesizer", "error", err)
		} else {
			providers = append(providers, eleven)
		}
	}
	if len(providers) == 0 {
		logger.Warn("no speech synthesizer configured, turns will be text only")
		return nil
	}
	return provider.NewChain(provider.CapabilitySpeech, cfg.SynthTimeout, logger, providers...)
}

func buildVisemeChain(cfg config.Config, logger *slog.Logger) *speech.VisemeChain {
	var providers []provider.Provider[speech.VisemeRequest, []types.MouthCue]
	if rhubarb, err := speech.NewRhubarbExtractor(cfg.RhubarbPath); err != nil {
		logger.Info("rhubarb unavailable, estimating visemes from text", "error", err)
	} else {
		providers = append(providers, rhubarb)
	}
	providers = append(providers, speech.TextEstimator{})
	return provider.NewChain(provider.CapabilityVisemes, cfg.VisemeTimeout, logger, providers...)
}

// buildReactions prefers the model judge and falls back to the heuristic.
func buildReactions(ctx context.Context, cfg config.Config, logger *slog.Logger) reaction.Collector {
	if cfg.GoogleAPIKey == "" {
		return reaction.Heuristic{}
	}
	judge, err := models.New(ctx, models.Spec{
		Kind:   models.ProviderGemini,
		Model:  cfg.JudgeModel,
		APIKey: cfg.GoogleAPIKey,
	})
	if err != nil {
		logger.Warn("reaction judge disabled", "error", err)
		return reaction.Heuristic{}
	}
	return reaction.WithFallback(reaction.NewJudge(judge), reaction.Heuristic{}, logger)
}

func buildTopicSelector(cfg config.Config, roster config.Roster, logger *slog.Logger) (*topic.Selector, error) {
	sources := topic.NewRegistry(
		topic.NewStaticSource(roster.Topics),
		topic.NewRedditSource(cfg.RedditSubreddits, 0),
	)
	selected, err := sources.Build(cfg.TopicSources)
	if err != nil {
		return nil, fmt.Errorf("failed to build topic sources: %w", err)
	}
	return topic.NewSelector(selected, "", logger), nil
}
