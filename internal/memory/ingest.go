package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/easeaico/agora/internal/broadcast"
	"github.com/easeaico/agora/internal/types"
)

// ErrIngestorClosed is returned by Publish once Close has been called.
var ErrIngestorClosed = errors.New("memory ingestor closed")

// Ingestor writes spoken turns into the memory store. It runs off the
// broadcast path on its own worker so publishing never waits for embeddings.
type Ingestor struct {
	embedder      Embedder
	memories      MemoryRepo
	relationships RelationshipRepo
	logger        *slog.Logger

	// mu guards closed; sends hold the read lock so Close never races them.
	mu     sync.RWMutex
	closed bool
	queue  chan types.SpeechEvent
	wg     sync.WaitGroup
}

// NewIngestor returns an Ingestor with a queue of the given size.
func NewIngestor(embedder Embedder, memories MemoryRepo, relationships RelationshipRepo, queueSize int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Ingestor{
		embedder:      embedder,
		memories:      memories,
		relationships: relationships,
		logger:        logger.With("component", "memory_ingestor"),
		queue:         make(chan types.SpeechEvent, queueSize),
	}
}

// Start runs the worker until ctx is done or Close is called.
func (i *Ingestor) Start(ctx context.Context) {
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-i.queue:
				if !ok {
					return
				}
				if err := i.Ingest(ctx, ev); err != nil {
					i.logger.Warn("failed to ingest speech", "event_id", ev.ID, "error", err)
				}
			}
		}
	}()
}

// Close stops accepting events, lets the worker drain the queue and waits
// for it. Publish after Close returns ErrIngestorClosed.
func (i *Ingestor) Close() {
	i.mu.Lock()
	if !i.closed {
		i.closed = true
		close(i.queue)
	}
	i.mu.Unlock()
	i.wg.Wait()
}

func (i *Ingestor) Name() string {
	return "memory-ingestor"
}

// Publish implements broadcast.Sink. Only speech events are queued; a full
// queue drops the event.
func (i *Ingestor) Publish(ctx context.Context, ev broadcast.Event) error {
	if ev.Type != broadcast.TypeSpeech {
		return nil
	}
	speech, ok := ev.Payload.(types.SpeechEvent)
	if !ok {
		return fmt.Errorf("unexpected speech payload %T", ev.Payload)
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ErrIngestorClosed
	}
	select {
	case i.queue <- speech:
		return nil
	default:
		return fmt.Errorf("ingest queue full, dropping event %s", speech.ID)
	}
}

// Ingest embeds and stores one utterance and updates relationships.
func (i *Ingestor) Ingest(ctx context.Context, ev types.SpeechEvent) error {
	if ev.Text == "" {
		return nil
	}

	vec, err := i.embedder.EmbedDocument(ctx, ev.Text)
	if err != nil {
		return fmt.Errorf("failed to embed speech: %w", err)
	}

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	record := types.MemoryRecord{
		CharacterID: ev.CharacterID,
		SessionID:   ev.SessionID,
		Content:     ev.Text,
		Emotion:     ev.Emotion,
		Salience:    ComputeSalience(ev),
		Embedding:   vec,
		CreatedAt:   createdAt,
	}
	if len(ev.Audience) == 1 {
		record.TargetID = ev.Audience[0]
	}
	if err := i.memories.AddMemory(ctx, record); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}

	if i.relationships == nil {
		return nil
	}
	signal := emotionAffinity(ev.Emotion)
	for _, other := range ev.Audience {
		if other == ev.CharacterID {
			continue
		}
		if err := i.relationships.RecordInteraction(ctx, ev.CharacterID, other, signal); err != nil {
			return fmt.Errorf("failed to record interaction with %s: %w", other, err)
		}
	}
	return nil
}
