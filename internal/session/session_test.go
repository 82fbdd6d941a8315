package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/agora/internal/broadcast"
	"github.com/easeaico/agora/internal/character"
	"github.com/easeaico/agora/internal/evolution"
	"github.com/easeaico/agora/internal/prompt"
	"github.com/easeaico/agora/internal/provider"
	"github.com/easeaico/agora/internal/reaction"
	"github.com/easeaico/agora/internal/scheduler"
	"github.com/easeaico/agora/internal/speech"
	"github.com/easeaico/agora/internal/topic"
	"github.com/easeaico/agora/internal/types"
)

type textFunc func(ctx context.Context, req speech.TextRequest) (speech.TextResult, error)

func echoText(_ context.Context, req speech.TextRequest) (speech.TextResult, error) {
	b := req.Bundle
	return speech.TextResult{
		Text:    fmt.Sprintf("%s on %q, round %d", b.Character.Name, b.Topic, b.Round),
		Emotion: types.EmotionThoughtful,
	}, nil
}

type harness struct {
	store    *character.MemoryStore
	locker   *character.LocalLocker
	hub      *broadcast.Hub
	log      *evolution.MemoryLog
	registry *Registry
}

type harnessOptions struct {
	text      textFunc
	reactions reaction.Collector
	memory    prompt.MemorySource
	// events replaces the harness learning log when set.
	events evolution.EventLog
}

func roster() []types.Character {
	return []types.Character{
		{ID: "claude", Name: "Claude", LifeEnergy: 50, Traits: types.DefaultTraits(), Stage: types.StageNascent},
		{ID: "gpt", Name: "GPT", LifeEnergy: 50, Traits: types.DefaultTraits(), Stage: types.StageNascent},
		{ID: "grok", Name: "Grok", LifeEnergy: 50, Traits: types.DefaultTraits(), Stage: types.StageNascent},
	}
}

func newHarness(t *testing.T, chars []types.Character, opts harnessOptions) *harness {
	t.Helper()
	if opts.text == nil {
		opts.text = echoText
	}
	if opts.reactions == nil {
		opts.reactions = reaction.Fixed{Value: 0.8}
	}

	store := character.NewMemoryStore(chars...)
	locker := character.NewLocalLocker()
	hub := broadcast.NewHub(256, nil)
	log := &evolution.MemoryLog{}

	chain := provider.NewChain[speech.TextRequest, speech.TextResult](provider.CapabilityText, time.Second, nil,
		provider.Func[speech.TextRequest, speech.TextResult]{ProviderName: "fake", Fn: opts.text})
	coord, err := speech.NewCoordinator(speech.Options{Text: chain})
	require.NoError(t, err)

	var events evolution.EventLog = log
	if opts.events != nil {
		events = opts.events
	}
	evo := evolution.NewService(evolution.NewEngine(evolution.DefaultParams()), store, events, nil, nil)
	registry, err := NewRegistry(Deps{
		Characters:  store,
		Locker:      locker,
		Topics:      topic.NewSelector([]topic.Source{topic.NewStaticSource([]string{"Should AI have rights?"})}, "", nil),
		Context:     prompt.NewBuilder(opts.memory, 6, 3, nil),
		Speech:      coord,
		Reactions:   opts.reactions,
		Evolution:   evo,
		Events:      hub,
		Scheduler:   scheduler.New(),
		TurnRetries: 1,
	}, 20)
	require.NoError(t, err)

	return &harness{store: store, locker: locker, hub: hub, log: log, registry: registry}
}

// drain reads the session stream until it closes.
func drain(t *testing.T, sub *broadcast.Subscription) []broadcast.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []broadcast.Event
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func ofType(events []broadcast.Event, typ broadcast.EventType) []broadcast.Event {
	var out []broadcast.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func speakers(events []broadcast.Event) []string {
	var out []string
	for _, ev := range ofType(events, broadcast.TypeSpeech) {
		out = append(out, ev.Payload.(types.SpeechEvent).CharacterID)
	}
	return out
}

func TestSessionRunsRoundRobinToMaxRounds(t *testing.T) {
	h := newHarness(t, roster(), harnessOptions{})
	ctx := context.Background()

	s, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt", "grok"}, Topic: "AI safety", MaxRounds: 2})
	require.NoError(t, err)
	sub := h.hub.Subscribe(s.ID())

	st, err := h.registry.Run(ctx, s.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, StateSessionComplete, st)

	events := drain(t, sub)
	assert.Equal(t, []string{"claude", "gpt", "grok", "claude", "gpt", "grok"}, speakers(events))
	assert.Len(t, ofType(events, broadcast.TypeEvolutionUpdate), 6)

	last := events[len(events)-1]
	require.Equal(t, broadcast.TypeSessionComplete, last.Type)
	assert.Equal(t, scheduler.ReasonMaxRounds, last.Payload.(broadcast.SessionComplete).Reason)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}

	// Speech precedes its evolution update, which precedes the next speech.
	var pending bool
	for _, ev := range events {
		switch ev.Type {
		case broadcast.TypeSpeech:
			assert.False(t, pending)
			pending = true
		case broadcast.TypeEvolutionUpdate:
			assert.True(t, pending)
			pending = false
		}
	}

	snap := s.Status()
	assert.Equal(t, 6, snap.SpeechEvents)
	assert.Equal(t, scheduler.ReasonMaxRounds, snap.Reason)
	assert.Equal(t, "request", snap.TopicSource)

	for _, id := range []string{"claude", "gpt", "grok"} {
		c, err := h.store.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, c.TotalSessions)
		assert.Greater(t, c.LifeEnergy, 50.0)
		assert.Len(t, h.log.Events(id), 2)
	}
}

func TestSessionSelectsTopicWhenNoneGiven(t *testing.T) {
	h := newHarness(t, roster(), harnessOptions{})
	ctx := context.Background()

	s, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt"}, MaxRounds: 1})
	require.NoError(t, err)
	sub := h.hub.Subscribe(s.ID())

	st, err := s.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateTopicSelecting, st)
	assert.Equal(t, "Should AI have rights?", s.Status().Topic)

	_, err = h.registry.Run(ctx, s.ID(), 0)
	require.NoError(t, err)

	events := drain(t, sub)
	require.NotEmpty(t, events)
	assert.Equal(t, broadcast.TypeTopicSelected, events[0].Type)
	assert.Equal(t, "Should AI have rights?", events[0].Payload.(broadcast.TopicSelected).Topic)
}

func TestSessionDeactivatedCharacterStopsSpeaking(t *testing.T) {
	chars := roster()
	chars[2].LifeEnergy = 1
	h := newHarness(t, chars, harnessOptions{
		reactions: reaction.NewScripted(map[string][]float64{"grok": {0.05}}, 0.6),
	})
	ctx := context.Background()

	s, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt", "grok"}, Topic: "AI safety", MaxRounds: 2})
	require.NoError(t, err)
	sub := h.hub.Subscribe(s.ID())

	_, err = h.registry.Run(ctx, s.ID(), 0)
	require.NoError(t, err)

	events := drain(t, sub)
	assert.Equal(t, []string{"claude", "gpt", "grok", "claude", "gpt"}, speakers(events))

	var deactivated int
	for _, ev := range ofType(events, broadcast.TypeEvolutionUpdate) {
		u := ev.Payload.(broadcast.EvolutionUpdate)
		if u.Deactivated {
			deactivated++
			assert.Equal(t, "grok", u.CharacterID)
			assert.Equal(t, 0.0, u.LifeEnergy)
		}
	}
	assert.Equal(t, 1, deactivated)

	grok, err := h.store.Read(ctx, "grok")
	require.NoError(t, err)
	assert.Equal(t, 0.0, grok.LifeEnergy)
}

func TestSessionExhaustsWhenTooFewCharactersRemain(t *testing.T) {
	chars := roster()[:2]
	chars[1].LifeEnergy = 1
	h := newHarness(t, chars, harnessOptions{
		reactions: reaction.NewScripted(map[string][]float64{"gpt": {0}}, 0.6),
	})
	ctx := context.Background()

	s, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt"}, Topic: "AI safety", MaxRounds: 5})
	require.NoError(t, err)

	_, err = h.registry.Run(ctx, s.ID(), 0)
	require.NoError(t, err)

	snap := s.Status()
	assert.Equal(t, StateSessionComplete, snap.State)
	assert.Equal(t, scheduler.ReasonSchedulingExhausted, snap.Reason)
	assert.Equal(t, 2, snap.SpeechEvents)
}

func TestSessionTextExhaustionRetriesThenErrors(t *testing.T) {
	var brokenCalls atomic.Int32
	h := newHarness(t, append(roster(), types.Character{ID: "broken", Name: "Broken", LifeEnergy: 50, Traits: types.DefaultTraits()}), harnessOptions{
		text: func(ctx context.Context, req speech.TextRequest) (speech.TextResult, error) {
			if req.Bundle.Character.ID == "broken" {
				brokenCalls.Add(1)
				return speech.TextResult{}, provider.Unavailable(errors.New("503"))
			}
			return echoText(ctx, req)
		},
	})
	ctx := context.Background()

	bad, err := h.registry.Create(ctx, Options{Participants: []string{"broken", "grok"}, Topic: "AI safety", MaxRounds: 2})
	require.NoError(t, err)
	good, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt"}, Topic: "AI safety", MaxRounds: 2})
	require.NoError(t, err)
	badSub := h.hub.Subscribe(bad.ID())

	var wg sync.WaitGroup
	results := make([]State, 2)
	for i, s := range []*Session{bad, good} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := h.registry.Run(ctx, s.ID(), 0)
			assert.NoError(t, err)
			results[i] = st
		}()
	}
	wg.Wait()

	assert.Equal(t, StateSessionErrored, results[0])
	assert.Equal(t, StateSessionComplete, results[1])
	assert.Equal(t, int32(2), brokenCalls.Load())

	events := drain(t, badSub)
	last := events[len(events)-1]
	require.Equal(t, broadcast.TypeSessionErrored, last.Type)
	assert.Equal(t, KindAllProvidersExhausted, last.Payload.(broadcast.SessionErrored).Kind)
	assert.Empty(t, speakers(events))

	started := ofType(events, broadcast.TypeTurnStarted)
	require.Len(t, started, 2)
	assert.Equal(t, 2, started[1].Payload.(broadcast.TurnStarted).Attempt)

	assert.Equal(t, KindAllProvidersExhausted, bad.Status().ErrorKind)
	assert.Equal(t, 4, good.Status().SpeechEvents)

	// The errored session released its lease.
	release, err := h.locker.Acquire(ctx, "broken")
	require.NoError(t, err)
	release()

	broken, err := h.store.Read(ctx, "broken")
	require.NoError(t, err)
	assert.Zero(t, broken.TotalSessions)
}

func TestSessionReplayIsDeterministic(t *testing.T) {
	run := func() ([]string, map[string]float64) {
		h := newHarness(t, roster(), harnessOptions{
			reactions: reaction.NewScripted(map[string][]float64{
				"claude": {0.9, 0.2},
				"gpt":    {0.4, 0.7},
				"grok":   {0.1, 0.95},
			}, 0.5),
		})
		ctx := context.Background()
		s, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt", "grok"}, Topic: "AI safety", MaxRounds: 2})
		require.NoError(t, err)
		sub := h.hub.Subscribe(s.ID())
		_, err = h.registry.Run(ctx, s.ID(), 0)
		require.NoError(t, err)

		var seq []string
		for _, ev := range drain(t, sub) {
			seq = append(seq, string(ev.Type))
		}
		energies := map[string]float64{}
		for _, id := range []string{"claude", "gpt", "grok"} {
			c, err := h.store.Read(ctx, id)
			require.NoError(t, err)
			energies[id] = c.LifeEnergy
		}
		return seq, energies
	}

	seqA, energyA := run()
	seqB, energyB := run()
	assert.Equal(t, seqA, seqB)
	assert.Equal(t, energyA, energyB)
}

func TestSessionTerminateMidTurnReleasesLease(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	h := newHarness(t, roster(), harnessOptions{
		text: func(ctx context.Context, _ speech.TextRequest) (speech.TextResult, error) {
			once.Do(func() { close(entered) })
			<-ctx.Done()
			return speech.TextResult{}, ctx.Err()
		},
	})
	ctx := context.Background()

	s, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt"}, Topic: "AI safety", MaxRounds: 2})
	require.NoError(t, err)
	sub := h.hub.Subscribe(s.ID())

	_, err = s.Advance(ctx)
	require.NoError(t, err)
	st, err := s.Advance(ctx)
	require.NoError(t, err)
	require.Equal(t, StateTurnInProgress, st)
	assert.Equal(t, "claude", s.Status().Speaker)

	advanced := make(chan error, 1)
	go func() {
		_, err := s.Advance(ctx)
		advanced <- err
	}()
	<-entered

	require.NoError(t, s.Terminate("operator stop"))
	assert.Error(t, <-advanced)

	snap := s.Status()
	assert.Equal(t, StateSessionComplete, snap.State)
	assert.Equal(t, ReasonTerminated, snap.Reason)
	assert.Empty(t, snap.Speaker)

	acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	release, err := h.locker.Acquire(acquireCtx, "claude")
	require.NoError(t, err)
	release()

	events := drain(t, sub)
	last := events[len(events)-1]
	require.Equal(t, broadcast.TypeSessionComplete, last.Type)
	done := last.Payload.(broadcast.SessionComplete)
	assert.Equal(t, ReasonTerminated, done.Reason)
	assert.Equal(t, "operator stop", done.Detail)

	claude, err := h.store.Read(ctx, "claude")
	require.NoError(t, err)
	assert.Zero(t, claude.TotalSessions)

	assert.ErrorIs(t, s.Terminate("again"), ErrTerminal)
	_, err = s.Advance(ctx)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestSessionCancelledAdvanceKeepsState(t *testing.T) {
	h := newHarness(t, roster(), harnessOptions{
		text: func(ctx context.Context, _ speech.TextRequest) (speech.TextResult, error) {
			<-ctx.Done()
			return speech.TextResult{}, ctx.Err()
		},
	})
	s, err := h.registry.Create(context.Background(), Options{Participants: []string{"claude", "gpt"}, Topic: "AI safety", MaxRounds: 1})
	require.NoError(t, err)

	for range 2 {
		_, err = s.Advance(context.Background())
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := s.Advance(ctx)
	assert.Error(t, err)
	assert.Equal(t, StateTurnInProgress, st)
}

// disconnectingLog cancels the advancing caller while the learning event
// is appended.
type disconnectingLog struct {
	evolution.MemoryLog
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (l *disconnectingLog) Append(ctx context.Context, ev types.LearningEvent) error {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		// let the session observe the cancellation
		time.Sleep(10 * time.Millisecond)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.MemoryLog.Append(ctx, ev)
}

func TestSessionCancelledEvolveAppliesOnce(t *testing.T) {
	events := &disconnectingLog{}
	h := newHarness(t, roster(), harnessOptions{events: events})
	bg := context.Background()

	s, err := h.registry.Create(bg, Options{Participants: []string{"claude", "gpt"}, Topic: "AI safety", MaxRounds: 2})
	require.NoError(t, err)
	for range 4 {
		_, err = s.Advance(bg)
		require.NoError(t, err)
	}
	require.Equal(t, StateEvolving, s.State())
	speaker := s.Status().Speaker
	before, err := h.store.Read(bg, speaker)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(bg)
	defer cancel()
	events.mu.Lock()
	events.cancel = cancel
	events.mu.Unlock()

	st, err := s.Advance(ctx)
	for attempt := 0; err != nil && attempt < 3; attempt++ {
		assert.ErrorIs(t, err, context.Canceled)
		st, err = s.Advance(bg)
	}
	require.NoError(t, err)
	assert.Equal(t, StateNextTurn, st)

	after, err := h.store.Read(bg, speaker)
	require.NoError(t, err)
	assert.Equal(t, before.Version+1, after.Version)
	recorded := events.Events(speaker)
	require.Len(t, recorded, 1)
	var payload struct {
		EnergyBefore float64 `json:"energy_before"`
		EnergyAfter  float64 `json:"energy_after"`
	}
	require.NoError(t, json.Unmarshal(recorded[0].Context, &payload))
	assert.Equal(t, before.LifeEnergy, payload.EnergyBefore)
	assert.Equal(t, after.LifeEnergy, payload.EnergyAfter)
	assert.NotEqual(t, before.LifeEnergy, after.LifeEnergy)
}

type failingMemory struct{}

func (failingMemory) FindSimilar(context.Context, string, string, int) ([]types.MemoryRecord, error) {
	return nil, errors.New("vector store down")
}

func (failingMemory) RelationshipSummary(context.Context, string, string) (types.RelationshipSummary, error) {
	return types.RelationshipSummary{}, errors.New("vector store down")
}

func TestSessionCompletesWhenMemoryFails(t *testing.T) {
	var degraded atomic.Int32
	h := newHarness(t, roster(), harnessOptions{
		memory: failingMemory{},
		text: func(ctx context.Context, req speech.TextRequest) (speech.TextResult, error) {
			if req.Bundle.MemoryDegraded {
				degraded.Add(1)
			}
			return echoText(ctx, req)
		},
	})
	ctx := context.Background()

	s, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt"}, Topic: "AI safety", MaxRounds: 1})
	require.NoError(t, err)
	st, err := h.registry.Run(ctx, s.ID(), 0)
	require.NoError(t, err)

	assert.Equal(t, StateSessionComplete, st)
	assert.Equal(t, int32(2), degraded.Load())
}

func TestRegistryCreateValidation(t *testing.T) {
	h := newHarness(t, roster(), harnessOptions{})
	ctx := context.Background()

	cases := []struct {
		name string
		opts Options
	}{
		{"single participant", Options{Participants: []string{"claude"}}},
		{"duplicate participant", Options{Participants: []string{"claude", "claude"}}},
		{"unknown participant", Options{Participants: []string{"claude", "nobody"}}},
		{"negative rounds", Options{Participants: []string{"claude", "gpt"}, MaxRounds: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.registry.Create(ctx, tc.opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}

	s, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt"}})
	require.NoError(t, err)
	assert.Equal(t, 20, s.Status().MaxRounds)
	assert.Equal(t, StateCreated, s.Status().State)
}

func TestRegistryLifecycle(t *testing.T) {
	h := newHarness(t, roster(), harnessOptions{})
	ctx := context.Background()

	a, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt"}, Topic: "a"})
	require.NoError(t, err)
	b, err := h.registry.Create(ctx, Options{Participants: []string{"gpt", "grok"}, Topic: "b"})
	require.NoError(t, err)

	got, err := h.registry.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Len(t, h.registry.List(), 2)

	require.NoError(t, h.registry.Remove(a.ID()))
	_, err = h.registry.Get(a.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, h.registry.Remove(a.ID()), ErrNotFound)
	assert.Equal(t, ReasonTerminated, a.Status().Reason)

	require.NoError(t, h.registry.Start(b.ID(), time.Hour))
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.registry.Shutdown(shutdownCtx))
	assert.True(t, b.Status().State.Terminal())
}

func TestRegistryEvictsFinishedSessions(t *testing.T) {
	h := newHarness(t, roster(), harnessOptions{})
	ctx := context.Background()

	done, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt"}, Topic: "a", MaxRounds: 1})
	require.NoError(t, err)
	st, err := h.registry.Run(ctx, done.ID(), 0)
	require.NoError(t, err)
	require.Equal(t, StateSessionComplete, st)

	live, err := h.registry.Create(ctx, Options{Participants: []string{"gpt", "grok"}, Topic: "b"})
	require.NoError(t, err)
	_, err = live.Advance(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, h.hub.Streams())

	assert.Zero(t, h.registry.Evict(time.Now(), time.Hour), "recently finished sessions are retained")
	assert.Equal(t, 1, h.registry.Evict(time.Now().Add(2*time.Hour), time.Hour))

	_, err = h.registry.Get(done.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := h.registry.Get(live.ID())
	require.NoError(t, err)
	assert.Same(t, live, got)
	assert.Equal(t, 1, h.hub.Streams())
}

func TestRegistryJanitorStopsOnShutdown(t *testing.T) {
	h := newHarness(t, roster(), harnessOptions{})
	ctx := context.Background()

	s, err := h.registry.Create(ctx, Options{Participants: []string{"claude", "gpt"}, Topic: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Terminate("done"))

	h.registry.StartJanitor(time.Nanosecond, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := h.registry.Get(s.ID())
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, h.hub.Streams())

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.registry.Shutdown(shutdownCtx))
}
