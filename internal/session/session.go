// Package session drives debate sessions through their lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/easeaico/agora/internal/broadcast"
	"github.com/easeaico/agora/internal/character"
	"github.com/easeaico/agora/internal/evolution"
	"github.com/easeaico/agora/internal/prompt"
	"github.com/easeaico/agora/internal/provider"
	"github.com/easeaico/agora/internal/reaction"
	"github.com/easeaico/agora/internal/scheduler"
	"github.com/easeaico/agora/internal/speech"
	"github.com/easeaico/agora/internal/types"
)

// TopicSelector picks the topic of a session.
type TopicSelector interface {
	Select(ctx context.Context) (types.TopicCandidate, error)
}

// ContextBuilder assembles the generation input of a turn.
type ContextBuilder interface {
	Build(ctx context.Context, req prompt.Request) (prompt.Bundle, error)
}

// SpeechRunner produces the speech event of a turn.
type SpeechRunner interface {
	Run(ctx context.Context, turn speech.Turn) (types.SpeechEvent, error)
}

// Evolver applies reaction outcomes to characters.
type Evolver interface {
	Apply(ctx context.Context, ev types.SpeechEvent, score float64) (evolution.Result, error)
	CompleteSession(ctx context.Context, characterID string) (types.Character, error)
}

// Publisher is the event stream of sessions.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, typ broadcast.EventType, payload any) broadcast.Event
	CloseSession(sessionID string)
}

// SpeechArchive keeps emitted speech events.
type SpeechArchive interface {
	SaveSpeech(ctx context.Context, ev types.SpeechEvent) error
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Characters character.Store
	Locker     character.Locker
	Topics     TopicSelector
	Context    ContextBuilder
	Speech     SpeechRunner
	Reactions  reaction.Collector
	Evolution  Evolver
	Events     Publisher
	// Archive is optional.
	Archive     SpeechArchive
	Scheduler   scheduler.Scheduler
	TurnRetries int
	Logger      *slog.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Characters == nil:
		return fmt.Errorf("character store is required")
	case d.Locker == nil:
		return fmt.Errorf("locker is required")
	case d.Topics == nil:
		return fmt.Errorf("topic selector is required")
	case d.Context == nil:
		return fmt.Errorf("context builder is required")
	case d.Speech == nil:
		return fmt.Errorf("speech runner is required")
	case d.Reactions == nil:
		return fmt.Errorf("reaction collector is required")
	case d.Evolution == nil:
		return fmt.Errorf("evolution service is required")
	case d.Events == nil:
		return fmt.Errorf("event publisher is required")
	case d.TurnRetries < 0:
		return fmt.Errorf("turn retries must not be negative")
	}
	return nil
}

// neutralScore is used when peer reactions cannot be collected.
const neutralScore = 0.5

type turnState struct {
	speaker  types.Character
	others   []types.Character
	position int
	round    int
	attempt  int
	release  func()
	event    *types.SpeechEvent
	score    float64
	// applied is set once evolution has been committed for this turn.
	applied *evolution.Result
}

// Session is one debate. Advance calls are serialized; Status and
// Terminate may be called concurrently with them.
type Session struct {
	id           string
	participants []string
	maxRounds    int
	createdAt    time.Time
	deps         Deps
	logger       *slog.Logger
	nowFunc      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	advanceMu sync.Mutex

	mu          sync.RWMutex
	state       State
	topic       string
	topicSource string
	spoken      map[string]int
	cursor      int
	turnIndex   int
	round       int
	speechCount int
	history     []types.Turn
	current     *turnState
	reason      string
	fatal       *FatalError
	updatedAt   time.Time
}

func newSession(id, topic string, participants []string, maxRounds int, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	s := &Session{
		id:           id,
		participants: participants,
		maxRounds:    maxRounds,
		createdAt:    now,
		deps:         deps,
		logger:       logger.With("session_id", id),
		nowFunc:      time.Now,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateCreated,
		topic:        topic,
		spoken:       make(map[string]int, len(participants)),
		updatedAt:    now,
	}
	if topic != "" {
		s.topicSource = "request"
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Status returns a snapshot of the session.
func (s *Session) Status() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:           s.id,
		Topic:        s.topic,
		TopicSource:  s.topicSource,
		Participants: append([]string(nil), s.participants...),
		MaxRounds:    s.maxRounds,
		Round:        s.round,
		TurnIndex:    s.turnIndex,
		State:        s.state,
		SpeechEvents: s.speechCount,
		Reason:       s.reason,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
	if s.current != nil {
		snap.Speaker = s.current.speaker.ID
	}
	if s.fatal != nil {
		snap.ErrorKind = s.fatal.Kind
		snap.Error = s.fatal.Err.Error()
	}
	return snap
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.updatedAt = s.nowFunc()
	s.mu.Unlock()
}

func (s *Session) publish(typ broadcast.EventType, payload any) {
	s.deps.Events.Publish(s.ctx, s.id, typ, payload)
}

// Advance performs exactly one state transition and returns the new state.
// An error means the transition was abandoned because ctx or the session
// was cancelled; the state is unchanged and Advance may be called again.
func (s *Session) Advance(ctx context.Context) (State, error) {
	s.advanceMu.Lock()
	defer s.advanceMu.Unlock()

	if st := s.State(); st.Terminal() {
		return st, ErrTerminal
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	if err := s.step(runCtx); err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			s.fail(fatal)
			return s.State(), nil
		}
		return s.State(), err
	}
	return s.State(), nil
}

func (s *Session) step(ctx context.Context) error {
	switch st := s.State(); st {
	case StateCreated:
		return s.selectTopic(ctx)
	case StateTopicSelecting, StateNextTurn, StateRoundComplete:
		return s.startTurn(ctx)
	case StateTurnInProgress:
		return s.runTurn(ctx)
	case StateReactionCollecting:
		return s.collectReaction(ctx)
	case StateEvolving:
		return s.evolve(ctx)
	default:
		return &FatalError{Kind: KindInternal, Err: fmt.Errorf("unexpected state %s", st)}
	}
}

func (s *Session) selectTopic(ctx context.Context) error {
	s.mu.RLock()
	topic, source := s.topic, s.topicSource
	s.mu.RUnlock()

	if topic == "" {
		cand, err := s.deps.Topics.Select(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &FatalError{Kind: KindInternal, Err: fmt.Errorf("failed to select topic: %w", err)}
		}
		topic, source = cand.Title, cand.Source
	}

	s.mu.Lock()
	s.topic, s.topicSource = topic, source
	s.mu.Unlock()
	s.logger.Info("topic selected", "topic", topic, "source", source)
	s.publish(broadcast.TypeTopicSelected, broadcast.TopicSelected{Topic: topic, Source: source})
	s.setState(StateTopicSelecting)
	return nil
}

// roster reads every participant in seat order.
func (s *Session) roster(ctx context.Context) ([]types.Character, error) {
	out := make([]types.Character, 0, len(s.participants))
	for _, id := range s.participants {
		c, err := s.deps.Characters.Read(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &FatalError{Kind: KindStorageFailure, Err: fmt.Errorf("failed to read participant %s: %w", id, err)}
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Session) decide(chars []types.Character) scheduler.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seats := make([]scheduler.Participant, len(chars))
	for i, c := range chars {
		seats[i] = scheduler.Participant{ID: c.ID, Energy: c.LifeEnergy, Spoken: s.spoken[c.ID]}
	}
	return s.deps.Scheduler.Next(seats, s.cursor, s.maxRounds)
}

func (s *Session) startTurn(ctx context.Context) error {
	chars, err := s.roster(ctx)
	if err != nil {
		return err
	}
	d := s.decide(chars)
	if d.Done {
		s.complete(d.Reason, "")
		return nil
	}

	release, err := s.deps.Locker.Acquire(ctx, d.Speaker)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FatalError{Kind: KindInternal, Err: fmt.Errorf("failed to acquire lease: %w", err)}
	}

	others := make([]types.Character, 0, len(chars)-1)
	for _, c := range chars {
		if c.ID != d.Speaker && s.deps.Scheduler.Eligible(scheduler.Participant{Energy: c.LifeEnergy}) {
			others = append(others, c)
		}
	}

	s.mu.Lock()
	s.current = &turnState{
		speaker:  chars[d.Position],
		others:   others,
		position: d.Position,
		round:    d.Round,
		release:  release,
	}
	s.round = d.Round
	turnIndex := s.turnIndex
	s.mu.Unlock()

	s.publish(broadcast.TypeTurnStarted, broadcast.TurnStarted{CharacterID: d.Speaker, Round: d.Round, TurnIndex: turnIndex, Attempt: 1})
	s.setState(StateTurnInProgress)
	return nil
}

func (s *Session) runTurn(ctx context.Context) error {
	s.mu.RLock()
	cur := s.current
	topic := s.topic
	turnIndex := s.turnIndex
	history := append([]types.Turn(nil), s.history...)
	s.mu.RUnlock()
	if cur == nil {
		return &FatalError{Kind: KindInternal, Err: fmt.Errorf("no active turn")}
	}

	bundle, err := s.deps.Context.Build(ctx, prompt.Request{
		SessionID: s.id,
		Character: cur.speaker,
		Topic:     topic,
		Round:     cur.round,
		MaxRounds: s.maxRounds,
		History:   history,
		Others:    cur.others,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FatalError{Kind: KindInternal, Err: fmt.Errorf("failed to build context: %w", err)}
	}

	audience := make([]string, 0, len(cur.others))
	for _, c := range cur.others {
		audience = append(audience, c.ID)
	}

	ev, err := s.deps.Speech.Run(ctx, speech.Turn{
		SessionID: s.id,
		Round:     cur.round,
		TurnIndex: turnIndex,
		Bundle:    bundle,
		Audience:  audience,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, provider.ErrAllProvidersExhausted) {
			return &FatalError{Kind: KindInternal, Err: err}
		}
		s.mu.Lock()
		cur.attempt++
		attempt := cur.attempt
		s.mu.Unlock()
		if attempt > s.deps.TurnRetries {
			return &FatalError{Kind: KindAllProvidersExhausted, Err: err}
		}
		s.logger.Warn("text generation exhausted, retrying speaker", "character_id", cur.speaker.ID, "attempt", attempt+1, "error", err)
		s.publish(broadcast.TypeTurnStarted, broadcast.TurnStarted{CharacterID: cur.speaker.ID, Round: cur.round, TurnIndex: turnIndex, Attempt: attempt + 1})
		return nil
	}

	if s.deps.Archive != nil {
		if err := s.deps.Archive.SaveSpeech(ctx, ev); err != nil {
			s.logger.Warn("failed to archive speech", "event_id", ev.ID, "error", err)
		}
	}

	s.mu.Lock()
	cur.event = &ev
	s.history = append(s.history, types.TurnFromEvent(ev, cur.speaker.Name))
	s.speechCount++
	s.mu.Unlock()

	s.publish(broadcast.TypeSpeech, ev)
	s.setState(StateReactionCollecting)
	return nil
}

func (s *Session) collectReaction(ctx context.Context) error {
	s.mu.RLock()
	cur := s.current
	topic := s.topic
	s.mu.RUnlock()
	if cur == nil || cur.event == nil {
		return &FatalError{Kind: KindInternal, Err: fmt.Errorf("no speech to react to")}
	}

	score, err := s.deps.Reactions.Score(ctx, reaction.Input{
		Event:   *cur.event,
		Speaker: cur.speaker,
		Topic:   topic,
		Peers:   cur.others,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("reaction collection failed, using neutral score", "character_id", cur.speaker.ID, "error", err)
		score = neutralScore
	}

	s.mu.Lock()
	cur.score = types.ClampScore(score)
	s.mu.Unlock()
	s.setState(StateEvolving)
	return nil
}

func (s *Session) evolve(ctx context.Context) error {
	s.mu.RLock()
	cur := s.current
	var applied *evolution.Result
	if cur != nil {
		applied = cur.applied
	}
	s.mu.RUnlock()
	if cur == nil || cur.event == nil {
		return &FatalError{Kind: KindInternal, Err: fmt.Errorf("no turn to evolve")}
	}

	if applied == nil {
		res, err := s.deps.Evolution.Apply(ctx, *cur.event, cur.score)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &FatalError{Kind: KindStorageFailure, Err: fmt.Errorf("failed to apply evolution: %w", err)}
		}
		s.mu.Lock()
		cur.applied = &res
		s.mu.Unlock()
		s.publishEvolution(res, cur.score)
	}

	chars, err := s.roster(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cur.release()
	s.spoken[cur.speaker.ID]++
	s.cursor = cur.position + 1
	s.turnIndex++
	finished := cur.round
	s.current = nil
	s.mu.Unlock()

	d := s.decide(chars)
	switch {
	case d.Done:
		s.complete(d.Reason, "")
	case d.Round > finished:
		s.setState(StateRoundComplete)
	default:
		s.setState(StateNextTurn)
	}
	return nil
}

func (s *Session) publishEvolution(res evolution.Result, score float64) {
	update := broadcast.EvolutionUpdate{
		CharacterID:   res.After.ID,
		LifeEnergy:    res.After.LifeEnergy,
		EnergyDelta:   res.After.LifeEnergy - res.Before.LifeEnergy,
		ReactionScore: score,
		StageChanged:  res.StageChanged(),
		Breakthrough:  res.Outcome.Breakthrough,
		Deactivated:   res.Deactivated(),
	}
	if update.StageChanged {
		update.Stage = string(res.After.Stage)
	}
	s.publish(broadcast.TypeEvolutionUpdate, update)
	if update.Deactivated {
		s.logger.Info("character reached the energy floor", "character_id", res.After.ID)
	}
}

// releaseTurn drops the current turn and its lease.
func (s *Session) releaseTurn() {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()
	if cur != nil && cur.release != nil {
		cur.release()
	}
}

func (s *Session) complete(reason, detail string) {
	s.releaseTurn()

	s.mu.Lock()
	s.reason = reason
	count, rounds := s.speechCount, s.round
	s.mu.Unlock()
	s.setState(StateSessionComplete)

	if reason != ReasonTerminated {
		ctx := context.WithoutCancel(s.ctx)
		for _, id := range s.participants {
			if _, err := s.deps.Evolution.CompleteSession(ctx, id); err != nil {
				s.logger.Warn("failed to count session", "character_id", id, "error", err)
			}
		}
	}

	s.logger.Info("session complete", "reason", reason, "speech_events", count)
	s.publish(broadcast.TypeSessionComplete, broadcast.SessionComplete{Reason: reason, Detail: detail, SpeechEvents: count, Rounds: rounds})
	s.deps.Events.CloseSession(s.id)
	s.cancel()
}

func (s *Session) fail(fatal *FatalError) {
	s.releaseTurn()

	s.mu.Lock()
	s.fatal = fatal
	s.mu.Unlock()
	s.setState(StateSessionErrored)

	s.logger.Error("session failed", "kind", fatal.Kind, "error", fatal.Err)
	s.publish(broadcast.TypeSessionErrored, broadcast.SessionErrored{Kind: fatal.Kind, Message: fatal.Err.Error()})
	s.deps.Events.CloseSession(s.id)
	s.cancel()
}

// Terminate cancels in-flight work, waits for a running Advance, releases
// held leases and completes the session with reason "terminated".
func (s *Session) Terminate(detail string) error {
	if s.State().Terminal() {
		return ErrTerminal
	}
	s.cancel()

	s.advanceMu.Lock()
	defer s.advanceMu.Unlock()
	if s.State().Terminal() {
		return nil
	}
	s.complete(ReasonTerminated, detail)
	return nil
}

// Done is closed when the session is finished or terminated.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}
