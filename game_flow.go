package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Phase is the session's position in the round cycle.
type Phase string

const (
	PhaseInit    Phase = "INIT"
	PhaseNight   Phase = "NIGHT"
	PhaseDay     Phase = "DAY"
	PhaseSheriff Phase = "SHERIFF"
	PhaseVote    Phase = "VOTE"
	PhaseEnded   Phase = "ENDED"
)

const (
	ResultVillagersWin  = "VILLAGERS_WIN"
	ResultWerewolvesWin = "WEREWOLVES_WIN"
	ResultDraw          = "DRAW"
)

// Potions tracks the witch's single-use potions.
type Potions struct {
	Save   bool `json:"save"`
	Poison bool `json:"poison"`
}

// SessionConfig holds the pacing and limits of one session.
type SessionConfig struct {
	MaxRounds     int
	NightWindow   time.Duration
	SpeechWindow  time.Duration
	VoteWindow    time.Duration
	ReviewTimeout time.Duration
	Pacing        time.Duration
}

func defaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxRounds:     3,
		NightWindow:   15 * time.Second,
		SpeechWindow:  30 * time.Second,
		VoteWindow:    15 * time.Second,
		ReviewTimeout: 20 * time.Second,
		Pacing:        600 * time.Millisecond,
	}
}

// SessionDeps are the collaborators of a session. A nil Collector collects
// from Participants.
type SessionDeps struct {
	Participants map[string]Participant
	Collector    Collector
	Sink         EventSink
	Recorder     EventRecorder
	Reviewer     Reviewer
}

// Session owns all state of one game. Only the goroutine running Run touches it.
type Session struct {
	id   string
	cfg  SessionConfig
	seed int64
	rng  *rand.Rand

	roster          *Roster
	round           int
	phase           Phase
	sheriff         string
	sheriffElected  bool
	potions         Potions
	lastGuardTarget string
	lastDeaths      []string
	pendingNight    map[string]Action
	pendingVotes    map[string]string
	window          int
	actionLog       []ResolvedAction
	result          string

	participants map[string]Participant
	collector    Collector
	sink         EventSink
	recorder     EventRecorder
	reviewer     Reviewer
	pipeline     *Pipeline
}

func NewSession(id string, roster *Roster, seed int64, cfg SessionConfig, deps SessionDeps) *Session {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultSessionConfig().MaxRounds
	}
	s := &Session{
		id:           id,
		cfg:          cfg,
		seed:         seed,
		rng:          rand.New(rand.NewSource(seed)),
		roster:       roster,
		phase:        PhaseInit,
		potions:      Potions{Save: true, Poison: true},
		participants: deps.Participants,
		collector:    deps.Collector,
		sink:         deps.Sink,
		recorder:     deps.Recorder,
		reviewer:     deps.Reviewer,
	}
	if s.participants == nil {
		s.participants = make(map[string]Participant)
	}
	if s.collector == nil {
		s.collector = newWindowCollector(s.participants)
	}
	return s
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) Seed() int64                 { return s.seed }
func (s *Session) Roster() *Roster             { return s.roster }
func (s *Session) Result() string              { return s.result }
func (s *Session) ActionLog() []ResolvedAction { return append([]ResolvedAction(nil), s.actionLog...) }

// Timeline is nil until Run starts.
func (s *Session) Timeline() *Timeline {
	if s.pipeline == nil {
		return nil
	}
	return s.pipeline.Timeline()
}

// Run drives the session to its end and returns the result. It returns
// ErrSessionCancelled when ctx is cancelled first.
func (s *Session) Run(ctx context.Context) (string, error) {
	s.pipeline = NewPipeline(ctx, s.id, s.sink, s.recorder)
	for _, seat := range s.roster.Seats() {
		if p, ok := s.participants[seat.ID]; ok {
			s.pipeline.Attach(seat.ID, p)
		}
	}
	log.Printf("Session %s started with %d seats, seed %d", s.id, s.roster.Size(), s.seed)

	s.announceRoles()
	result, err := s.loop(ctx)
	if err != nil {
		log.Printf("Session %s stopped: %v", s.id, err)
		return "", fmt.Errorf("%w: %v", ErrSessionCancelled, err)
	}
	s.finish(ctx, result)
	return result, nil
}

func (s *Session) loop(ctx context.Context) (string, error) {
	for s.round = 0; s.round < s.cfg.MaxRounds; s.round++ {
		deaths, err := s.runNight(ctx)
		if err != nil {
			return "", err
		}
		if err := s.pause(ctx); err != nil {
			return "", err
		}

		ended, err := s.runDay(ctx, deaths)
		if err != nil {
			return "", err
		}
		if ended {
			return s.checkVictory(), nil
		}

		if s.round == 0 && !s.sheriffElected {
			if err := s.runSheriff(ctx); err != nil {
				return "", err
			}
		}

		if err := s.runVote(ctx); err != nil {
			return "", err
		}
		if result := s.checkVictory(); result != "" {
			return result, nil
		}
	}
	return ResultDraw, nil
}

// checkVictory returns the result once a side has won, or "".
func (s *Session) checkVictory() string {
	wolves, others := s.roster.countAlive()
	switch {
	case wolves == 0:
		return ResultVillagersWin
	case wolves >= others:
		return ResultWerewolvesWin
	}
	return ""
}

// applyDeaths marks seats dead and announces each one.
func (s *Session) applyDeaths(ids []string, cause string) {
	for _, id := range ids {
		if !s.roster.Kill(id) {
			continue
		}
		s.pipeline.Publish(EventDeath, Fields{"playerId": id, "cause": cause})
	}
}

func (s *Session) setPhase(p Phase) {
	s.phase = p
	s.pipeline.Publish(EventPhase, Fields{"phase": p, "round": s.round, "day": s.round + 1})
}

// pause waits for the presentation delay or until ctx is done.
func (s *Session) pause(ctx context.Context) error {
	if s.cfg.Pacing <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.Pacing)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// collect runs one collection window and returns its number.
func (s *Session) collect(ctx context.Context, phase Phase, seats []string, requests map[string]ActionRequest, timeout time.Duration, onSubmit func(Submission)) (int, error) {
	s.window++
	req := CollectRequest{
		Window:   s.window,
		Phase:    phase,
		Round:    s.round,
		Seats:    seats,
		Requests: requests,
		Timeout:  timeout,
	}
	if err := s.collector.Collect(ctx, req, onSubmit); err != nil {
		return s.window, err
	}
	return s.window, nil
}

func (s *Session) logActions(window int, records []ResolvedAction) {
	for _, rec := range records {
		rec.Window = window
		s.actionLog = append(s.actionLog, rec)
	}
}

// decisionContext snapshots what seat may know for an autonomous decision.
func (s *Session) decisionContext(seat string, phase Phase, kinds []ActionKind) DecisionContext {
	role := s.roster.Role(seat)
	dc := DecisionContext{
		Seat:       seat,
		Role:       role,
		Phase:      phase,
		Round:      s.round,
		Day:        s.round + 1,
		Kinds:      kinds,
		Alive:      s.roster.AliveIDs(),
		Dead:       s.roster.DeadIDs(),
		LastDeaths: append([]string(nil), s.lastDeaths...),
		Teammates:  s.roster.Teammates(seat),
		Sheriff:    s.sheriff,
	}
	switch role {
	case RoleWitch:
		dc.Potions = s.potions
	case RoleGuard:
		dc.LastGuardTarget = s.lastGuardTarget
	}
	return dc
}

// announceRoles privately tells every seat its role, and werewolves their pack.
func (s *Session) announceRoles() {
	for _, seat := range s.roster.Seats() {
		fields := Fields{"playerId": seat.ID, "role": s.roster.Role(seat.ID)}
		if mates := s.roster.Teammates(seat.ID); len(mates) > 0 {
			fields["teammates"] = mates
		}
		s.pipeline.Private(seat.ID, EventRole, fields)
	}
}

// finish publishes the result, then sends the replay and reviews to the
// connections without adding them to the timeline.
func (s *Session) finish(ctx context.Context, result string) {
	s.result = result
	s.phase = PhaseEnded
	// a round-cap draw ends after the last played round, not one past it
	round := min(s.round, s.cfg.MaxRounds-1)
	s.pipeline.Publish(EventPhase, Fields{"phase": PhaseEnded, "round": round, "day": round + 1})
	s.pipeline.Publish(EventRoleMap, Fields{"roles": s.roster.Roles()})
	s.pipeline.Publish(EventGameOver, Fields{"result": result, "players": s.roster.Seats()})
	log.Printf("Session %s finished: %s", s.id, result)

	if s.sink == nil {
		return
	}
	reviews := s.reviews(ctx, result)
	s.pipeline.Announce(EventReplayData, Fields{
		"sessionId":  s.id,
		"seed":       s.seed,
		"result":     result,
		"finalRoles": s.roster.Roles(),
		"reviews":    reviews,
		"timeline":   replayTimeline(s.pipeline.Timeline().Events()),
		"actions":    s.ActionLog(),
	})
	s.pipeline.Announce(EventReview, Fields{"data": reviews})
}

// ReplayEntry is one timeline event as the replay view plays it back.
type ReplayEntry struct {
	Tick  int64 `json:"tick"`
	Event Event `json:"event"`
}

func replayTimeline(events []Event) []ReplayEntry {
	out := make([]ReplayEntry, len(events))
	for i, ev := range events {
		out[i] = ReplayEntry{Tick: ev.Seq, Event: ev}
	}
	return out
}

// reviewable is implemented by participants that can look back on a session.
type reviewable interface {
	Memory() *Memory
}

// reviews asks the reviewer about every autonomous seat concurrently.
func (s *Session) reviews(ctx context.Context, result string) map[string]SeatReview {
	out := make(map[string]SeatReview)
	if s.reviewer == nil {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, seat := range s.roster.Seats() {
		rv, ok := s.participants[seat.ID].(reviewable)
		if !ok {
			continue
		}
		in := ReviewInput{
			Seat:     seat.ID,
			Role:     s.roster.Role(seat.ID),
			Result:   result,
			Survived: seat.Alive,
			Speeches: rv.Memory().Speeches(),
			Memory:   rv.Memory().Recent(maxMemoryEvents),
		}
		g.Go(func() error {
			rctx := gctx
			if s.cfg.ReviewTimeout > 0 {
				var cancel context.CancelFunc
				rctx, cancel = context.WithTimeout(gctx, s.cfg.ReviewTimeout)
				defer cancel()
			}
			r, err := s.reviewer.Review(rctx, in)
			if err != nil {
				logError("Session.reviews "+in.Seat, err)
				return nil
			}
			mu.Lock()
			out[in.Seat] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
