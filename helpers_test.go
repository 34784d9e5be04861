package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestRoster seats P1..PN with the given roles, all alive.
func newTestRoster(t *testing.T, roles ...Role) *Roster {
	t.Helper()
	seats := make([]Seat, len(roles))
	assignment := make(map[string]Role, len(roles))
	for i, role := range roles {
		id := seatID(i + 1)
		seats[i] = Seat{ID: id, Name: id}
		assignment[id] = role
	}
	return NewRosterFromAssignment(seats, assignment)
}

func seatID(n int) string {
	return fmt.Sprintf("P%d", n)
}

// fastConfig runs a session with no presentation delay and short windows.
func fastConfig(maxRounds int) SessionConfig {
	return SessionConfig{
		MaxRounds:     maxRounds,
		NightWindow:   500 * time.Millisecond,
		SpeechWindow:  500 * time.Millisecond,
		VoteWindow:    500 * time.Millisecond,
		ReviewTimeout: time.Second,
	}
}

// plan answers one window for a scripted seat. Returning false leaves the
// seat absent.
type plan func(req ActionRequest) (Action, bool)

// scriptedSeat is a participant driven by a plan, recording what it observes.
type scriptedSeat struct {
	id   string
	plan plan

	mu   sync.Mutex
	seen []Event
}

func newScriptedSeat(id string, p plan) *scriptedSeat {
	return &scriptedSeat{id: id, plan: p}
}

func (s *scriptedSeat) SeatID() string { return s.id }

func (s *scriptedSeat) Observe(ev Event) {
	s.mu.Lock()
	s.seen = append(s.seen, ev)
	s.mu.Unlock()
}

func (s *scriptedSeat) Submit(ctx context.Context, req ActionRequest) (Action, bool) {
	if s.plan == nil {
		return Action{}, false
	}
	a, ok := s.plan(req)
	if ok {
		a.Actor = s.id
	}
	return a, ok
}

func (s *scriptedSeat) observed() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.seen...)
}

// silent never answers; every window falls back to defaults for it.
func silent(ActionRequest) (Action, bool) { return Action{}, false }

// byKind answers the first requested kind found in choices.
func byKind(choices map[ActionKind]Action) plan {
	return func(req ActionRequest) (Action, bool) {
		for _, k := range req.Kinds {
			if a, ok := choices[k]; ok {
				return a, true
			}
		}
		return Action{}, false
	}
}

// captureSink collects what a session sends to the transport.
type captureSink struct {
	mu        sync.Mutex
	broadcast []Event
	private   map[string][]Event
}

func newCaptureSink() *captureSink {
	return &captureSink{private: make(map[string][]Event)}
}

func (c *captureSink) Broadcast(ev Event) {
	c.mu.Lock()
	c.broadcast = append(c.broadcast, ev)
	c.mu.Unlock()
}

func (c *captureSink) SendTo(seatID string, ev Event) {
	c.mu.Lock()
	c.private[seatID] = append(c.private[seatID], ev)
	c.mu.Unlock()
}

func (c *captureSink) sentTo(seatID string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.private[seatID]...)
}

// memoryRecorder is an in-process EventRecorder.
type memoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (m *memoryRecorder) RecordEvent(_ string, ev Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// mustAct unwraps an action constructor: mustAct(t)(NewKill("P1", "P3")).
func mustAct(t *testing.T) func(Action, error) Action {
	return func(a Action, err error) Action {
		t.Helper()
		require.NoError(t, err)
		return a
	}
}

// newTestSession wires participants for every seat; seats without a plan are silent.
func newTestSession(t *testing.T, roster *Roster, seed int64, cfg SessionConfig, plans map[string]plan, sink EventSink) (*Session, map[string]*scriptedSeat) {
	t.Helper()
	seats := make(map[string]*scriptedSeat)
	participants := make(map[string]Participant)
	for _, seat := range roster.Seats() {
		p := plans[seat.ID]
		if p == nil {
			p = silent
		}
		s := newScriptedSeat(seat.ID, p)
		seats[seat.ID] = s
		participants[seat.ID] = s
	}
	return NewSession("test-session", roster, seed, cfg, SessionDeps{
		Participants: participants,
		Sink:         sink,
	}), seats
}

func runSession(t *testing.T, s *Session) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := s.Run(ctx)
	require.NoError(t, err)
	return result
}
