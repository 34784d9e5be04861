package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckVictory(t *testing.T) {
	tests := []struct {
		name string
		kill []string
		want string
	}{
		{"all alive", nil, ""},
		{"no werewolves left", []string{"P1", "P2"}, ResultVillagersWin},
		{"parity", []string{"P3", "P4"}, ResultWerewolvesWin},
		{"outnumbered", []string{"P3", "P4", "P5"}, ResultWerewolvesWin},
		{"one wolf left", []string{"P1", "P3"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRoster(t, RoleWerewolf, RoleWerewolf, RoleSeer, RoleWitch, RoleGuard, RoleVillager)
			for _, id := range tt.kill {
				r.Kill(id)
			}
			s := NewSession("victory", r, 1, fastConfig(3), SessionDeps{})
			assert.Equal(t, tt.want, s.checkVictory())
		})
	}
}

// Guarded nights and abstaining voters keep both sides alive until the round cap.
func TestRoundCapEndsInDraw(t *testing.T) {
	r := newTestRoster(t, RoleWerewolf, RoleWerewolf, RoleSeer, RoleWitch, RoleGuard, RoleVillager, RoleVillager, RoleVillager)
	act := mustAct(t)
	guardTargets := []string{"P6", "P7"}
	plans := map[string]plan{}
	for _, seat := range r.Seats() {
		id := seat.ID
		plans[id] = func(req ActionRequest) (Action, bool) {
			switch {
			case req.allows(ActionWerewolfKill):
				return act(NewKill(id, guardTargets[req.Round%2])), true
			case req.allows(ActionGuardProtect):
				return act(NewProtect(id, guardTargets[req.Round%2])), true
			case req.allows(ActionVote), req.allows(ActionSheriffVote):
				return act(NewBallot(req.Kinds[0], id, "")), true
			case req.allows(ActionSpeech):
				return NewSpeechSkip(id), true
			}
			return Action{}, false
		}
	}
	s, _ := newTestSession(t, r, 21, fastConfig(3), plans, newCaptureSink())

	// the seer's default check and the witch's absence never kill anyone
	assert.Equal(t, ResultDraw, runSession(t, s))
	assert.Empty(t, eventsOfType(s.Timeline().Events(), EventDeath))

	phases := eventsOfType(s.Timeline().Events(), EventPhase)
	var nights int
	for _, p := range phases {
		if p.Fields["phase"] == PhaseNight {
			nights++
		}
	}
	assert.Equal(t, 3, nights)
	assert.Len(t, eventsOfType(s.Timeline().Events(), EventSheriffNone), 1, "the sheriff is only elected on the first day")

	ended := phases[len(phases)-1]
	assert.Equal(t, PhaseEnded, ended.Fields["phase"])
	assert.Equal(t, 2, ended.Fields["round"], "the draw ends in the last played round")
	assert.Equal(t, 3, ended.Fields["day"])
}

func TestGameOverRevealsRoles(t *testing.T) {
	r := newTestRoster(t, RoleWerewolf, RoleWerewolf, RoleSeer, RoleWitch, RoleGuard, RoleVillager)
	sink := newCaptureSink()
	s, _ := newTestSession(t, r, 2, fastConfig(5), nil, sink)
	result := runSession(t, s)
	require.NotEmpty(t, result)
	assert.Equal(t, result, s.Result())

	events := s.Timeline().Events()
	last := events[len(events)-1]
	assert.Equal(t, EventGameOver, last.Type)
	assert.Equal(t, result, last.Fields["result"])

	roles := eventsOfType(events, EventRoleMap)
	require.Len(t, roles, 1)
	assert.Equal(t, r.Roles(), roles[0].Fields["roles"])

	// replay data and reviews reach the transport but not the timeline
	var announced []Event
	for _, ev := range sink.broadcast {
		if ev.Seq == 0 {
			announced = append(announced, ev)
		}
	}
	require.Len(t, announced, 2)
	assert.Equal(t, EventReplayData, announced[0].Type)
	assert.Equal(t, EventReview, announced[1].Type)
	assert.Empty(t, eventsOfType(events, EventReplayData))

	replay := announced[0].Fields
	assert.Equal(t, result, replay["result"])
	assert.Equal(t, r.Roles(), replay["finalRoles"])
	assert.Equal(t, announced[1].Fields["data"], replay["reviews"])
	timeline, ok := replay["timeline"].([]ReplayEntry)
	require.True(t, ok)
	require.Len(t, timeline, len(events))
	assert.Equal(t, int64(1), timeline[0].Tick)
	assert.Equal(t, events[len(events)-1].Type, timeline[len(timeline)-1].Event.Type)
}

func TestSequenceNumbersStrictlyIncrease(t *testing.T) {
	r := newTestRoster(t, RoleWerewolf, RoleWerewolf, RoleSeer, RoleWitch, RoleGuard, RoleVillager, RoleVillager)
	rec := &memoryRecorder{}
	s := NewSession("seq", r, 4, fastConfig(3), SessionDeps{Recorder: rec})
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	events := s.Timeline().Events()
	require.NotEmpty(t, events)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, events, rec.events, "every appended event is recorded in order")
}

// blockingSeat waits for the window to close.
type blockingSeat struct{ id string }

func (b blockingSeat) SeatID() string { return b.id }
func (b blockingSeat) Observe(Event) {}
func (b blockingSeat) Submit(ctx context.Context, _ ActionRequest) (Action, bool) {
	<-ctx.Done()
	return Action{}, false
}

func TestCancelStopsSession(t *testing.T) {
	r := newTestRoster(t, RoleWerewolf, RoleWerewolf, RoleSeer, RoleWitch, RoleGuard, RoleVillager)
	participants := map[string]Participant{}
	for _, seat := range r.Seats() {
		participants[seat.ID] = blockingSeat{id: seat.ID}
	}
	cfg := fastConfig(3)
	cfg.NightWindow = time.Minute
	sink := newCaptureSink()
	s := NewSession("cancel", r, 1, cfg, SessionDeps{Participants: participants, Sink: sink})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return len(sink.sentTo("P1")) > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrSessionCancelled))
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancel")
	}
	n := s.Timeline().Len()
	assert.Empty(t, eventsOfType(s.Timeline().Events(), EventGameOver))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, s.Timeline().Len(), "nothing is emitted after cancellation")
}

// stalledReviewer only returns once its context gives up.
type stalledReviewer struct {
	bounded atomic.Int32
}

func (r *stalledReviewer) Review(ctx context.Context, _ ReviewInput) (SeatReview, error) {
	if _, ok := ctx.Deadline(); ok {
		r.bounded.Add(1)
	}
	<-ctx.Done()
	return SeatReview{}, ctx.Err()
}

func TestReviewsHonorTimeout(t *testing.T) {
	r := newTestRoster(t, RoleWerewolf, RoleWerewolf, RoleSeer, RoleWitch, RoleGuard, RoleVillager)
	participants := map[string]Participant{}
	for _, seat := range r.Seats() {
		participants[seat.ID] = NewAutonomousAgent(seat.ID, r.Role(seat.ID), newFallbackDecider(nil, 0))
	}
	cfg := fastConfig(1)
	cfg.ReviewTimeout = 50 * time.Millisecond
	reviewer := &stalledReviewer{}
	s := NewSession("slow-review", r, 1, cfg, SessionDeps{Participants: participants, Reviewer: reviewer})

	start := time.Now()
	out := s.reviews(context.Background(), ResultDraw)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, out, "a review that times out is left out")
	assert.Equal(t, int32(6), reviewer.bounded.Load())
}
