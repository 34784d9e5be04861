package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowSeat answers after a delay, or not at all once the window closes.
type slowSeat struct {
	id    string
	delay time.Duration
}

func (s slowSeat) SeatID() string { return s.id }
func (s slowSeat) Observe(Event) {}
func (s slowSeat) Submit(ctx context.Context, _ ActionRequest) (Action, bool) {
	select {
	case <-time.After(s.delay):
		return NewSpeechSkip(s.id), true
	case <-ctx.Done():
		return Action{}, false
	}
}

func TestWindowCollectorOneSubmissionPerSeat(t *testing.T) {
	c := newWindowCollector(map[string]Participant{
		"P1": slowSeat{id: "P1", delay: 10 * time.Millisecond},
		"P2": slowSeat{id: "P2", delay: time.Hour},
	})
	var subs []Submission
	start := time.Now()
	err := c.Collect(context.Background(), CollectRequest{
		Window:  1,
		Seats:   []string{"P1", "P2", "P3"},
		Timeout: 200 * time.Millisecond,
	}, func(sub Submission) { subs = append(subs, sub) })
	require.NoError(t, err, "an expired window is not an error")
	assert.Less(t, time.Since(start), 5*time.Second)

	got := map[string]bool{}
	for _, sub := range subs {
		assert.False(t, got[sub.Seat], "duplicate submission for %s", sub.Seat)
		got[sub.Seat] = sub.OK
	}
	assert.Equal(t, map[string]bool{"P1": true, "P2": false, "P3": false}, got)
}

// stubbornSeat answers late and never looks at ctx.
type stubbornSeat struct {
	id    string
	delay time.Duration
}

func (s stubbornSeat) SeatID() string { return s.id }
func (s stubbornSeat) Observe(Event) {}
func (s stubbornSeat) Submit(context.Context, ActionRequest) (Action, bool) {
	time.Sleep(s.delay)
	return NewSpeechSkip(s.id), true
}

func TestWindowCollectorEnforcesDeadline(t *testing.T) {
	c := newWindowCollector(map[string]Participant{
		"P1": stubbornSeat{id: "P1", delay: 1500 * time.Millisecond},
		"P2": slowSeat{id: "P2"},
	})
	got := map[string]bool{}
	start := time.Now()
	err := c.Collect(context.Background(), CollectRequest{
		Seats:   []string{"P1", "P2"},
		Timeout: 100 * time.Millisecond,
	}, func(sub Submission) { got[sub.Seat] = sub.OK })
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "the window closes on time")
	assert.Equal(t, map[string]bool{"P1": false, "P2": true}, got, "a late answer is absent")
}

func TestWindowCollectorStampsActor(t *testing.T) {
	c := newWindowCollector(map[string]Participant{
		"P1": newScriptedSeat("P1", func(ActionRequest) (Action, bool) {
			return Action{Kind: ActionSpeech, Actor: "P9", Skip: true}, true
		}),
	})
	var sub Submission
	require.NoError(t, c.Collect(context.Background(), CollectRequest{Seats: []string{"P1"}}, func(s Submission) { sub = s }))
	assert.Equal(t, "P1", sub.Action.Actor)
}

func TestWindowCollectorCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newWindowCollector(map[string]Participant{"P1": slowSeat{id: "P1", delay: time.Hour}})
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := c.Collect(ctx, CollectRequest{Seats: []string{"P1"}, Timeout: time.Hour}, func(Submission) {})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestScriptCollectorReplaysWindow(t *testing.T) {
	speech := NewSpeechSkip("P2")
	c := newScriptCollector([]ResolvedAction{
		{Window: 3, Seat: "P2", Input: &speech},
		{Window: 3, Seat: "P1"},
		{Window: 4, Seat: "P1", Input: &speech},
		{Window: 0, Seat: "P5", Input: &speech},
	})

	var subs []Submission
	require.NoError(t, c.Collect(context.Background(), CollectRequest{Window: 3, Seats: []string{"P1", "P2", "P3"}}, func(s Submission) {
		subs = append(subs, s)
	}))
	require.Len(t, subs, 3)
	assert.Equal(t, Submission{Seat: "P2", Action: speech, OK: true}, subs[0])
	assert.Equal(t, Submission{Seat: "P1"}, subs[1])
	assert.Equal(t, Submission{Seat: "P3"}, subs[2], "seats missing from the log are absent")
}

func TestLiveParticipantDeliver(t *testing.T) {
	lp := NewLiveParticipant("P1")
	vote := mustAct(t)(NewBallot(ActionVote, "P1", "P2"))
	assert.ErrorIs(t, lp.Deliver(vote), ErrNoWindow)

	got := make(chan Action, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		a, ok := lp.Submit(ctx, ActionRequest{Phase: PhaseVote, Kinds: []ActionKind{ActionVote}})
		if ok {
			got <- a
		}
		close(got)
	}()

	speech := mustAct(t)(NewSpeech("P1", "hello"))
	require.Eventually(t, func() bool {
		return errors.Is(lp.Deliver(speech), ErrWrongPhase)
	}, time.Second, 5*time.Millisecond)

	vote.Actor = "P7"
	require.NoError(t, lp.Deliver(vote))
	a := <-got
	assert.Equal(t, "P1", a.Actor, "the seat, not the message, names the actor")
	assert.Equal(t, "P2", a.Target)
}

func TestLiveParticipantRejectsSecondAction(t *testing.T) {
	lp := NewLiveParticipant("P1")
	lp.mu.Lock()
	lp.window = &ActionRequest{Kinds: []ActionKind{ActionVote}}
	lp.inbox = make(chan Action, 1)
	lp.mu.Unlock()

	vote := mustAct(t)(NewBallot(ActionVote, "P1", "P2"))
	require.NoError(t, lp.Deliver(vote))
	assert.ErrorIs(t, lp.Deliver(vote), ErrAlreadySubmitted)
}
