package main

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// ActionRequest opens a collection window for one seat.
type ActionRequest struct {
	Phase   Phase
	Round   int
	Kinds   []ActionKind
	Context DecisionContext
}

func (r ActionRequest) allows(kind ActionKind) bool {
	return slices.Contains(r.Kinds, kind)
}

// Participant is whoever holds a seat: a connected human or an agent.
// Submit blocks until the seat answers or ctx is done; ok=false means absent.
type Participant interface {
	Observer
	SeatID() string
	Submit(ctx context.Context, req ActionRequest) (Action, bool)
}

// LiveParticipant is a seat driven by inbound websocket messages.
// Deliver is called from connection goroutines; Submit from the collector.
type LiveParticipant struct {
	seatID string

	mu     sync.Mutex
	window *ActionRequest
	inbox  chan Action
}

func NewLiveParticipant(seatID string) *LiveParticipant {
	return &LiveParticipant{seatID: seatID}
}

func (lp *LiveParticipant) SeatID() string { return lp.seatID }

// Observe is a no-op: connections receive events from the hub directly.
func (lp *LiveParticipant) Observe(Event) {}

// Deliver hands an inbound action to the open window, if it matches.
func (lp *LiveParticipant) Deliver(a Action) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if lp.window == nil {
		return ErrNoWindow
	}
	if !lp.window.allows(a.Kind) {
		return fmt.Errorf("%w: %s during %s", ErrWrongPhase, a.Kind, lp.window.Phase)
	}
	a.Actor = lp.seatID
	select {
	case lp.inbox <- a:
		return nil
	default:
		return ErrAlreadySubmitted
	}
}

func (lp *LiveParticipant) Submit(ctx context.Context, req ActionRequest) (Action, bool) {
	inbox := make(chan Action, 1)
	lp.mu.Lock()
	lp.window = &req
	lp.inbox = inbox
	lp.mu.Unlock()

	defer func() {
		lp.mu.Lock()
		lp.window = nil
		lp.mu.Unlock()
	}()

	select {
	case a := <-inbox:
		return a, true
	case <-ctx.Done():
		return Action{}, false
	}
}

// AutonomousAgent is a seat whose actions come from a Decider.
type AutonomousAgent struct {
	seatID  string
	role    Role
	decider Decider
	memory  *Memory
}

func NewAutonomousAgent(seatID string, role Role, decider Decider) *AutonomousAgent {
	return &AutonomousAgent{
		seatID:  seatID,
		role:    role,
		decider: decider,
		memory:  NewMemory(seatID, scorerFor(role)),
	}
}

func (a *AutonomousAgent) SeatID() string { return a.seatID }

func (a *AutonomousAgent) Memory() *Memory { return a.memory }

func (a *AutonomousAgent) Observe(ev Event) {
	a.memory.Record(ev)
}

func (a *AutonomousAgent) Submit(ctx context.Context, req ActionRequest) (Action, bool) {
	dc := req.Context
	dc.Memory = a.memory.Recent(10)
	dc.Suspects = a.memory.TopSuspects(3)
	dc.Suspicion = a.memory.Scores()
	dc.Confirmed = a.memory.Confirmed()

	dec, err := a.decider.Decide(ctx, dc)
	if err != nil {
		logError(fmt.Sprintf("AutonomousAgent.Submit %s", a.seatID), err)
		return Action{}, false
	}
	act, ok := decisionToAction(a.seatID, req, dec)
	if ok && (act.Kind == ActionVote || act.Kind == ActionSheriffVote) && !act.Abstain {
		a.memory.NoteOwnVote(act.Target)
	}
	return act, ok
}

// decisionToAction picks the part of a decision the open window asked for.
func decisionToAction(seatID string, req ActionRequest, dec Decision) (Action, bool) {
	var (
		act Action
		err error
	)
	switch {
	case req.allows(ActionWitchSave) && dec.Action.Save:
		act, err = NewSave(seatID)
	case req.allows(ActionWitchPoison) && dec.Action.Poison != "":
		act, err = NewPoison(seatID, dec.Action.Poison)
	case req.allows(ActionWerewolfKill):
		act, err = NewKill(seatID, dec.Action.Kill)
		act = act.WithChat(dec.Speech)
	case req.allows(ActionSeerCheck):
		act, err = NewCheck(seatID, dec.Action.Check)
	case req.allows(ActionGuardProtect):
		act, err = NewProtect(seatID, dec.Action.Guard)
	case req.allows(ActionVote), req.allows(ActionSheriffVote):
		if dec.Action.Vote == "" {
			return Action{}, false
		}
		act, err = NewBallot(req.Kinds[0], seatID, dec.Action.Vote)
	case req.allows(ActionSpeech):
		if dec.Speech == "" {
			return NewSpeechSkip(seatID), true
		}
		act, err = NewSpeech(seatID, dec.Speech)
	default:
		return Action{}, false
	}
	if err != nil {
		return Action{}, false
	}
	return act, true
}
