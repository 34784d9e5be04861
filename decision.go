package main

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// DecisionContext is the snapshot handed to a Decider for one seat.
type DecisionContext struct {
	Seat            string             `json:"seat"`
	Role            Role               `json:"role"`
	Phase           Phase              `json:"phase"`
	Round           int                `json:"round"`
	Day             int                `json:"day"`
	Kinds           []ActionKind       `json:"kinds"`
	Alive           []string           `json:"alive"`
	Dead            []string           `json:"dead"`
	LastDeaths      []string           `json:"lastDeaths"`
	Potions         Potions            `json:"potions"`
	Teammates       []string           `json:"teammates,omitempty"`
	Sheriff         string             `json:"sheriff,omitempty"`
	LastGuardTarget string             `json:"lastGuardTarget,omitempty"`
	Memory          []string           `json:"memory,omitempty"`
	Suspects        []string           `json:"suspects,omitempty"`
	Suspicion       map[string]float64 `json:"suspicion,omitempty"`
	Confirmed       map[string]Role    `json:"confirmed,omitempty"`
}

func (dc DecisionContext) isTeammate(id string) bool {
	return slices.Contains(dc.Teammates, id)
}

// DecisionAction carries every targeted choice a decision may make.
type DecisionAction struct {
	Vote   string `json:"vote"`
	Kill   string `json:"kill"`
	Check  string `json:"check"`
	Guard  string `json:"guard"`
	Save   bool   `json:"save"`
	Poison string `json:"poison"`
}

type Decision struct {
	Speech string         `json:"speech"`
	Action DecisionAction `json:"action"`
}

// Decider produces an autonomous seat's decision.
type Decider interface {
	Decide(ctx context.Context, dc DecisionContext) (Decision, error)
}

// offlineDecider decides from the snapshot alone, deterministically.
type offlineDecider struct{}

func (offlineDecider) Decide(_ context.Context, dc DecisionContext) (Decision, error) {
	var d Decision
	for _, kind := range dc.Kinds {
		switch kind {
		case ActionWerewolfKill:
			d.Action.Kill = dc.pick(func(id string) bool {
				return id != dc.Seat && !dc.isTeammate(id) && dc.Confirmed[id] != RoleWerewolf
			})
			if d.Action.Kill != "" && len(dc.Teammates) > 0 {
				d.Speech = fmt.Sprintf("Let's take %s tonight.", d.Action.Kill)
			}
		case ActionSeerCheck:
			d.Action.Check = dc.first(func(id string) bool {
				_, known := dc.Confirmed[id]
				return id != dc.Seat && !known
			})
		case ActionGuardProtect:
			d.Action.Guard = dc.guardChoice()
		case ActionWitchSave:
			d.Action.Save = dc.Potions.Save && dc.Round == 0
		case ActionWitchPoison:
			if dc.Potions.Poison && !d.Action.Save {
				for _, id := range dc.Alive {
					if id != dc.Seat && dc.Confirmed[id] == RoleWerewolf {
						d.Action.Poison = id
						break
					}
				}
			}
		case ActionVote, ActionSheriffVote:
			if dc.Role == RoleWerewolf {
				d.Action.Vote = dc.scapegoat()
			}
			if d.Action.Vote == "" {
				d.Action.Vote = dc.pick(func(id string) bool {
					return id != dc.Seat && !dc.isTeammate(id)
				})
			}
		case ActionSpeech:
			d.Speech = dc.speech()
		}
	}
	return d, nil
}

// pick prefers the top living suspect passing ok, then the first living seat.
func (dc DecisionContext) pick(ok func(string) bool) string {
	for _, id := range dc.Suspects {
		if slices.Contains(dc.Alive, id) && ok(id) {
			return id
		}
	}
	return dc.first(ok)
}

// scapegoat is the living non-werewolf a wolf can push with the least
// resistance: the lowest suspicion strictly between 0.3 and 1.2.
func (dc DecisionContext) scapegoat() string {
	best, bestScore := "", 0.0
	for _, id := range dc.Alive {
		if id == dc.Seat || dc.isTeammate(id) {
			continue
		}
		score, ok := dc.Suspicion[id]
		if !ok || score <= 0.3 || score >= 1.2 {
			continue
		}
		if best == "" || score < bestScore {
			best, bestScore = id, score
		}
	}
	return best
}

func (dc DecisionContext) first(ok func(string) bool) string {
	for _, id := range dc.Alive {
		if ok(id) {
			return id
		}
	}
	return ""
}

func (dc DecisionContext) guardChoice() string {
	if len(dc.Alive) == 0 {
		return ""
	}
	target := dc.Alive[len(dc.Alive)-1]
	if target == dc.LastGuardTarget && len(dc.Alive) > 1 {
		target = dc.Alive[0]
	}
	return target
}

func (dc DecisionContext) speech() string {
	for _, id := range dc.Suspects {
		if slices.Contains(dc.Alive, id) && id != dc.Seat && !dc.isTeammate(id) {
			return fmt.Sprintf("I have doubts about %s.", id)
		}
	}
	return "I want to hear everyone first."
}

// fallbackDecider bounds the primary decider with a timeout and answers from
// the offline decider whenever the primary fails.
type fallbackDecider struct {
	primary  Decider
	fallback Decider
	timeout  time.Duration
}

func newFallbackDecider(primary Decider, timeout time.Duration) *fallbackDecider {
	return &fallbackDecider{primary: primary, fallback: offlineDecider{}, timeout: timeout}
}

func (f *fallbackDecider) Decide(ctx context.Context, dc DecisionContext) (Decision, error) {
	if f.primary == nil {
		return f.fallback.Decide(ctx, dc)
	}
	cctx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	d, err := f.primary.Decide(cctx, dc)
	if err == nil {
		return d, nil
	}
	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}
	logError(fmt.Sprintf("fallbackDecider: %s %s", dc.Seat, dc.Phase), err)
	return f.fallback.Decide(ctx, dc)
}

// SeatReview is the post-game self review of one autonomous seat.
type SeatReview struct {
	OverallStrategy string `json:"overall_strategy"`
	BiggestMistake  string `json:"biggest_mistake"`
}

// ReviewInput is what a reviewer sees of a finished session.
type ReviewInput struct {
	Seat     string
	Role     Role
	Result   string
	Survived bool
	Speeches []string
	Memory   []string
}

type Reviewer interface {
	Review(ctx context.Context, in ReviewInput) (SeatReview, error)
}

type offlineReviewer struct{}

func (offlineReviewer) Review(_ context.Context, in ReviewInput) (SeatReview, error) {
	won := (in.Role == RoleWerewolf && in.Result == ResultWerewolvesWin) ||
		(in.Role != RoleWerewolf && in.Result == ResultVillagersWin)

	r := SeatReview{OverallStrategy: "Stay quiet early and follow the vote."}
	switch {
	case in.Role == RoleWerewolf:
		r.OverallStrategy = "Blend in and steer votes away from the pack."
	case in.Role == RoleSeer:
		r.OverallStrategy = "Check unknown seats and share findings late."
	}
	switch {
	case !in.Survived:
		r.BiggestMistake = "Drew attention too early."
	case !won:
		r.BiggestMistake = "Voted too fast."
	default:
		r.BiggestMistake = "None worth noting."
	}
	return r, nil
}

// fallbackReviewer mirrors fallbackDecider for post-game reviews.
type fallbackReviewer struct {
	primary Reviewer
	timeout time.Duration
}

func (f fallbackReviewer) Review(ctx context.Context, in ReviewInput) (SeatReview, error) {
	if f.primary == nil {
		return offlineReviewer{}.Review(ctx, in)
	}
	cctx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	r, err := f.primary.Review(cctx, in)
	if err != nil {
		logError("fallbackReviewer: "+in.Seat, err)
		return offlineReviewer{}.Review(ctx, in)
	}
	return r, nil
}
