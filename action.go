package main

import (
	"fmt"
	"strings"
)

// ActionKind tags the variant held by an Action.
type ActionKind string

const (
	ActionWerewolfKill ActionKind = "WEREWOLF_KILL"
	ActionSeerCheck    ActionKind = "SEER_CHECK"
	ActionGuardProtect ActionKind = "GUARD_PROTECT"
	ActionWitchSave    ActionKind = "WITCH_SAVE"
	ActionWitchPoison  ActionKind = "WITCH_POISON"
	ActionVote         ActionKind = "VOTE"
	ActionSheriffVote  ActionKind = "SHERIFF_VOTE"
	ActionSpeech       ActionKind = "SPEECH"
)

// targeted reports whether the kind always carries a seat target.
func (k ActionKind) targeted() bool {
	switch k {
	case ActionWerewolfKill, ActionSeerCheck, ActionGuardProtect, ActionWitchPoison:
		return true
	}
	return false
}

// Action is one structured submission from a seat. Build it with the
// constructors below so that its shape always matches its Kind.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Actor   string     `json:"actor"`
	Target  string     `json:"target,omitempty"`
	Text    string     `json:"text,omitempty"`
	Abstain bool       `json:"abstain,omitempty"`
	Skip    bool       `json:"skip,omitempty"`
}

func newTargeted(kind ActionKind, actor, target string) (Action, error) {
	if actor == "" {
		return Action{}, fmt.Errorf("%w: %s without actor", ErrMalformedAction, kind)
	}
	if target == "" {
		return Action{}, fmt.Errorf("%w: %s without target", ErrMalformedAction, kind)
	}
	return Action{Kind: kind, Actor: actor, Target: target}, nil
}

func NewKill(actor, target string) (Action, error) {
	return newTargeted(ActionWerewolfKill, actor, target)
}

func NewCheck(actor, target string) (Action, error) {
	return newTargeted(ActionSeerCheck, actor, target)
}

func NewProtect(actor, target string) (Action, error) {
	return newTargeted(ActionGuardProtect, actor, target)
}

func NewPoison(actor, target string) (Action, error) {
	return newTargeted(ActionWitchPoison, actor, target)
}

func NewSave(actor string) (Action, error) {
	if actor == "" {
		return Action{}, fmt.Errorf("%w: %s without actor", ErrMalformedAction, ActionWitchSave)
	}
	return Action{Kind: ActionWitchSave, Actor: actor}, nil
}

// NewBallot builds a VOTE or SHERIFF_VOTE. An empty target or "ABSTAIN" abstains.
func NewBallot(kind ActionKind, actor, target string) (Action, error) {
	if kind != ActionVote && kind != ActionSheriffVote {
		return Action{}, fmt.Errorf("%w: %s is not a ballot", ErrMalformedAction, kind)
	}
	if actor == "" {
		return Action{}, fmt.Errorf("%w: %s without actor", ErrMalformedAction, kind)
	}
	if target == "" || strings.EqualFold(target, abstainTarget) {
		return Action{Kind: kind, Actor: actor, Abstain: true}, nil
	}
	return Action{Kind: kind, Actor: actor, Target: target}, nil
}

func NewSpeech(actor, text string) (Action, error) {
	text = strings.TrimSpace(text)
	if actor == "" {
		return Action{}, fmt.Errorf("%w: speech without actor", ErrMalformedAction)
	}
	if text == "" {
		return Action{}, fmt.Errorf("%w: empty speech", ErrMalformedAction)
	}
	if runes := []rune(text); len(runes) > maxSpeechLen {
		text = string(runes[:maxSpeechLen])
	}
	return Action{Kind: ActionSpeech, Actor: actor, Text: text}, nil
}

// WithChat attaches a message for the rest of the pack to a werewolf kill.
// Other kinds, and blank text, leave the action unchanged.
func (a Action) WithChat(text string) Action {
	text = strings.TrimSpace(text)
	if a.Kind != ActionWerewolfKill || text == "" {
		return a
	}
	if runes := []rune(text); len(runes) > maxSpeechLen {
		text = string(runes[:maxSpeechLen])
	}
	a.Text = text
	return a
}

func NewSpeechSkip(actor string) Action {
	return Action{Kind: ActionSpeech, Actor: actor, Skip: true}
}

const (
	abstainTarget = "ABSTAIN"
	maxSpeechLen  = 500
)

// nightActionKind maps the NIGHT_ACTION actionType names used on the wire.
func nightActionKind(actionType string) (ActionKind, bool) {
	switch strings.ToUpper(actionType) {
	case "WEREWOLF", "KILL", string(ActionWerewolfKill):
		return ActionWerewolfKill, true
	case "SEER", "CHECK", string(ActionSeerCheck):
		return ActionSeerCheck, true
	case "GUARD", string(ActionGuardProtect):
		return ActionGuardProtect, true
	case "WITCH_SAVE", "SAVE":
		return ActionWitchSave, true
	case "WITCH_POISON", "POISON":
		return ActionWitchPoison, true
	}
	return "", false
}

// nightKindsFor returns the night actions a role may submit.
func nightKindsFor(role Role) []ActionKind {
	switch role {
	case RoleWerewolf:
		return []ActionKind{ActionWerewolfKill}
	case RoleSeer:
		return []ActionKind{ActionSeerCheck}
	case RoleGuard:
		return []ActionKind{ActionGuardProtect}
	case RoleWitch:
		return []ActionKind{ActionWitchSave, ActionWitchPoison}
	}
	return nil
}

// actionRules carries the session facts needed to validate a target.
type actionRules struct {
	roster          *Roster
	lastGuardTarget string
	potions         Potions
}

// validate checks an action against the living seats and role rules.
func (a Action) validate(rules actionRules) error {
	r := rules.roster
	if !r.IsAlive(a.Actor) {
		return fmt.Errorf("%w: %s", ErrSeatDead, a.Actor)
	}
	if a.Kind.targeted() && !r.IsAlive(a.Target) {
		return fmt.Errorf("%w: %s is not a living seat", ErrInvalidTarget, a.Target)
	}

	switch a.Kind {
	case ActionWerewolfKill:
		if r.Role(a.Target) == RoleWerewolf {
			return fmt.Errorf("%w: werewolves cannot target a werewolf", ErrInvalidTarget)
		}
	case ActionSeerCheck, ActionWitchPoison:
		if a.Target == a.Actor {
			return fmt.Errorf("%w: cannot target yourself", ErrInvalidTarget)
		}
		if a.Kind == ActionWitchPoison && !rules.potions.Poison {
			return fmt.Errorf("%w: poison already used", ErrNotEligible)
		}
	case ActionGuardProtect:
		if a.Target == rules.lastGuardTarget && len(r.AliveIDs()) >= 2 {
			return fmt.Errorf("%w: cannot protect the same seat two nights in a row", ErrInvalidTarget)
		}
	case ActionWitchSave:
		if !rules.potions.Save {
			return fmt.Errorf("%w: save potion already used", ErrNotEligible)
		}
	case ActionVote, ActionSheriffVote:
		if !a.Abstain && !r.IsAlive(a.Target) {
			return fmt.Errorf("%w: %s is not a living seat", ErrInvalidTarget, a.Target)
		}
	case ActionSpeech:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedAction, a.Kind)
	}
	return nil
}

// Outcome tags what became of a resolved action.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeBlockedByGuard Outcome = "blocked_by_guard"
	OutcomeSavedByWitch   Outcome = "saved_by_witch"
	OutcomeRejected       Outcome = "rejected"
	OutcomeOverruled      Outcome = "overruled"
	OutcomeNoEffect       Outcome = "no_effect"
	OutcomeAuto           Outcome = "auto"
)

// ResolvedAction is one entry of the session action log, in the order the
// window finalized it. Input is the raw submission as collected (nil when the
// seat was absent); replay consumes it.
type ResolvedAction struct {
	Window  int        `json:"window"`
	Round   int        `json:"round"`
	Phase   Phase      `json:"phase"`
	Seat    string     `json:"seat"`
	Kind    ActionKind `json:"kind"`
	Input   *Action    `json:"input,omitempty"`
	Target  string     `json:"target,omitempty"`
	Outcome Outcome    `json:"outcome"`
}
