package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// NightSubmission is one seat's collected night input. Input is nil when the
// seat was absent; Err is set when the input failed validation, in which case
// the seat is treated as absent.
type NightSubmission struct {
	Seat  string
	Input *Action
	Err   error
}

func (ns NightSubmission) valid(kind ActionKind) (Action, bool) {
	if ns.Input == nil || ns.Err != nil || ns.Input.Kind != kind {
		return Action{}, false
	}
	return *ns.Input, true
}

// NightInput is everything the night resolution needs. Submissions are in
// finalization order.
type NightInput struct {
	Round           int
	Roster          *Roster
	Submissions     []NightSubmission
	Potions         Potions
	LastGuardTarget string
}

type SeerReveal struct {
	Seer   string
	Target string
	Role   Role
}

type NightResult struct {
	WolfTarget  string
	GuardTarget string
	Saved       bool
	Poisoned    string
	Deaths      []string
	Reveal      *SeerReveal
	Potions     Potions
	Records     []ResolvedAction
}

type proposal struct {
	seat   string
	target string
}

// consensusTarget returns the most proposed target. Among equally proposed
// targets the one proposed first wins.
func consensusTarget(proposals []proposal) string {
	counts := make(map[string]int)
	first := make(map[string]int)
	for i, p := range proposals {
		if _, ok := first[p.target]; !ok {
			first[p.target] = i
		}
		counts[p.target]++
	}
	best := ""
	for target, n := range counts {
		switch {
		case best == "":
			best = target
		case n > counts[best]:
			best = target
		case n == counts[best] && first[target] < first[best]:
			best = target
		}
	}
	return best
}

// defaultWolfTarget is the first living non-werewolf seat.
func defaultWolfTarget(r *Roster) string {
	for _, id := range r.AliveIDs() {
		if r.Role(id) != RoleWerewolf {
			return id
		}
	}
	return ""
}

// defaultSeerTarget is the first living seat that is not a seer.
func defaultSeerTarget(r *Roster) string {
	for _, id := range r.AliveIDs() {
		if r.Role(id) != RoleSeer {
			return id
		}
	}
	return ""
}

// defaultGuardTarget is the last living seat, or the first one when the last
// was protected the night before and more than one seat is alive.
func defaultGuardTarget(r *Roster, last string) string {
	alive := r.AliveIDs()
	if len(alive) == 0 {
		return ""
	}
	target := alive[len(alive)-1]
	if target == last && len(alive) > 1 {
		target = alive[0]
	}
	return target
}

// ResolveNight combines one night's submissions into deaths and reveals.
// It does not mutate the roster.
func ResolveNight(in NightInput) NightResult {
	r := in.Roster
	res := NightResult{Potions: in.Potions}

	// 1. werewolf consensus
	var proposals []proposal
	for _, sub := range in.Submissions {
		if r.Role(sub.Seat) != RoleWerewolf {
			continue
		}
		if a, ok := sub.valid(ActionWerewolfKill); ok {
			proposals = append(proposals, proposal{seat: sub.Seat, target: a.Target})
		}
	}
	res.WolfTarget = consensusTarget(proposals)
	if res.WolfTarget == "" {
		res.WolfTarget = defaultWolfTarget(r)
	}

	// 2. guard
	guards := r.AliveWithRole(RoleGuard)
	if len(guards) > 0 {
		for _, sub := range in.Submissions {
			a, ok := sub.valid(ActionGuardProtect)
			if !ok || sub.Seat != guards[0] {
				continue
			}
			if a.Target == in.LastGuardTarget && len(r.AliveIDs()) > 1 {
				continue
			}
			res.GuardTarget = a.Target
		}
		if res.GuardTarget == "" {
			res.GuardTarget = defaultGuardTarget(r, in.LastGuardTarget)
		}
	}

	// 3. guard block
	blocked := res.WolfTarget != "" && res.WolfTarget == res.GuardTarget
	wouldDie := res.WolfTarget
	if blocked {
		wouldDie = ""
	}

	// 4, 5. witch
	witches := r.AliveWithRole(RoleWitch)
	witch := ""
	if len(witches) > 0 {
		witch = witches[0]
	}
	saveHonored := map[string]bool{}
	for _, sub := range in.Submissions {
		if sub.Seat != witch {
			continue
		}
		if _, ok := sub.valid(ActionWitchSave); ok && res.Potions.Save && wouldDie != "" {
			res.Potions.Save = false
			res.Saved = true
			saveHonored[sub.Seat] = true
			wouldDie = ""
		}
		if a, ok := sub.valid(ActionWitchPoison); ok && res.Potions.Poison && r.IsAlive(a.Target) && a.Target != witch {
			res.Potions.Poison = false
			res.Poisoned = a.Target
		}
	}

	// 6. seer
	if seers := r.AliveWithRole(RoleSeer); len(seers) > 0 {
		target := ""
		for _, sub := range in.Submissions {
			if a, ok := sub.valid(ActionSeerCheck); ok && sub.Seat == seers[0] {
				target = a.Target
			}
		}
		if target == "" {
			target = defaultSeerTarget(r)
		}
		if target != "" {
			res.Reveal = &SeerReveal{Seer: seers[0], Target: target, Role: r.Role(target)}
		}
	}

	// 7. deaths, deduplicated in order
	for _, id := range []string{wouldDie, res.Poisoned} {
		if id != "" && !slices.Contains(res.Deaths, id) {
			res.Deaths = append(res.Deaths, id)
		}
	}

	killOutcome := OutcomeSuccess
	switch {
	case blocked:
		killOutcome = OutcomeBlockedByGuard
	case res.Saved:
		killOutcome = OutcomeSavedByWitch
	}

	for _, sub := range in.Submissions {
		rec := ResolvedAction{Round: in.Round, Phase: PhaseNight, Seat: sub.Seat, Input: sub.Input}
		role := r.Role(sub.Seat)
		switch role {
		case RoleWerewolf:
			rec.Kind = ActionWerewolfKill
			rec.Target = res.WolfTarget
			if a, ok := sub.valid(ActionWerewolfKill); ok && a.Target != res.WolfTarget {
				rec.Target = a.Target
			}
			rec.Outcome = inputOutcome(sub, func() Outcome {
				if rec.Target != res.WolfTarget {
					return OutcomeOverruled
				}
				return killOutcome
			})
		case RoleSeer:
			rec.Kind = ActionSeerCheck
			if res.Reveal != nil {
				rec.Target = res.Reveal.Target
			}
			rec.Outcome = inputOutcome(sub, func() Outcome { return OutcomeSuccess })
		case RoleGuard:
			rec.Kind = ActionGuardProtect
			rec.Target = res.GuardTarget
			rec.Outcome = inputOutcome(sub, func() Outcome {
				if sub.Input.Target != res.GuardTarget {
					return OutcomeRejected
				}
				return OutcomeSuccess
			})
		case RoleWitch:
			rec.Kind = ActionWitchSave
			if sub.Input != nil {
				rec.Kind = sub.Input.Kind
			}
			switch rec.Kind {
			case ActionWitchSave:
				rec.Target = res.WolfTarget
				rec.Outcome = inputOutcome(sub, func() Outcome {
					if saveHonored[sub.Seat] {
						return OutcomeSuccess
					}
					// nobody to save, or the potion is already spent
					return OutcomeRejected
				})
			default:
				rec.Target = sub.Input.Target
				rec.Outcome = inputOutcome(sub, func() Outcome {
					if res.Poisoned == sub.Input.Target {
						return OutcomeSuccess
					}
					return OutcomeNoEffect
				})
			}
			if sub.Input == nil {
				rec.Target = ""
				rec.Outcome = OutcomeNoEffect
			}
		default:
			rec.Outcome = OutcomeNoEffect
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

// inputOutcome tags absent and rejected inputs, deferring to accepted for
// everything else.
func inputOutcome(sub NightSubmission, accepted func() Outcome) Outcome {
	switch {
	case sub.Input == nil:
		return OutcomeAuto
	case sub.Err != nil:
		return OutcomeRejected
	}
	return accepted()
}

// nightEligible returns the living seats that act at night with their kinds.
func (s *Session) nightEligible() ([]string, map[string][]ActionKind) {
	var seats []string
	kinds := make(map[string][]ActionKind)
	for _, id := range s.roster.AliveIDs() {
		role := s.roster.Role(id)
		ks := nightKindsFor(role)
		if role == RoleWitch {
			ks = nil
			if s.potions.Save {
				ks = append(ks, ActionWitchSave)
			}
			if s.potions.Poison {
				ks = append(ks, ActionWitchPoison)
			}
		}
		if len(ks) == 0 {
			continue
		}
		seats = append(seats, id)
		kinds[id] = ks
	}
	return seats, kinds
}

// nightSkill names the client-side skill panel for a seat's night kinds.
// A witch holding the save potion is offered SAVE first.
func nightSkill(kinds []ActionKind) string {
	if len(kinds) == 0 {
		return ""
	}
	switch kinds[0] {
	case ActionSeerCheck:
		return "CHECK"
	case ActionGuardProtect:
		return "GUARD"
	case ActionWitchSave:
		return "SAVE"
	case ActionWitchPoison:
		return "POISON"
	}
	return "WEREWOLF"
}

// runNight collects the night actions, resolves them and returns the deaths
// to be announced at daybreak.
func (s *Session) runNight(ctx context.Context) ([]string, error) {
	s.setPhase(PhaseNight)
	s.pendingNight = make(map[string]Action)

	seats, kinds := s.nightEligible()
	alive := s.roster.AliveIDs()
	requests := make(map[string]ActionRequest, len(seats))
	for _, id := range seats {
		s.pipeline.Private(id, EventNightSkill, Fields{
			"playerId": id,
			"role":     s.roster.Role(id),
			"skill":    nightSkill(kinds[id]),
			"actions":  kinds[id],
			"targets":  alive,
			"hint":     "Choose a target privately.",
		})
		requests[id] = ActionRequest{
			Phase:   PhaseNight,
			Round:   s.round,
			Kinds:   kinds[id],
			Context: s.decisionContext(id, PhaseNight, kinds[id]),
		}
	}

	var subs []NightSubmission
	window, err := s.collect(ctx, PhaseNight, seats, requests, s.cfg.NightWindow, func(sub Submission) {
		ns := NightSubmission{Seat: sub.Seat}
		if sub.OK {
			a := sub.Action
			ns.Input = &a
			ns.Err = s.validateSubmission(a, requests[sub.Seat].Kinds)
			s.ackNightAction(a, ns.Err)
			if ns.Err == nil {
				s.pendingNight[sub.Seat] = a
				s.wolfChat(a)
			}
		}
		subs = append(subs, ns)
	})
	if err != nil {
		return nil, err
	}

	res := ResolveNight(NightInput{
		Round:           s.round,
		Roster:          s.roster,
		Submissions:     subs,
		Potions:         s.potions,
		LastGuardTarget: s.lastGuardTarget,
	})
	s.potions = res.Potions
	s.lastGuardTarget = res.GuardTarget
	s.logActions(window, res.Records)

	if res.Reveal != nil {
		s.pipeline.Private(res.Reveal.Seer, EventSeerResult, Fields{
			"playerId": res.Reveal.Seer,
			"target":   res.Reveal.Target,
			"role":     res.Reveal.Role,
		})
	}
	DebugLog("runNight", "session %s round %d: wolf=%s guard=%s saved=%v poisoned=%s deaths=%v",
		s.id, s.round, res.WolfTarget, res.GuardTarget, res.Saved, res.Poisoned, res.Deaths)
	return res.Deaths, nil
}

// ackNightAction privately acknowledges a night submission to its seat.
func (s *Session) ackNightAction(a Action, err error) {
	fields := Fields{
		"playerId":   a.Actor,
		"actionType": a.Kind,
		"target":     a.Target,
		"status":     "ok",
		"ok":         err == nil,
	}
	if err != nil {
		fields["status"] = "rejected"
		fields["reason"] = err.Error()
		fields["message"] = err.Error()
	}
	s.pipeline.Private(a.Actor, EventNightActionAck, fields)
}

// wolfChat passes a werewolf's night message to its living teammates.
func (s *Session) wolfChat(a Action) {
	if a.Kind != ActionWerewolfKill || a.Text == "" {
		return
	}
	for _, mate := range s.roster.Teammates(a.Actor) {
		if !s.roster.IsAlive(mate) {
			continue
		}
		s.pipeline.Private(mate, EventWolfChat, Fields{
			"playerId": a.Actor,
			"text":     a.Text,
			"target":   a.Target,
		})
	}
}

// validateSubmission checks that a collected action is one the window asked
// for and that it is legal in the current state.
func (s *Session) validateSubmission(a Action, allowed []ActionKind) error {
	if !slices.Contains(allowed, a.Kind) {
		return fmt.Errorf("%w: %s", ErrNotEligible, a.Kind)
	}
	err := a.validate(actionRules{
		roster:          s.roster,
		lastGuardTarget: s.lastGuardTarget,
		potions:         s.potions,
	})
	if err != nil && !errors.Is(err, ErrSeatDead) {
		DebugLog("validateSubmission", "session %s: %s from %s rejected: %v", s.id, a.Kind, a.Actor, err)
	}
	return err
}
