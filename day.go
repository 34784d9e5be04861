package main

import (
	"context"
	"math/rand"
	"sort"
)

// TallyResult is the outcome of a weighted ballot.
type TallyResult struct {
	Winner string         `json:"winner,omitempty"`
	Tie    bool           `json:"tie,omitempty"`
	None   bool           `json:"none,omitempty"`
	Counts map[string]int `json:"counts"`
	Top    []string       `json:"top,omitempty"`
}

// TallyVotes sums weighted ballots per target. Empty targets are abstentions.
// Equal weights at the top produce a tie and no winner.
func TallyVotes(votes map[string]string, weightOf func(voter string) int) TallyResult {
	res := TallyResult{Counts: make(map[string]int)}
	for voter, target := range votes {
		if target == "" {
			continue
		}
		w := 1
		if weightOf != nil {
			w = weightOf(voter)
		}
		res.Counts[target] += w
	}
	if len(res.Counts) == 0 {
		res.None = true
		return res
	}

	targets := make([]string, 0, len(res.Counts))
	for t := range res.Counts {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool {
		if res.Counts[targets[i]] != res.Counts[targets[j]] {
			return res.Counts[targets[i]] > res.Counts[targets[j]]
		}
		return targets[i] < targets[j]
	})

	top := res.Counts[targets[0]]
	for _, t := range targets {
		if res.Counts[t] == top {
			res.Top = append(res.Top, t)
		}
	}
	if len(res.Top) > 1 {
		res.Tie = true
		return res
	}
	res.Winner = targets[0]
	return res
}

// autoVoteTarget picks a uniformly random living target for an absent voter,
// never the voter itself while someone else is alive.
func autoVoteTarget(rng *rand.Rand, alive []string, voter string) string {
	candidates := make([]string, 0, len(alive))
	for _, id := range alive {
		if id != voter {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		candidates = alive
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[rng.Intn(len(candidates))]
}

// runDay announces the night's deaths and lets every living seat speak in
// seat order. It reports whether the session ended.
func (s *Session) runDay(ctx context.Context, deaths []string) (bool, error) {
	s.setPhase(PhaseDay)
	s.lastDeaths = deaths
	s.applyDeaths(deaths, "night")
	if s.checkVictory() != "" {
		return true, nil
	}

	for _, id := range s.roster.AliveIDs() {
		if err := s.speechTurn(ctx, id); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s *Session) speechTurn(ctx context.Context, seat string) error {
	s.pipeline.Publish(EventThinking, Fields{"playerId": seat})
	if err := s.pause(ctx); err != nil {
		return err
	}
	s.pipeline.Publish(EventSpeechStart, Fields{"playerId": seat})

	kinds := []ActionKind{ActionSpeech}
	requests := map[string]ActionRequest{seat: {
		Phase:   PhaseDay,
		Round:   s.round,
		Kinds:   kinds,
		Context: s.decisionContext(seat, PhaseDay, kinds),
	}}

	var rec ResolvedAction
	window, err := s.collect(ctx, PhaseDay, []string{seat}, requests, s.cfg.SpeechWindow, func(sub Submission) {
		rec = ResolvedAction{Round: s.round, Phase: PhaseDay, Seat: seat, Kind: ActionSpeech, Outcome: OutcomeAuto}
		if sub.OK {
			a := sub.Action
			rec.Input = &a
			rec.Outcome = OutcomeRejected
			if err := s.validateSubmission(a, kinds); err == nil {
				rec.Outcome = OutcomeSuccess
				if !a.Skip {
					s.pipeline.Publish(EventSpeech, Fields{"playerId": seat, "text": a.Text})
					return
				}
			}
		}
		s.pipeline.Publish(EventSpeechSkip, Fields{"playerId": seat})
	})
	if err != nil {
		return err
	}
	s.logActions(window, []ResolvedAction{rec})
	return nil
}

// runBallot collects one ballot from every living seat, fills in absent or
// invalid ballots with random targets and returns voter -> target ("" abstains).
func (s *Session) runBallot(ctx context.Context, phase Phase, kind ActionKind, evType EventType) (map[string]string, error) {
	alive := s.roster.AliveIDs()
	kinds := []ActionKind{kind}
	requests := make(map[string]ActionRequest, len(alive))
	for _, id := range alive {
		requests[id] = ActionRequest{
			Phase:   phase,
			Round:   s.round,
			Kinds:   kinds,
			Context: s.decisionContext(id, phase, kinds),
		}
	}

	s.pendingVotes = make(map[string]string)
	var records []ResolvedAction
	window, err := s.collect(ctx, phase, alive, requests, s.cfg.VoteWindow, func(sub Submission) {
		rec := ResolvedAction{Round: s.round, Phase: phase, Seat: sub.Seat, Kind: kind, Outcome: OutcomeAuto}
		if sub.OK {
			a := sub.Action
			rec.Input = &a
			rec.Outcome = OutcomeRejected
			if err := s.validateSubmission(a, kinds); err == nil {
				rec.Outcome = OutcomeSuccess
				rec.Target = a.Target
				s.pendingVotes[sub.Seat] = a.Target
				s.publishBallot(evType, sub.Seat, a.Target, false)
			}
		}
		records = append(records, rec)
	})
	if err != nil {
		return nil, err
	}

	// seat order keeps the rng sequence reproducible
	for _, id := range alive {
		if _, voted := s.pendingVotes[id]; voted {
			continue
		}
		target := autoVoteTarget(s.rng, alive, id)
		s.pendingVotes[id] = target
		s.publishBallot(evType, id, target, true)
		for i := range records {
			if records[i].Seat == id {
				records[i].Target = target
			}
		}
	}
	s.logActions(window, records)
	return s.pendingVotes, nil
}

func (s *Session) publishBallot(evType EventType, from, to string, auto bool) {
	if to == "" {
		to = abstainTarget
	}
	fields := Fields{"from": from, "to": to}
	if auto {
		fields["auto"] = true
	}
	s.pipeline.Publish(evType, fields)
}

// runSheriff elects a sheriff once. Sheriff ballots are unweighted.
func (s *Session) runSheriff(ctx context.Context) error {
	s.setPhase(PhaseSheriff)
	votes, err := s.runBallot(ctx, PhaseSheriff, ActionSheriffVote, EventSheriffVote)
	if err != nil {
		return err
	}
	s.sheriffElected = true

	res := TallyVotes(votes, nil)
	switch {
	case res.None:
		s.pipeline.Publish(EventSheriffNone, nil)
	case res.Tie:
		s.pipeline.Publish(EventSheriffTie, Fields{"candidates": res.Top, "counts": res.Counts})
	default:
		s.sheriff = res.Winner
		s.pipeline.Publish(EventSheriff, Fields{"playerId": res.Winner, "counts": res.Counts})
	}
	return nil
}

// runVote runs the elimination vote; the sheriff's ballot weighs 2.
func (s *Session) runVote(ctx context.Context) error {
	s.setPhase(PhaseVote)
	votes, err := s.runBallot(ctx, PhaseVote, ActionVote, EventVote)
	if err != nil {
		return err
	}

	res := TallyVotes(votes, func(voter string) int {
		if voter == s.sheriff {
			return 2
		}
		return 1
	})
	s.pipeline.Publish(EventVoteEnd, Fields{"counts": res.Counts})
	switch {
	case res.None:
	case res.Tie:
		s.pipeline.Publish(EventVoteTie, Fields{"candidates": res.Top})
	default:
		s.applyDeaths([]string{res.Winner}, "vote")
	}
	return nil
}
