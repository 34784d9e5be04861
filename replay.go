package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Replay re-runs a session from its seed and action log without a transport
// or any waiting. The same seed, roster and log yield the same timeline.
func Replay(ctx context.Context, sessionID string, roster *Roster, seed int64, maxRounds int, actions []ResolvedAction) (*Timeline, string, error) {
	cfg := SessionConfig{MaxRounds: maxRounds}
	s := NewSession(sessionID, roster, seed, cfg, SessionDeps{
		Collector: newScriptCollector(actions),
	})
	result, err := s.Run(ctx)
	return s.Timeline(), result, err
}

// ReplayReport compares an archived timeline with its replay.
type ReplayReport struct {
	SessionID     string  `json:"sessionId"`
	Status        string  `json:"status"`
	Verified      bool    `json:"verified"`
	Result        string  `json:"result"`
	Archived      int     `json:"archivedEvents"`
	Replayed      int     `json:"replayedEvents"`
	FirstMismatch int64   `json:"firstMismatch,omitempty"`
	Events        []Event `json:"events,omitempty"`
}

// VerifyArchive replays an archived session and checks that every archived
// event is reproduced in order. A finished session must also end with the
// same result and the same number of events; a cancelled one only has to
// agree on the prefix it reached.
func VerifyArchive(ctx context.Context, arch *ArchivedSession) (ReplayReport, error) {
	row := arch.Session
	roster := NewRosterFromAssignment(arch.Seats, arch.Roles)
	timeline, result, err := Replay(ctx, row.ID, roster, row.Seed, row.MaxRounds, arch.Actions)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("replay %s: %w", row.ID, err)
	}

	replayed := timeline.Events()
	rep := ReplayReport{
		SessionID: row.ID,
		Status:    row.Status,
		Result:    result,
		Archived:  len(arch.Events),
		Replayed:  len(replayed),
		Events:    replayed,
		Verified:  true,
	}
	for i, ev := range arch.Events {
		if i >= len(replayed) {
			rep.Verified = false
			rep.FirstMismatch = ev.Seq
			break
		}
		same, err := sameEvent(ev, replayed[i])
		if err != nil {
			return ReplayReport{}, err
		}
		if !same {
			rep.Verified = false
			rep.FirstMismatch = ev.Seq
			break
		}
	}
	if rep.Verified && row.Status == "finished" {
		rep.Verified = len(replayed) == len(arch.Events) && result == row.Result
	}
	return rep, nil
}

// sameEvent compares two events by their wire form.
func sameEvent(a, b Event) (bool, error) {
	ca, err := canonicalJSON(a)
	if err != nil {
		return false, err
	}
	cb, err := canonicalJSON(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

// canonicalJSON encodes v so that structs and the maps decoded from them
// compare equal: keys sorted, numbers in one representation.
func canonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
