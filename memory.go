package main

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
)

const maxMemoryEvents = 50

// SuspicionTable tracks a score per seat: 0 is neutral, positive is
// suspicious, negative is trusted.
type SuspicionTable map[string]float64

func (t SuspicionTable) add(seatID string, delta float64) {
	t[seatID] += delta
}

// top returns up to k seat ids by descending score, seat id breaking ties.
func (t SuspicionTable) top(k int) []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if t[ids[i]] != t[ids[j]] {
			return t[ids[i]] > t[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > k {
		ids = ids[:k]
	}
	return ids
}

// SuspicionScorer adjusts an agent's suspicion table from what it observes.
type SuspicionScorer interface {
	OnSpeech(m *Memory, speaker, text string)
	OnVote(m *Memory, voter, target string)
}

// Memory is what an autonomous seat remembers of the session.
// Observe runs on the session goroutine while Submit may read it from a
// collector goroutine, hence the mutex.
type Memory struct {
	self   string
	scorer SuspicionScorer

	mu        sync.Mutex
	events    []string
	speeches  []string
	suspicion SuspicionTable
	confirmed map[string]Role
	teammates map[string]bool
	lastVote  string
}

func NewMemory(self string, scorer SuspicionScorer) *Memory {
	return &Memory{
		self:      self,
		scorer:    scorer,
		suspicion: make(SuspicionTable),
		confirmed: make(map[string]Role),
		teammates: make(map[string]bool),
	}
}

// Record folds one observed event into memory.
func (m *Memory) Record(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addEvent(describeEvent(ev))

	switch ev.Type {
	case EventRole:
		for _, id := range stringsField(ev.Fields, "teammates") {
			m.teammates[id] = true
			m.confirmed[id] = RoleWerewolf
		}
	case EventSpeech:
		speaker, _ := ev.Fields["playerId"].(string)
		text, _ := ev.Fields["text"].(string)
		m.speeches = append(m.speeches, fmt.Sprintf("%s: %s", speaker, text))
		if m.scorer != nil && speaker != m.self {
			m.scorer.OnSpeech(m, speaker, text)
		}
	case EventVote, EventSheriffVote:
		voter, _ := ev.Fields["from"].(string)
		target, _ := ev.Fields["to"].(string)
		if voter == m.self || target == abstainTarget {
			return
		}
		if m.scorer != nil {
			m.scorer.OnVote(m, voter, target)
		}
	case EventSeerResult:
		target, _ := ev.Fields["target"].(string)
		role, _ := ev.Fields["role"].(Role)
		m.confirmed[target] = role
		if role == RoleWerewolf {
			m.suspicion[target] = 5.0
		} else {
			m.suspicion[target] = -3.0
		}
	case EventDeath:
		dead, _ := ev.Fields["playerId"].(string)
		// losing someone trusted raises suspicion of those already doubted
		if m.suspicion[dead] < -0.5 {
			for id, score := range m.suspicion {
				if score > 0.5 {
					m.suspicion.add(id, 0.2)
				}
			}
		}
	}
}

func (m *Memory) addEvent(line string) {
	if line == "" {
		return
	}
	m.events = append(m.events, line)
	if len(m.events) > maxMemoryEvents {
		m.events = m.events[len(m.events)-maxMemoryEvents:]
	}
}

// NoteOwnVote remembers the seat's last ballot for trust scoring.
func (m *Memory) NoteOwnVote(target string) {
	m.mu.Lock()
	m.lastVote = target
	m.mu.Unlock()
}

// Recent returns the last k remembered event lines.
func (m *Memory) Recent(k int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := max(0, len(m.events)-k)
	return append([]string(nil), m.events[start:]...)
}

func (m *Memory) Speeches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.speeches...)
}

func (m *Memory) TopSuspects(k int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, id := range m.suspicion.top(len(m.suspicion)) {
		if id == m.self || m.teammates[id] {
			continue
		}
		ids = append(ids, id)
		if len(ids) == k {
			break
		}
	}
	return ids
}

// Scores returns a copy of the whole suspicion table.
func (m *Memory) Scores() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.suspicion)
}

func (m *Memory) Suspicion(seatID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspicion[seatID]
}

func (m *Memory) Confirmed() map[string]Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Role, len(m.confirmed))
	for id, role := range m.confirmed {
		out[id] = role
	}
	return out
}

// describeEvent renders an event as one memory line.
func describeEvent(ev Event) string {
	f := ev.Fields
	switch ev.Type {
	case EventPhase:
		return fmt.Sprintf("phase %v round %v", f["phase"], f["round"])
	case EventSpeech:
		return fmt.Sprintf("%v said: %v", f["playerId"], f["text"])
	case EventSpeechSkip:
		return fmt.Sprintf("%v stayed silent", f["playerId"])
	case EventVote:
		return fmt.Sprintf("%v voted %v", f["from"], f["to"])
	case EventSheriffVote:
		return fmt.Sprintf("%v voted %v for sheriff", f["from"], f["to"])
	case EventDeath:
		return fmt.Sprintf("%v died", f["playerId"])
	case EventSheriff:
		return fmt.Sprintf("%v became sheriff", f["playerId"])
	case EventVoteTie, EventSheriffTie:
		return "the vote was tied"
	case EventSeerResult:
		return fmt.Sprintf("checked %v: %v", f["target"], f["role"])
	case EventWolfChat:
		return fmt.Sprintf("%v told the pack: %v", f["playerId"], f["text"])
	case EventRole:
		return fmt.Sprintf("my role is %v", f["role"])
	}
	return ""
}

// stringsField reads a []string field, tolerating the JSON-decoded shape.
func stringsField(f Fields, key string) []string {
	switch v := f[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// scorerFor picks the suspicion model for a role.
func scorerFor(role Role) SuspicionScorer {
	switch role {
	case RoleWerewolf:
		return werewolfScorer{}
	case RoleSeer:
		return seerScorer{}
	}
	return villagerScorer{}
}

type villagerScorer struct{}

func (villagerScorer) OnSpeech(m *Memory, speaker, text string) {
	lower := strings.ToLower(text)
	for _, vague := range []string{"don't know", "whatever", "depends"} {
		if strings.Contains(lower, vague) {
			m.suspicion.add(speaker, 0.3)
			break
		}
	}
	if strings.Contains(lower, "definitely a wolf") {
		m.suspicion.add(speaker, 0.2)
	}
	if strings.Contains(lower, "i think") && strings.Contains(lower, "logic") {
		m.suspicion.add(speaker, -0.1)
	}
}

func (villagerScorer) OnVote(m *Memory, voter, target string) {
	if m.lastVote != "" && target == m.lastVote {
		m.suspicion.add(voter, -0.2)
		return
	}
	if m.suspicion[target] > 0.5 {
		m.suspicion.add(voter, -0.2)
	}
}

type seerScorer struct{}

func (seerScorer) OnSpeech(m *Memory, speaker, text string) {
	if m.confirmed[speaker] == RoleWerewolf && strings.Contains(strings.ToLower(text), "good guy") {
		m.suspicion.add(speaker, 1.0)
	}
}

func (seerScorer) OnVote(m *Memory, voter, target string) {
	for id, role := range m.confirmed {
		if role == RoleWerewolf && target != id {
			m.suspicion.add(voter, 0.5)
		}
	}
}

type werewolfScorer struct{}

func (werewolfScorer) OnSpeech(m *Memory, speaker, text string) {
	if strings.Contains(text, m.self) {
		m.suspicion.add(speaker, 0.5)
	}
}

func (werewolfScorer) OnVote(m *Memory, voter, target string) {
	if target == m.self || m.teammates[target] {
		m.suspicion.add(voter, 0.4)
	}
}
