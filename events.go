package main

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
)

// EventType is the "type" field of every outbound message.
type EventType string

const (
	EventInit           EventType = "INIT"
	EventRole           EventType = "ROLE"
	EventRoleMap        EventType = "ROLE_MAP"
	EventPhase          EventType = "PHASE"
	EventNightSkill     EventType = "NIGHT_SKILL"
	EventNightActionAck EventType = "NIGHT_ACTION_ACK"
	EventSeerResult     EventType = "SEER_RESULT"
	EventWolfChat       EventType = "WOLF_CHAT"
	EventThinking       EventType = "THINKING"
	EventSpeechStart    EventType = "SPEECH_START"
	EventSpeech         EventType = "SPEECH"
	EventSpeechSkip     EventType = "SPEECH_SKIP"
	EventDeath          EventType = "DEATH"
	EventSheriffVote    EventType = "SHERIFF_VOTE"
	EventSheriff        EventType = "SHERIFF"
	EventSheriffTie     EventType = "SHERIFF_TIE"
	EventSheriffNone    EventType = "SHERIFF_NONE"
	EventVote           EventType = "VOTE"
	EventVoteEnd        EventType = "VOTE_END"
	EventVoteTie        EventType = "VOTE_TIE"
	EventGameOver       EventType = "GAME_OVER"
	EventReplayData     EventType = "REPLAY_DATA"
	EventReview         EventType = "REVIEW"
	EventError          EventType = "ERROR"
)

// Fields holds the type-specific payload of an event.
type Fields map[string]any

// Event is an immutable record of something that happened in a session.
// Recipient is empty for public events and holds a seat id for private ones.
type Event struct {
	Seq       int64
	Type      EventType
	Recipient string
	Fields    Fields
}

func (e Event) IsPublic() bool { return e.Recipient == "" }

// canSee reports whether the holder of seatID may observe e.
func (e Event) canSee(seatID string) bool {
	return e.IsPublic() || e.Recipient == seatID
}

// MarshalJSON flattens the event into {"type":..., "seq":..., ...fields}.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+3)
	maps.Copy(m, e.Fields)
	m["type"] = e.Type
	if e.Seq > 0 {
		m["seq"] = e.Seq
	}
	if e.Recipient != "" {
		m["to"] = e.Recipient
	}
	return json.Marshal(m)
}

// Timeline is the append-only ordered event log of one session.
type Timeline struct {
	mu     sync.RWMutex
	events []Event
	next   int64
}

func NewTimeline() *Timeline {
	return &Timeline{next: 1}
}

// Append stamps ev with the next sequence number and stores it.
func (t *Timeline) Append(ev Event) Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	ev.Seq = t.next
	t.next++
	ev.Fields = maps.Clone(ev.Fields)
	t.events = append(t.events, ev)
	return ev
}

// Events returns a copy of the whole timeline.
func (t *Timeline) Events() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Event(nil), t.events...)
}

// Public returns the public events only.
func (t *Timeline) Public() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Event
	for _, ev := range t.events {
		if ev.IsPublic() {
			out = append(out, ev)
		}
	}
	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// EventSink is the transport side of the pipeline.
type EventSink interface {
	Broadcast(ev Event)
	SendTo(seatID string, ev Event)
}

// EventRecorder archives timeline events as they are appended.
type EventRecorder interface {
	RecordEvent(sessionID string, ev Event) error
}

// Observer receives every event its seat is allowed to see.
type Observer interface {
	Observe(ev Event)
}

// Pipeline stamps, records and fans out the events of one session.
// It is used only from the session goroutine.
type Pipeline struct {
	ctx       context.Context
	sessionID string
	timeline  *Timeline
	sink      EventSink
	recorder  EventRecorder
	observers map[string]Observer
	order     []string
}

func NewPipeline(ctx context.Context, sessionID string, sink EventSink, recorder EventRecorder) *Pipeline {
	return &Pipeline{
		ctx:       ctx,
		sessionID: sessionID,
		timeline:  NewTimeline(),
		sink:      sink,
		recorder:  recorder,
		observers: make(map[string]Observer),
	}
}

// Attach registers the observer fed with the events seatID can see.
func (p *Pipeline) Attach(seatID string, o Observer) {
	if _, ok := p.observers[seatID]; !ok {
		p.order = append(p.order, seatID)
	}
	p.observers[seatID] = o
}

func (p *Pipeline) Timeline() *Timeline { return p.timeline }

// Publish emits a public event. It returns false once the session is cancelled.
func (p *Pipeline) Publish(typ EventType, fields Fields) bool {
	return p.emit(Event{Type: typ, Fields: fields})
}

// Private emits an event visible only to seatID.
func (p *Pipeline) Private(seatID string, typ EventType, fields Fields) bool {
	return p.emit(Event{Type: typ, Recipient: seatID, Fields: fields})
}

func (p *Pipeline) emit(ev Event) bool {
	if p.ctx.Err() != nil {
		return false
	}
	ev = p.timeline.Append(ev)
	LogEvent(p.sessionID, ev)

	if p.recorder != nil {
		if err := p.recorder.RecordEvent(p.sessionID, ev); err != nil {
			logError("Pipeline.emit: RecordEvent", err)
		}
	}
	if p.sink != nil {
		if ev.IsPublic() {
			p.sink.Broadcast(ev)
		} else {
			p.sink.SendTo(ev.Recipient, ev)
		}
	}
	for _, seatID := range p.order {
		if ev.canSee(seatID) {
			p.observers[seatID].Observe(ev)
		}
	}
	return true
}

// Announce sends a terminal summary to every connection without appending
// it to the timeline.
func (p *Pipeline) Announce(typ EventType, fields Fields) bool {
	if p.ctx.Err() != nil {
		return false
	}
	ev := Event{Type: typ, Fields: fields}
	LogEvent(p.sessionID, ev)
	if p.sink != nil {
		p.sink.Broadcast(ev)
	}
	return true
}
