package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lobby owns the single active session of the server: it configures it from
// a CONFIG message, binds connections to seats and routes their actions.
type Lobby struct {
	hub      *Hub
	store    *Store
	cfg      AppConfig
	decider  Decider
	reviewer Reviewer

	mu     sync.Mutex
	active *liveSession
	wg     sync.WaitGroup
}

// liveSession is a running session and the seat a human plays, if any.
type liveSession struct {
	session *Session
	cancel  context.CancelFunc
	human   *LiveParticipant // nil in observer mode
	viewer  bool
	done    chan struct{}
}

func newLobby(hub *Hub, store *Store, cfg AppConfig, decider Decider, reviewer Reviewer) *Lobby {
	l := &Lobby{hub: hub, store: store, cfg: cfg, decider: decider, reviewer: reviewer}
	hub.lobby = l
	return l
}

// current returns the running session, or nil.
func (l *Lobby) current() *liveSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// clientJoined greets a new connection. During a session it is bound to the
// human seat, or made a viewer when the session has none.
func (l *Lobby) clientJoined(c *Client) {
	ls := l.current()
	if ls == nil {
		c.sendJSON(Event{Type: EventInit, Fields: Fields{"players": []Seat{}, "selfId": "", "viewerMode": false}})
		return
	}
	l.attach(c, ls, true)
}

// attach binds c to the session's human seat (or as viewer) and sends INIT.
// Viewers also get every role. A late joiner to a seat gets its ROLE again,
// since the session announced it before the connection existed.
func (l *Lobby) attach(c *Client, ls *liveSession, late bool) {
	roster := ls.session.Roster()
	seatID := ""
	if ls.human != nil {
		seatID = ls.human.SeatID()
	}
	l.hub.bind(c, seatID, ls.viewer)

	c.sendJSON(Event{Type: EventInit, Fields: Fields{
		"players":    roster.Seats(),
		"selfId":     seatID,
		"viewerMode": ls.viewer,
	}})
	if ls.viewer {
		c.sendJSON(Event{Type: EventRoleMap, Fields: Fields{"roles": roster.Roles()}})
		return
	}
	if !late {
		return
	}
	fields := Fields{"playerId": seatID, "role": roster.Role(seatID)}
	if mates := roster.Teammates(seatID); len(mates) > 0 {
		fields["teammates"] = mates
	}
	c.sendJSON(Event{Type: EventRole, Fields: fields})
}

// clientLeft cancels the running session once nobody is connected.
func (l *Lobby) clientLeft(c *Client, remaining int) {
	if remaining > 0 {
		return
	}
	if ls := l.current(); ls != nil {
		log.Printf("Session %s: last connection left, cancelling", ls.session.ID())
		ls.cancel()
	}
}

func (l *Lobby) handleMessage(c *Client, data []byte) {
	msg, err := parseWSMessage(data)
	if err != nil {
		sendErrorToast(c, err)
		return
	}
	if msg.Type == msgConfig {
		if err := l.configure(c, msg); err != nil {
			sendErrorToast(c, err)
		}
		return
	}
	if err := l.deliver(c, msg); err != nil {
		sendErrorToast(c, err)
	}
}

// configure validates a CONFIG and starts a session. On error nothing changes.
func (l *Lobby) configure(c *Client, msg WSMessage) error {
	n := msg.PlayerCount
	if n == 0 {
		n = l.cfg.DefaultPlayers
	}
	if n < MinPlayers || n > MaxPlayers {
		return fmt.Errorf("%w: got %d", ErrInvalidPlayerCount, n)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return errSessionRunning
	}

	seed := l.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	roster, err := BuildRoster(seatNames(n, msg.ObserverMode), rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}

	ls := &liveSession{viewer: msg.ObserverMode, done: make(chan struct{})}
	participants := make(map[string]Participant, n)
	for _, seat := range roster.Seats() {
		if !ls.viewer && ls.human == nil {
			ls.human = NewLiveParticipant(seat.ID)
			participants[seat.ID] = ls.human
			continue
		}
		participants[seat.ID] = NewAutonomousAgent(seat.ID, roster.Role(seat.ID), l.decider)
	}

	id := uuid.NewString()
	sc := l.cfg.sessionConfig()
	deps := SessionDeps{Participants: participants, Sink: l.hub, Reviewer: l.reviewer}
	if l.store != nil {
		if err := l.store.CreateSession(id, seed, sc.MaxRounds, roster); err != nil {
			logError("Lobby.configure: CreateSession", err)
		} else {
			deps.Recorder = l.store
		}
	}
	ls.session = NewSession(id, roster, seed, sc, deps)

	ctx, cancel := context.WithCancel(context.Background())
	ls.cancel = cancel
	l.active = ls

	// every connection joins the new session before its first event
	for _, other := range l.hub.connected() {
		l.attach(other, ls, false)
	}
	log.Printf("Session %s configured: %d seats, observer=%v", id, n, ls.viewer)

	l.wg.Add(1)
	go l.run(ctx, ls)
	return nil
}

func (l *Lobby) run(ctx context.Context, ls *liveSession) {
	defer l.wg.Done()
	defer close(ls.done)
	defer ls.cancel()

	result, err := ls.session.Run(ctx)
	status := "finished"
	if err != nil {
		status = "cancelled"
		if !errors.Is(err, ErrSessionCancelled) {
			logError("Lobby.run", err)
		}
	}
	if l.store != nil {
		if err := l.store.FinishSession(ls.session.ID(), status, result, ls.session.ActionLog()); err != nil {
			logError("Lobby.run: FinishSession", err)
		}
	}

	l.mu.Lock()
	if l.active == ls {
		l.active = nil
	}
	l.mu.Unlock()
}

// deliver routes a game message from c to its seat's open window.
func (l *Lobby) deliver(c *Client, msg WSMessage) error {
	ls := l.current()
	if ls == nil {
		return errNoSession
	}
	seatID, _ := c.binding()
	if seatID == "" || ls.human == nil || seatID != ls.human.SeatID() {
		return errViewerAction
	}
	a, err := msg.toAction(seatID)
	if err != nil {
		return err
	}
	return ls.human.Deliver(a)
}

// shutdown cancels the running session and waits for it to stop.
func (l *Lobby) shutdown() {
	if ls := l.current(); ls != nil {
		ls.cancel()
	}
	l.wg.Wait()
}

// seatNames names P1 "You" unless every seat is an agent.
func seatNames(n int, observer bool) []string {
	names := make([]string, n)
	agent := 1
	for i := range names {
		if i == 0 && !observer {
			names[i] = "You"
			continue
		}
		names[i] = fmt.Sprintf("AI-%d", agent)
		agent++
	}
	return names
}
