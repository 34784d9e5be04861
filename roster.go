package main

import (
	"fmt"
	"maps"
	"math/rand"
	"sync"
)

// Role is a seat's secret role for the whole session.
type Role string

const (
	RoleWerewolf Role = "WEREWOLF"
	RoleSeer     Role = "SEER"
	RoleWitch    Role = "WITCH"
	RoleGuard    Role = "GUARD"
	RoleVillager Role = "VILLAGER"
)

const (
	MinPlayers = 5
	MaxPlayers = 12
)

// Seat is a stable slot in the session. Dead seats are kept with Alive=false.
type Seat struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Alive bool   `json:"alive"`
}

// Roster holds the seats in seat order and the role of each seat. Roles never
// change; liveness is written by the session and read by connection handlers.
type Roster struct {
	mu    sync.RWMutex
	seats []*Seat
	roles map[string]Role
}

// werewolfCount returns max(2, n/3).
func werewolfCount(n int) int {
	return max(2, n/3)
}

// roleDeck returns the unshuffled roles for n seats.
func roleDeck(n int) []Role {
	deck := make([]Role, 0, n)
	for i := 0; i < werewolfCount(n) && len(deck) < n; i++ {
		deck = append(deck, RoleWerewolf)
	}
	for _, special := range []Role{RoleSeer, RoleWitch, RoleGuard} {
		if len(deck) < n {
			deck = append(deck, special)
		}
	}
	for len(deck) < n {
		deck = append(deck, RoleVillager)
	}
	return deck
}

// BuildRoster creates seats P1..PN named after names and deals roles with rng.
func BuildRoster(names []string, rng *rand.Rand) (*Roster, error) {
	n := len(names)
	if n < MinPlayers || n > MaxPlayers {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPlayerCount, n)
	}

	deck := roleDeck(n)
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	r := &Roster{roles: make(map[string]Role, n)}
	for i, name := range names {
		id := fmt.Sprintf("P%d", i+1)
		r.seats = append(r.seats, &Seat{ID: id, Name: name, Alive: true})
		r.roles[id] = deck[i]
	}
	return r, nil
}

// NewRosterFromAssignment rebuilds a roster from a known assignment, all seats alive.
func NewRosterFromAssignment(seats []Seat, roles map[string]Role) *Roster {
	r := &Roster{roles: make(map[string]Role, len(roles))}
	for _, s := range seats {
		r.seats = append(r.seats, &Seat{ID: s.ID, Name: s.Name, Alive: true})
		r.roles[s.ID] = roles[s.ID]
	}
	return r
}

func (r *Roster) Size() int { return len(r.seats) }

func (r *Roster) Role(id string) Role { return r.roles[id] }

// Roles returns a copy of the role assignment.
func (r *Roster) Roles() map[string]Role {
	return maps.Clone(r.roles)
}

func (r *Roster) seat(id string) *Seat {
	for _, s := range r.seats {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (r *Roster) Seat(id string) (Seat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s := r.seat(id); s != nil {
		return *s, true
	}
	return Seat{}, false
}

// Seats returns a snapshot of all seats in seat order.
func (r *Roster) Seats() []Seat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Seat, len(r.seats))
	for i, s := range r.seats {
		out[i] = *s
	}
	return out
}

func (r *Roster) IsAlive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.seat(id)
	return s != nil && s.Alive
}

// AliveIDs returns living seat ids in seat order.
func (r *Roster) AliveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, s := range r.seats {
		if s.Alive {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func (r *Roster) DeadIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, s := range r.seats {
		if !s.Alive {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// AliveWithRole returns the living seats holding role, in seat order.
func (r *Roster) AliveWithRole(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, s := range r.seats {
		if s.Alive && r.roles[s.ID] == role {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Teammates returns every werewolf seat (alive or dead) other than id.
// It is empty for non-werewolves.
func (r *Roster) Teammates(id string) []string {
	if r.roles[id] != RoleWerewolf {
		return nil
	}
	var ids []string
	for _, s := range r.seats {
		if s.ID != id && r.roles[s.ID] == RoleWerewolf {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Kill marks a seat dead and reports whether it was alive before.
func (r *Roster) Kill(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seat(id)
	if s == nil || !s.Alive {
		return false
	}
	s.Alive = false
	return true
}

// countAlive returns living werewolves and living others.
func (r *Roster) countAlive() (wolves, others int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.seats {
		if !s.Alive {
			continue
		}
		if r.roles[s.ID] == RoleWerewolf {
			wolves++
		} else {
			others++
		}
	}
	return wolves, others
}
