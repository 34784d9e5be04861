package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreArchivesSession(t *testing.T) {
	store := openTestStore(t)
	r := newTestRoster(t, RoleWerewolf, RoleWerewolf, RoleSeer, RoleWitch, RoleGuard, RoleVillager)
	require.NoError(t, store.CreateSession("s1", 77, 2, r))

	participants := map[string]Participant{}
	for _, seat := range r.Seats() {
		participants[seat.ID] = NewAutonomousAgent(seat.ID, r.Role(seat.ID), newFallbackDecider(nil, 0))
	}
	s := NewSession("s1", r, 77, fastConfig(2), SessionDeps{Participants: participants, Recorder: store})
	result := runSession(t, s)
	require.NoError(t, store.FinishSession("s1", "finished", result, s.ActionLog()))

	rows, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "finished", rows[0].Status)
	assert.Equal(t, result, rows[0].Result)
	assert.Equal(t, 6, rows[0].Players)
	assert.Equal(t, s.Timeline().Len(), rows[0].EventCount)
	assert.True(t, rows[0].FinishedAt.Valid)

	arch, err := store.LoadSession("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(77), arch.Session.Seed)
	assert.Equal(t, r.Roles(), arch.Roles)
	require.Len(t, arch.Seats, 6)
	assert.Equal(t, "P1", arch.Seats[0].ID)
	assert.Equal(t, s.ActionLog(), arch.Actions)
	require.Len(t, arch.Events, s.Timeline().Len())
	for i, ev := range s.Timeline().Events() {
		same, err := sameEvent(ev, arch.Events[i])
		require.NoError(t, err)
		assert.True(t, same, "event %d survives the round trip", ev.Seq)
	}

	rep, err := VerifyArchive(context.Background(), arch)
	require.NoError(t, err)
	assert.True(t, rep.Verified)
}

func TestStoreNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.LoadSession("nope")
	assert.True(t, isNotFound(err))

	err = store.FinishSession("nope", "finished", ResultDraw, nil)
	assert.True(t, isNotFound(err))
}

func TestStoreRejectsDuplicateEvent(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.CreateSession("dup", 1, 1, newTestRoster(t, RoleWerewolf, RoleWerewolf, RoleSeer, RoleWitch, RoleGuard)))

	ev := Event{Seq: 1, Type: EventPhase, Fields: Fields{"phase": PhaseNight}}
	require.NoError(t, store.RecordEvent("dup", ev))
	assert.Error(t, store.RecordEvent("dup", ev))

	require.NoError(t, store.RecordEvent("dup", Event{Seq: 2, Type: EventRole, Recipient: "P1"}))
	arch, err := store.LoadSession("dup")
	require.NoError(t, err)
	require.Len(t, arch.Events, 2)
	assert.Equal(t, "P1", arch.Events[1].Recipient)
	assert.Equal(t, "running", arch.Session.Status)
}
