package session

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordimposter/backend/internal/apperr"
	"wordimposter/backend/internal/models"
	"wordimposter/backend/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Memory, *models.Room, *models.Player) {
	t.Helper()

	st := store.NewMemory()
	now := time.Now()
	room := &models.Room{Code: "ROOM01", Visibility: models.VisibilityPrivate, Capacity: 6, Active: true}
	host := &models.Player{UserID: 1, IsOnline: true, JoinedAt: now, LastSeen: now}
	require.NoError(t, st.CreateRoom(room, host))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(st, logger), st, room, host
}

func TestBindRequiresMembership(t *testing.T) {
	reg, _, room, _ := newTestRegistry(t)

	_, _, err := reg.Bind("conn-1", 999, room.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotAuthorized))
}

func TestBindResolvesPlayer(t *testing.T) {
	reg, _, room, host := newTestRegistry(t)

	playerID, replaced, err := reg.Bind("conn-1", host.UserID, room.ID)
	require.NoError(t, err)
	assert.Equal(t, host.ID, playerID)
	assert.Empty(t, replaced)

	binding, ok := reg.LookupByConn("conn-1")
	require.True(t, ok)
	assert.Equal(t, host.ID, binding.PlayerID)
	assert.Equal(t, room.ID, binding.RoomID)
}

func TestBindReplacesExistingConnection(t *testing.T) {
	reg, _, room, host := newTestRegistry(t)

	_, _, err := reg.Bind("conn-old", host.UserID, room.ID)
	require.NoError(t, err)

	// A second bind for the same player evicts the first connection.
	_, replaced, err := reg.Bind("conn-new", host.UserID, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "conn-old", replaced)

	_, ok := reg.LookupByConn("conn-old")
	assert.False(t, ok)

	binding, ok := reg.LookupByPlayer(host.ID)
	require.True(t, ok)
	assert.Equal(t, "conn-new", binding.ConnID)
}

func TestUnbind(t *testing.T) {
	reg, _, room, host := newTestRegistry(t)

	_, _, err := reg.Bind("conn-1", host.UserID, room.ID)
	require.NoError(t, err)

	binding, ok := reg.Unbind("conn-1")
	require.True(t, ok)
	assert.Equal(t, host.ID, binding.PlayerID)

	_, ok = reg.Unbind("conn-1")
	assert.False(t, ok)
	_, ok = reg.LookupByPlayer(host.ID)
	assert.False(t, ok)
	assert.Empty(t, reg.LookupByRoom(room.ID))
}

func TestLookupByRoomAndStats(t *testing.T) {
	reg, st, room, host := newTestRegistry(t)

	p2 := &models.Player{UserID: 2, RoomID: room.ID, IsOnline: true, JoinedAt: time.Now(), LastSeen: time.Now()}
	require.NoError(t, st.CreatePlayer(p2))

	_, _, err := reg.Bind("conn-1", host.UserID, room.ID)
	require.NoError(t, err)
	_, _, err = reg.Bind("conn-2", p2.UserID, room.ID)
	require.NoError(t, err)

	bindings := reg.LookupByRoom(room.ID)
	assert.Len(t, bindings, 2)

	stats := reg.Stats()
	assert.Equal(t, 2, stats.Connections)
	assert.Equal(t, 1, stats.Rooms)

	reg.Unbind("conn-1")
	reg.Unbind("conn-2")
	stats = reg.Stats()
	assert.Equal(t, 0, stats.Connections)
	assert.Equal(t, 0, stats.Rooms)
}

func TestTouchUpdatesActivity(t *testing.T) {
	reg, _, room, host := newTestRegistry(t)

	_, _, err := reg.Bind("conn-1", host.UserID, room.ID)
	require.NoError(t, err)

	before, _ := reg.LookupByConn("conn-1")
	time.Sleep(5 * time.Millisecond)
	reg.Touch("conn-1")
	after, _ := reg.LookupByConn("conn-1")

	assert.True(t, after.LastActivity.After(before.LastActivity))
}
