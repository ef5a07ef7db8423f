package room

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordimposter/backend/internal/apperr"
	"wordimposter/backend/internal/hub"
	"wordimposter/backend/internal/models"
	"wordimposter/backend/internal/session"
	"wordimposter/backend/internal/store"
)

func testSettings() Settings {
	return Settings{
		MinCapacity:    4,
		MaxCapacity:    10,
		ReconnectGrace: time.Minute,
		RoomReapAfter:  time.Hour,
		GameRetention:  time.Hour,
	}
}

func newTestManager(t *testing.T, settings Settings) (*Manager, *session.Registry, *store.Memory, *hub.Hub) {
	t.Helper()

	st := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := session.NewRegistry(st, logger)
	h := hub.NewHub(logger)
	m := NewManager(st, reg, h, settings, logger)
	t.Cleanup(m.Stop)
	return m, reg, st, h
}

func eventTypes(c hub.Client) []string {
	var types []string
	for {
		select {
		case msg := <-c:
			var ev hub.Event
			if err := json.Unmarshal(msg, &ev); err == nil {
				types = append(types, ev.Type)
			}
		default:
			return types
		}
	}
}

func TestCreateRoomValidation(t *testing.T) {
	m, _, _, _ := newTestManager(t, testSettings())

	tests := []struct {
		name  string
		input CreateInput
		code  apperr.Code
	}{
		{"capacity too small", CreateInput{Visibility: models.VisibilityPublic, Capacity: 3}, apperr.CodeValidation},
		{"capacity too large", CreateInput{Visibility: models.VisibilityPublic, Capacity: 11}, apperr.CodeValidation},
		{"bad visibility", CreateInput{Visibility: "secret", Capacity: 6}, apperr.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := m.CreateRoom(1, tt.input)
			assert.True(t, apperr.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestCreateRoomGeneratesCodeAndHost(t *testing.T) {
	m, _, _, _ := newTestManager(t, testSettings())

	room, host, err := m.CreateRoom(1, CreateInput{
		Name:       "  friday night  ",
		Visibility: models.VisibilityPrivate,
		Capacity:   6,
	})
	require.NoError(t, err)

	assert.Len(t, room.Code, 6)
	for _, r := range room.Code {
		assert.Contains(t, codeAlphabet, string(r))
	}
	assert.Equal(t, "friday night", room.Name)
	assert.True(t, room.Active)
	assert.True(t, host.IsHost)
	assert.True(t, host.IsOnline)
}

func TestJoinRoomUnknownCode(t *testing.T) {
	m, _, _, _ := newTestManager(t, testSettings())

	_, _, _, err := m.JoinRoom("NOSUCH", 1)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestJoinRoomFull(t *testing.T) {
	m, _, _, _ := newTestManager(t, testSettings())

	room, _, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 4})
	require.NoError(t, err)

	for userID := uint(2); userID <= 4; userID++ {
		_, _, _, err := m.JoinRoom(room.Code, userID)
		require.NoError(t, err)
	}

	_, _, _, err = m.JoinRoom(room.Code, 5)
	assert.True(t, apperr.Is(err, apperr.CodeCapacity))
}

func TestJoinRoomCodeCaseInsensitive(t *testing.T) {
	m, _, _, _ := newTestManager(t, testSettings())

	room, _, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 4})
	require.NoError(t, err)

	_, _, _, err = m.JoinRoom(" "+strings.ToLower(room.Code)+" ", 2)
	assert.NoError(t, err)
}

func TestRejoinReusesSeat(t *testing.T) {
	m, _, st, _ := newTestManager(t, testSettings())

	room, _, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 4})
	require.NoError(t, err)
	_, p2, rejoined, err := m.JoinRoom(room.Code, 2)
	require.NoError(t, err)
	require.False(t, rejoined)

	p2.IsOnline = false
	require.NoError(t, st.UpdatePlayer(p2))

	_, again, rejoined, err := m.JoinRoom(room.Code, 2)
	require.NoError(t, err)
	assert.True(t, rejoined)
	assert.Equal(t, p2.ID, again.ID)
	assert.True(t, again.IsOnline)

	players, err := st.ListPlayersInRoom(room.ID)
	require.NoError(t, err)
	assert.Len(t, players, 2)
}

func TestLeaveTransfersHostToEarliestJoined(t *testing.T) {
	m, _, st, h := newTestManager(t, testSettings())

	room, host, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 6})
	require.NoError(t, err)
	_, p2, _, err := m.JoinRoom(room.Code, 2)
	require.NoError(t, err)
	_, p3, _, err := m.JoinRoom(room.Code, 3)
	require.NoError(t, err)

	c := make(hub.Client, 16)
	h.Subscribe(room.ID, p2.ID, c)

	require.NoError(t, m.Leave(host.ID))

	_, err = st.GetPlayer(host.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	newHost, err := st.GetPlayer(p2.ID)
	require.NoError(t, err)
	assert.True(t, newHost.IsHost)

	third, err := st.GetPlayer(p3.ID)
	require.NoError(t, err)
	assert.False(t, third.IsHost)

	assert.Contains(t, eventTypes(c), hub.EventHostChanged)
}

func TestLeaveNonHostKeepsHost(t *testing.T) {
	m, _, st, h := newTestManager(t, testSettings())

	room, host, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 6})
	require.NoError(t, err)
	_, p2, _, err := m.JoinRoom(room.Code, 2)
	require.NoError(t, err)

	c := make(hub.Client, 16)
	h.Subscribe(room.ID, host.ID, c)

	require.NoError(t, m.Leave(p2.ID))

	stillHost, err := st.GetPlayer(host.ID)
	require.NoError(t, err)
	assert.True(t, stillHost.IsHost)

	types := eventTypes(c)
	assert.Contains(t, types, hub.EventPlayerLeft)
	assert.NotContains(t, types, hub.EventHostChanged)
}

func TestLastLeaveDeletesRoom(t *testing.T) {
	m, _, st, _ := newTestManager(t, testSettings())

	room, host, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 4})
	require.NoError(t, err)

	require.NoError(t, m.Leave(host.ID))

	_, err = st.GetRoomByID(room.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	_, _, _, err = m.JoinRoom(room.Code, 2)
	assert.Error(t, err)
}

func TestLastLeavePublicRoomAnnouncesListChange(t *testing.T) {
	m, _, st, h := newTestManager(t, testSettings())

	room, host, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPublic, Capacity: 4})
	require.NoError(t, err)

	c := make(hub.Client, 16)
	h.SubscribeGlobal(c)

	require.NoError(t, m.Leave(host.ID))

	_, err = st.GetRoomByID(room.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	assert.Contains(t, eventTypes(c), hub.EventRoomListChanged)
}

func TestJoinRacingRoomDeletion(t *testing.T) {
	m, _, st, _ := newTestManager(t, testSettings())

	room, _, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 6})
	require.NoError(t, err)

	acquired := make(chan struct{})
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		defer close(held)
		_ = m.WithRoom(room.ID, func() error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	joinErr := make(chan error, 1)
	go func() {
		_, _, _, err := m.JoinRoom(room.Code, 2)
		joinErr <- err
	}()

	// Let the joiner pass the code lookup and block on the room lock, then
	// delete the room before handing the lock over.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, st.DeleteRoom(room.ID))
	close(release)
	<-held

	err = <-joinErr
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)

	// No orphaned player row may survive the lost race.
	players, err := st.ListPlayersInRoom(room.ID)
	require.NoError(t, err)
	assert.Empty(t, players)
}

func TestGeneratedCodesStayInAlphabet(t *testing.T) {
	m, _, _, _ := newTestManager(t, testSettings())

	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		code, err := m.generateCode()
		require.NoError(t, err)
		require.Len(t, code, codeLength)
		for _, r := range code {
			require.Contains(t, codeAlphabet, string(r))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 60)
}

func TestDisconnectAndRebindWithinGrace(t *testing.T) {
	settings := testSettings()
	settings.ReconnectGrace = time.Minute
	m, reg, st, h := newTestManager(t, settings)

	room, host, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 6})
	require.NoError(t, err)
	_, _, _, err = m.JoinRoom(room.Code, 2)
	require.NoError(t, err)

	_, _, err = reg.Bind("conn-host", 1, room.ID)
	require.NoError(t, err)

	c := make(hub.Client, 16)
	h.Subscribe(room.ID, host.ID, c)

	require.NoError(t, m.Disconnect("conn-host"))
	offline, err := st.GetPlayer(host.ID)
	require.NoError(t, err)
	assert.False(t, offline.IsOnline)

	// Reconnect inside the window: seat and host role come back untouched.
	require.NoError(t, m.Rebind(room.ID, host.ID))
	back, err := st.GetPlayer(host.ID)
	require.NoError(t, err)
	assert.True(t, back.IsOnline)
	assert.True(t, back.IsHost)

	types := eventTypes(c)
	assert.Contains(t, types, hub.EventRoomUpdated)
	assert.NotContains(t, types, hub.EventHostChanged)
}

func TestGraceExpiryRemovesPlayerAndTransfersHost(t *testing.T) {
	settings := testSettings()
	settings.ReconnectGrace = 20 * time.Millisecond
	m, reg, st, _ := newTestManager(t, settings)

	room, host, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 6})
	require.NoError(t, err)
	_, p2, _, err := m.JoinRoom(room.Code, 2)
	require.NoError(t, err)
	_, _, _, err = m.JoinRoom(room.Code, 3)
	require.NoError(t, err)

	_, _, err = reg.Bind("conn-host", 1, room.ID)
	require.NoError(t, err)

	require.NoError(t, m.Disconnect("conn-host"))

	require.Eventually(t, func() bool {
		_, err := st.GetPlayer(host.ID)
		return apperr.Is(err, apperr.CodeNotFound)
	}, time.Second, 5*time.Millisecond)

	newHost, err := st.GetPlayer(p2.ID)
	require.NoError(t, err)
	assert.True(t, newHost.IsHost)
}

func TestGraceExpiryIgnoredAfterRejoin(t *testing.T) {
	settings := testSettings()
	settings.ReconnectGrace = 20 * time.Millisecond
	m, reg, st, _ := newTestManager(t, settings)

	room, host, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 6})
	require.NoError(t, err)
	_, _, _, err = m.JoinRoom(room.Code, 2)
	require.NoError(t, err)

	_, _, err = reg.Bind("conn-host", 1, room.ID)
	require.NoError(t, err)
	require.NoError(t, m.Disconnect("conn-host"))

	_, _, rejoined, err := m.JoinRoom(room.Code, 1)
	require.NoError(t, err)
	assert.True(t, rejoined)

	time.Sleep(60 * time.Millisecond)

	stillThere, err := st.GetPlayer(host.ID)
	require.NoError(t, err)
	assert.True(t, stillThere.IsHost)
	assert.True(t, stillThere.IsOnline)
}

func TestUpdateSettings(t *testing.T) {
	m, _, _, _ := newTestManager(t, testSettings())

	room, host, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 6})
	require.NoError(t, err)
	_, p2, _, err := m.JoinRoom(room.Code, 2)
	require.NoError(t, err)

	name := "renamed"
	_, err = m.UpdateSettings(room.ID, p2.ID, UpdateInput{Name: &name})
	assert.True(t, apperr.Is(err, apperr.CodeNotAuthorized))

	badCap := 1
	_, err = m.UpdateSettings(room.ID, host.ID, UpdateInput{Capacity: &badCap})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	vis := models.VisibilityPublic
	newCap := 8
	updated, err := m.UpdateSettings(room.ID, host.ID, UpdateInput{
		Name:       &name,
		Visibility: &vis,
		Capacity:   &newCap,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, models.VisibilityPublic, updated.Visibility)
	assert.Equal(t, 8, updated.Capacity)
}

func TestUpdateSettingsCapacityBelowPlayerCount(t *testing.T) {
	m, _, _, _ := newTestManager(t, testSettings())

	room, host, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 6})
	require.NoError(t, err)
	for userID := uint(2); userID <= 5; userID++ {
		_, _, _, err := m.JoinRoom(room.Code, userID)
		require.NoError(t, err)
	}

	smaller := 4
	_, err = m.UpdateSettings(room.ID, host.ID, UpdateInput{Capacity: &smaller})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestReapDeletesIdleRooms(t *testing.T) {
	settings := testSettings()
	settings.RoomReapAfter = 10 * time.Millisecond
	m, _, st, _ := newTestManager(t, settings)

	room, host, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 4})
	require.NoError(t, err)

	host.IsOnline = false
	host.LastSeen = time.Now().Add(-time.Hour)
	require.NoError(t, st.UpdatePlayer(host))

	m.ReapNow()

	_, err = st.GetRoomByID(room.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestReapSkipsOccupiedRooms(t *testing.T) {
	settings := testSettings()
	settings.RoomReapAfter = 10 * time.Millisecond
	m, _, st, _ := newTestManager(t, settings)

	room, _, err := m.CreateRoom(1, CreateInput{Visibility: models.VisibilityPrivate, Capacity: 4})
	require.NoError(t, err)

	m.ReapNow()

	_, err = st.GetRoomByID(room.ID)
	assert.NoError(t, err)
}
