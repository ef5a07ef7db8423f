package hub

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func drain(c Client) []Event {
	var events []Event
	for {
		select {
		case msg := <-c:
			var ev Event
			if err := json.Unmarshal(msg, &ev); err == nil {
				events = append(events, ev)
			}
		default:
			return events
		}
	}
}

func TestBroadcastReachesRoomOnly(t *testing.T) {
	h := newTestHub()

	inRoom := make(Client, 4)
	otherRoom := make(Client, 4)
	h.Subscribe(1, 10, inRoom)
	h.Subscribe(2, 20, otherRoom)

	h.Broadcast(1, Event{Type: EventPlayerJoined})

	require.Len(t, drain(inRoom), 1)
	assert.Empty(t, drain(otherRoom))
}

func TestBroadcastOrderPreserved(t *testing.T) {
	h := newTestHub()

	c := make(Client, 8)
	h.Subscribe(1, 10, c)

	h.Broadcast(1, Event{Type: EventGameStarted})
	h.Broadcast(1, Event{Type: EventRoundAdvanced})
	h.Broadcast(1, Event{Type: EventGameEnded})

	events := drain(c)
	require.Len(t, events, 3)
	assert.Equal(t, EventGameStarted, events[0].Type)
	assert.Equal(t, EventRoundAdvanced, events[1].Type)
	assert.Equal(t, EventGameEnded, events[2].Type)
}

func TestBroadcastPersonalized(t *testing.T) {
	h := newTestHub()

	alice := make(Client, 4)
	bob := make(Client, 4)
	h.Subscribe(1, 10, alice)
	h.Subscribe(1, 20, bob)

	h.BroadcastPersonalized(1, func(playerID uint) Event {
		word := "melon"
		if playerID == 20 {
			word = "???"
		}
		return Event{Type: EventWordRevealed, Payload: map[string]any{"word": word}}
	})

	aliceEvents := drain(alice)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, "melon", aliceEvents[0].Payload.(map[string]any)["word"])

	bobEvents := drain(bob)
	require.Len(t, bobEvents, 1)
	assert.Equal(t, "???", bobEvents[0].Payload.(map[string]any)["word"])
}

func TestBroadcastPersonalizedSkipsBadPayload(t *testing.T) {
	h := newTestHub()

	good := make(Client, 4)
	bad := make(Client, 4)
	h.Subscribe(1, 10, good)
	h.Subscribe(1, 20, bad)

	h.BroadcastPersonalized(1, func(playerID uint) Event {
		if playerID == 20 {
			// Functions cannot be marshaled.
			return Event{Type: EventWordRevealed, Payload: func() {}}
		}
		return Event{Type: EventWordRevealed, Payload: "ok"}
	})

	// One failed payload must not cut off the other recipients.
	assert.Len(t, drain(good), 1)
	assert.Empty(t, drain(bad))
}

func TestSendToPlayer(t *testing.T) {
	h := newTestHub()

	alice := make(Client, 4)
	bob := make(Client, 4)
	h.Subscribe(1, 10, alice)
	h.Subscribe(1, 20, bob)

	h.SendToPlayer(1, 20, Event{Type: EventError})

	assert.Empty(t, drain(alice))
	assert.Len(t, drain(bob), 1)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newTestHub()

	c := make(Client, 4)
	h.Subscribe(1, 10, c)
	h.Unsubscribe(1, c)

	h.Broadcast(1, Event{Type: EventRoomUpdated})
	assert.Empty(t, drain(c))
}

func TestGlobalBroadcast(t *testing.T) {
	h := newTestHub()

	browsing := make(Client, 4)
	inRoom := make(Client, 4)
	h.SubscribeGlobal(browsing)
	h.Subscribe(1, 10, inRoom)

	h.BroadcastGlobal(Event{Type: EventRoomListChanged})

	require.Len(t, drain(browsing), 1)
	assert.Empty(t, drain(inRoom))

	h.UnsubscribeGlobal(browsing)
	h.BroadcastGlobal(Event{Type: EventRoomListChanged})
	assert.Empty(t, drain(browsing))
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	h := newTestHub()

	full := make(Client, 1)
	full <- []byte("stuck")
	h.Subscribe(1, 10, full)

	// Must return immediately even though the buffer is full.
	h.Broadcast(1, Event{Type: EventRoomUpdated})
}
