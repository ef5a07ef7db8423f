package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wordimposter/backend/internal/apperr"
	"wordimposter/backend/internal/game"
	"wordimposter/backend/internal/hub"
	"wordimposter/backend/internal/room"
	"wordimposter/backend/internal/session"
	"wordimposter/backend/internal/store"
)

// Server accepts websocket connections, binds them to player sessions and
// dispatches the command stream to the room manager and game machine.
type Server struct {
	store    store.Store
	registry *session.Registry
	rooms    *room.Manager
	games    *game.Machine
	hub      *hub.Hub
	logger   *slog.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*client
}

// NewServer wires the websocket transport.
func NewServer(st store.Store, registry *session.Registry, rooms *room.Manager, games *game.Machine, h *hub.Hub, logger *slog.Logger) *Server {
	return &Server{
		store:    st,
		registry: registry,
		rooms:    rooms,
		games:    games,
		hub:      h,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is delegated to the reverse proxy.
				return true
			},
		},
		conns: make(map[string]*client),
	}
}

// Handle upgrades an authenticated request to a websocket connection. The
// user id comes from the auth middleware; room membership is established by
// the join_room command, not by the URL.
func (s *Server) Handle(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade", "error", err)
		return
	}

	cl := &client{
		id:     uuid.NewString(),
		userID: userID.(uint),
		conn:   conn,
		send:   make(hub.Client, 256),
		server: s,
	}

	s.mu.Lock()
	s.conns[cl.id] = cl
	s.mu.Unlock()

	// Every connection hears about public room list changes until it
	// joins a room.
	s.hub.SubscribeGlobal(cl.send)

	go cl.writePump()
	go cl.readPump()

	s.logger.Info("websocket connected", "conn_id", cl.id, "user_id", cl.userID)
}

// dispatch routes one parsed command. The switch is exhaustive over the
// command set; anything else is rejected back to the sender.
func (s *Server) dispatch(c *client, cmd Command) {
	s.registry.Touch(c.id)

	var err error
	switch cmd.Type {
	case CmdJoinRoom:
		if cmd.JoinRoom == nil {
			err = apperr.Validation("join_room payload missing")
			break
		}
		err = s.handleJoin(c, cmd.JoinRoom.Code)

	case CmdLeaveRoom:
		err = s.handleLeave(c)

	case CmdUpdateRoom:
		if cmd.UpdateRoom == nil {
			err = apperr.Validation("update_room payload missing")
			break
		}
		err = s.withBinding(c, func(b *session.Binding) error {
			_, uerr := s.rooms.UpdateSettings(b.RoomID, b.PlayerID, room.UpdateInput{
				Name:       cmd.UpdateRoom.Name,
				Visibility: cmd.UpdateRoom.Visibility,
				Capacity:   cmd.UpdateRoom.Capacity,
			})
			return uerr
		})

	case CmdStartGame:
		err = s.withBinding(c, func(b *session.Binding) error {
			_, serr := s.games.Start(b.RoomID, b.PlayerID)
			return serr
		})

	case CmdSubmitWord:
		if cmd.SubmitWord == nil {
			err = apperr.Validation("submit_word payload missing")
			break
		}
		err = s.withActiveGame(c, func(b *session.Binding, gameID uint) error {
			return s.games.SubmitWord(gameID, b.PlayerID, cmd.SubmitWord.Word)
		})

	case CmdStartVoting:
		err = s.withActiveGame(c, func(b *session.Binding, gameID uint) error {
			return s.games.StartVoting(gameID)
		})

	case CmdSubmitVote:
		if cmd.SubmitVote == nil {
			err = apperr.Validation("submit_vote payload missing")
			break
		}
		err = s.withActiveGame(c, func(b *session.Binding, gameID uint) error {
			return s.games.SubmitVote(gameID, b.PlayerID, cmd.SubmitVote.TargetID)
		})

	case CmdNextRound:
		err = s.withActiveGame(c, func(b *session.Binding, gameID uint) error {
			return s.games.NextRound(gameID, b.PlayerID)
		})

	case CmdEndGame:
		err = s.withActiveGame(c, func(b *session.Binding, gameID uint) error {
			return s.games.End(gameID, b.PlayerID, false)
		})

	case CmdChat:
		if cmd.Chat == nil || cmd.Chat.Text == "" {
			err = apperr.Validation("chat payload missing")
			break
		}
		err = s.withBinding(c, func(b *session.Binding) error {
			s.hub.Broadcast(b.RoomID, hub.Event{
				Type: hub.EventChatMessage,
				Payload: map[string]any{
					"player_id": b.PlayerID,
					"text":      cmd.Chat.Text,
					"timestamp": time.Now().Unix(),
				},
			})
			return nil
		})

	default:
		err = apperr.Validation("unknown command type %q", cmd.Type)
	}

	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			s.logger.Error("command failed",
				"conn_id", c.id,
				"user_id", c.userID,
				"command", cmd.Type,
				"error", err)
		}
		c.sendError(string(apperr.CodeOf(err)), apperr.PublicMessage(err))
	}
}

func (s *Server) handleJoin(c *client, code string) error {
	if _, bound := s.registry.LookupByConn(c.id); bound {
		return apperr.Conflict("connection is already bound to a room")
	}

	rm, player, rejoined, err := s.rooms.JoinRoom(code, c.userID)
	if err != nil {
		return err
	}

	playerID, replaced, err := s.registry.Bind(c.id, c.userID, rm.ID)
	if err != nil {
		return err
	}
	if replaced != "" {
		s.forceClose(replaced, rm.ID)
	}

	s.hub.UnsubscribeGlobal(c.send)
	s.hub.Subscribe(rm.ID, playerID, c.send)

	if rejoined {
		return s.rooms.Rebind(rm.ID, playerID)
	}
	s.rooms.AnnounceJoin(rm.ID, player)
	return nil
}

func (s *Server) handleLeave(c *client) error {
	binding, ok := s.registry.Unbind(c.id)
	if !ok {
		return apperr.NotAuthorized("not in room: join before leaving")
	}

	err := s.rooms.Leave(binding.PlayerID)

	// The connection stays open for browsing and joining another room.
	s.hub.Unsubscribe(binding.RoomID, c.send)
	s.hub.SubscribeGlobal(c.send)
	return err
}

// withBinding runs fn with the connection's session binding, failing with
// a not-in-room error when the connection never joined.
func (s *Server) withBinding(c *client, fn func(*session.Binding) error) error {
	binding, ok := s.registry.LookupByConn(c.id)
	if !ok {
		return apperr.NotAuthorized("not in room: join first")
	}
	return fn(binding)
}

// withActiveGame resolves the room's active game before running fn.
func (s *Server) withActiveGame(c *client, fn func(*session.Binding, uint) error) error {
	return s.withBinding(c, func(b *session.Binding) error {
		g, err := s.store.GetActiveGameForRoom(b.RoomID)
		if err != nil {
			return err
		}
		return fn(b, g.ID)
	})
}

// handleDisconnect runs when a connection's read loop exits for any reason.
// If the connection was bound, the player is marked offline and the
// reconnection grace timer starts; removal happens only on expiry.
func (s *Server) handleDisconnect(c *client) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	binding, bound := s.registry.LookupByConn(c.id)
	if bound {
		if err := s.rooms.Disconnect(c.id); err != nil {
			s.logger.Error("disconnect handling",
				"conn_id", c.id,
				"player_id", binding.PlayerID,
				"error", err)
		}
		s.hub.Unsubscribe(binding.RoomID, c.send)
	}
	s.hub.UnsubscribeGlobal(c.send)
	c.closeSend()

	s.logger.Info("websocket disconnected", "conn_id", c.id, "user_id", c.userID)
}

// forceClose tears down a connection that was replaced by a newer bind for
// the same player, making tab refreshes and reconnects safe. The old send
// channel must leave every hub audience before it closes, or the next room
// broadcast would land on a closed channel.
func (s *Server) forceClose(connID string, roomID uint) {
	s.mu.Lock()
	old, ok := s.conns[connID]
	s.mu.Unlock()
	if !ok {
		return
	}

	s.logger.Info("closing replaced connection", "conn_id", connID)
	s.hub.Unsubscribe(roomID, old.send)
	s.hub.UnsubscribeGlobal(old.send)
	old.closeSend()
	old.conn.Close()
}

// Stop closes every open connection, removing each from its hub audiences
// first.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.conns {
		if binding, ok := s.registry.LookupByConn(id); ok {
			s.hub.Unsubscribe(binding.RoomID, c.send)
		}
		s.hub.UnsubscribeGlobal(c.send)
		c.closeSend()
		c.conn.Close()
		delete(s.conns, id)
	}
}
