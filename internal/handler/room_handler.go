package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wordimposter/backend/internal/apperr"
	"wordimposter/backend/internal/models"
	"wordimposter/backend/internal/room"
	"wordimposter/backend/internal/session"
	"wordimposter/backend/internal/store"
)

// region --- DTOs ---

// RoomInput defines the structure for creating a room.
type RoomInput struct {
	Name       string `json:"name" binding:"max=64"`
	Visibility string `json:"visibility" binding:"required,oneof=public private"`
	Capacity   int    `json:"capacity" binding:"required,min=4,max=10"`
}

// RoomResponse defines the structure for a room in API responses.
type RoomResponse struct {
	ID          uint   `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Visibility  string `json:"visibility"`
	Capacity    int    `json:"capacity"`
	PlayerCount int    `json:"player_count"`
}

// endregion

// RoomHandler serves the REST side of room management: creating rooms and
// browsing the public list. Live membership changes go over the websocket.
type RoomHandler struct {
	rooms    *room.Manager
	store    store.Store
	registry *session.Registry
}

// NewRoomHandler wires the room REST endpoints.
func NewRoomHandler(rooms *room.Manager, st store.Store, registry *session.Registry) *RoomHandler {
	return &RoomHandler{rooms: rooms, store: st, registry: registry}
}

func (h *RoomHandler) respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.PublicMessage(err)})
}

func (h *RoomHandler) roomResponse(r *models.Room) RoomResponse {
	count := 0
	if players, err := h.store.ListPlayersInRoom(r.ID); err == nil {
		count = len(players)
	}
	return RoomResponse{
		ID:          r.ID,
		Code:        r.Code,
		Name:        r.Name,
		Visibility:  string(r.Visibility),
		Capacity:    r.Capacity,
		PlayerCount: count,
	}
}

// CreateRoom godoc
// @Summary      Create a new room
// @Description  Creates a room with the creator as host and returns its join code.
// @Tags         rooms
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body RoomInput true "Room Settings"
// @Success      201  {object}  RoomResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /rooms [post]
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, _ := c.Get("userID")

	var input RoomInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rm, _, err := h.rooms.CreateRoom(userID.(uint), room.CreateInput{
		Name:       input.Name,
		Visibility: models.Visibility(input.Visibility),
		Capacity:   input.Capacity,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.roomResponse(rm))
}

// ListRooms godoc
// @Summary      List public rooms
// @Description  Gets a paginated list of public, active rooms.
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Param        page    query int false "Page number" default(1)
// @Param        limit   query int false "Items per page" default(10)
// @Success      200 {object} PaginatedResponse[RoomResponse]
// @Router       /rooms [get]
func (h *RoomHandler) ListRooms(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	rooms, err := h.store.ListPublicActiveRooms()
	if err != nil {
		h.respondError(c, err)
		return
	}

	start := (page - 1) * limit
	end := start + limit
	if start > len(rooms) {
		start = len(rooms)
	}
	if end > len(rooms) {
		end = len(rooms)
	}

	data := make([]RoomResponse, 0, end-start)
	for i := start; i < end; i++ {
		data = append(data, h.roomResponse(&rooms[i]))
	}

	c.JSON(http.StatusOK, NewPaginatedResponse(data, int64(len(rooms)), page, limit))
}

// GetRoomByCode godoc
// @Summary      Get a room by code
// @Description  Gets room details for a join code, e.g. for a join screen.
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Param        code path string true "Room Code"
// @Success      200 {object} RoomResponse
// @Failure      404 {object} ErrorResponse "Room not found"
// @Router       /rooms/{code} [get]
func (h *RoomHandler) GetRoomByCode(c *gin.Context) {
	rm, err := h.store.GetRoomByCode(c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.roomResponse(rm))
}

// SessionStats godoc
// @Summary      Session registry stats
// @Description  Reports how many connections and rooms are currently live.
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} session.Stats
// @Router       /stats [get]
func (h *RoomHandler) SessionStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Stats())
}
