package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"roomchat/internal/rooms"
	"roomchat/internal/types"
)

type RoomDirectory interface {
	List() []rooms.Info
	Get(roomID string) (rooms.Info, bool)
}

type ConnectionCounter interface {
	Len() int
}

type Handler struct {
	rooms  RoomDirectory
	conns  ConnectionCounter
	logger *slog.Logger
}

func NewHandler(dir RoomDirectory, conns ConnectionCounter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{rooms: dir, conns: conns, logger: logger}
}

type healthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Rooms:       len(h.rooms.List()),
		Connections: h.conns.Len(),
	})
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	list := h.rooms.List()
	out := make([]types.RoomSummary, 0, len(list))
	for _, info := range list {
		out = append(out, summary(info))
	}
	h.respondJSON(w, http.StatusOK, out)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "roomId"))
	info, ok := h.rooms.Get(id)
	if !ok {
		h.respondJSON(w, http.StatusNotFound, errorResponse{Message: "room not found"})
		return
	}
	h.respondJSON(w, http.StatusOK, summary(info))
}

func summary(info rooms.Info) types.RoomSummary {
	return types.RoomSummary{
		RoomID:    info.ID,
		RoomName:  info.Name,
		Members:   info.Members,
		Messages:  info.Messages,
		CreatedAt: info.CreatedAt,
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encode response", slog.Any("err", err))
	}
}
