package notifications

import (
	"errors"
	"net/http"

	"farmstand/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type Handler struct {
	feed     *Feed
	hub      *Hub
	upgrader *websocket.Upgrader
	log      *zap.Logger
}

func NewHandler(feed *Feed, hub *Hub, origins []string, log *zap.Logger) *Handler {
	return &Handler{feed: feed, hub: hub, upgrader: NewUpgrader(origins), log: log}
}

func currentUser(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, ok := utils.GetUserIDFromRequest(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
	}
	return id, ok
}

// GET /api/notifications
func (h *Handler) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := h.feed.List(r.Context(), user)
	if err != nil {
		h.log.Error("list notifications", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"notifications": list})
}

// PATCH /api/notifications/:id
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := primitive.ObjectIDFromHex(ps.ByName("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid notification ID")
		return
	}
	n, err := h.feed.MarkRead(r.Context(), id, user)
	switch {
	case errors.Is(err, ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Notification not found")
	case err != nil:
		h.log.Error("mark notification read", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	default:
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"notification": n})
	}
}

// GET /api/notifications/ws
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade", zap.Error(err))
		return
	}
	client := &Client{Conn: conn, Send: make(chan []byte, sendBuffer), UserID: user.Hex()}
	if !h.hub.Register(client) {
		conn.Close()
		return
	}
	go writePump(client)
	go readPump(client, h.hub, h.log)
}
