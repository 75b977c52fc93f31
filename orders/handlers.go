package orders

import (
	"errors"
	"net/http"
	"time"

	"farmstand/utils"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, ErrProductNotFound):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		utils.RespondWithError(w, http.StatusForbidden, "Not authorized to access this order")
	case errors.Is(err, ErrPaymentStatusWrite):
		utils.RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrConflict):
		utils.RespondWithError(w, http.StatusConflict, "Order was updated by someone else, reload and retry")
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNothingToUpdate),
		errors.Is(err, ErrNoShippingAddress),
		errors.Is(err, ErrBadQuery):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPaymentsDisabled):
		utils.RespondWithError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrPaymentSetup):
		utils.RespondWithError(w, http.StatusInternalServerError, "Payment setup failed, the order was cancelled")
	default:
		h.log.Error("order request failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func callerFrom(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	c := utils.ClaimsFromContext(r.Context())
	id, ok := utils.GetUserIDFromRequest(r)
	if c == nil || !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return Caller{}, false
	}
	return Caller{ID: id, Role: c.Role}, true
}

func orderID(w http.ResponseWriter, ps httprouter.Params) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(ps.ByName("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid order ID")
		return id, false
	}
	return id, true
}

// POST /api/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	c, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Create(r.Context(), c.ID, req)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, res)
}

// GET /api/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	c, ok := callerFrom(w, r)
	if !ok {
		return
	}
	q, err := ParseListQuery(r.URL.Query(), utils.ParsePage(r, 10, 100))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	res, err := h.svc.List(r.Context(), c, q)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// GET /api/orders/:id
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	c, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderID(w, ps)
	if !ok {
		return
	}
	res, err := h.svc.Get(r.Context(), c, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// PUT /api/orders/:id
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	c, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderID(w, ps)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.svc.Update(r.Context(), c, id, req)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"order": o, "message": "Order updated successfully"})
}

// GET /api/orders/:id/receipt
func (h *Handler) DownloadReceipt(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	c, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := orderID(w, ps)
	if !ok {
		return
	}
	o, err := h.svc.Receipt(r.Context(), c, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	pdf, err := RenderReceipt(o, time.Now())
	if err != nil {
		h.log.Error("render receipt", zap.String("orderId", id.Hex()), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to generate receipt")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=receipt-"+id.Hex()+".pdf")
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

