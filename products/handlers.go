package products

import (
	"errors"
	"net/http"

	"farmstand/utils"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type Handler struct {
	svc       *Service
	uploadDir string
	log       *zap.Logger
}

func NewHandler(svc *Service, uploadDir string, log *zap.Logger) *Handler {
	return &Handler{svc: svc, uploadDir: uploadDir, log: log}
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Product not found")
	case errors.Is(err, ErrForbidden):
		utils.RespondWithError(w, http.StatusForbidden, "Not authorized to modify this product")
	case errors.Is(err, ErrDuplicateReview):
		utils.RespondWithError(w, http.StatusConflict, "You have already reviewed this product")
	case errors.Is(err, ErrBadQuery):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("catalog request failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func productID(w http.ResponseWriter, ps httprouter.Params) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(ps.ByName("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid product ID")
		return id, false
	}
	return id, true
}

func caller(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, ok := utils.GetUserIDFromRequest(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
	}
	return id, ok
}

// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q, err := ParseListQuery(r.URL.Query())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	res, err := h.svc.List(r.Context(), q)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// GET /api/products/:id
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := productID(w, ps)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"product": p})
}

// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	farmer, ok := caller(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.svc.Create(r.Context(), farmer, in)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{"product": p, "message": "Product created successfully"})
}

// PUT /api/products/:id
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	farmer, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := productID(w, ps)
	if !ok {
		return
	}
	var patch Patch
	if err := utils.DecodeJSON(w, r, &patch); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.Empty() {
		utils.RespondWithError(w, http.StatusBadRequest, "No updatable fields provided")
		return
	}
	p, err := h.svc.Update(r.Context(), farmer, id, patch)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"product": p, "message": "Product updated successfully"})
}

// DELETE /api/products/:id
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	farmer, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := productID(w, ps)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), farmer, id); err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "Product deleted successfully"})
}

type reviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"required,max=2000"`
}

// POST /api/products/:id/reviews
func (h *Handler) AddReview(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := productID(w, ps)
	if !ok {
		return
	}
	var req reviewRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.svc.AddReview(r.Context(), user, id, req.Rating, req.Comment)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{"product": p})
}
