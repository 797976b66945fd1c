package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-boutique-orders/internal/inventory"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	var req restockReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ref := inventory.Ref{ProductID: chi.URLParam(r, "id"), VariantID: req.VariantID}
	p, err := h.Pool.Restock(r.Context(), actorFrom(r.Context()), ref, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(p))
}

func (h *Handler) setAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Pool.SetDisabled(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), !*req.Available)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(p))
}

func (h *Handler) setPrice(w http.ResponseWriter, r *http.Request) {
	var req priceReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Pool.SetPrice(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), *req.Price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(p))
}
