package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/cart"
	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/logx"
	"github.com/ariefcatur/go-boutique-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (h *Handler) listCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	lines, err := h.Cart.List(ctx, actorFrom(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(lines))
}

func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request) {
	var req addToCartReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	line, err := h.Cart.Add(ctx, actorFrom(ctx), cart.AddInput{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
		Options:   req.Options,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": line.ID, "quantity": line.Quantity})
}

func (h *Handler) removeCartLine(w http.ResponseWriter, r *http.Request) {
	if err := h.Cart.Remove(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "lineId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.Cart.Clear(r.Context(), actorFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CreateOrder(ctx, actorFrom(ctx), orders.DeliveryInfo{
		Address: req.DeliveryAddress,
		Phone:   req.DeliveryPhone,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.List(ctx, actorFrom(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]orderResp, 0, len(list))
	for _, o := range list {
		out = append(out, toOrder(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// getOrder reads through the order cache. A cached copy is still checked
// against the caller before it is returned.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	actor := actorFrom(ctx)
	log := logx.FromContext(ctx, h.Log)

	if h.Cache != nil {
		o, ok, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			log.Warn("order_cache_get_failed", zap.String("order_id", orderID), zap.Error(err))
		}
		if ok {
			if !orders.CanView(actor, o) {
				writeError(w, r, domain.E(domain.KindUnauthorized, "actor %s may not view order %s", actor.ID, orderID))
				return
			}
			writeJSON(w, http.StatusOK, toOrder(o))
			return
		}
	}

	o, err := h.Orders.Get(ctx, actor, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Set(ctx, o); err != nil {
			log.Warn("order_cache_set_failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	target := domain.OrderStatus(r.URL.Query().Get("status"))
	if target == "" {
		writeError(w, r, domain.E(domain.KindValidation, "status query parameter is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Machine.Transition(ctx, actorFrom(ctx), chi.URLParam(r, "id"), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}
