package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/ariefcatur/go-boutique-orders/internal/cart"
	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/inventory"
	"github.com/ariefcatur/go-boutique-orders/internal/logx"
	"github.com/ariefcatur/go-boutique-orders/internal/notify"
	"github.com/ariefcatur/go-boutique-orders/internal/orders"
	"github.com/ariefcatur/go-boutique-orders/internal/payment"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const HeaderActorID = "X-Actor-Id"

// OrderCache backs the read-through path of GET /orders/{id}.
type OrderCache interface {
	Get(ctx context.Context, id string) (domain.Order, bool, error)
	Set(ctx context.Context, o domain.Order) error
}

// Handler exposes the core over HTTP. Cache and StripeWebhookSecret are optional.
type Handler struct {
	Store         store.Store
	Cart          *cart.Manager
	Orders        *orders.Assembler
	Machine       *orders.StatusMachine
	Pool          *inventory.Pool
	Payments      *payment.Adapter
	Notifications *notify.Service
	Cache         OrderCache

	StripeWebhookSecret string
	Log                 *zap.Logger
}

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) Register(r chi.Router) {
	// Provider callbacks carry no actor. Only the active provider's route is
	// served; the unsigned one would otherwise settle Stripe payments.
	switch h.Payments.ProviderName() {
	case payment.ProviderSimulator:
		r.Post("/payments/webhook", h.paymentWebhook)
	case payment.ProviderStripe:
		r.Post("/payments/webhook/stripe", h.stripeWebhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.requireActor)

		r.Get("/cart", h.listCart)
		r.Post("/cart/add", h.addToCart)
		r.Delete("/cart", h.clearCart)
		r.Delete("/cart/{lineId}", h.removeCartLine)

		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Put("/orders/{id}/status", h.updateStatus)

		r.Post("/products/{id}/restock", h.restock)
		r.Put("/products/{id}/availability", h.setAvailability)
		r.Put("/products/{id}/price", h.setPrice)

		r.Post("/payments/initiate", h.initiatePayment)
		r.Get("/payments/status/{transactionId}", h.paymentStatus)

		r.Get("/notifications", h.listNotifications)
		r.Put("/notifications/{id}/read", h.markNotificationRead)
	})
}

type actorKey struct{}

// requireActor resolves X-Actor-Id against the actors table once per request.
// The system role is never granted to a caller.
func (h *Handler) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if id == "" {
			writeError(w, r, domain.E(domain.KindUnauthenticated, "missing %s header", HeaderActorID))
			return
		}
		var actor domain.Actor
		err := h.Store.WithTx(r.Context(), func(tx store.Tx) error {
			var err error
			actor, err = tx.GetActor(r.Context(), id)
			return err
		})
		if errors.Is(err, domain.ErrNotFound) || (err == nil && actor.Role == domain.RoleSystem) {
			writeError(w, r, domain.E(domain.KindUnauthenticated, "unknown actor %s", id))
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		ctx = logx.WithContext(ctx, logx.FromContext(ctx, h.Log).With(
			zap.String("actor_id", actor.ID),
			zap.String("role", string(actor.Role)),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(ctx context.Context) domain.Actor {
	a, _ := ctx.Value(actorKey{}).(domain.Actor)
	return a
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Wrap(domain.KindValidation, err, "invalid json body")
	}
	return check(dst)
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Wrap(domain.KindValidation, err, "invalid request")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return domain.E(domain.KindValidation, "%s", strings.Join(msgs, "; "))
}
