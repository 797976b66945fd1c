package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/logx"
	"github.com/ariefcatur/go-boutique-orders/internal/payment"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	in, err := h.Payments.Initiate(ctx, actorFrom(ctx), payment.InitiateInput{
		OrderID: req.OrderID,
		Method:  req.Method,
		Contact: payment.Contact{Phone: req.Contact.Phone, Email: req.Contact.Email, Name: req.Contact.Name},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := toPayment(in.Payment)
	resp.RedirectURL = in.RedirectURL
	resp.ClientSecret = in.ClientSecret
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.Payments.Status(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "transactionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := toPayment(v.Payment)
	resp.OrderStatus = v.OrderStatus
	writeJSON(w, http.StatusOK, resp)
}

// paymentWebhook acknowledges every callback it could read, including
// unknown and repeated ones. Only a store failure answers 503 so the
// provider retries.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	log := logx.FromContext(r.Context(), h.Log)
	var req webhookReq
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		log.Warn("payment_webhook_unreadable", zap.Error(err))
		writeJSON(w, http.StatusOK, callbackResp{Received: true, Outcome: payment.OutcomeIgnored})
		return
	}
	h.handleCallback(w, r, payment.Callback{Provider: payment.ProviderSimulator, TransactionID: req.txID(), Status: req.Status})
}

func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logx.FromContext(r.Context(), h.Log)
	if h.StripeWebhookSecret == "" {
		writeError(w, r, domain.E(domain.KindNotFound, "stripe webhook is not configured"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, domain.Wrap(domain.KindValidation, err, "read body"))
		return
	}
	cb, ok, err := payment.ParseStripeEvent(body, r.Header.Get("Stripe-Signature"), h.StripeWebhookSecret)
	if err != nil {
		log.Warn("stripe_webhook_rejected", zap.Error(err))
		writeError(w, r, domain.Wrap(domain.KindValidation, err, "invalid stripe event"))
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, callbackResp{Received: true, Outcome: payment.OutcomeIgnored})
		return
	}
	h.handleCallback(w, r, cb)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request, cb payment.Callback) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Payments.HandleCallback(ctx, cb)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, callbackResp{Received: false})
		return
	}
	writeJSON(w, http.StatusOK, callbackResp{Received: true, Outcome: res.Outcome})
}
