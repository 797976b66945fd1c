package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/cart"
	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/inventory"
	"github.com/ariefcatur/go-boutique-orders/internal/memstore"
	"github.com/ariefcatur/go-boutique-orders/internal/notify"
	"github.com/ariefcatur/go-boutique-orders/internal/orders"
	"github.com/ariefcatur/go-boutique-orders/internal/payment"
	"github.com/ariefcatur/go-boutique-orders/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const stripeSecret = "whsec_test"

// fakeCache mirrors redisx.OrderCache: invalidation fences off older versions.
type fakeCache struct {
	mu     sync.Mutex
	m      map[string]domain.Order
	fences map[string]int
	hits   int

	// beforeSet runs once, ahead of the next write.
	beforeSet func()
}

func newFakeCache() *fakeCache {
	return &fakeCache{m: map[string]domain.Order{}, fences: map[string]int{}}
}

func (c *fakeCache) Get(_ context.Context, id string) (domain.Order, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.m[id]
	if ok {
		c.hits++
	}
	return o, ok, nil
}

func (c *fakeCache) Set(_ context.Context, o domain.Order) error {
	c.mu.Lock()
	hook := c.beforeSet
	c.beforeSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if o.Version < c.fences[o.ID] {
		return nil
	}
	c.m[o.ID] = o
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, id string, version int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version > c.fences[id] {
		c.fences[id] = version
	}
	delete(c.m, id)
	return nil
}

type testServer struct {
	*httptest.Server
	st    *memstore.Store
	f     storetest.Fixture
	cache *fakeCache
	sm    *orders.StatusMachine
}

// stripeStub stands in for Stripe when only the webhook route is exercised.
type stripeStub struct{ n int }

func (s *stripeStub) Name() string { return payment.ProviderStripe }

func (s *stripeStub) CreateIntent(context.Context, payment.IntentRequest) (payment.Intent, error) {
	s.n++
	return payment.Intent{TransactionID: fmt.Sprintf("pi_%d", s.n), ClientSecret: "secret"}, nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, payment.NewSimulator("https://pay.test"))
}

func newTestServerWith(t *testing.T, provider payment.Provider) *testServer {
	t.Helper()
	st := memstore.New()
	rec := notify.NewRecorder(nil, nil, nil)
	pool := inventory.NewPool(st, rec, nil, nil)
	sm := orders.NewStatusMachine(st, pool, rec, 5, nil, nil)
	cache := newFakeCache()
	sm.UseCache(cache)

	h := &Handler{
		Store:               st,
		Cart:                cart.NewManager(st, pool, nil, nil),
		Orders:              orders.NewAssembler(st, pool, rec, nil, nil),
		Machine:             sm,
		Pool:                pool,
		Payments:            payment.NewAdapter(st, provider, sm, rec, "xof", nil, nil),
		Notifications:       notify.NewService(st, nil, nil),
		Cache:               cache,
		StripeWebhookSecret: stripeSecret,
	}
	r := NewRouter(nil)
	h.Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, st: st, f: storetest.Seed(t, st), cache: cache, sm: sm}
}

// call sends a JSON request as actorID ("" for none) and decodes the reply into out.
func (s *testServer) call(t *testing.T, actorID, method, path string, body, out any) int {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		req.Header.Set(HeaderActorID, actorID)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) checkout(t *testing.T, client domain.Actor, productID string, qty int) orderResp {
	t.Helper()
	code := s.call(t, client.ID, http.MethodPost, "/cart/add", map[string]any{"product_id": productID, "quantity": qty}, nil)
	require.Equal(t, http.StatusOK, code)
	var o orderResp
	code = s.call(t, client.ID, http.MethodPost, "/orders", createOrderReq{DeliveryAddress: "Almadies, Dakar", DeliveryPhone: "+221770000003"}, &o)
	require.Equal(t, http.StatusCreated, code)
	return o
}

func (s *testServer) initiate(t *testing.T, client domain.Actor, orderID string) paymentResp {
	t.Helper()
	var p paymentResp
	code := s.call(t, client.ID, http.MethodPost, "/payments/initiate", map[string]any{"order_id": orderID, "method": "orange_money"}, &p)
	require.Equal(t, http.StatusCreated, code)
	return p
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.Client().Get(s.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestActorRequired(t *testing.T) {
	s := newTestServer(t)
	for _, id := range []string{"", "ghost", domain.SystemActor.ID} {
		var body errorBody
		code := s.call(t, id, http.MethodGet, "/cart", nil, &body)
		assert.Equal(t, http.StatusUnauthorized, code, id)
		assert.Equal(t, domain.KindUnauthenticated, body.Error.Kind)
	}
}

func TestCheckoutAndPaymentFlow(t *testing.T) {
	s := newTestServer(t)
	p := storetest.AddProduct(t, s.st, s.f.Shop, "12500", 3)

	code := s.call(t, s.f.Client.ID, http.MethodPost, "/cart/add", map[string]any{"product_id": p.ID, "quantity": 2}, nil)
	require.Equal(t, http.StatusOK, code)
	var c cartResp
	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodGet, "/cart", nil, &c))
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "25000", c.Total.String())

	var o orderResp
	code = s.call(t, s.f.Client.ID, http.MethodPost, "/orders", createOrderReq{DeliveryAddress: "Ouakam", DeliveryPhone: "+221770000004"}, &o)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, "25000", o.TotalAmount.String())
	assert.Equal(t, 1, storetest.Product(t, s.st, p.ID).StockQuantity)

	pay := s.initiate(t, s.f.Client, o.ID)
	assert.Equal(t, domain.PaymentPending, pay.Status)
	assert.Contains(t, pay.RedirectURL, "https://pay.test/")

	var cb callbackResp
	code = s.call(t, "", http.MethodPost, "/payments/webhook", map[string]any{"status": "completed", "transaction_id": pay.TransactionID}, &cb)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, payment.OutcomeApplied, cb.Outcome)

	code = s.call(t, "", http.MethodPost, "/payments/webhook", map[string]any{"status": "completed", "invoice_token": pay.TransactionID}, &cb)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, payment.OutcomeDuplicate, cb.Outcome)
	assert.Len(t, storetest.Invoices(t, s.st, o.ID), 1)

	var got orderResp
	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodGet, "/orders/"+o.ID, nil, &got))
	assert.Equal(t, domain.StatusPaid, got.Status)

	var errBody errorBody
	code = s.call(t, s.f.Client.ID, http.MethodPut, "/orders/"+o.ID+"/status?status=SHIPPED", nil, &errBody)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, domain.KindUnauthorized, errBody.Error.Kind)

	code = s.call(t, s.f.Vendor.ID, http.MethodPut, "/orders/"+o.ID+"/status?status=CONFIRMED", nil, &got)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.StatusConfirmed, got.Status)

	var st paymentResp
	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodGet, "/payments/status/"+pay.TransactionID, nil, &st))
	assert.Equal(t, domain.PaymentCompleted, st.Status)
	assert.Equal(t, domain.StatusConfirmed, st.OrderStatus)

	code = s.call(t, s.f.Client2.ID, http.MethodGet, "/payments/status/"+pay.TransactionID, nil, &errBody)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestInsufficientStockIsConflict(t *testing.T) {
	s := newTestServer(t)
	p := storetest.AddProduct(t, s.st, s.f.Shop, "5000", 1)
	for _, c := range []domain.Actor{s.f.Client, s.f.Client2} {
		code := s.call(t, c.ID, http.MethodPost, "/cart/add", map[string]any{"product_id": p.ID, "quantity": 1}, nil)
		require.Equal(t, http.StatusOK, code)
	}
	s.call(t, s.f.Client.ID, http.MethodPost, "/orders", createOrderReq{DeliveryAddress: "a", DeliveryPhone: "b"}, nil)

	var body errorBody
	code := s.call(t, s.f.Client2.ID, http.MethodPost, "/orders", createOrderReq{DeliveryAddress: "a", DeliveryPhone: "b"}, &body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, domain.KindInsufficientStock, body.Error.Kind)
	assert.True(t, body.Error.Retryable)
	require.NotNil(t, body.Error.Shortage)
	assert.Equal(t, 0, body.Error.Shortage.Available)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)
	p := storetest.AddProduct(t, s.st, s.f.Shop, "5000", 1)
	tests := []struct {
		name string
		path string
		body any
		kind domain.Kind
	}{
		{"zero quantity", "/cart/add", map[string]any{"product_id": p.ID, "quantity": 0}, domain.KindValidation},
		{"missing product", "/cart/add", map[string]any{"quantity": 1}, domain.KindValidation},
		{"unknown field", "/cart/add", map[string]any{"product_id": p.ID, "quantity": 1, "qty": 2}, domain.KindValidation},
		{"bad json", "/cart/add", "{", domain.KindValidation},
		{"missing phone", "/orders", map[string]any{"delivery_address": "x"}, domain.KindValidation},
		{"empty cart", "/orders", createOrderReq{DeliveryAddress: "x", DeliveryPhone: "y"}, domain.KindEmptyCart},
		{"bad email", "/payments/initiate", map[string]any{"order_id": "o", "method": "card", "contact": map[string]any{"email": "nope"}}, domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			code := s.call(t, s.f.Client.ID, http.MethodPost, tt.path, tt.body, &body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, tt.kind, body.Error.Kind)
		})
	}
}

func TestWebhookAcknowledgesUnknown(t *testing.T) {
	s := newTestServer(t)
	bodies := []any{
		map[string]any{"status": "completed", "transaction_id": "nope"},
		map[string]any{"status": "weird", "transaction_id": "nope"},
		"not json",
	}
	for _, b := range bodies {
		var cb callbackResp
		code := s.call(t, "", http.MethodPost, "/payments/webhook", b, &cb)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, payment.OutcomeIgnored, cb.Outcome)
	}
}

func TestStripeWebhook(t *testing.T) {
	s := newTestServerWith(t, &stripeStub{})
	p := storetest.AddProduct(t, s.st, s.f.Shop, "7000", 2)
	o := s.checkout(t, s.f.Client, p.ID, 1)
	pay := s.initiate(t, s.f.Client, o.ID)

	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        "payment_intent.succeeded",
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": map[string]any{"id": pay.TransactionID, "object": "payment_intent"}},
	})
	require.NoError(t, err)

	post := func(sig string) (int, callbackResp) {
		req, err := http.NewRequest(http.MethodPost, s.URL+"/payments/webhook/stripe", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Stripe-Signature", sig)
		resp, err := s.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var cb callbackResp
		_ = json.NewDecoder(resp.Body).Decode(&cb)
		return resp.StatusCode, cb
	}

	code, _ := post("t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, domain.StatusPending, storetest.Order(t, s.st, o.ID).Status)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: stripeSecret, Timestamp: time.Now()})
	code, cb := post(signed.Header)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, payment.OutcomeApplied, cb.Outcome)
	assert.Equal(t, domain.StatusPaid, storetest.Order(t, s.st, o.ID).Status)
}

func TestStripeModeRejectsUnsignedWebhook(t *testing.T) {
	s := newTestServerWith(t, &stripeStub{})
	p := storetest.AddProduct(t, s.st, s.f.Shop, "7000", 2)
	o := s.checkout(t, s.f.Client, p.ID, 1)
	pay := s.initiate(t, s.f.Client, o.ID)

	code := s.call(t, "", http.MethodPost, "/payments/webhook", map[string]any{"status": "succeeded", "transaction_id": pay.TransactionID}, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, domain.StatusPending, storetest.Order(t, s.st, o.ID).Status)
	assert.Empty(t, storetest.Invoices(t, s.st, o.ID))
}

func TestSimulatorModeHasNoStripeRoute(t *testing.T) {
	s := newTestServer(t)
	code := s.call(t, "", http.MethodPost, "/payments/webhook/stripe", map[string]any{"type": "payment_intent.succeeded"}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestOrderCacheReadThrough(t *testing.T) {
	s := newTestServer(t)
	p := storetest.AddProduct(t, s.st, s.f.Shop, "3000", 5)
	o := s.checkout(t, s.f.Client, p.ID, 1)

	var got orderResp
	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodGet, "/orders/"+o.ID, nil, &got))
	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodGet, "/orders/"+o.ID, nil, &got))
	assert.Equal(t, 1, s.cache.hits)

	var body errorBody
	code := s.call(t, s.f.Client2.ID, http.MethodGet, "/orders/"+o.ID, nil, &body)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, 2, s.cache.hits)

	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodPut, "/orders/"+o.ID+"/status?status=CANCELLED", nil, &got))
	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodGet, "/orders/"+o.ID, nil, &got))
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, 2, s.cache.hits)
}

func TestOrderCacheSkipsReadThatRacedTransition(t *testing.T) {
	s := newTestServer(t)
	p := storetest.AddProduct(t, s.st, s.f.Shop, "3000", 5)
	o := s.checkout(t, s.f.Client, p.ID, 1)

	// the transition commits after the handler read the order but before it cached it
	s.cache.beforeSet = func() {
		_, err := s.sm.Transition(context.Background(), s.f.Vendor, o.ID, domain.StatusConfirmed)
		assert.NoError(t, err)
	}

	var got orderResp
	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodGet, "/orders/"+o.ID, nil, &got))
	assert.Equal(t, domain.StatusPending, got.Status)

	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodGet, "/orders/"+o.ID, nil, &got))
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, 0, s.cache.hits)
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t)
	p := storetest.AddProduct(t, s.st, s.f.Shop, "3000", 0)
	path := "/products/" + p.ID

	var prod productResp
	require.Equal(t, http.StatusOK, s.call(t, s.f.Vendor.ID, http.MethodPost, path+"/restock", map[string]any{"quantity": 4}, &prod))
	assert.Equal(t, 4, prod.StockQuantity)
	assert.True(t, prod.Available)

	var body errorBody
	assert.Equal(t, http.StatusForbidden, s.call(t, s.f.Vendor2.ID, http.MethodPost, path+"/restock", map[string]any{"quantity": 1}, &body))

	require.Equal(t, http.StatusOK, s.call(t, s.f.Vendor.ID, http.MethodPut, path+"/availability", map[string]any{"available": false}, &prod))
	assert.False(t, prod.Available)
	assert.Equal(t, http.StatusBadRequest, s.call(t, s.f.Vendor.ID, http.MethodPut, path+"/availability", map[string]any{}, &body))

	require.Equal(t, http.StatusOK, s.call(t, s.f.Admin.ID, http.MethodPut, path+"/price", map[string]any{"price": "3500.50"}, &prod))
	assert.Equal(t, "3500.5", prod.Price.String())
	assert.Equal(t, http.StatusBadRequest, s.call(t, s.f.Vendor.ID, http.MethodPut, path+"/price", map[string]any{"price": "-1"}, &body))
	assert.Equal(t, domain.KindValidation, body.Error.Kind)
}

func TestNotificationsEndpoints(t *testing.T) {
	s := newTestServer(t)
	p := storetest.AddProduct(t, s.st, s.f.Shop, "3000", 5)
	s.checkout(t, s.f.Client, p.ID, 1)

	var list []notificationResp
	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodGet, "/notifications", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, domain.NotifyOrderCreated, list[0].Type)
	assert.False(t, list[0].IsRead)

	var body errorBody
	assert.Equal(t, http.StatusForbidden, s.call(t, s.f.Client2.ID, http.MethodPut, "/notifications/"+list[0].ID+"/read", nil, &body))
	assert.Equal(t, http.StatusNoContent, s.call(t, s.f.Client.ID, http.MethodPut, "/notifications/"+list[0].ID+"/read", nil, nil))

	require.Equal(t, http.StatusOK, s.call(t, s.f.Client.ID, http.MethodGet, "/notifications", nil, &list))
	assert.True(t, list[0].IsRead)
}

func TestStatusFor(t *testing.T) {
	tests := map[domain.Kind]int{
		domain.KindNotFound:          http.StatusNotFound,
		domain.KindInsufficientStock: http.StatusConflict,
		domain.KindInvalidTransition: http.StatusConflict,
		domain.KindOrderNotPending:   http.StatusConflict,
		domain.KindConflict:          http.StatusConflict,
		domain.KindUnauthenticated:   http.StatusUnauthorized,
		domain.KindUnauthorized:      http.StatusForbidden,
		domain.KindValidation:        http.StatusBadRequest,
		domain.KindEmptyCart:         http.StatusBadRequest,
		domain.KindExternalProvider:  http.StatusBadGateway,
		"":                           http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), string(kind))
	}
}
