// Package memstore is an in-memory store.Store. Transactions work on a copy of
// the whole state under one mutex, so they are serialisable and a failed unit of
// work leaves nothing behind.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/shopspring/decimal"
)

type state struct {
	actors        map[string]domain.Actor
	shops         map[string]domain.Shop
	products      map[string]domain.Product
	variants      map[string]domain.ProductVariant
	cart          map[string]domain.CartLine
	orders        map[string]domain.Order
	payments      map[string]domain.Payment // by transaction id
	invoices      map[string]domain.Invoice
	notifications map[string]domain.Notification
}

func newState() *state {
	return &state{
		actors:        map[string]domain.Actor{},
		shops:         map[string]domain.Shop{},
		products:      map[string]domain.Product{},
		variants:      map[string]domain.ProductVariant{},
		cart:          map[string]domain.CartLine{},
		orders:        map[string]domain.Order{},
		payments:      map[string]domain.Payment{},
		invoices:      map[string]domain.Invoice{},
		notifications: map[string]domain.Notification{},
	}
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	orders := make(map[string]domain.Order, len(s.orders))
	for k, o := range s.orders {
		orders[k] = cloneOrder(o)
	}
	return &state{
		actors:        copyMap(s.actors),
		shops:         copyMap(s.shops),
		products:      copyMap(s.products),
		variants:      copyMap(s.variants),
		cart:          copyMap(s.cart),
		orders:        orders,
		payments:      copyMap(s.payments),
		invoices:      copyMap(s.invoices),
		notifications: copyMap(s.notifications),
	}
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := s.commit(fn)
	if err != nil {
		return err
	}
	for _, h := range t.hooks {
		h()
	}
	return nil
}

// commit runs fn on a copy of the state and swaps it in on success. The
// unlock is deferred so a panic in fn leaves the store usable.
func (s *Store) commit(fn func(tx store.Tx) error) (*tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tx{st: s.st.clone()}
	if err := fn(t); err != nil {
		return nil, err
	}
	s.st = t.st
	return t, nil
}

type tx struct {
	st    *state
	hooks []func()
}

func (t *tx) AfterCommit(fn func()) { t.hooks = append(t.hooks, fn) }

func notFound(what, id string) error {
	return domain.E(domain.KindNotFound, "%s %s not found", what, id)
}

// ---- actors ----

func (t *tx) GetActor(_ context.Context, id string) (domain.Actor, error) {
	a, ok := t.st.actors[id]
	if !ok {
		return domain.Actor{}, notFound("actor", id)
	}
	return a, nil
}

func (t *tx) InsertActor(_ context.Context, a domain.Actor) error {
	if _, ok := t.st.actors[a.ID]; ok {
		return domain.E(domain.KindConflict, "actor %s exists", a.ID)
	}
	t.st.actors[a.ID] = a
	return nil
}

// ---- catalog ----

func (t *tx) InsertShop(_ context.Context, s domain.Shop) error {
	if _, ok := t.st.shops[s.ID]; ok {
		return domain.E(domain.KindConflict, "shop %s exists", s.ID)
	}
	t.st.shops[s.ID] = s
	return nil
}

func (t *tx) InsertProduct(_ context.Context, p domain.Product) error {
	if _, ok := t.st.products[p.ID]; ok {
		return domain.E(domain.KindConflict, "product %s exists", p.ID)
	}
	if _, ok := t.st.shops[p.ShopID]; !ok {
		return notFound("shop", p.ShopID)
	}
	p.VendorID = ""
	t.st.products[p.ID] = p
	return nil
}

func (t *tx) InsertVariant(_ context.Context, v domain.ProductVariant) error {
	if _, ok := t.st.variants[v.ID]; ok {
		return domain.E(domain.KindConflict, "variant %s exists", v.ID)
	}
	if _, ok := t.st.products[v.ProductID]; !ok {
		return notFound("product", v.ProductID)
	}
	t.st.variants[v.ID] = v
	return nil
}

func (t *tx) DeleteVariant(_ context.Context, id string) error {
	if _, ok := t.st.variants[id]; !ok {
		return notFound("variant", id)
	}
	delete(t.st.variants, id)
	return nil
}

func (t *tx) GetProduct(_ context.Context, id string) (domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return domain.Product{}, notFound("product", id)
	}
	p.VendorID = t.st.shops[p.ShopID].VendorID
	return p, nil
}

func (t *tx) LockProduct(ctx context.Context, id string) (domain.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *tx) GetVariant(_ context.Context, id string) (domain.ProductVariant, error) {
	v, ok := t.st.variants[id]
	if !ok {
		return domain.ProductVariant{}, notFound("variant", id)
	}
	return v, nil
}

func (t *tx) LockVariant(ctx context.Context, id string) (domain.ProductVariant, error) {
	return t.GetVariant(ctx, id)
}

func (t *tx) ListVariants(_ context.Context, productID string) ([]domain.ProductVariant, error) {
	var out []domain.ProductVariant
	for _, v := range t.st.variants {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) updateProduct(id string, fn func(p *domain.Product)) error {
	p, ok := t.st.products[id]
	if !ok {
		return notFound("product", id)
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC()
	t.st.products[id] = p
	return nil
}

func (t *tx) SetProductStock(_ context.Context, id string, stock int) error {
	return t.updateProduct(id, func(p *domain.Product) { p.StockQuantity = stock })
}

func (t *tx) SetProductDisabled(_ context.Context, id string, disabled bool) error {
	return t.updateProduct(id, func(p *domain.Product) { p.Disabled = disabled })
}

func (t *tx) SetProductPrice(_ context.Context, id string, price decimal.Decimal) error {
	return t.updateProduct(id, func(p *domain.Product) { p.Price = price })
}

func (t *tx) SetVariantStock(_ context.Context, id string, stock int) error {
	v, ok := t.st.variants[id]
	if !ok {
		return notFound("variant", id)
	}
	v.Stock = stock
	t.st.variants[id] = v
	return nil
}

// ---- cart ----

func (t *tx) ListCartLines(_ context.Context, actorID string) ([]domain.CartLine, error) {
	var out []domain.CartLine
	for _, l := range t.st.cart {
		if l.ActorID == actorID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) GetCartLine(_ context.Context, id string) (domain.CartLine, error) {
	l, ok := t.st.cart[id]
	if !ok {
		return domain.CartLine{}, notFound("cart line", id)
	}
	return l, nil
}

func (t *tx) InsertCartLine(_ context.Context, l domain.CartLine) error {
	t.st.cart[l.ID] = l
	return nil
}

func (t *tx) SetCartLineQuantity(_ context.Context, id string, qty int) error {
	l, ok := t.st.cart[id]
	if !ok {
		return notFound("cart line", id)
	}
	l.Quantity = qty
	t.st.cart[id] = l
	return nil
}

func (t *tx) DeleteCartLine(_ context.Context, id string) error {
	if _, ok := t.st.cart[id]; !ok {
		return notFound("cart line", id)
	}
	delete(t.st.cart, id)
	return nil
}

func (t *tx) ClearCart(_ context.Context, actorID string) error {
	for id, l := range t.st.cart {
		if l.ActorID == actorID {
			delete(t.st.cart, id)
		}
	}
	return nil
}

// ---- orders ----

func (t *tx) InsertOrder(_ context.Context, o domain.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return domain.E(domain.KindConflict, "order %s exists", o.ID)
	}
	t.st.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *tx) GetOrder(_ context.Context, id string) (domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.Order{}, notFound("order", id)
	}
	return cloneOrder(o), nil
}

func (t *tx) ListOrders(_ context.Context, f store.OrderFilter) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range t.st.orders {
		if f.ClientID != "" && o.ClientID != f.ClientID {
			continue
		}
		if f.VendorID != "" && !o.HasVendor(f.VendorID) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) UpdateOrderStatus(_ context.Context, id string, expectedVersion int, status domain.OrderStatus, at time.Time) error {
	o, ok := t.st.orders[id]
	if !ok {
		return notFound("order", id)
	}
	if o.Version != expectedVersion {
		return domain.E(domain.KindConflict, "order %s changed concurrently", id)
	}
	o.Status = status
	o.Version++
	o.UpdatedAt = at
	t.st.orders[id] = o
	return nil
}

// ---- payments ----

func (t *tx) InsertPayment(_ context.Context, p domain.Payment) error {
	if _, ok := t.st.payments[p.TransactionID]; ok {
		return domain.E(domain.KindConflict, "payment %s exists", p.TransactionID)
	}
	t.st.payments[p.TransactionID] = p
	return nil
}

func (t *tx) GetPaymentByTransaction(_ context.Context, txID string) (domain.Payment, error) {
	p, ok := t.st.payments[txID]
	if !ok {
		return domain.Payment{}, notFound("payment", txID)
	}
	return p, nil
}

func (t *tx) LockPaymentByTransaction(ctx context.Context, txID string) (domain.Payment, error) {
	return t.GetPaymentByTransaction(ctx, txID)
}

func (t *tx) ListPayments(_ context.Context, orderID string) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range t.st.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out, nil
}

func (t *tx) SetPaymentStatus(_ context.Context, txID string, from, to domain.PaymentStatus, at time.Time) (bool, error) {
	p, ok := t.st.payments[txID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	t.st.payments[txID] = p
	return true, nil
}

func (t *tx) InsertInvoice(_ context.Context, inv domain.Invoice) error {
	for _, existing := range t.st.invoices {
		if existing.PaymentID == inv.PaymentID {
			return domain.E(domain.KindConflict, "invoice for payment %s exists", inv.PaymentID)
		}
	}
	t.st.invoices[inv.ID] = inv
	return nil
}

func (t *tx) ListInvoices(_ context.Context, orderID string) ([]domain.Invoice, error) {
	var out []domain.Invoice
	for _, inv := range t.st.invoices {
		if inv.OrderID == orderID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

// ---- notifications ----

func (t *tx) InsertNotification(_ context.Context, n domain.Notification) error {
	t.st.notifications[n.ID] = n
	return nil
}

func (t *tx) GetNotification(_ context.Context, id string) (domain.Notification, error) {
	n, ok := t.st.notifications[id]
	if !ok {
		return domain.Notification{}, notFound("notification", id)
	}
	return n, nil
}

func (t *tx) ListNotifications(_ context.Context, actorID string) ([]domain.Notification, error) {
	var out []domain.Notification
	for _, n := range t.st.notifications {
		if n.ActorID == actorID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) MarkNotificationRead(_ context.Context, id string) error {
	n, ok := t.st.notifications[id]
	if !ok {
		return notFound("notification", id)
	}
	n.IsRead = true
	t.st.notifications[id] = n
	return nil
}
