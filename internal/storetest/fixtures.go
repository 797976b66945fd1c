// Package storetest holds seed helpers and a behaviour suite that every
// store.Store implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Fixture is the cast most tests need: two clients, two vendors with one shop
// each, and an admin.
type Fixture struct {
	Client  domain.Actor
	Client2 domain.Actor
	Vendor  domain.Actor
	Vendor2 domain.Actor
	Admin   domain.Actor
	Shop    domain.Shop
	Shop2   domain.Shop
}

func Seed(t testing.TB, st store.Store) Fixture {
	t.Helper()
	f := Fixture{
		Client:  domain.Actor{ID: "client-" + uuid.NewString()[:8], Role: domain.RoleClient},
		Client2: domain.Actor{ID: "client-" + uuid.NewString()[:8], Role: domain.RoleClient},
		Vendor:  domain.Actor{ID: "vendor-" + uuid.NewString()[:8], Role: domain.RoleVendor},
		Vendor2: domain.Actor{ID: "vendor-" + uuid.NewString()[:8], Role: domain.RoleVendor},
		Admin:   domain.Actor{ID: "admin-" + uuid.NewString()[:8], Role: domain.RoleAdmin},
	}
	f.Shop = domain.Shop{ID: uuid.NewString(), VendorID: f.Vendor.ID, Name: "Atelier Dakar"}
	f.Shop2 = domain.Shop{ID: uuid.NewString(), VendorID: f.Vendor2.ID, Name: "Maison Thies"}

	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		for _, a := range []domain.Actor{f.Client, f.Client2, f.Vendor, f.Vendor2, f.Admin} {
			if err := tx.InsertActor(context.Background(), a); err != nil {
				return err
			}
		}
		if err := tx.InsertShop(context.Background(), f.Shop); err != nil {
			return err
		}
		return tx.InsertShop(context.Background(), f.Shop2)
	})
	require.NoError(t, err)
	return f
}

// AddProduct inserts a product with the given price and stock.
func AddProduct(t testing.TB, st store.Store, shop domain.Shop, price string, stock int) domain.Product {
	t.Helper()
	now := time.Now().UTC()
	p := domain.Product{
		ID:            uuid.NewString(),
		ShopID:        shop.ID,
		VendorID:      shop.VendorID,
		Name:          "Boubou " + uuid.NewString()[:4],
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertProduct(context.Background(), p)
	}))
	return p
}

// AddVariant inserts a variant and re-derives the product stock as the sum of
// its variants, the way the inventory pool keeps it.
func AddVariant(t testing.TB, st store.Store, productID string, stock int, adjustment, color string) domain.ProductVariant {
	t.Helper()
	v := domain.ProductVariant{
		ID:              uuid.NewString(),
		ProductID:       productID,
		Stock:           stock,
		PriceAdjustment: decimal.RequireFromString(adjustment),
		Color:           color,
		Size:            "M",
	}
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		ctx := context.Background()
		if err := tx.InsertVariant(ctx, v); err != nil {
			return err
		}
		vs, err := tx.ListVariants(ctx, productID)
		if err != nil {
			return err
		}
		sum := 0
		for _, x := range vs {
			sum += x.Stock
		}
		return tx.SetProductStock(ctx, productID, sum)
	}))
	return v
}

func Product(t testing.TB, st store.Store, id string) domain.Product {
	t.Helper()
	var p domain.Product
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		p, err = tx.GetProduct(context.Background(), id)
		return err
	}))
	return p
}

func Variant(t testing.TB, st store.Store, id string) domain.ProductVariant {
	t.Helper()
	var v domain.ProductVariant
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		v, err = tx.GetVariant(context.Background(), id)
		return err
	}))
	return v
}

func Order(t testing.TB, st store.Store, id string) domain.Order {
	t.Helper()
	var o domain.Order
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		o, err = tx.GetOrder(context.Background(), id)
		return err
	}))
	return o
}

func Notifications(t testing.TB, st store.Store, actorID string) []domain.Notification {
	t.Helper()
	var out []domain.Notification
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListNotifications(context.Background(), actorID)
		return err
	}))
	return out
}

// CountNotifications counts the actor's notifications of one type.
func CountNotifications(t testing.TB, st store.Store, actorID string, typ domain.NotificationType) int {
	t.Helper()
	n := 0
	for _, x := range Notifications(t, st, actorID) {
		if x.Type == typ {
			n++
		}
	}
	return n
}

func Invoices(t testing.TB, st store.Store, orderID string) []domain.Invoice {
	t.Helper()
	var out []domain.Invoice
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListInvoices(context.Background(), orderID)
		return err
	}))
	return out
}

func Payments(t testing.TB, st store.Store, orderID string) []domain.Payment {
	t.Helper()
	var out []domain.Payment
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListPayments(context.Background(), orderID)
		return err
	}))
	return out
}

// AddCartLine writes a cart line directly, bypassing availability checks.
func AddCartLine(t testing.TB, st store.Store, actorID, productID, variantID string, qty int) domain.CartLine {
	t.Helper()
	l := domain.CartLine{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		ProductID: productID,
		VariantID: variantID,
		Quantity:  qty,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertCartLine(context.Background(), l)
	}))
	return l
}

// Line describes a cart line to seed.
type Line struct {
	ProductID string
	VariantID string
	Quantity  int
}
