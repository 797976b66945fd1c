package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// Run exercises the store contract against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("RollbackDiscardsWrites", func(t *testing.T) {
		st := newStore(t)
		f := Seed(t, st)
		p := AddProduct(t, st, f.Shop, "10.00", 5)

		err := st.WithTx(context.Background(), func(tx store.Tx) error {
			if err := tx.SetProductStock(context.Background(), p.ID, 1); err != nil {
				return err
			}
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, 5, Product(t, st, p.ID).StockQuantity)
	})

	t.Run("AfterCommitHooks", func(t *testing.T) {
		st := newStore(t)
		ran := 0
		require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
			tx.AfterCommit(func() { ran++ })
			assert.Zero(t, ran, "hook ran before commit")
			return nil
		}))
		assert.Equal(t, 1, ran)

		_ = st.WithTx(context.Background(), func(tx store.Tx) error {
			tx.AfterCommit(func() { ran++ })
			return errBoom
		})
		assert.Equal(t, 1, ran, "hook of rolled back tx ran")
	})

	t.Run("MissingRowsAreNotFound", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		checks := map[string]func(tx store.Tx) error{
			"actor":   func(tx store.Tx) error { _, err := tx.GetActor(ctx, "nope"); return err },
			"product": func(tx store.Tx) error { _, err := tx.GetProduct(ctx, "nope"); return err },
			"lock":    func(tx store.Tx) error { _, err := tx.LockProduct(ctx, "nope"); return err },
			"variant": func(tx store.Tx) error { _, err := tx.GetVariant(ctx, "nope"); return err },
			"order":   func(tx store.Tx) error { _, err := tx.GetOrder(ctx, "nope"); return err },
			"payment": func(tx store.Tx) error { _, err := tx.GetPaymentByTransaction(ctx, "nope"); return err },
			"notification": func(tx store.Tx) error {
				_, err := tx.GetNotification(ctx, "nope")
				return err
			},
			"stock":     func(tx store.Tx) error { return tx.SetProductStock(ctx, "nope", 1) },
			"cart line": func(tx store.Tx) error { return tx.DeleteCartLine(ctx, "nope") },
		}
		for name, fn := range checks {
			err := st.WithTx(ctx, fn)
			assert.ErrorIs(t, err, domain.ErrNotFound, name)
		}
	})

	t.Run("ProductCarriesVendor", func(t *testing.T) {
		st := newStore(t)
		f := Seed(t, st)
		p := AddProduct(t, st, f.Shop2, "12.50", 3)

		got := Product(t, st, p.ID)
		assert.Equal(t, f.Vendor2.ID, got.VendorID)
		assert.True(t, got.Price.Equal(decimal.RequireFromString("12.5")), got.Price.String())
	})

	t.Run("VariantsAndDelete", func(t *testing.T) {
		st := newStore(t)
		f := Seed(t, st)
		p := AddProduct(t, st, f.Shop, "20.00", 0)
		red := AddVariant(t, st, p.ID, 2, "1.50", "red")
		AddVariant(t, st, p.ID, 3, "0", "blue")
		assert.Equal(t, 5, Product(t, st, p.ID).StockQuantity)
		assert.True(t, Variant(t, st, red.ID).PriceAdjustment.Equal(decimal.RequireFromString("1.5")))

		require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
			return tx.DeleteVariant(context.Background(), red.ID)
		}))
		err := st.WithTx(context.Background(), func(tx store.Tx) error {
			vs, err := tx.ListVariants(context.Background(), p.ID)
			require.NoError(t, err)
			assert.Len(t, vs, 1)
			_, err = tx.GetVariant(context.Background(), red.ID)
			return err
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("CartOptionsKeepAbsence", func(t *testing.T) {
		st := newStore(t)
		f := Seed(t, st)
		p := AddProduct(t, st, f.Shop, "5.00", 9)
		empty, red := "", "red"
		lines := []domain.CartLine{
			{ID: uuid.NewString(), ActorID: f.Client.ID, ProductID: p.ID, Quantity: 1, CreatedAt: time.Now().UTC()},
			{ID: uuid.NewString(), ActorID: f.Client.ID, ProductID: p.ID, Quantity: 2, CreatedAt: time.Now().UTC().Add(time.Millisecond),
				Options: domain.Options{Color: &empty, Size: &red}},
		}
		require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
			for _, l := range lines {
				if err := tx.InsertCartLine(context.Background(), l); err != nil {
					return err
				}
			}
			return tx.SetCartLineQuantity(context.Background(), lines[0].ID, 4)
		}))

		require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
			got, err := tx.ListCartLines(context.Background(), f.Client.ID)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, 4, got[0].Quantity)
			assert.Empty(t, got[0].VariantID)
			assert.Nil(t, got[0].Options.Color)
			require.NotNil(t, got[1].Options.Color)
			assert.Equal(t, "", *got[1].Options.Color)
			assert.True(t, got[1].Options.Equal(lines[1].Options))

			if err := tx.ClearCart(context.Background(), f.Client.ID); err != nil {
				return err
			}
			got, err = tx.ListCartLines(context.Background(), f.Client.ID)
			require.NoError(t, err)
			assert.Empty(t, got)
			return nil
		}))
	})

	t.Run("OrderVersionGuard", func(t *testing.T) {
		st := newStore(t)
		f := Seed(t, st)
		o := insertOrder(t, st, f)

		ctx := context.Background()
		require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
			return tx.UpdateOrderStatus(ctx, o.ID, 1, domain.StatusConfirmed, time.Now().UTC())
		}))
		err := st.WithTx(ctx, func(tx store.Tx) error {
			return tx.UpdateOrderStatus(ctx, o.ID, 1, domain.StatusCancelled, time.Now().UTC())
		})
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.True(t, domain.IsRetryable(err))

		err = st.WithTx(ctx, func(tx store.Tx) error {
			return tx.UpdateOrderStatus(ctx, "nope", 1, domain.StatusCancelled, time.Now().UTC())
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		got := Order(t, st, o.ID)
		assert.Equal(t, domain.StatusConfirmed, got.Status)
		assert.Equal(t, 2, got.Version)
		require.Len(t, got.Items, 1)
		assert.Equal(t, f.Vendor.ID, got.Items[0].VendorID)
		assert.True(t, got.TotalAmount.Equal(got.ItemsTotal()))
	})

	t.Run("ListOrdersFilters", func(t *testing.T) {
		st := newStore(t)
		f := Seed(t, st)
		o := insertOrder(t, st, f)

		list := func(filter store.OrderFilter) []domain.Order {
			var out []domain.Order
			require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
				var err error
				out, err = tx.ListOrders(context.Background(), filter)
				return err
			}))
			return out
		}
		require.Len(t, list(store.OrderFilter{ClientID: f.Client.ID}), 1)
		assert.Len(t, list(store.OrderFilter{ClientID: f.Client.ID})[0].Items, 1)
		assert.Empty(t, list(store.OrderFilter{ClientID: f.Client2.ID}))
		assert.Equal(t, o.ID, list(store.OrderFilter{VendorID: f.Vendor.ID})[0].ID)
		assert.Empty(t, list(store.OrderFilter{VendorID: f.Vendor2.ID}))
	})

	t.Run("PaymentsAndInvoices", func(t *testing.T) {
		st := newStore(t)
		f := Seed(t, st)
		o := insertOrder(t, st, f)
		ctx := context.Background()
		now := time.Now().UTC()
		p := domain.Payment{
			ID: uuid.NewString(), OrderID: o.ID, TransactionID: "tx-" + uuid.NewString()[:8],
			Amount: o.TotalAmount, Status: domain.PaymentPending, Method: "card", Provider: "sim",
			CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.InsertPayment(ctx, p) }))

		dup := p
		dup.ID = uuid.NewString()
		err := st.WithTx(ctx, func(tx store.Tx) error { return tx.InsertPayment(ctx, dup) })
		assert.ErrorIs(t, err, domain.ErrConflict)

		var changed bool
		require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
			var err error
			changed, err = tx.SetPaymentStatus(ctx, p.TransactionID, domain.PaymentPending, domain.PaymentCompleted, now)
			return err
		}))
		assert.True(t, changed)
		require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
			var err error
			changed, err = tx.SetPaymentStatus(ctx, p.TransactionID, domain.PaymentPending, domain.PaymentFailed, now)
			return err
		}))
		assert.False(t, changed)

		got := Payments(t, st, o.ID)
		require.Len(t, got, 1)
		assert.Equal(t, domain.PaymentCompleted, got[0].Status)

		inv := domain.Invoice{ID: uuid.NewString(), OrderID: o.ID, PaymentID: p.ID, Number: "INV-1", Amount: p.Amount, IssuedAt: now}
		require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.InsertInvoice(ctx, inv) }))
		inv2 := inv
		inv2.ID, inv2.Number = uuid.NewString(), "INV-2"
		err = st.WithTx(ctx, func(tx store.Tx) error { return tx.InsertInvoice(ctx, inv2) })
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Len(t, Invoices(t, st, o.ID), 1)
	})

	t.Run("Notifications", func(t *testing.T) {
		st := newStore(t)
		f := Seed(t, st)
		ctx := context.Background()
		n := domain.Notification{
			ID: uuid.NewString(), ActorID: f.Client.ID, Title: "Hi", Body: "there",
			Type: domain.NotifyOrderCreated, ReferenceID: "o-1", CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.InsertNotification(ctx, n); err != nil {
				return err
			}
			return tx.MarkNotificationRead(ctx, n.ID)
		}))
		got := Notifications(t, st, f.Client.ID)
		require.Len(t, got, 1)
		assert.True(t, got[0].IsRead)
		assert.Equal(t, domain.NotifyOrderCreated, got[0].Type)
		assert.Empty(t, Notifications(t, st, f.Client2.ID))
	})
}

// insertOrder writes a one-item PENDING order for f.Client from f.Vendor's shop.
func insertOrder(t *testing.T, st store.Store, f Fixture) domain.Order {
	t.Helper()
	p := AddProduct(t, st, f.Shop, "7.25", 10)
	now := time.Now().UTC()
	o := domain.Order{
		ID:              uuid.NewString(),
		ClientID:        f.Client.ID,
		Status:          domain.StatusPending,
		DeliveryAddress: "12 Rue Carnot, Dakar",
		DeliveryPhone:   "+221770000000",
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.Items = []domain.OrderItem{{
		ID: uuid.NewString(), OrderID: o.ID, ProductID: p.ID, VendorID: f.Vendor.ID,
		Quantity: 2, UnitPrice: p.Price,
	}}
	o.TotalAmount = o.ItemsTotal()
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertOrder(context.Background(), o)
	}))
	return o
}
