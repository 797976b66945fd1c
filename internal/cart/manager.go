// Package cart keeps each actor's pending lines. Adding checks availability
// but reserves nothing; stock is committed only when the order is created.
package cart

import (
	"context"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/inventory"
	"github.com/ariefcatur/go-boutique-orders/internal/metrics"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AddInput struct {
	ProductID string
	VariantID string
	Quantity  int
	Options   domain.Options
}

// Line is a cart line priced at the current catalog price.
type Line struct {
	domain.CartLine
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	Available bool
}

type Manager struct {
	st   store.Store
	pool *inventory.Pool
	log  *zap.Logger
	m    *metrics.Metrics
}

func NewManager(st store.Store, pool *inventory.Pool, log *zap.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{st: st, pool: pool, log: log.With(zap.String("component", "cart")), m: m}
}

// Add merges into the line with the same product, variant and options, or
// inserts a new one. The merged quantity must be available right now.
func (c *Manager) Add(ctx context.Context, actor domain.Actor, in AddInput) (out domain.CartLine, err error) {
	defer c.m.Observe("cart.add", time.Now(), &err)
	if in.Quantity < 1 {
		return domain.CartLine{}, domain.E(domain.KindValidation, "quantity must be at least 1")
	}
	err = c.st.WithTx(ctx, func(tx store.Tx) error {
		lines, err := tx.ListCartLines(ctx, actor.ID)
		if err != nil {
			return err
		}
		var existing *domain.CartLine
		for i := range lines {
			if lines[i].Matches(in.ProductID, in.VariantID, in.Options) {
				existing = &lines[i]
				break
			}
		}

		want := in.Quantity
		if existing != nil {
			want += existing.Quantity
		}
		ref := inventory.Ref{ProductID: in.ProductID, VariantID: in.VariantID}
		ok, err := c.pool.CheckAvailable(ctx, tx, ref, want)
		if err != nil {
			return err
		}
		if !ok {
			return domain.E(domain.KindInsufficientStock, "not enough stock for %d of product %s", want, in.ProductID)
		}

		if existing != nil {
			existing.Quantity = want
			out = *existing
			return tx.SetCartLineQuantity(ctx, existing.ID, want)
		}
		out = domain.CartLine{
			ID:        uuid.NewString(),
			ActorID:   actor.ID,
			ProductID: in.ProductID,
			VariantID: in.VariantID,
			Quantity:  in.Quantity,
			Options:   in.Options,
			CreatedAt: time.Now().UTC(),
		}
		return tx.InsertCartLine(ctx, out)
	})
	if err == nil {
		c.log.Debug("cart_line_added", zap.String("actor_id", actor.ID), zap.String("line_id", out.ID), zap.Int("qty", out.Quantity))
	}
	return out, err
}

func (c *Manager) Remove(ctx context.Context, actor domain.Actor, lineID string) (err error) {
	defer c.m.Observe("cart.remove", time.Now(), &err)
	return c.st.WithTx(ctx, func(tx store.Tx) error {
		l, err := tx.GetCartLine(ctx, lineID)
		if err != nil {
			return err
		}
		if l.ActorID != actor.ID {
			return domain.E(domain.KindUnauthorized, "cart line %s belongs to another actor", lineID)
		}
		return tx.DeleteCartLine(ctx, lineID)
	})
}

func (c *Manager) Clear(ctx context.Context, actor domain.Actor) (err error) {
	defer c.m.Observe("cart.clear", time.Now(), &err)
	return c.st.WithTx(ctx, func(tx store.Tx) error {
		return tx.ClearCart(ctx, actor.ID)
	})
}

// List returns the actor's lines in insertion order. Prices are read live and
// may differ from what the order will lock in if the vendor changes them.
func (c *Manager) List(ctx context.Context, actor domain.Actor) (out []Line, err error) {
	defer c.m.Observe("cart.list", time.Now(), &err)
	err = c.st.WithTx(ctx, func(tx store.Tx) error {
		lines, err := tx.ListCartLines(ctx, actor.ID)
		if err != nil {
			return err
		}
		out = make([]Line, 0, len(lines))
		for _, l := range lines {
			p, err := tx.GetProduct(ctx, l.ProductID)
			if err != nil {
				return err
			}
			var v *domain.ProductVariant
			stock := p.StockQuantity
			if l.VariantID != "" {
				pv, err := tx.GetVariant(ctx, l.VariantID)
				if err != nil {
					return err
				}
				v, stock = &pv, pv.Stock
			}
			price := domain.UnitPrice(p, v)
			out = append(out, Line{
				CartLine:  l,
				UnitPrice: price,
				LineTotal: price.Mul(decimal.NewFromInt(int64(l.Quantity))),
				Available: !p.Disabled && stock >= l.Quantity,
			})
		}
		return nil
	})
	return out, err
}
