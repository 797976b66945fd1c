// Package inventory owns the stock counters. Nothing else writes
// stock_quantity or variant stock.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/metrics"
	"github.com/ariefcatur/go-boutique-orders/internal/notify"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ref points at the counter an operation works on: the variant's when
// VariantID is set, the product's otherwise.
type Ref struct {
	ProductID string
	VariantID string
}

// Committed is the locked snapshot a commit worked against, after the decrement.
type Committed struct {
	Product domain.Product
	Variant *domain.ProductVariant
}

type Pool struct {
	st  store.Store
	rec *notify.Recorder
	log *zap.Logger
	m   *metrics.Metrics
}

func NewPool(st store.Store, rec *notify.Recorder, log *zap.Logger, m *metrics.Metrics) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = notify.NewRecorder(nil, log, m)
	}
	return &Pool{st: st, rec: rec, log: log.With(zap.String("component", "inventory")), m: m}
}

func checkQty(qty int) error {
	if qty < 1 {
		return domain.E(domain.KindValidation, "quantity must be at least 1, got %d", qty)
	}
	return nil
}

// counter resolves which stock counter ref designates. lock selects FOR UPDATE reads.
func counter(ctx context.Context, tx store.Tx, ref Ref, lock bool) (domain.Product, *domain.ProductVariant, error) {
	getP, getV := tx.GetProduct, tx.GetVariant
	if lock {
		getP, getV = tx.LockProduct, tx.LockVariant
	}
	p, err := getP(ctx, ref.ProductID)
	if err != nil {
		return domain.Product{}, nil, err
	}
	if ref.VariantID == "" {
		vs, err := tx.ListVariants(ctx, p.ID)
		if err != nil {
			return domain.Product{}, nil, err
		}
		if len(vs) > 0 {
			return domain.Product{}, nil, domain.E(domain.KindValidation, "product %s has variants, pick one", p.ID)
		}
		return p, nil, nil
	}
	v, err := getV(ctx, ref.VariantID)
	if err != nil {
		return domain.Product{}, nil, err
	}
	if v.ProductID != p.ID {
		return domain.Product{}, nil, domain.E(domain.KindNotFound, "variant %s not found on product %s", v.ID, p.ID)
	}
	return p, &v, nil
}

// CheckAvailable is the soft check used by the cart. It writes nothing.
func (p *Pool) CheckAvailable(ctx context.Context, tx store.Tx, ref Ref, qty int) (bool, error) {
	if err := checkQty(qty); err != nil {
		return false, err
	}
	prod, v, err := counter(ctx, tx, ref, false)
	if err != nil {
		return false, err
	}
	if prod.Disabled {
		return false, nil
	}
	if v != nil {
		return v.Stock >= qty, nil
	}
	return prod.StockQuantity >= qty, nil
}

// Commit decrements the counter ref designates inside tx. The caller's
// transaction boundary decides whether the decrement survives.
func (p *Pool) Commit(ctx context.Context, tx store.Tx, ref Ref, qty int) (Committed, error) {
	if err := checkQty(qty); err != nil {
		return Committed{}, err
	}
	prod, v, err := counter(ctx, tx, ref, true)
	if err != nil {
		return Committed{}, err
	}

	available := prod.StockQuantity
	if v != nil {
		available = v.Stock
	}
	if prod.Disabled || available < qty {
		p.m.StockRejected()
		if prod.Disabled {
			available = 0
		}
		return Committed{}, domain.InsufficientStock(domain.StockShortage{
			ProductID: prod.ID, VariantID: ref.VariantID, Required: qty, Available: available,
		})
	}

	if v != nil {
		v.Stock -= qty
		if err := tx.SetVariantStock(ctx, v.ID, v.Stock); err != nil {
			return Committed{}, fmt.Errorf("commit variant %s: %w", v.ID, err)
		}
		if prod.StockQuantity, err = resync(ctx, tx, prod.ID); err != nil {
			return Committed{}, err
		}
	} else {
		prod.StockQuantity -= qty
		if err := tx.SetProductStock(ctx, prod.ID, prod.StockQuantity); err != nil {
			return Committed{}, fmt.Errorf("commit product %s: %w", prod.ID, err)
		}
	}

	if prod.StockQuantity == 0 {
		if err := p.depleted(ctx, tx, prod); err != nil {
			return Committed{}, err
		}
	}
	return Committed{Product: prod, Variant: v}, nil
}

func (p *Pool) depleted(ctx context.Context, tx store.Tx, prod domain.Product) error {
	p.log.Info("stock_depleted", zap.String("product_id", prod.ID), zap.String("vendor_id", prod.VendorID))
	if prod.VendorID == "" {
		return nil
	}
	return p.rec.Record(ctx, tx, domain.Notification{
		ActorID:     prod.VendorID,
		Title:       "Out of stock",
		Body:        fmt.Sprintf("%s is sold out and no longer shown as available.", prod.Name),
		Type:        domain.NotifyStockDepleted,
		ReferenceID: prod.ID,
	})
}

// Release gives qty back to the counter ref designates. A variant deleted
// since the purchase is credited to the product counter only when the product
// has no variants left; otherwise the quantity has nowhere to go and is skipped.
func (p *Pool) Release(ctx context.Context, tx store.Tx, ref Ref, qty int) error {
	if err := checkQty(qty); err != nil {
		return err
	}
	prod, err := tx.LockProduct(ctx, ref.ProductID)
	if err != nil {
		return err
	}
	vs, err := tx.ListVariants(ctx, prod.ID)
	if err != nil {
		return err
	}

	if ref.VariantID != "" {
		v, err := tx.LockVariant(ctx, ref.VariantID)
		switch {
		case err == nil && v.ProductID == prod.ID:
			if err := tx.SetVariantStock(ctx, v.ID, v.Stock+qty); err != nil {
				return fmt.Errorf("release variant %s: %w", v.ID, err)
			}
			_, err := resync(ctx, tx, prod.ID)
			return err
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return err
		}
	}

	if len(vs) > 0 {
		p.log.Warn("release_skipped",
			zap.String("product_id", prod.ID),
			zap.String("variant_id", ref.VariantID),
			zap.Int("qty", qty),
		)
		return nil
	}
	if err := tx.SetProductStock(ctx, prod.ID, prod.StockQuantity+qty); err != nil {
		return fmt.Errorf("release product %s: %w", prod.ID, err)
	}
	return nil
}

// resync stores Σ variant stock as the product counter and returns it.
func resync(ctx context.Context, tx store.Tx, productID string) (int, error) {
	vs, err := tx.ListVariants(ctx, productID)
	if err != nil {
		return 0, err
	}
	sum := 0
	for _, v := range vs {
		sum += v.Stock
	}
	if err := tx.SetProductStock(ctx, productID, sum); err != nil {
		return 0, fmt.Errorf("resync product %s: %w", productID, err)
	}
	return sum, nil
}

func authorize(actor domain.Actor, prod domain.Product) error {
	if actor.IsAdmin() || (actor.Role == domain.RoleVendor && actor.ID == prod.VendorID) {
		return nil
	}
	return domain.E(domain.KindUnauthorized, "actor %s may not manage product %s", actor.ID, prod.ID)
}

// Restock adds qty to a counter on behalf of the owning vendor or an admin.
// The product becomes available again once its stock is positive, unless the
// vendor disabled it by hand.
func (p *Pool) Restock(ctx context.Context, actor domain.Actor, ref Ref, qty int) (out domain.Product, err error) {
	defer p.m.Observe("inventory.restock", time.Now(), &err)
	if err := checkQty(qty); err != nil {
		return domain.Product{}, err
	}
	err = p.st.WithTx(ctx, func(tx store.Tx) error {
		prod, v, err := counter(ctx, tx, ref, true)
		if err != nil {
			return err
		}
		if err := authorize(actor, prod); err != nil {
			return err
		}
		if v != nil {
			if err := tx.SetVariantStock(ctx, v.ID, v.Stock+qty); err != nil {
				return err
			}
			if prod.StockQuantity, err = resync(ctx, tx, prod.ID); err != nil {
				return err
			}
		} else {
			prod.StockQuantity += qty
			if err := tx.SetProductStock(ctx, prod.ID, prod.StockQuantity); err != nil {
				return err
			}
		}
		out = prod
		return nil
	})
	if err == nil {
		p.log.Info("restocked", zap.String("product_id", ref.ProductID), zap.String("variant_id", ref.VariantID),
			zap.Int("qty", qty), zap.Int("stock", out.StockQuantity), zap.String("actor_id", actor.ID))
	}
	return out, err
}

// SetDisabled is the vendor's manual availability switch.
func (p *Pool) SetDisabled(ctx context.Context, actor domain.Actor, productID string, disabled bool) (out domain.Product, err error) {
	defer p.m.Observe("inventory.set_disabled", time.Now(), &err)
	err = p.st.WithTx(ctx, func(tx store.Tx) error {
		prod, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := authorize(actor, prod); err != nil {
			return err
		}
		if err := tx.SetProductDisabled(ctx, productID, disabled); err != nil {
			return err
		}
		prod.Disabled = disabled
		out = prod
		return nil
	})
	return out, err
}

// SetPrice changes the catalog price. Orders keep their unit price snapshots.
func (p *Pool) SetPrice(ctx context.Context, actor domain.Actor, productID string, price decimal.Decimal) (out domain.Product, err error) {
	defer p.m.Observe("inventory.set_price", time.Now(), &err)
	if price.IsNegative() {
		return domain.Product{}, domain.E(domain.KindValidation, "price must not be negative")
	}
	err = p.st.WithTx(ctx, func(tx store.Tx) error {
		prod, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := authorize(actor, prod); err != nil {
			return err
		}
		if err := tx.SetProductPrice(ctx, productID, price); err != nil {
			return err
		}
		prod.Price = price
		out = prod
		return nil
	})
	return out, err
}
