package orders

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/inventory"
	"github.com/ariefcatur/go-boutique-orders/internal/metrics"
	"github.com/ariefcatur/go-boutique-orders/internal/notify"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DeliveryInfo struct {
	Address string
	Phone   string
}

// Assembler turns a cart into an order and commits its stock in the same
// transaction.
type Assembler struct {
	st   store.Store
	pool *inventory.Pool
	rec  *notify.Recorder
	log  *zap.Logger
	m    *metrics.Metrics
}

func NewAssembler(st store.Store, pool *inventory.Pool, rec *notify.Recorder, log *zap.Logger, m *metrics.Metrics) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = notify.NewRecorder(nil, log, m)
	}
	return &Assembler{st: st, pool: pool, rec: rec, log: log.With(zap.String("component", "assembler")), m: m}
}

// CreateOrder commits every cart line or none. Losing a race for the last
// units surfaces as a retryable INSUFFICIENT_STOCK.
func (a *Assembler) CreateOrder(ctx context.Context, actor domain.Actor, info DeliveryInfo) (out domain.Order, err error) {
	defer a.m.Observe("orders.create", time.Now(), &err)
	if strings.TrimSpace(info.Address) == "" || strings.TrimSpace(info.Phone) == "" {
		return domain.Order{}, domain.E(domain.KindValidation, "delivery address and phone are required")
	}

	err = a.st.WithTx(ctx, func(tx store.Tx) error {
		lines, err := tx.ListCartLines(ctx, actor.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrEmptyCart
		}
		// Stable lock order so two checkouts over the same products cannot deadlock.
		sort.SliceStable(lines, func(i, j int) bool {
			if lines[i].ProductID != lines[j].ProductID {
				return lines[i].ProductID < lines[j].ProductID
			}
			return lines[i].VariantID < lines[j].VariantID
		})

		now := time.Now().UTC()
		o := domain.Order{
			ID:              uuid.NewString(),
			ClientID:        actor.ID,
			Status:          domain.StatusPending,
			DeliveryAddress: info.Address,
			DeliveryPhone:   info.Phone,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		total := decimal.Zero
		for _, l := range lines {
			c, err := a.pool.Commit(ctx, tx, inventory.Ref{ProductID: l.ProductID, VariantID: l.VariantID}, l.Quantity)
			if err != nil {
				return err
			}
			it := domain.OrderItem{
				ID:        uuid.NewString(),
				OrderID:   o.ID,
				ProductID: l.ProductID,
				VariantID: l.VariantID,
				VendorID:  c.Product.VendorID,
				Quantity:  l.Quantity,
				UnitPrice: domain.UnitPrice(c.Product, c.Variant),
				Options:   l.Options,
			}
			total = total.Add(it.LineTotal())
			o.Items = append(o.Items, it)
		}
		o.TotalAmount = total

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.ClearCart(ctx, actor.ID); err != nil {
			return err
		}
		if err := a.rec.Record(ctx, tx, domain.Notification{
			ActorID:     actor.ID,
			Title:       "Order received",
			Body:        "Your order " + o.ID + " was created and is awaiting payment.",
			Type:        domain.NotifyOrderCreated,
			ReferenceID: o.ID,
		}); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		a.log.Info("order_create_failed", zap.String("actor_id", actor.ID), zap.String("kind", string(domain.KindOf(err))), zap.Error(err))
		return domain.Order{}, err
	}
	a.log.Info("order_created",
		zap.String("order_id", out.ID),
		zap.String("actor_id", actor.ID),
		zap.Int("items", len(out.Items)),
		zap.String("total", out.TotalAmount.String()),
	)
	return out, nil
}

// CanView reports whether actor may read o: its client, a vendor with at
// least one item in it, or an admin.
func CanView(actor domain.Actor, o domain.Order) bool {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem:
		return true
	case domain.RoleVendor:
		return o.HasVendor(actor.ID) || o.ClientID == actor.ID
	default:
		return o.ClientID == actor.ID
	}
}

func (a *Assembler) Get(ctx context.Context, actor domain.Actor, id string) (out domain.Order, err error) {
	defer a.m.Observe("orders.get", time.Now(), &err)
	err = a.st.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if !CanView(actor, o) {
			return domain.E(domain.KindUnauthorized, "actor %s may not view order %s", actor.ID, id)
		}
		out = o
		return nil
	})
	return out, err
}

// List returns the orders visible to actor, newest first.
func (a *Assembler) List(ctx context.Context, actor domain.Actor) (out []domain.Order, err error) {
	defer a.m.Observe("orders.list", time.Now(), &err)
	var f store.OrderFilter
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleVendor:
		f.VendorID = actor.ID
	case domain.RoleClient:
		f.ClientID = actor.ID
	default:
		return nil, domain.E(domain.KindUnauthorized, "role %s may not list orders", actor.Role)
	}
	err = a.st.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListOrders(ctx, f)
		return err
	})
	return out, err
}
