// Package store defines the transactional persistence contract shared by the
// PostgreSQL and in-memory backends.
package store

import (
	"context"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/shopspring/decimal"
)

// Store runs units of work. A non-nil error from fn rolls back every write
// made through the Tx.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside one transaction.
// Lookups of missing rows return an error matching domain.ErrNotFound.
type Tx interface {
	// AfterCommit registers fn to run once the transaction has committed.
	// Hooks of a rolled back transaction never run.
	AfterCommit(fn func())

	Actors
	Catalog
	Carts
	Orders
	Payments
	Notifications
}

type Actors interface {
	GetActor(ctx context.Context, id string) (domain.Actor, error)
	InsertActor(ctx context.Context, a domain.Actor) error
}

type Catalog interface {
	InsertShop(ctx context.Context, s domain.Shop) error
	InsertProduct(ctx context.Context, p domain.Product) error
	InsertVariant(ctx context.Context, v domain.ProductVariant) error
	DeleteVariant(ctx context.Context, id string) error

	GetProduct(ctx context.Context, id string) (domain.Product, error)
	// LockProduct reads the product and holds its row lock until the tx ends.
	LockProduct(ctx context.Context, id string) (domain.Product, error)
	GetVariant(ctx context.Context, id string) (domain.ProductVariant, error)
	LockVariant(ctx context.Context, id string) (domain.ProductVariant, error)
	ListVariants(ctx context.Context, productID string) ([]domain.ProductVariant, error)

	SetProductStock(ctx context.Context, id string, stock int) error
	SetVariantStock(ctx context.Context, id string, stock int) error
	SetProductDisabled(ctx context.Context, id string, disabled bool) error
	SetProductPrice(ctx context.Context, id string, price decimal.Decimal) error
}

type Carts interface {
	ListCartLines(ctx context.Context, actorID string) ([]domain.CartLine, error)
	GetCartLine(ctx context.Context, id string) (domain.CartLine, error)
	InsertCartLine(ctx context.Context, l domain.CartLine) error
	SetCartLineQuantity(ctx context.Context, id string, qty int) error
	DeleteCartLine(ctx context.Context, id string) error
	ClearCart(ctx context.Context, actorID string) error
}

type Orders interface {
	// InsertOrder persists the order together with its items.
	InsertOrder(ctx context.Context, o domain.Order) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	// UpdateOrderStatus writes status and bumps the version only if the stored
	// version still equals expectedVersion; otherwise it returns domain.ErrConflict.
	UpdateOrderStatus(ctx context.Context, id string, expectedVersion int, status domain.OrderStatus, at time.Time) error
}

// OrderFilter narrows ListOrders. Empty fields do not filter.
type OrderFilter struct {
	ClientID string
	VendorID string
}

type Payments interface {
	// InsertPayment fails with domain.ErrConflict when the transaction id exists.
	InsertPayment(ctx context.Context, p domain.Payment) error
	GetPaymentByTransaction(ctx context.Context, txID string) (domain.Payment, error)
	// LockPaymentByTransaction is GetPaymentByTransaction holding the row lock.
	LockPaymentByTransaction(ctx context.Context, txID string) (domain.Payment, error)
	ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error)
	// SetPaymentStatus moves the payment from -> to and reports whether a row changed.
	SetPaymentStatus(ctx context.Context, txID string, from, to domain.PaymentStatus, at time.Time) (bool, error)
	InsertInvoice(ctx context.Context, inv domain.Invoice) error
	ListInvoices(ctx context.Context, orderID string) ([]domain.Invoice, error)
}

type Notifications interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
	GetNotification(ctx context.Context, id string) (domain.Notification, error)
	ListNotifications(ctx context.Context, actorID string) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}
