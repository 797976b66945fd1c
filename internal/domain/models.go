package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Shop struct {
	ID       string
	VendorID string
	Name     string
}

type Product struct {
	ID            string
	ShopID        string
	VendorID      string // owner of ShopID, filled on read
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	Disabled      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Available is true iff there is stock left and the vendor has not disabled the product.
func (p Product) Available() bool {
	return p.StockQuantity > 0 && !p.Disabled
}

type ProductVariant struct {
	ID              string
	ProductID       string
	Stock           int
	PriceAdjustment decimal.Decimal
	Color           string
	Size            string
	Model           string
}

// UnitPrice resolves the effective price of a product, optionally through one of its variants.
func UnitPrice(p Product, v *ProductVariant) decimal.Decimal {
	if v == nil {
		return p.Price
	}
	return p.Price.Add(v.PriceAdjustment)
}

// Options are the option strings a client picked when adding to cart.
// A nil field and an empty string are different selections.
type Options struct {
	Color *string `json:"color,omitempty"`
	Size  *string `json:"size,omitempty"`
	Model *string `json:"model,omitempty"`
}

// Equal compares two selections field by field, treating absence as its own value.
func (o Options) Equal(other Options) bool {
	return sameOpt(o.Color, other.Color) && sameOpt(o.Size, other.Size) && sameOpt(o.Model, other.Model)
}

func sameOpt(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type CartLine struct {
	ID        string
	ActorID   string
	ProductID string
	VariantID string // "" when no variant was chosen
	Quantity  int
	Options   Options
	CreatedAt time.Time
}

// Matches reports whether l is the line an add of (productID, variantID, opts) merges into.
func (l CartLine) Matches(productID, variantID string, opts Options) bool {
	return l.ProductID == productID && l.VariantID == variantID && l.Options.Equal(opts)
}

type Order struct {
	ID              string
	ClientID        string
	Status          OrderStatus
	TotalAmount     decimal.Decimal
	DeliveryAddress string
	DeliveryPhone   string
	Version         int
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasVendor reports whether at least one item was bought from vendorID.
func (o Order) HasVendor(vendorID string) bool {
	for _, it := range o.Items {
		if it.VendorID == vendorID {
			return true
		}
	}
	return false
}

// ItemsTotal recomputes Σ unitPrice × quantity from the item snapshots.
func (o Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	VariantID string // kept even if the variant is deleted later
	VendorID  string
	Quantity  int
	UnitPrice decimal.Decimal
	Options   Options
}

func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type Payment struct {
	ID            string
	OrderID       string
	TransactionID string
	Amount        decimal.Decimal
	Status        PaymentStatus
	Method        string
	Provider      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Invoice struct {
	ID        string
	OrderID   string
	PaymentID string
	Number    string
	Amount    decimal.Decimal
	IssuedAt  time.Time
}

type NotificationType string

const (
	NotifyOrderCreated     NotificationType = "order.created"
	NotifyOrderStatus      NotificationType = "order.status_changed"
	NotifyPaymentConfirmed NotificationType = "payment.confirmed"
	NotifyPaymentFailed    NotificationType = "payment.failed"
	NotifyStockDepleted    NotificationType = "stock.depleted"
)

type Notification struct {
	ID          string
	ActorID     string
	Title       string
	Body        string
	Type        NotificationType
	ReferenceID string
	IsRead      bool
	CreatedAt   time.Time
}
