package httpx

import (
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/cart"
	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/payment"
	"github.com/shopspring/decimal"
)

// Requests.

type addToCartReq struct {
	ProductID string         `json:"product_id" validate:"required"`
	VariantID string         `json:"variant_id"`
	Quantity  int            `json:"quantity" validate:"required,min=1"`
	Options   domain.Options `json:"options"`
}

type createOrderReq struct {
	DeliveryAddress string `json:"delivery_address" validate:"required"`
	DeliveryPhone   string `json:"delivery_phone" validate:"required"`
}

type restockReq struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type availabilityReq struct {
	Available *bool `json:"available" validate:"required"`
}

type priceReq struct {
	Price *decimal.Decimal `json:"price" validate:"required"`
}

type contactReq struct {
	Phone string `json:"phone"`
	Email string `json:"email" validate:"omitempty,email"`
	Name  string `json:"name"`
}

type initiatePaymentReq struct {
	OrderID string     `json:"order_id" validate:"required"`
	Method  string     `json:"method" validate:"required"`
	Contact contactReq `json:"contact"`
}

// webhookReq accepts the transaction id under any of the names providers use.
type webhookReq struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	TxIDCamel     string `json:"transactionId"`
	InvoiceToken  string `json:"invoice_token"`
}

func (r webhookReq) txID() string {
	for _, id := range []string{r.TransactionID, r.TxIDCamel, r.InvoiceToken} {
		if id != "" {
			return id
		}
	}
	return ""
}

// Responses.

type cartLineResp struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	Options   domain.Options  `json:"options"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Available bool            `json:"available"`
}

type cartResp struct {
	Lines []cartLineResp  `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

func toCart(lines []cart.Line) cartResp {
	out := cartResp{Lines: make([]cartLineResp, 0, len(lines)), Total: decimal.Zero}
	for _, l := range lines {
		out.Lines = append(out.Lines, cartLineResp{
			ID:        l.ID,
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			Options:   l.Options,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
			Available: l.Available,
		})
		out.Total = out.Total.Add(l.LineTotal)
	}
	return out
}

type orderItemResp struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	VendorID  string          `json:"vendor_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Options   domain.Options  `json:"options"`
}

type orderResp struct {
	ID              string             `json:"id"`
	ClientID        string             `json:"client_id"`
	Status          domain.OrderStatus `json:"status"`
	TotalAmount     decimal.Decimal    `json:"total_amount"`
	DeliveryAddress string             `json:"delivery_address"`
	DeliveryPhone   string             `json:"delivery_phone"`
	Version         int                `json:"version"`
	Items           []orderItemResp    `json:"items"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func toOrder(o domain.Order) orderResp {
	items := make([]orderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResp{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			VendorID:  it.VendorID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Options:   it.Options,
		})
	}
	return orderResp{
		ID:              o.ID,
		ClientID:        o.ClientID,
		Status:          o.Status,
		TotalAmount:     o.TotalAmount,
		DeliveryAddress: o.DeliveryAddress,
		DeliveryPhone:   o.DeliveryPhone,
		Version:         o.Version,
		Items:           items,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type productResp struct {
	ID            string          `json:"id"`
	ShopID        string          `json:"shop_id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Available     bool            `json:"available"`
}

func toProduct(p domain.Product) productResp {
	return productResp{
		ID:            p.ID,
		ShopID:        p.ShopID,
		Name:          p.Name,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		Available:     p.Available(),
	}
}

type paymentResp struct {
	TransactionID string               `json:"transaction_id"`
	OrderID       string               `json:"order_id"`
	Amount        decimal.Decimal      `json:"amount"`
	Status        domain.PaymentStatus `json:"status"`
	Method        string               `json:"method"`
	Provider      string               `json:"provider"`
	RedirectURL   string               `json:"redirect_url,omitempty"`
	ClientSecret  string               `json:"client_secret,omitempty"`
	OrderStatus   domain.OrderStatus   `json:"order_status,omitempty"`
}

func toPayment(p domain.Payment) paymentResp {
	return paymentResp{
		TransactionID: p.TransactionID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Status:        p.Status,
		Method:        p.Method,
		Provider:      p.Provider,
	}
}

type callbackResp struct {
	Received bool            `json:"received"`
	Outcome  payment.Outcome `json:"outcome,omitempty"`
}

type notificationResp struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	Body        string                  `json:"body"`
	Type        domain.NotificationType `json:"type"`
	ReferenceID string                  `json:"reference_id,omitempty"`
	IsRead      bool                    `json:"is_read"`
	CreatedAt   time.Time               `json:"created_at"`
}

func toNotification(n domain.Notification) notificationResp {
	return notificationResp{
		ID:          n.ID,
		Title:       n.Title,
		Body:        n.Body,
		Type:        n.Type,
		ReferenceID: n.ReferenceID,
		IsRead:      n.IsRead,
		CreatedAt:   n.CreatedAt,
	}
}
