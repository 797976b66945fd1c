package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the PostgreSQL store.Store. Row locks are SELECT ... FOR UPDATE.
type Store struct{ DB *pgxpool.Pool }

var _ store.Store = (*Store)(nil)

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t := &pgTx{tx: tx}
	if err := fn(t); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	for _, h := range t.hooks {
		h()
	}
	return nil
}

// mapErr turns lock and constraint failures into retryable conflicts.
func mapErr(err error) error {
	if err == nil || domain.KindOf(err) != "" {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return domain.Wrap(domain.KindConflict, err, "transaction aborted by concurrent update")
	case "23505": // unique_violation
		return domain.Wrap(domain.KindConflict, err, "duplicate %s", pgErr.ConstraintName)
	case "23503": // foreign_key_violation
		return domain.Wrap(domain.KindNotFound, err, "referenced row missing (%s)", pgErr.ConstraintName)
	}
	return err
}

type pgTx struct {
	tx    pgx.Tx
	hooks []func()
}

func (t *pgTx) AfterCommit(fn func()) { t.hooks = append(t.hooks, fn) }

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.E(domain.KindNotFound, "%s %s not found", what, id)
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseDec(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

func (t *pgTx) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	ct, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return ct.RowsAffected(), nil
}

// ---- actors ----

func (t *pgTx) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var role string
	err := t.tx.QueryRow(ctx, `SELECT id, role FROM actors WHERE id=$1`, id).Scan(&a.ID, &role)
	if err != nil {
		return domain.Actor{}, notFound(err, "actor", id)
	}
	a.Role = domain.Role(role)
	return a, nil
}

func (t *pgTx) InsertActor(ctx context.Context, a domain.Actor) error {
	_, err := t.exec(ctx, `INSERT INTO actors(id, role) VALUES ($1,$2)`, a.ID, string(a.Role))
	return err
}

// ---- catalog ----

func (t *pgTx) InsertShop(ctx context.Context, s domain.Shop) error {
	_, err := t.exec(ctx, `INSERT INTO shops(id, vendor_id, name) VALUES ($1,$2,$3)`, s.ID, s.VendorID, s.Name)
	return err
}

func (t *pgTx) InsertProduct(ctx context.Context, p domain.Product) error {
	_, err := t.exec(ctx, `
		INSERT INTO products(id, shop_id, name, price, stock_quantity, disabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8)`,
		p.ID, p.ShopID, p.Name, p.Price.String(), p.StockQuantity, p.Disabled, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *pgTx) InsertVariant(ctx context.Context, v domain.ProductVariant) error {
	_, err := t.exec(ctx, `
		INSERT INTO product_variants(id, product_id, stock, price_adjustment, color, size, model)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$7)`,
		v.ID, v.ProductID, v.Stock, v.PriceAdjustment.String(), v.Color, v.Size, v.Model)
	return err
}

func (t *pgTx) DeleteVariant(ctx context.Context, id string) error {
	n, err := t.exec(ctx, `DELETE FROM product_variants WHERE id=$1`, id)
	if err == nil && n == 0 {
		return domain.E(domain.KindNotFound, "variant %s not found", id)
	}
	return err
}

const productCols = `p.id, p.shop_id, s.vendor_id, p.name, p.price::text, p.stock_quantity, p.disabled, p.created_at, p.updated_at`

func (t *pgTx) product(ctx context.Context, id, suffix string) (domain.Product, error) {
	var p domain.Product
	var price string
	err := t.tx.QueryRow(ctx, `SELECT `+productCols+`
		FROM products p JOIN shops s ON s.id = p.shop_id
		WHERE p.id=$1`+suffix, id).
		Scan(&p.ID, &p.ShopID, &p.VendorID, &p.Name, &price, &p.StockQuantity, &p.Disabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, notFound(mapErr(err), "product", id)
	}
	if p.Price, err = parseDec(price); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return t.product(ctx, id, "")
}

func (t *pgTx) LockProduct(ctx context.Context, id string) (domain.Product, error) {
	return t.product(ctx, id, " FOR UPDATE OF p")
}

const variantCols = `id, product_id, stock, price_adjustment::text, color, size, model`

func scanVariant(row pgx.Row) (domain.ProductVariant, error) {
	var v domain.ProductVariant
	var adj string
	if err := row.Scan(&v.ID, &v.ProductID, &v.Stock, &adj, &v.Color, &v.Size, &v.Model); err != nil {
		return domain.ProductVariant{}, err
	}
	var err error
	v.PriceAdjustment, err = parseDec(adj)
	return v, err
}

func (t *pgTx) GetVariant(ctx context.Context, id string) (domain.ProductVariant, error) {
	v, err := scanVariant(t.tx.QueryRow(ctx, `SELECT `+variantCols+` FROM product_variants WHERE id=$1`, id))
	return v, notFound(err, "variant", id)
}

func (t *pgTx) LockVariant(ctx context.Context, id string) (domain.ProductVariant, error) {
	v, err := scanVariant(t.tx.QueryRow(ctx, `SELECT `+variantCols+` FROM product_variants WHERE id=$1 FOR UPDATE`, id))
	return v, notFound(err, "variant", id)
}

func (t *pgTx) ListVariants(ctx context.Context, productID string) ([]domain.ProductVariant, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+variantCols+` FROM product_variants WHERE product_id=$1 ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ProductVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *pgTx) updateOne(ctx context.Context, what, id, sql string, args ...any) error {
	n, err := t.exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.E(domain.KindNotFound, "%s %s not found", what, id)
	}
	return nil
}

func (t *pgTx) SetProductStock(ctx context.Context, id string, stock int) error {
	return t.updateOne(ctx, "product", id, `UPDATE products SET stock_quantity=$2, updated_at=now() WHERE id=$1`, stock)
}

func (t *pgTx) SetVariantStock(ctx context.Context, id string, stock int) error {
	return t.updateOne(ctx, "variant", id, `UPDATE product_variants SET stock=$2 WHERE id=$1`, stock)
}

func (t *pgTx) SetProductDisabled(ctx context.Context, id string, disabled bool) error {
	return t.updateOne(ctx, "product", id, `UPDATE products SET disabled=$2, updated_at=now() WHERE id=$1`, disabled)
}

func (t *pgTx) SetProductPrice(ctx context.Context, id string, price decimal.Decimal) error {
	return t.updateOne(ctx, "product", id, `UPDATE products SET price=$2::numeric, updated_at=now() WHERE id=$1`, price.String())
}

// ---- cart ----

const cartCols = `id, actor_id, product_id, variant_id, quantity, opt_color, opt_size, opt_model, created_at`

func scanCartLine(row pgx.Row) (domain.CartLine, error) {
	var l domain.CartLine
	var variant *string
	err := row.Scan(&l.ID, &l.ActorID, &l.ProductID, &variant, &l.Quantity,
		&l.Options.Color, &l.Options.Size, &l.Options.Model, &l.CreatedAt)
	l.VariantID = deref(variant)
	return l, err
}

func (t *pgTx) ListCartLines(ctx context.Context, actorID string) ([]domain.CartLine, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+cartCols+` FROM cart_lines WHERE actor_id=$1 ORDER BY created_at, id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CartLine
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) GetCartLine(ctx context.Context, id string) (domain.CartLine, error) {
	l, err := scanCartLine(t.tx.QueryRow(ctx, `SELECT `+cartCols+` FROM cart_lines WHERE id=$1`, id))
	return l, notFound(err, "cart line", id)
}

func (t *pgTx) InsertCartLine(ctx context.Context, l domain.CartLine) error {
	_, err := t.exec(ctx, `
		INSERT INTO cart_lines(id, actor_id, product_id, variant_id, quantity, opt_color, opt_size, opt_model, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		l.ID, l.ActorID, l.ProductID, nullable(l.VariantID), l.Quantity,
		l.Options.Color, l.Options.Size, l.Options.Model, l.CreatedAt)
	return err
}

func (t *pgTx) SetCartLineQuantity(ctx context.Context, id string, qty int) error {
	return t.updateOne(ctx, "cart line", id, `UPDATE cart_lines SET quantity=$2 WHERE id=$1`, qty)
}

func (t *pgTx) DeleteCartLine(ctx context.Context, id string) error {
	return t.updateOne(ctx, "cart line", id, `DELETE FROM cart_lines WHERE id=$1`)
}

func (t *pgTx) ClearCart(ctx context.Context, actorID string) error {
	_, err := t.exec(ctx, `DELETE FROM cart_lines WHERE actor_id=$1`, actorID)
	return err
}

// ---- orders ----

func (t *pgTx) InsertOrder(ctx context.Context, o domain.Order) error {
	if _, err := t.exec(ctx, `
		INSERT INTO orders(id, client_id, status, total_amount, delivery_address, delivery_phone, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9)`,
		o.ID, o.ClientID, string(o.Status), o.TotalAmount.String(), o.DeliveryAddress, o.DeliveryPhone,
		o.Version, o.CreatedAt, o.UpdatedAt); err != nil {
		return err
	}
	for _, it := range o.Items {
		if _, err := t.exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, variant_id, vendor_id, quantity, unit_price, opt_color, opt_size, opt_model)
			VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10)`,
			it.ID, o.ID, it.ProductID, nullable(it.VariantID), it.VendorID, it.Quantity, it.UnitPrice.String(),
			it.Options.Color, it.Options.Size, it.Options.Model); err != nil {
			return err
		}
	}
	return nil
}

const orderCols = `o.id, o.client_id, o.status, o.total_amount::text, o.delivery_address, o.delivery_phone, o.version, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var status, total string
	if err := row.Scan(&o.ID, &o.ClientID, &status, &total, &o.DeliveryAddress, &o.DeliveryPhone, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	var err error
	o.TotalAmount, err = parseDec(total)
	return o, err
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders o WHERE o.id=$1`, id))
	if err != nil {
		return domain.Order{}, notFound(err, "order", id)
	}
	items, err := t.items(ctx, []string{id})
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (t *pgTx) items(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, vendor_id, quantity, unit_price::text, opt_color, opt_size, opt_model
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, product_id, variant_id NULLS FIRST, id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var it domain.OrderItem
		var variant *string
		var price string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &variant, &it.VendorID, &it.Quantity, &price,
			&it.Options.Color, &it.Options.Size, &it.Options.Model); err != nil {
			return nil, err
		}
		it.VariantID = deref(variant)
		if it.UnitPrice, err = parseDec(price); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (t *pgTx) ListOrders(ctx context.Context, f store.OrderFilter) ([]domain.Order, error) {
	q := `SELECT ` + orderCols + ` FROM orders o WHERE ($1 = '' OR o.client_id = $1)
		AND ($2 = '' OR EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND i.vendor_id = $2))
		ORDER BY o.created_at DESC, o.id`
	rows, err := t.tx.Query(ctx, q, f.ClientID, f.VendorID)
	if err != nil {
		return nil, err
	}
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i, o := range out {
		ids[i] = o.ID
	}
	items, err := t.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id string, expectedVersion int, status domain.OrderStatus, at time.Time) error {
	n, err := t.exec(ctx, `UPDATE orders SET status=$3, version=version+1, updated_at=$4 WHERE id=$1 AND version=$2`,
		id, expectedVersion, string(status), at)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.E(domain.KindNotFound, "order %s not found", id)
	}
	return domain.E(domain.KindConflict, "order %s changed since version %d", id, expectedVersion)
}

// ---- payments ----

func (t *pgTx) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := t.exec(ctx, `
		INSERT INTO payments(id, order_id, transaction_id, amount, status, method, provider, created_at, updated_at)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9)`,
		p.ID, p.OrderID, p.TransactionID, p.Amount.String(), string(p.Status), p.Method, p.Provider, p.CreatedAt, p.UpdatedAt)
	return err
}

const paymentCols = `id, order_id, transaction_id, amount::text, status, method, provider, created_at, updated_at`

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var p domain.Payment
	var amount, status string
	if err := row.Scan(&p.ID, &p.OrderID, &p.TransactionID, &amount, &status, &p.Method, &p.Provider, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)
	var err error
	p.Amount, err = parseDec(amount)
	return p, err
}

func (t *pgTx) GetPaymentByTransaction(ctx context.Context, txID string) (domain.Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE transaction_id=$1`, txID))
	return p, notFound(err, "payment", txID)
}

func (t *pgTx) LockPaymentByTransaction(ctx context.Context, txID string) (domain.Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE transaction_id=$1 FOR UPDATE`, txID))
	return p, notFound(err, "payment", txID)
}

func (t *pgTx) ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+paymentCols+` FROM payments WHERE order_id=$1 ORDER BY created_at, transaction_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) SetPaymentStatus(ctx context.Context, txID string, from, to domain.PaymentStatus, at time.Time) (bool, error) {
	n, err := t.exec(ctx, `UPDATE payments SET status=$3, updated_at=$4 WHERE transaction_id=$1 AND status=$2`,
		txID, string(from), string(to), at)
	return n == 1, err
}

func (t *pgTx) InsertInvoice(ctx context.Context, inv domain.Invoice) error {
	_, err := t.exec(ctx, `
		INSERT INTO invoices(id, order_id, payment_id, number, amount, issued_at)
		VALUES ($1,$2,$3,$4,$5::numeric,$6)`,
		inv.ID, inv.OrderID, inv.PaymentID, inv.Number, inv.Amount.String(), inv.IssuedAt)
	return err
}

func (t *pgTx) ListInvoices(ctx context.Context, orderID string) ([]domain.Invoice, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, payment_id, number, amount::text, issued_at
		FROM invoices WHERE order_id=$1 ORDER BY issued_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		var amount string
		if err := rows.Scan(&inv.ID, &inv.OrderID, &inv.PaymentID, &inv.Number, &amount, &inv.IssuedAt); err != nil {
			return nil, err
		}
		if inv.Amount, err = parseDec(amount); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ---- notifications ----

func (t *pgTx) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := t.exec(ctx, `
		INSERT INTO notifications(id, actor_id, title, body, type, reference_id, is_read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.ActorID, n.Title, n.Body, string(n.Type), n.ReferenceID, n.IsRead, n.CreatedAt)
	return err
}

const notificationCols = `id, actor_id, title, body, type, reference_id, is_read, created_at`

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var n domain.Notification
	var typ string
	err := row.Scan(&n.ID, &n.ActorID, &n.Title, &n.Body, &typ, &n.ReferenceID, &n.IsRead, &n.CreatedAt)
	n.Type = domain.NotificationType(typ)
	return n, err
}

func (t *pgTx) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	n, err := scanNotification(t.tx.QueryRow(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id=$1`, id))
	return n, notFound(err, "notification", id)
}

func (t *pgTx) ListNotifications(ctx context.Context, actorID string) ([]domain.Notification, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+notificationCols+` FROM notifications WHERE actor_id=$1 ORDER BY created_at DESC, id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *pgTx) MarkNotificationRead(ctx context.Context, id string) error {
	return t.updateOne(ctx, "notification", id, `UPDATE notifications SET is_read=TRUE WHERE id=$1`)
}
