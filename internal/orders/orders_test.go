package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/inventory"
	"github.com/ariefcatur/go-boutique-orders/internal/memstore"
	"github.com/ariefcatur/go-boutique-orders/internal/notify"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/ariefcatur/go-boutique-orders/internal/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	st   store.Store
	f    storetest.Fixture
	pool *inventory.Pool
	asm  *Assembler
	sm   *StatusMachine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	rec := notify.NewRecorder(nil, nil, nil)
	pool := inventory.NewPool(st, rec, nil, nil)
	return &env{
		st:   st,
		f:    storetest.Seed(t, st),
		pool: pool,
		asm:  NewAssembler(st, pool, rec, nil, nil),
		sm:   NewStatusMachine(st, pool, rec, 5, nil, nil),
	}
}

var delivery = DeliveryInfo{Address: "Rue 10, Dakar", Phone: "+221770000000"}

func (e *env) order(t *testing.T, client domain.Actor, lines ...storetest.Line) domain.Order {
	t.Helper()
	for _, l := range lines {
		storetest.AddCartLine(t, e.st, client.ID, l.ProductID, l.VariantID, l.Quantity)
	}
	o, err := e.asm.CreateOrder(context.Background(), client, delivery)
	require.NoError(t, err)
	return o
}

func TestCreateOrderSingleLine(t *testing.T) {
	e := newEnv(t)
	a := storetest.AddProduct(t, e.st, e.f.Shop, "12500", 5)

	o := e.order(t, e.f.Client, storetest.Line{ProductID: a.ID, Quantity: 2})

	require.Len(t, o.Items, 1)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.True(t, o.Items[0].UnitPrice.Equal(a.Price))
	assert.Equal(t, e.f.Vendor.ID, o.Items[0].VendorID)
	assert.Equal(t, "25000", o.TotalAmount.String())
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, 1, o.Version)
	assert.Equal(t, 3, storetest.Product(t, e.st, a.ID).StockQuantity)

	stored := storetest.Order(t, e.st, o.ID)
	assert.True(t, stored.TotalAmount.Equal(stored.ItemsTotal()))

	assert.Equal(t, 1, storetest.CountNotifications(t, e.st, e.f.Client.ID, domain.NotifyOrderCreated))
}

func TestCreateOrderClearsCart(t *testing.T) {
	e := newEnv(t)
	a := storetest.AddProduct(t, e.st, e.f.Shop, "1000", 5)
	e.order(t, e.f.Client, storetest.Line{ProductID: a.ID, Quantity: 1})

	_, err := e.asm.CreateOrder(context.Background(), e.f.Client, delivery)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestCreateOrderVariantPricing(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "10000", 0)
	red := storetest.AddVariant(t, e.st, p.ID, 3, "2500", "red")
	q := storetest.AddProduct(t, e.st, e.f.Shop2, "4000", 4)

	o := e.order(t, e.f.Client,
		storetest.Line{ProductID: p.ID, VariantID: red.ID, Quantity: 2},
		storetest.Line{ProductID: q.ID, Quantity: 1},
	)

	require.Len(t, o.Items, 2)
	// 2 × 12500 + 1 × 4000
	assert.Equal(t, "29000", o.TotalAmount.String())
	assert.Equal(t, 1, storetest.Variant(t, e.st, red.ID).Stock)
	assert.Equal(t, 1, storetest.Product(t, e.st, p.ID).StockQuantity)
	assert.Equal(t, 3, storetest.Product(t, e.st, q.ID).StockQuantity)
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	e := newEnv(t)
	plenty := storetest.AddProduct(t, e.st, e.f.Shop, "1000", 10)
	scarce := storetest.AddProduct(t, e.st, e.f.Shop, "1000", 1)
	storetest.AddCartLine(t, e.st, e.f.Client.ID, plenty.ID, "", 4)
	storetest.AddCartLine(t, e.st, e.f.Client.ID, scarce.ID, "", 2)

	_, err := e.asm.CreateOrder(context.Background(), e.f.Client, delivery)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.True(t, domain.IsRetryable(err))

	assert.Equal(t, 10, storetest.Product(t, e.st, plenty.ID).StockQuantity)
	assert.Equal(t, 1, storetest.Product(t, e.st, scarce.ID).StockQuantity)
	list, err := e.asm.List(context.Background(), e.f.Client)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, storetest.CountNotifications(t, e.st, e.f.Client.ID, domain.NotifyOrderCreated))
}

func TestCreateOrderRequiresDelivery(t *testing.T) {
	e := newEnv(t)
	_, err := e.asm.CreateOrder(context.Background(), e.f.Client, DeliveryInfo{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLastUnitRace(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 1)
	storetest.AddCartLine(t, e.st, e.f.Client.ID, p.ID, "", 1)
	storetest.AddCartLine(t, e.st, e.f.Client2.ID, p.ID, "", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []domain.Actor{e.f.Client, e.f.Client2} {
		wg.Add(1)
		go func(i int, c domain.Actor) {
			defer wg.Done()
			_, errs[i] = e.asm.CreateOrder(context.Background(), c, delivery)
		}(i, c)
	}
	wg.Wait()

	ok, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			short++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 0, storetest.Product(t, e.st, p.ID).StockQuantity)
}

func TestTotalSurvivesPriceChange(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 5)
	o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, Quantity: 2})

	_, err := e.pool.SetPrice(context.Background(), e.f.Vendor, p.ID, decimal.RequireFromString("9000"))
	require.NoError(t, err)

	got := storetest.Order(t, e.st, o.ID)
	assert.Equal(t, "10000", got.TotalAmount.String())
	assert.Equal(t, "5000", got.Items[0].UnitPrice.String())
}

func TestVisibility(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 5)
	o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()

	for _, a := range []domain.Actor{e.f.Client, e.f.Vendor, e.f.Admin} {
		_, err := e.asm.Get(ctx, a, o.ID)
		assert.NoError(t, err, a.ID)
	}
	for _, a := range []domain.Actor{e.f.Client2, e.f.Vendor2} {
		_, err := e.asm.Get(ctx, a, o.ID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized, a.ID)
	}
	_, err := e.asm.Get(ctx, e.f.Admin, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := e.asm.List(ctx, e.f.Vendor)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = e.asm.List(ctx, e.f.Vendor2)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = e.asm.List(ctx, e.f.Client2)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTransitionLegality(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 50)
	ctx := context.Background()

	tests := []struct {
		name   string
		path   []domain.OrderStatus // applied by admin first
		actor  func() domain.Actor
		target domain.OrderStatus
		want   error
	}{
		{"client cannot ship", nil, func() domain.Actor { return e.f.Client }, domain.StatusShipped, domain.ErrUnauthorized},
		{"client cancels pending", nil, func() domain.Actor { return e.f.Client }, domain.StatusCancelled, nil},
		{"other client cannot cancel", nil, func() domain.Actor { return e.f.Client2 }, domain.StatusCancelled, domain.ErrUnauthorized},
		{"vendor cannot cancel", nil, func() domain.Actor { return e.f.Vendor }, domain.StatusCancelled, domain.ErrUnauthorized},
		{"vendor cannot mark paid", nil, func() domain.Actor { return e.f.Vendor }, domain.StatusPaid, domain.ErrUnauthorized},
		{"vendor confirms", nil, func() domain.Actor { return e.f.Vendor }, domain.StatusConfirmed, nil},
		{"foreign vendor", nil, func() domain.Actor { return e.f.Vendor2 }, domain.StatusConfirmed, domain.ErrUnauthorized},
		{"vendor skips confirm", nil, func() domain.Actor { return e.f.Vendor }, domain.StatusShipped, domain.ErrInvalidTransition},
		{"client cancels confirmed", []domain.OrderStatus{domain.StatusConfirmed}, func() domain.Actor { return e.f.Client }, domain.StatusCancelled, nil},
		{"client cannot cancel shipped", []domain.OrderStatus{domain.StatusConfirmed, domain.StatusShipped}, func() domain.Actor { return e.f.Client }, domain.StatusCancelled, domain.ErrInvalidTransition},
		{"delivered cannot be cancelled", []domain.OrderStatus{domain.StatusConfirmed, domain.StatusShipped, domain.StatusDelivered}, func() domain.Actor { return e.f.Client }, domain.StatusCancelled, domain.ErrInvalidTransition},
		{"vendor delivers", []domain.OrderStatus{domain.StatusConfirmed, domain.StatusShipped}, func() domain.Actor { return e.f.Vendor }, domain.StatusDelivered, nil},
		{"system marks paid", nil, func() domain.Actor { return domain.SystemActor }, domain.StatusPaid, nil},
		{"system cannot confirm", nil, func() domain.Actor { return domain.SystemActor }, domain.StatusConfirmed, domain.ErrUnauthorized},
		{"admin reopens delivered", []domain.OrderStatus{domain.StatusConfirmed, domain.StatusShipped, domain.StatusDelivered}, func() domain.Actor { return e.f.Admin }, domain.StatusPending, nil},
		{"same status", nil, func() domain.Actor { return e.f.Admin }, domain.StatusPending, domain.ErrInvalidTransition},
		{"unknown status", nil, func() domain.Actor { return e.f.Admin }, domain.OrderStatus("LOST"), domain.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, Quantity: 1})
			for _, s := range tc.path {
				_, err := e.sm.Transition(ctx, e.f.Admin, o.ID, s)
				require.NoError(t, err)
			}
			got, err := e.sm.Transition(ctx, tc.actor(), o.ID, tc.target)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.target, got.Status)
			assert.Equal(t, tc.target, storetest.Order(t, e.st, o.ID).Status)
		})
	}
}

func TestCancelReleasesStock(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 10)
	o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, Quantity: 3})
	require.Equal(t, 7, storetest.Product(t, e.st, p.ID).StockQuantity)

	_, err := e.sm.Transition(context.Background(), e.f.Client, o.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 10, storetest.Product(t, e.st, p.ID).StockQuantity)
}

func TestCancelReleasesVariantStock(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 0)
	v := storetest.AddVariant(t, e.st, p.ID, 4, "0", "red")
	o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, VariantID: v.ID, Quantity: 3})

	_, err := e.sm.Transition(context.Background(), e.f.Admin, o.ID, domain.StatusConfirmed)
	require.NoError(t, err)
	_, err = e.sm.Transition(context.Background(), e.f.Client, o.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 4, storetest.Variant(t, e.st, v.ID).Stock)
	assert.Equal(t, 4, storetest.Product(t, e.st, p.ID).StockQuantity)
}

func TestForwardMovesKeepStock(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 10)
	o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, Quantity: 3})

	for _, s := range []domain.OrderStatus{domain.StatusConfirmed, domain.StatusShipped, domain.StatusDelivered} {
		_, err := e.sm.Transition(context.Background(), e.f.Vendor, o.ID, s)
		require.NoError(t, err)
	}
	assert.Equal(t, 7, storetest.Product(t, e.st, p.ID).StockQuantity)
}

func TestAdminUncancelRecommits(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 3)
	o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, Quantity: 3})
	_, err := e.sm.Transition(context.Background(), e.f.Client, o.ID, domain.StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, 3, storetest.Product(t, e.st, p.ID).StockQuantity)

	// someone else buys one unit meanwhile
	e.order(t, e.f.Client2, storetest.Line{ProductID: p.ID, Quantity: 1})
	_, err = e.sm.Transition(context.Background(), e.f.Admin, o.ID, domain.StatusPending)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, domain.StatusCancelled, storetest.Order(t, e.st, o.ID).Status)

	_, err = e.pool.Restock(context.Background(), e.f.Vendor, inventory.Ref{ProductID: p.ID}, 1)
	require.NoError(t, err)
	_, err = e.sm.Transition(context.Background(), e.f.Admin, o.ID, domain.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 0, storetest.Product(t, e.st, p.ID).StockQuantity)
}

func TestOneNotificationPerTransition(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 10)
	o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, Quantity: 1})

	_, err := e.sm.Transition(context.Background(), e.f.Vendor, o.ID, domain.StatusConfirmed)
	require.NoError(t, err)
	_, err = e.sm.Transition(context.Background(), e.f.Vendor, o.ID, domain.StatusShipped)
	require.NoError(t, err)
	_, err = e.sm.Transition(context.Background(), e.f.Vendor, o.ID, domain.StatusShipped)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, 2, storetest.CountNotifications(t, e.st, e.f.Client.ID, domain.NotifyOrderStatus))
	assert.Equal(t, 3, storetest.Order(t, e.st, o.ID).Version)
}

func TestConcurrentConfirms(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 10)
	o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, Quantity: 1})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.sm.Transition(context.Background(), e.f.Vendor, o.ID, domain.StatusConfirmed)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, storetest.CountNotifications(t, e.st, e.f.Client.ID, domain.NotifyOrderStatus))
}

type flakyTx struct {
	store.Tx
	conflicts *int
}

func (f flakyTx) UpdateOrderStatus(ctx context.Context, id string, v int, s domain.OrderStatus, at time.Time) error {
	if *f.conflicts > 0 {
		*f.conflicts--
		return domain.E(domain.KindConflict, "order %s version moved", id)
	}
	return f.Tx.UpdateOrderStatus(ctx, id, v, s, at)
}

type flakyStore struct {
	store.Store
	conflicts int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Store.WithTx(ctx, func(tx store.Tx) error { return fn(flakyTx{Tx: tx, conflicts: &f.conflicts}) })
}

func TestTransitionRetriesConflicts(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 10)
	o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, Quantity: 1})

	fs := &flakyStore{Store: e.st, conflicts: 2}
	sm := NewStatusMachine(fs, e.pool, nil, 3, nil, nil)
	got, err := sm.Transition(context.Background(), e.f.Vendor, o.ID, domain.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, got.Status)

	fs.conflicts = 5
	_, err = sm.Transition(context.Background(), e.f.Vendor, o.ID, domain.StatusShipped)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.StatusConfirmed, storetest.Order(t, e.st, o.ID).Status)
}

type recordingCache struct {
	mu       sync.Mutex
	ids      []string
	versions []int
}

func (c *recordingCache) Invalidate(_ context.Context, id string, version int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	c.versions = append(c.versions, version)
	return nil
}

func TestTransitionInvalidatesCache(t *testing.T) {
	e := newEnv(t)
	p := storetest.AddProduct(t, e.st, e.f.Shop, "5000", 10)
	o := e.order(t, e.f.Client, storetest.Line{ProductID: p.ID, Quantity: 1})
	c := &recordingCache{}
	e.sm.UseCache(c)

	_, err := e.sm.Transition(context.Background(), e.f.Vendor, o.ID, domain.StatusConfirmed)
	require.NoError(t, err)
	_, err = e.sm.Transition(context.Background(), e.f.Client, o.ID, domain.StatusShipped)
	require.Error(t, err)
	assert.Equal(t, []string{o.ID}, c.ids)
	assert.Equal(t, []int{2}, c.versions)
}
