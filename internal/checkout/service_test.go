package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-orders/internal/clock"
	"github.com/ariefcatur/go-checkout-orders/internal/inventory"
	"github.com/ariefcatur/go-checkout-orders/internal/memory"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/payment"
	"github.com/ariefcatur/go-checkout-orders/internal/pricing"
)

type fixture struct {
	svc      *Service
	products *memory.Products
	store    *memory.Orders
	gateway  *payment.Sandbox
	events   *recordingPublisher
	journal  *recordingJournal
}

func newFixture(t *testing.T, products ...orders.Product) *fixture {
	t.Helper()
	f := &fixture{
		products: memory.NewProducts(products...),
		store:    memory.NewOrders(),
		gateway:  payment.NewSandbox("http://sandbox.local"),
		events:   &recordingPublisher{},
		journal:  &recordingJournal{},
	}
	f.svc = &Service{
		Users: memory.NewUsers(orders.User{
			ID: "u-1", Name: "Rahim", Email: "rahim@example.com", Phone: "01700000000", ShippingAddress: "Road 2",
		}),
		Catalog:     f.products,
		Pricing:     pricing.Engine{Surcharge: decimal.NewFromInt(2)},
		Inventory:   &inventory.Service{Ledger: f.products},
		Store:       f.store,
		Gateway:     f.gateway,
		Events:      f.events,
		Journal:     f.journal,
		Clock:       clock.NewFixed(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
		Currency:    "BDT",
		ServiceName: "order-api",
	}
	return f
}

func (f *fixture) stock(t *testing.T, id string) orders.InventoryRecord {
	t.Helper()
	rec, err := f.products.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("stock %s: %v", id, err)
	}
	return rec
}

func (f *fixture) order(t *testing.T, id string) *orders.Order {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return o
}

func product(id, price string, stock int) orders.Product {
	return orders.Product{ID: id, Name: "Product " + id, Price: decimal.RequireFromString(price), Stock: stock}
}

func buy(productID string, qty int) CreateOrderInput {
	return CreateOrderInput{UserID: "u-1", Items: []pricing.Request{{ProductID: productID, Quantity: qty}}, ClientIP: "10.0.0.1"}
}

func TestCreateOrderThenSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "9.99", 3))

	res, err := f.svc.CreateOrder(ctx, buy("p", 3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.TotalPrice.Equal(decimal.RequireFromString("31.97")) {
		t.Fatalf("expected total 31.97, got %s", res.TotalPrice)
	}
	if res.CheckoutURL == "" || res.TransactionID == "" {
		t.Fatalf("expected checkout handle, got %+v", res)
	}
	if rec := f.stock(t, "p"); rec.Quantity != 0 || rec.InStock {
		t.Fatalf("expected stock 0 and out of stock, got %+v", rec)
	}
	o := f.order(t, res.OrderID)
	if o.Status != orders.StatusPending || o.Transaction.ID != res.TransactionID {
		t.Fatalf("unexpected order %+v", o)
	}
	sess, ok := f.gateway.Session(res.TransactionID)
	if !ok || !sess.Amount.Equal(res.TotalPrice) || sess.Currency != "BDT" || sess.Customer.Name != "Rahim" || sess.ClientIP != "10.0.0.1" {
		t.Fatalf("unexpected session request %+v", sess)
	}

	_ = f.gateway.Settle(res.TransactionID, orders.BankSuccess)
	snap, err := f.svc.Verify(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if snap.Status != orders.StatusPaid || !snap.Applied || snap.OrderID != res.OrderID || len(snap.Records) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if rec := f.stock(t, "p"); rec.Quantity != 0 {
		t.Fatalf("success must not release stock, got %d", rec.Quantity)
	}
	o = f.order(t, res.OrderID)
	if o.Transaction.BankStatus != orders.BankSuccess || o.Transaction.Method != "sandbox" {
		t.Fatalf("expected gateway metadata recorded, got %+v", o.Transaction)
	}

	rev, _ := f.svc.Revenue(ctx)
	if rev.PaidOrders != 1 || !rev.TotalRevenue.Equal(res.TotalPrice) {
		t.Fatalf("unexpected revenue %+v", rev)
	}
	if got := f.events.types(); len(got) != 3 || got[0] != orders.EventOrderCreated ||
		got[1] != orders.EventPaymentSessionOpened || got[2] != orders.EventOrderStatusChanged {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestVerifyCancelReleasesStockOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "9.99", 3))

	res, err := f.svc.CreateOrder(ctx, buy("p", 3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = f.gateway.Settle(res.TransactionID, orders.BankCancel)

	for i := 0; i < 2; i++ {
		snap, err := f.svc.Verify(ctx, res.TransactionID)
		if err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
		if snap.Status != orders.StatusCancelled {
			t.Fatalf("expected Cancelled, got %s", snap.Status)
		}
		if snap.Applied != (i == 0) {
			t.Fatalf("verify %d: applied=%v", i, snap.Applied)
		}
		if rec := f.stock(t, "p"); rec.Quantity != 3 || !rec.InStock {
			t.Fatalf("verify %d: expected stock 3 in stock, got %+v", i, rec)
		}
	}
	if !f.order(t, res.OrderID).StockReleased {
		t.Fatalf("expected release recorded on the order")
	}
	if n := len(f.journal.entries); n != 2 {
		t.Fatalf("expected every verification journaled, got %d", n)
	}
}

func TestVerifyFailedKeepsOrderPendingAndReserved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "5", 2))

	res, _ := f.svc.CreateOrder(ctx, buy("p", 2))
	_ = f.gateway.Settle(res.TransactionID, orders.BankFailed)

	snap, err := f.svc.Verify(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if snap.Status != orders.StatusPending {
		t.Fatalf("expected Pending, got %s", snap.Status)
	}
	if rec := f.stock(t, "p"); rec.Quantity != 0 {
		t.Fatalf("failed payment must keep the reservation, got %d", rec.Quantity)
	}
	if o := f.order(t, res.OrderID); o.Transaction.BankStatus != orders.BankFailed {
		t.Fatalf("expected metadata recorded, got %+v", o.Transaction)
	}

	// the buyer retries and pays
	_ = f.gateway.Settle(res.TransactionID, orders.BankSuccess)
	snap, _ = f.svc.Verify(ctx, res.TransactionID)
	if snap.Status != orders.StatusPaid {
		t.Fatalf("expected Paid after retry, got %s", snap.Status)
	}
}

func TestVerifyUnknownStatusRecordsOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "5", 2))
	res, _ := f.svc.CreateOrder(ctx, buy("p", 1))
	_ = f.gateway.Settle(res.TransactionID, "Processing")

	snap, err := f.svc.Verify(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if snap.Status != orders.StatusPending || snap.Applied {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if o := f.order(t, res.OrderID); o.Transaction.BankStatus != "Processing" {
		t.Fatalf("expected raw status recorded, got %q", o.Transaction.BankStatus)
	}
}

func TestVerifyAfterPaidRejectsCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "5", 2))
	res, _ := f.svc.CreateOrder(ctx, buy("p", 2))

	_ = f.gateway.Settle(res.TransactionID, orders.BankSuccess)
	_, _ = f.svc.Verify(ctx, res.TransactionID)
	_ = f.gateway.Settle(res.TransactionID, orders.BankCancel)

	snap, err := f.svc.Verify(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if snap.Status != orders.StatusPaid || snap.Applied {
		t.Fatalf("expected Paid to stick, got %+v", snap)
	}
	if rec := f.stock(t, "p"); rec.Quantity != 0 {
		t.Fatalf("paid order stock must stay reserved, got %d", rec.Quantity)
	}
}

func TestVerifyWithoutRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "5", 2))
	res, _ := f.svc.CreateOrder(ctx, buy("p", 1))
	before := f.order(t, res.OrderID)

	snap, err := f.svc.Verify(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(snap.Records) != 0 || snap.OrderID != "" {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	if after := f.order(t, res.OrderID); after.Version != before.Version {
		t.Fatalf("expected no write, version %d -> %d", before.Version, after.Version)
	}

	if _, err := f.svc.Verify(ctx, ""); !errors.Is(err, orders.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCreateOrderOutOfStockRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("a", "10", 5), product("b", "5", 1))

	_, err := f.svc.CreateOrder(ctx, CreateOrderInput{UserID: "u-1", Items: []pricing.Request{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 2},
	}})
	if !errors.Is(err, orders.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if f.stock(t, "a").Quantity != 5 || f.stock(t, "b").Quantity != 1 {
		t.Fatalf("stock changed: a=%d b=%d", f.stock(t, "a").Quantity, f.stock(t, "b").Quantity)
	}
	if all, _ := f.store.List(ctx); len(all) != 0 {
		t.Fatalf("expected no order, got %d", len(all))
	}
}

func TestCreateOrderRejections(t *testing.T) {
	cases := []struct {
		name string
		in   CreateOrderInput
		want error
	}{
		{"unknown user", CreateOrderInput{UserID: "ghost", Items: []pricing.Request{{ProductID: "a", Quantity: 1}}}, orders.ErrUserNotFound},
		{"unknown product", CreateOrderInput{UserID: "u-1", Items: []pricing.Request{{ProductID: "a", Quantity: 1}, {ProductID: "zzz", Quantity: 1}}}, orders.ErrProductNotFound},
		{"empty cart", CreateOrderInput{UserID: "u-1"}, orders.ErrInvalidRequest},
		{"zero quantity", CreateOrderInput{UserID: "u-1", Items: []pricing.Request{{ProductID: "a", Quantity: 0}}}, orders.ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, product("a", "10", 5))
			_, err := f.svc.CreateOrder(context.Background(), tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if f.stock(t, "a").Quantity != 5 {
				t.Fatalf("stock changed")
			}
		})
	}
}

func TestGatewayFailureLeavesOrderPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "10", 2))
	f.gateway.FailSessions(errors.New("connection refused"))

	res, err := f.svc.CreateOrder(ctx, buy("p", 1))
	if !errors.Is(err, orders.ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	if res.OrderID == "" {
		t.Fatalf("expected the pending order id with the error")
	}
	o := f.order(t, res.OrderID)
	if o.Status != orders.StatusPending || o.Transaction.ID != "" {
		t.Fatalf("unexpected order %+v", o)
	}
	if f.stock(t, "p").Quantity != 1 {
		t.Fatalf("reservation must stay in place")
	}

	f.gateway.FailSessions(nil)
	retry, err := f.svc.RetryPayment(ctx, res.OrderID, "10.0.0.2")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.CheckoutURL == "" || f.order(t, res.OrderID).Transaction.ID != retry.TransactionID {
		t.Fatalf("unexpected retry result %+v", retry)
	}
	if _, err := f.svc.RetryPayment(ctx, res.OrderID, "10.0.0.2"); !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("expected ErrConflict on second retry, got %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "10", 4))
	res, _ := f.svc.CreateOrder(ctx, buy("p", 3))

	o, err := f.svc.CancelOrder(ctx, res.OrderID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if o.Status != orders.StatusCancelled || !o.StockReleased {
		t.Fatalf("unexpected order %+v", o)
	}
	if f.stock(t, "p").Quantity != 4 {
		t.Fatalf("expected stock back to 4, got %d", f.stock(t, "p").Quantity)
	}

	if _, err := f.svc.CancelOrder(ctx, res.OrderID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if f.stock(t, "p").Quantity != 4 {
		t.Fatalf("second cancel released again: %d", f.stock(t, "p").Quantity)
	}

	// a late gateway Cancel must not release a second time either
	_ = f.gateway.Settle(res.TransactionID, orders.BankCancel)
	if _, err := f.svc.Verify(ctx, res.TransactionID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if f.stock(t, "p").Quantity != 4 {
		t.Fatalf("late gateway cancel released again: %d", f.stock(t, "p").Quantity)
	}
}

func TestCancelPaidOrderFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "10", 1))
	res, _ := f.svc.CreateOrder(ctx, buy("p", 1))
	_ = f.gateway.Settle(res.TransactionID, orders.BankSuccess)
	_, _ = f.svc.Verify(ctx, res.TransactionID)

	if _, err := f.svc.CancelOrder(ctx, res.OrderID); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.CancelOrder(ctx, "missing"); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestFailedReleaseIsRetriedByNextCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "10", 2))
	res, _ := f.svc.CreateOrder(ctx, buy("p", 2))

	flaky := &flakyInventory{Inventory: f.svc.Inventory, failures: 1}
	f.svc.Inventory = flaky

	if _, err := f.svc.CancelOrder(ctx, res.OrderID); err == nil {
		t.Fatalf("expected the release failure to surface")
	}
	o := f.order(t, res.OrderID)
	if o.Status != orders.StatusCancelled || o.StockReleased {
		t.Fatalf("expected Cancelled with release unclaimed, got %+v", o)
	}
	if f.stock(t, "p").Quantity != 0 {
		t.Fatalf("stock must not move on a failed release")
	}

	if _, err := f.svc.CancelOrder(ctx, res.OrderID); err != nil {
		t.Fatalf("retry cancel: %v", err)
	}
	if f.stock(t, "p").Quantity != 2 || !f.order(t, res.OrderID).StockReleased {
		t.Fatalf("expected release on retry")
	}
}

func TestVerifyRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "10", 2))
	res, _ := f.svc.CreateOrder(ctx, buy("p", 1))
	_ = f.gateway.Settle(res.TransactionID, orders.BankSuccess)

	racy := &racingStore{Orders: f.store, races: 2}
	f.svc.Store = racy

	snap, err := f.svc.Verify(ctx, res.TransactionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if snap.Status != orders.StatusPaid || racy.updates != 3 {
		t.Fatalf("expected Paid after 3 attempts, got %s after %d", snap.Status, racy.updates)
	}

	f2 := newFixture(t, product("p", "10", 2))
	res2, _ := f2.svc.CreateOrder(ctx, buy("p", 1))
	_ = f2.gateway.Settle(res2.TransactionID, orders.BankSuccess)
	f2.svc.Store = &racingStore{Orders: f2.store, races: 100}
	f2.svc.Retries = 2
	if _, err := f2.svc.Verify(ctx, res2.TransactionID); !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("expected ErrConflict after bounded retries, got %v", err)
	}
}

func TestConcurrentOrdersForLastUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("last", "10", 1))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOrder(ctx, buy("last", 1))
		}(i)
	}
	wg.Wait()

	ok, out := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, orders.ErrOutOfStock):
			out++
		}
	}
	if ok != 1 || out != 1 {
		t.Fatalf("expected one success and one OutOfStock, got %v", errs)
	}
	if rec := f.stock(t, "last"); rec.Quantity != 0 || rec.InStock {
		t.Fatalf("expected final stock 0, got %+v", rec)
	}
}

func TestConcurrentVerifyAppliesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "10", 3))
	res, _ := f.svc.CreateOrder(ctx, buy("p", 3))
	_ = f.gateway.Settle(res.TransactionID, orders.BankCancel)
	f.svc.Retries = 20

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Verify(ctx, res.TransactionID); err != nil {
				t.Errorf("verify: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.stock(t, "p").Quantity; got != 3 {
		t.Fatalf("expected stock released exactly once to 3, got %d", got)
	}
}

func TestListOrdersForUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "10", 5))
	_, _ = f.svc.CreateOrder(ctx, buy("p", 1))
	_, _ = f.svc.CreateOrder(ctx, buy("p", 1))

	list, err := f.svc.ListOrdersForUser(ctx, "u-1")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 orders, got %d %v", len(list), err)
	}
	if _, err := f.svc.ListOrdersForUser(ctx, "ghost"); !errors.Is(err, orders.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestOrderStatusReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "10", 5))
	cache := &mapCache{m: map[string]orders.Status{}}
	f.svc.Cache = cache

	res, _ := f.svc.CreateOrder(ctx, buy("p", 1))
	if cache.m[res.OrderID] != orders.StatusPending {
		t.Fatalf("expected Pending cached on create")
	}
	_ = f.gateway.Settle(res.TransactionID, orders.BankSuccess)
	_, _ = f.svc.Verify(ctx, res.TransactionID)
	if cache.m[res.OrderID] != orders.StatusPaid {
		t.Fatalf("expected Paid cached after verify")
	}

	delete(cache.m, res.OrderID)
	st, err := f.svc.OrderStatus(ctx, res.OrderID)
	if err != nil || st != orders.StatusPaid {
		t.Fatalf("expected Paid from store, got %s %v", st, err)
	}
	if cache.m[res.OrderID] != orders.StatusPaid {
		t.Fatalf("expected cache refilled")
	}
}

func TestNotifyPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "10", 5))
	res, _ := f.svc.CreateOrder(ctx, buy("p", 1))

	queued, err := f.svc.NotifyPayment(ctx, res.TransactionID)
	if err != nil || !queued {
		t.Fatalf("expected queued notification, got %v %v", queued, err)
	}
	if last := f.events.types(); last[len(last)-1] != orders.EventPaymentNotified {
		t.Fatalf("expected PaymentNotified published, got %v", last)
	}

	f.svc.Events = nil
	_ = f.gateway.Settle(res.TransactionID, orders.BankSuccess)
	queued, err = f.svc.NotifyPayment(ctx, res.TransactionID)
	if err != nil || queued {
		t.Fatalf("expected inline verification, got %v %v", queued, err)
	}
	if f.order(t, res.OrderID).Status != orders.StatusPaid {
		t.Fatalf("expected Paid after inline verify")
	}
}

// ---- fakes ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []orders.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, ev orders.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType)
	}
	return out
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []orders.Settlement
}

func (j *recordingJournal) Append(_, _ string, s orders.Settlement, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
	return nil
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]orders.Status
}

func (c *mapCache) GetStatus(_ context.Context, id string) (orders.Status, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.m[id]
	return st, ok, nil
}

func (c *mapCache) SetStatus(_ context.Context, id string, st orders.Status, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = st
	return nil
}

type flakyInventory struct {
	Inventory
	failures int
}

func (f *flakyInventory) ReleaseAll(ctx context.Context, items []orders.LineItem) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("ledger unavailable")
	}
	return f.Inventory.ReleaseAll(ctx, items)
}

// racingStore fails the first races updates as if another writer got there
// first.
type racingStore struct {
	*memory.Orders
	races   int
	updates int
}

func (s *racingStore) Update(ctx context.Context, o *orders.Order) error {
	s.updates++
	if s.updates <= s.races {
		return orders.ErrConflict
	}
	return s.Orders.Update(ctx, o)
}

func TestCancelDuringPaymentSessionDiscardsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("p", "9.99", 3))
	gw := &blockingGateway{Gateway: f.gateway, entered: make(chan string, 1), release: make(chan struct{})}
	f.svc.Gateway = gw

	type result struct {
		res Checkout
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := f.svc.CreateOrder(ctx, buy("p", 2))
		done <- result{res, err}
	}()

	orderID := <-gw.entered
	if _, err := f.svc.CancelOrder(ctx, orderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(gw.release)
	r := <-done

	if !errors.Is(r.err, orders.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", r.err)
	}
	if r.res.OrderID != orderID || r.res.CheckoutURL != "" || r.res.TransactionID != "" {
		t.Fatalf("checkout handle must not be returned, got %+v", r.res)
	}
	o := f.order(t, orderID)
	if o.Status != orders.StatusCancelled || o.Transaction.ID != "" {
		t.Fatalf("unexpected order %+v", o)
	}
	if rec := f.stock(t, "p"); rec.Quantity != 3 {
		t.Fatalf("expected stock released once back to 3, got %d", rec.Quantity)
	}
}

// blockingGateway reports the order id of each session request and holds the
// reply until release is closed.
type blockingGateway struct {
	payment.Gateway
	entered chan string
	release chan struct{}
}

func (g *blockingGateway) OpenSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error) {
	g.entered <- req.OrderID
	<-g.release
	return g.Gateway.OpenSession(ctx, req)
}
