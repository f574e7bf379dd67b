package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/cart"
	"github.com/ariefcatur/go-checkout-core/internal/coupons"
	"github.com/ariefcatur/go-checkout-core/internal/inventory"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/payment"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// step scripts one Capture call. charge records the capture at the provider
// even when err is returned, as a lost response would.
type step struct {
	err    error
	charge bool
}

type scriptedGateway struct {
	mu        sync.Mutex
	script    []step
	calls     int
	captured  map[string]payment.Result
	requests  []payment.CaptureRequest
	refunds   []payment.RefundRequest
	refundErr error
	lookupErr error
	onCapture func(n int, req payment.CaptureRequest)
}

func newGateway(script ...step) *scriptedGateway {
	return &scriptedGateway{script: script, captured: map[string]payment.Result{}}
}

func (g *scriptedGateway) Capture(ctx context.Context, req payment.CaptureRequest) (payment.Result, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.requests = append(g.requests, req)
	var s step
	if n <= len(g.script) {
		s = g.script[n-1]
	}
	hook := g.onCapture
	g.mu.Unlock()

	if hook != nil {
		hook(n, req)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.captured[req.IdempotencyKey]; ok {
		return prev, nil
	}
	if s.err != nil && !s.charge {
		return payment.Result{}, s.err
	}
	res := payment.Result{
		Status:         payment.StatusSucceeded,
		ProviderRef:    fmt.Sprintf("pi_%d", n),
		AmountCents:    req.AmountCents,
		IdempotencyKey: req.IdempotencyKey,
	}
	g.captured[req.IdempotencyKey] = res
	return res, s.err
}

func (g *scriptedGateway) Refund(ctx context.Context, req payment.RefundRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return nil
}

func (g *scriptedGateway) Lookup(ctx context.Context, key string) (payment.Result, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lookupErr != nil {
		return payment.Result{}, false, g.lookupErr
	}
	res, ok := g.captured[key]
	return res, ok, nil
}

func (g *scriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []orders.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, env orders.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	clock   *clock
	ledger  *inventory.MemoryLedger
	store   *orders.MemoryRepo
	coupons *coupons.MemoryRepo
	engine  *coupons.Engine
	gw      *scriptedGateway
	events  *recordingPublisher
	sleeps  []time.Duration
	co      *Coordinator
}

const ttl = 15 * time.Minute

func newFixture(t *testing.T, gw *scriptedGateway) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		coupons: coupons.NewMemoryRepo(),
		gw:      gw,
		events:  &recordingPublisher{},
	}
	f.ledger = inventory.NewMemoryLedger(ttl).WithClock(f.clock.Now)
	f.store = orders.NewMemoryRepo(f.ledger).WithClock(f.clock.Now)
	f.engine = coupons.NewEngine(f.coupons).WithClock(f.clock.Now)
	var mu sync.Mutex
	f.co = New(f.ledger, f.engine, f.store, gw, Options{
		StaleAfter: 5 * time.Minute,
		Events:     f.events,
		Now:        f.clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			f.sleeps = append(f.sleeps, d)
			mu.Unlock()
			return ctx.Err()
		},
	})
	return f
}

func (f *fixture) stock(t *testing.T, productID string, n int) {
	t.Helper()
	_, err := f.ledger.SetAvailable(context.Background(), productID, n)
	require.NoError(t, err)
}

func (f *fixture) record(t *testing.T, productID string) inventory.Record {
	t.Helper()
	rec, err := f.ledger.Record(context.Background(), productID)
	require.NoError(t, err)
	return rec
}

func (f *fixture) coupon(t *testing.T, c coupons.Coupon) {
	t.Helper()
	_, err := f.engine.Create(context.Background(), c)
	require.NoError(t, err)
}

func (f *fixture) usedCount(t *testing.T, code string) int {
	t.Helper()
	c, err := f.engine.Get(context.Background(), code)
	require.NoError(t, err)
	return c.UsedCount
}

func oneLine(productID string, qty int, price int64) cart.Cart {
	return cart.Cart{Lines: []cart.Line{{ProductID: productID, Quantity: qty, UnitPriceCents: price}}}
}

func timeout() error {
	return apperr.Provider(apperr.ReasonTimeout, context.DeadlineExceeded, "capture timed out")
}

func unavailable() error {
	return apperr.Provider(apperr.ReasonProviderUnavailable, nil, "provider down")
}

func declined() error {
	return apperr.Provider(apperr.ReasonDeclined, nil, "card declined")
}
