package payment

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/google/uuid"
)

type SimulatorOptions struct {
	DeclineRate float64
	FailureRate float64
	Latency     time.Duration
	Seed        int64
}

type simCapture struct {
	res Result
	err error
}

// Simulator is an in-process provider used for local runs. Like a real
// provider it replays the stored outcome for a repeated idempotency key;
// transient failures are not stored.
type Simulator struct {
	mu       sync.Mutex
	opts     SimulatorOptions
	rnd      *rand.Rand
	captures map[string]simCapture
	refunded map[string]bool
}

func NewSimulator(opts SimulatorOptions) *Simulator {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		opts:     opts,
		rnd:      rand.New(rand.NewSource(seed)),
		captures: make(map[string]simCapture),
		refunded: make(map[string]bool),
	}
}

func (s *Simulator) Capture(ctx context.Context, req CaptureRequest) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.captures[req.IdempotencyKey]; ok {
		return c.res, c.err
	}
	roll := s.rnd.Float64()
	switch {
	case roll < s.opts.FailureRate:
		return Result{}, apperr.Provider(apperr.ReasonProviderUnavailable, nil, "simulated outage")
	case roll < s.opts.FailureRate+s.opts.DeclineRate:
		c := simCapture{
			res: Result{Status: StatusFailed, ProviderRef: "sim_" + uuid.NewString(), AmountCents: req.AmountCents, IdempotencyKey: req.IdempotencyKey},
			err: apperr.Provider(apperr.ReasonDeclined, nil, "simulated decline"),
		}
		s.captures[req.IdempotencyKey] = c
		return c.res, c.err
	}
	c := simCapture{res: Result{
		Status:         StatusSucceeded,
		ProviderRef:    "sim_" + uuid.NewString(),
		AmountCents:    req.AmountCents,
		IdempotencyKey: req.IdempotencyKey,
	}}
	s.captures[req.IdempotencyKey] = c
	return c.res, nil
}

func (s *Simulator) Refund(ctx context.Context, req RefundRequest) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	known := false
	for _, c := range s.captures {
		if c.err == nil && c.res.ProviderRef == req.ProviderRef {
			known = true
			break
		}
	}
	if !known {
		return apperr.Provider(apperr.ReasonDeclined, nil, "unknown payment %s", req.ProviderRef)
	}
	if s.refunded[req.ProviderRef] {
		return apperr.Provider(apperr.ReasonAlreadyRefunded, nil, "payment %s already refunded", req.ProviderRef)
	}
	s.refunded[req.ProviderRef] = true
	return nil
}

func (s *Simulator) Lookup(ctx context.Context, key string) (Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.captures[key]
	if !ok {
		return Result{}, false, nil
	}
	return c.res, true, nil
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.opts.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.opts.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
