package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T, stock map[string]int) *MemoryLedger {
	t.Helper()
	l := NewMemoryLedger(time.Minute)
	for id, n := range stock {
		_, err := l.SetAvailable(context.Background(), id, n)
		require.NoError(t, err)
	}
	return l
}

func TestReserveCommitRelease(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, map[string]int{"x": 5})

	tok, err := l.Reserve(ctx, "x", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, tok.Status)

	rec, _ := l.Record(ctx, "x")
	assert.Equal(t, 2, rec.Available)
	assert.Equal(t, 3, rec.Reserved)

	require.NoError(t, l.Commit(ctx, tok.ID))
	rec, _ = l.Record(ctx, "x")
	assert.Equal(t, 2, rec.Available)
	assert.Equal(t, 0, rec.Reserved)

	tok2, err := l.Reserve(ctx, "x", 2)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, tok2.ID))
	rec, _ = l.Record(ctx, "x")
	assert.Equal(t, 2, rec.Available)
	assert.Equal(t, 0, rec.Reserved)
}

func TestReserve_InsufficientStock(t *testing.T) {
	l := newLedger(t, map[string]int{"x": 1})
	_, err := l.Reserve(context.Background(), "x", 2)
	assert.True(t, apperr.Is(err, apperr.ReasonInsufficientStock))

	rec, _ := l.Record(context.Background(), "x")
	assert.Equal(t, 1, rec.Available)
	assert.Equal(t, 0, rec.Reserved)
}

func TestReserve_UnknownProductAndBadQty(t *testing.T) {
	l := newLedger(t, map[string]int{"x": 1})
	_, err := l.Reserve(context.Background(), "nope", 1)
	assert.True(t, apperr.Is(err, apperr.ReasonUnknownProduct))
	_, err = l.Reserve(context.Background(), "x", 0)
	assert.True(t, apperr.Is(err, apperr.ReasonInvalidInput))
}

func TestRelease_Idempotent(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, map[string]int{"x": 4})
	tok, err := l.Reserve(ctx, "x", 4)
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, tok.ID))
	require.NoError(t, l.Release(ctx, tok.ID))

	rec, _ := l.Record(ctx, "x")
	assert.Equal(t, 4, rec.Available)
	assert.Equal(t, 0, rec.Reserved)
}

func TestRelease_AfterCommitIsNoop(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, map[string]int{"x": 4})
	tok, _ := l.Reserve(ctx, "x", 1)
	require.NoError(t, l.Commit(ctx, tok.ID))
	require.NoError(t, l.Release(ctx, tok.ID))
	require.NoError(t, l.Commit(ctx, tok.ID))

	rec, _ := l.Record(ctx, "x")
	assert.Equal(t, 3, rec.Available)
	assert.Equal(t, 0, rec.Reserved)
}

func TestCommit_ReleasedTokenIsStale(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, map[string]int{"x": 4})
	tok, _ := l.Reserve(ctx, "x", 1)
	require.NoError(t, l.Release(ctx, tok.ID))
	err := l.Commit(ctx, tok.ID)
	assert.True(t, apperr.Is(err, apperr.ReasonStaleState))
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, map[string]int{"x": 4, "y": 4})
	a, _ := l.Reserve(ctx, "x", 1)
	b, _ := l.Reserve(ctx, "y", 1)

	require.NoError(t, l.Attach(ctx, "o1", []string{a.ID, b.ID}))
	toks, err := l.ByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, toks, 2)

	err = l.Attach(ctx, "o2", []string{a.ID})
	assert.True(t, apperr.Is(err, apperr.ReasonStaleState))
}

func TestExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(t, map[string]int{"x": 10}).WithClock(func() time.Time { return now })

	old, _ := l.Reserve(ctx, "x", 1)
	done, _ := l.Reserve(ctx, "x", 1)
	require.NoError(t, l.Commit(ctx, done.ID))

	now = now.Add(30 * time.Second)
	fresh, _ := l.Reserve(ctx, "x", 1)

	expired, err := l.Expired(ctx, now.Add(45*time.Second), 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
	assert.NotEqual(t, fresh.ID, expired[0].ID)
}

// Concurrent reservations never over-reserve and never drive available
// below zero.
func TestConcurrentReservations(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, map[string]int{"x": 100})

	var (
		wg      sync.WaitGroup
		success atomic.Int64
		tokens  sync.Map
	)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := l.Reserve(ctx, "x", 3)
			if err != nil {
				assert.True(t, apperr.Is(err, apperr.ReasonInsufficientStock))
				return
			}
			success.Add(1)
			tokens.Store(tok.ID, tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(33), success.Load())
	rec, _ := l.Record(ctx, "x")
	assert.Equal(t, 1, rec.Available)
	assert.Equal(t, 99, rec.Reserved)

	// half commit, half release, concurrently
	i := 0
	tokens.Range(func(k, _ any) bool {
		id := k.(string)
		commit := i%2 == 0
		i++
		wg.Add(1)
		go func() {
			defer wg.Done()
			if commit {
				assert.NoError(t, l.Commit(ctx, id))
			} else {
				assert.NoError(t, l.Release(ctx, id))
			}
		}()
		return true
	})
	wg.Wait()

	rec, _ = l.Record(ctx, "x")
	assert.GreaterOrEqual(t, rec.Available, 0)
	assert.Equal(t, 0, rec.Reserved)
	assert.Equal(t, 1+16*3, rec.Available)
}
