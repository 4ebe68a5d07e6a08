package core_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"WagerLedger/internal/core"
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/ledger"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresFixture(t *testing.T) *fixture {
	t.Helper()
	testutil.RequireIntegration(t)
	store := testutil.NewPostgresStore(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	events := make(chan core.SettlementEvent, 256)
	engine, err := core.NewEngine(store, core.DefaultPolicy(), events, metrics, zerolog.Nop())
	require.NoError(t, err)
	return &fixture{engine: engine, store: store, metrics: metrics, events: events}
}

func TestPostgres_OppositeOrderLocksDoNotDeadlock(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 100_000)
	f.fund(t, "bob", 100_000)

	const workers = 20
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.engine.LockFunds(ctx, fmt.Sprintf("ab-%d", i), "alice", "bob", 100)
			} else {
				_, errs[i] = f.engine.LockFunds(ctx, fmt.Sprintf("ba-%d", i), "bob", "alice", 100)
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}
	assert.Equal(t, int64(workers*100), f.balance(t, "alice").Locked)
	assert.Equal(t, int64(workers*100), f.balance(t, "bob").Locked)
	assert.Zero(t, promtest.ToFloat64(f.metrics.LockWaitFailures.WithLabelValues(string(ledger.OpEscrowLock))))
	f.requireConsistent(t)
}

func TestPostgres_ConcurrentResolutionSettlesOnce(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 10_000)
	f.fund(t, "bob", 10_000)

	_, err := f.engine.LockFunds(ctx, "m", "alice", "bob", 4000)
	require.NoError(t, err)

	const workers = 12
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_, errs[i] = f.engine.ReleaseToWinner(ctx, "m", "alice")
			case 1:
				_, errs[i] = f.engine.ReleaseToWinner(ctx, "m", "bob")
			default:
				_, errs[i] = f.engine.RefundEscrow(ctx, "m", "race")
			}
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidState), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	a, b := f.balance(t, "alice"), f.balance(t, "bob")
	assert.Zero(t, a.Locked)
	assert.Zero(t, b.Locked)
	f.requireConsistent(t)
}

func TestPostgres_LockWaitTimeoutIsTransient(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 1000)

	holder, err := f.store.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	defer holder.Rollback()
	_, err = holder.ExecContext(ctx, `SELECT owner_id FROM accounts WHERE owner_id = $1 FOR UPDATE`, "alice")
	require.NoError(t, err)

	_, err = f.engine.Deposit(ctx, "alice", 500, "held-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTransient), "got %v", err)
	assert.Equal(t, float64(1), promtest.ToFloat64(f.metrics.LockWaitFailures.WithLabelValues(string(ledger.OpDeposit))))

	// the rolled-back attempt did not consume the reference
	require.NoError(t, holder.Rollback())
	_, err = f.engine.Deposit(ctx, "alice", 500, "held-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), f.balance(t, "alice").Spendable)
	f.requireConsistent(t)
}
