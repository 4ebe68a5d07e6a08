package persistence_test

import (
	"context"
	"testing"
	"time"

	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/escrow"
	"WagerLedger/internal/fee"
	"WagerLedger/internal/ledger"
	"WagerLedger/internal/persistence"
	"WagerLedger/internal/persistence/migrations"
	"WagerLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ?`
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y = $2`, persistence.DialectPostgres.Rebind(q))
	assert.Equal(t, q, persistence.DialectSQLite.Rebind(q))
}

func TestParseDialect(t *testing.T) {
	d, err := persistence.ParseDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, persistence.DialectPostgres, d)

	d, err = persistence.ParseDialect("SQLite")
	require.NoError(t, err)
	assert.Equal(t, persistence.DialectSQLite, d)

	_, err = persistence.ParseDialect("mysql")
	assert.Error(t, err)
}

func seedAccount(t *testing.T, s *persistence.Store, owner string, spendable int64) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx *persistence.Tx) error {
		if _, err := tx.EnsureAccount(context.Background(), owner, ledger.KindParty, now); err != nil {
			return err
		}
		accts, err := tx.LockAccounts(context.Background(), []string{owner})
		if err != nil {
			return err
		}
		accts[owner].Spendable = spendable
		return tx.UpdateAccount(context.Background(), accts[owner], now)
	})
	require.NoError(t, err)
}

func TestEnsureAccount_Idempotent(t *testing.T) {
	s := testutil.NewSQLiteStore(t)
	ctx := context.Background()

	var first, second bool
	require.NoError(t, s.WithTx(ctx, func(tx *persistence.Tx) error {
		var err error
		first, err = tx.EnsureAccount(ctx, "alice", ledger.KindParty, now)
		return err
	}))
	require.NoError(t, s.WithTx(ctx, func(tx *persistence.Tx) error {
		var err error
		second, err = tx.EnsureAccount(ctx, "alice", ledger.KindParty, now)
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	a, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.Spendable)
	assert.Equal(t, ledger.KindParty, a.Kind)
	assert.True(t, a.CreatedAt.Equal(now))
}

func TestLockAccounts_NotFound(t *testing.T) {
	s := testutil.NewSQLiteStore(t)
	seedAccount(t, s, "alice", 100)

	err := s.WithTx(context.Background(), func(tx *persistence.Tx) error {
		_, err := tx.LockAccounts(context.Background(), []string{"alice", "bob"})
		return err
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound), "got %v", err)

	_, err = s.GetAccount(context.Background(), "bob")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestUpdateAccount_BumpsVersion(t *testing.T) {
	s := testutil.NewSQLiteStore(t)
	seedAccount(t, s, "alice", 10000)

	a, err := s.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), a.Spendable)
	assert.Equal(t, int64(1), a.Version)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := testutil.NewSQLiteStore(t)
	seedAccount(t, s, "alice", 500)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *persistence.Tx) error {
		accts, err := tx.LockAccounts(ctx, []string{"alice"})
		if err != nil {
			return err
		}
		accts["alice"].Spendable = 0
		if err := tx.UpdateAccount(ctx, accts["alice"], now); err != nil {
			return err
		}
		return apperrors.New(apperrors.CodePolicyViolation, "abort")
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodePolicyViolation))

	a, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), a.Spendable)
}

func newEscrow(t *testing.T, id string) *escrow.Record {
	t.Helper()
	r, err := escrow.New(id, []string{"alice", "bob"}, 4000, fee.WinnerTakesAll, now)
	require.NoError(t, err)
	r.LockOperation = "op-1"
	return r
}

func TestInsertEscrow_DuplicateIsConflict(t *testing.T) {
	s := testutil.NewSQLiteStore(t)
	seedAccount(t, s, "alice", 0)
	seedAccount(t, s, "bob", 0)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *persistence.Tx) error {
		return tx.InsertEscrow(ctx, newEscrow(t, "e1"))
	}))
	err := s.WithTx(ctx, func(tx *persistence.Tx) error {
		return tx.InsertEscrow(ctx, newEscrow(t, "e1"))
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict), "got %v", err)

	r, err := s.GetEscrow(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StateLocked, r.State)
	assert.Equal(t, int64(8000), r.TotalAmount)
	assert.Equal(t, []string{"alice", "bob"}, r.PartyIDs())
	assert.Equal(t, fee.WinnerTakesAll, r.PayoutPolicy)
}

func TestResolveEscrow_OnlyOnce(t *testing.T) {
	s := testutil.NewSQLiteStore(t)
	seedAccount(t, s, "alice", 0)
	seedAccount(t, s, "bob", 0)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *persistence.Tx) error {
		return tx.InsertEscrow(ctx, newEscrow(t, "e1"))
	}))

	resolve := func() error {
		return s.WithTx(ctx, func(tx *persistence.Tx) error {
			r, err := tx.LockEscrow(ctx, "e1")
			if err != nil {
				return err
			}
			if err := r.Release([]string{"alice"}, []int64{7200}, 800, now); err != nil {
				return err
			}
			return tx.ResolveEscrow(ctx, r)
		})
	}
	require.NoError(t, resolve())
	assert.True(t, apperrors.IsCode(resolve(), apperrors.CodeInvalidState))

	r, err := s.GetEscrow(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StateReleased, r.State)
	assert.Equal(t, "alice", r.Resolution.WinnerID)
	assert.Equal(t, int64(7200), r.Resolution.Payout)
	assert.Equal(t, int64(800), r.Resolution.Fee)
	assert.Equal(t, 1, r.Parties[0].Rank)
	assert.Equal(t, int64(7200), r.Parties[0].Payout)

	_, err = s.GetEscrow(ctx, "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestWriteBatch_RoundTrip(t *testing.T) {
	s := testutil.NewSQLiteStore(t)
	ctx := context.Background()
	jg := ledger.NewJournalGenerator("platform")

	op := ledger.NewOperation(ledger.OpDeposit, ledger.StatusCompleted, ledger.DepositMetadata{Source: "api"}, now)
	op.OwnerID = "alice"
	op.Amount = 2500
	op.ExternalReference = "pi_1"
	b, err := jg.GenerateDeposit(op, "alice", 2500)
	require.NoError(t, err)

	require.NoError(t, s.WithTx(ctx, func(tx *persistence.Tx) error {
		return tx.WriteBatch(ctx, b)
	}))

	entries, err := s.EntriesByOperation(ctx, op.OperationID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.ExternalKey(), entries[0].Account)
	assert.Equal(t, int64(2500), entries[0].Debit)
	assert.Equal(t, ledger.PartyWalletKey("alice"), entries[1].Account)
	assert.Equal(t, int64(2500), entries[1].Credit)

	got, err := s.GetOperation(ctx, op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OpDeposit, got.Kind)
	assert.Equal(t, "pi_1", got.ExternalReference)
	assert.Equal(t, ledger.DepositMetadata{Source: "api"}, got.Metadata)

	byAccount, err := s.EntriesByAccount(ctx, ledger.PartyWalletKey("alice"))
	require.NoError(t, err)
	assert.Len(t, byAccount, 1)

	// same reference again
	dup := ledger.NewOperation(ledger.OpDeposit, ledger.StatusCompleted, ledger.DepositMetadata{}, now)
	dup.ExternalReference = "pi_1"
	b2, err := jg.GenerateDeposit(dup, "alice", 2500)
	require.NoError(t, err)
	err = s.WithTx(ctx, func(tx *persistence.Tx) error {
		return tx.WriteBatch(ctx, b2)
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict), "got %v", err)

	var exists bool
	require.NoError(t, s.WithTx(ctx, func(tx *persistence.Tx) error {
		exists, err = tx.ReferenceExists(ctx, "pi_1")
		return err
	}))
	assert.True(t, exists)
}

func TestTransitionOperation(t *testing.T) {
	s := testutil.NewSQLiteStore(t)
	ctx := context.Background()
	jg := ledger.NewJournalGenerator("platform")

	op := ledger.NewOperation(ledger.OpWithdrawal, ledger.StatusPending,
		ledger.WithdrawalMetadata{PayoutState: "PENDING"}, now)
	op.OwnerID = "alice"
	op.Amount = 1000
	b, err := jg.GenerateWithdrawal(op, "alice", 1000)
	require.NoError(t, err)
	require.NoError(t, s.WithTx(ctx, func(tx *persistence.Tx) error { return tx.WriteBatch(ctx, b) }))

	confirm := func() error {
		return s.WithTx(ctx, func(tx *persistence.Tx) error {
			locked, err := tx.LockOperation(ctx, op.OperationID)
			if err != nil {
				return err
			}
			locked.Status = ledger.StatusCompleted
			locked.Metadata = ledger.WithdrawalMetadata{PayoutState: "COMPLETED"}
			return tx.TransitionOperation(ctx, locked, ledger.StatusPending, now.Add(time.Second))
		})
	}
	require.NoError(t, confirm())
	assert.True(t, apperrors.IsCode(confirm(), apperrors.CodeInvalidState))

	got, err := s.GetOperation(ctx, op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)

	ops, err := s.ListOperations(ctx, "alice", "", 10)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestMigrator_DownUp(t *testing.T) {
	s := testutil.NewSQLiteStore(t)
	ctx := context.Background()
	m := persistence.NewMigrator(s.DB(), s.Dialect(), migrations.FS, zerolog.Nop())

	applied, err := m.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001"}, applied)

	require.NoError(t, m.Down(ctx))
	applied, err = m.Applied(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))
	seedAccount(t, s, "alice", 1)
}

func TestPostgres_LockAndConflict(t *testing.T) {
	s := testutil.NewPostgresStore(t)
	seedAccount(t, s, "alice", 0)
	seedAccount(t, s, "bob", 0)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *persistence.Tx) error {
		return tx.InsertEscrow(ctx, newEscrow(t, "pg-e1"))
	}))
	err := s.WithTx(ctx, func(tx *persistence.Tx) error {
		return tx.InsertEscrow(ctx, newEscrow(t, "pg-e1"))
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict), "got %v", err)
}
