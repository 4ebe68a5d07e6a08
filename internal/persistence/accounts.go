package persistence

import (
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"
)

const accountColumns = `owner_id, kind, spendable, locked, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var (
		a                    ledger.Account
		kind                 string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&a.OwnerID, &kind, &a.Spendable, &a.Locked, &a.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Kind = ledger.AccountKind(kind)
	a.CreatedAt = fromMicros(createdAt)
	a.UpdatedAt = fromMicros(updatedAt)
	return &a, nil
}

// EnsureAccount creates a zero-balance account if none exists for ownerID.
// It reports whether a row was inserted.
func (t *Tx) EnsureAccount(ctx context.Context, ownerID string, kind ledger.AccountKind, now time.Time) (bool, error) {
	res, err := t.exec(ctx, `
		INSERT INTO accounts (owner_id, kind, spendable, locked, version, created_at, updated_at)
		VALUES (?, ?, 0, 0, 0, ?, ?)
		ON CONFLICT (owner_id) DO NOTHING`,
		ownerID, string(kind), toMicros(now), toMicros(now),
	)
	if err != nil {
		return false, classify(err, "ensure account")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err, "ensure account")
	}
	return n == 1, nil
}

// LockAccounts takes an exclusive lock on every account in ascending
// owner_id order and returns them keyed by owner. Any missing account fails
// the whole call with NOT_FOUND.
func (t *Tx) LockAccounts(ctx context.Context, ownerIDs []string) (map[string]*ledger.Account, error) {
	ordered := make([]string, 0, len(ownerIDs))
	seen := make(map[string]struct{}, len(ownerIDs))
	for _, id := range ownerIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	accounts := make(map[string]*ledger.Account, len(ordered))
	for _, id := range ordered {
		a, err := scanAccount(t.queryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE owner_id = ?`+t.dialect.ForUpdate(), id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("account", "owner_id", id)
		}
		if err != nil {
			return nil, classify(err, "lock account")
		}
		accounts[id] = a
	}
	return accounts, nil
}

// UpdateAccount writes the balances of a locked account and bumps its version.
func (t *Tx) UpdateAccount(ctx context.Context, a *ledger.Account, now time.Time) error {
	if a.Spendable < 0 || a.Locked < 0 {
		return apperrors.WithMetadata(apperrors.CodeInternal, "refusing to store negative balance",
			map[string]string{"owner_id": a.OwnerID})
	}
	res, err := t.exec(ctx, `
		UPDATE accounts
		SET spendable = ?, locked = ?, version = version + 1, updated_at = ?
		WHERE owner_id = ? AND version = ?`,
		a.Spendable, a.Locked, toMicros(now), a.OwnerID, a.Version,
	)
	if err != nil {
		return classify(err, "update account")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, "update account")
	}
	if n != 1 {
		return apperrors.WithMetadata(apperrors.CodeTransient, "account modified concurrently",
			map[string]string{"owner_id": a.OwnerID})
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

// GetAccount reads an account without locking it.
func (s *Store) GetAccount(ctx context.Context, ownerID string) (*ledger.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT `+accountColumns+` FROM accounts WHERE owner_id = ?`), ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("account", "owner_id", ownerID)
	}
	if err != nil {
		return nil, classify(err, "get account")
	}
	return a, nil
}

// ListAccounts returns every account ordered by owner_id.
func (s *Store) ListAccounts(ctx context.Context) ([]*ledger.Account, error) {
	rows, err := s.query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY owner_id`)
	if err != nil {
		return nil, classify(err, "list accounts")
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, classify(err, "scan account")
		}
		out = append(out, a)
	}
	return out, classify(rows.Err(), "list accounts")
}
