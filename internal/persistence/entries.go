package persistence

import (
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/ledger"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// maxEntriesPerInsert keeps multi-row INSERTs under SQLite's bound-variable limit.
const maxEntriesPerInsert = 100

const entryColumns = `entry_id, operation_id, account_type, account_ref, debit, credit, description, created_at`

// WriteBatch persists a validated batch: the operation header, then every
// entry with multi-row INSERTs.
func (t *Tx) WriteBatch(ctx context.Context, b *ledger.Batch) error {
	if err := b.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "refusing to write invalid batch", err)
	}
	if err := t.InsertOperation(ctx, b.Operation); err != nil {
		return err
	}
	return t.insertEntries(ctx, b.Entries)
}

func (t *Tx) insertEntries(ctx context.Context, entries []ledger.Entry) error {
	for start := 0; start < len(entries); start += maxEntriesPerInsert {
		end := min(start+maxEntriesPerInsert, len(entries))
		chunk := entries[start:end]

		values := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*9)
		for i, e := range chunk {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				e.EntryID.String(), e.OperationID.String(), start+i,
				string(e.Account.Type), e.Account.Ref,
				e.Debit, e.Credit, e.Description, toMicros(e.CreatedAt),
			)
		}

		query := `INSERT INTO ledger_entries
			(entry_id, operation_id, entry_index, account_type, account_ref, debit, credit, description, created_at)
			VALUES ` + strings.Join(values, ", ")
		if _, err := t.exec(ctx, query, args...); err != nil {
			return classify(err, "insert ledger entries")
		}
	}
	return nil
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e                     ledger.Entry
		entryID, operationID  string
		accountType, accountR string
		createdAt             int64
	)
	if err := row.Scan(&entryID, &operationID, &accountType, &accountR,
		&e.Debit, &e.Credit, &e.Description, &createdAt); err != nil {
		return e, err
	}
	var err error
	if e.EntryID, err = uuid.Parse(entryID); err != nil {
		return e, fmt.Errorf("entry id: %w", err)
	}
	if e.OperationID, err = uuid.Parse(operationID); err != nil {
		return e, fmt.Errorf("operation id: %w", err)
	}
	e.Account = ledger.AccountKey{Type: ledger.AccountType(accountType), Ref: accountR}
	e.CreatedAt = fromMicros(createdAt)
	return e, nil
}

func (s *Store) listEntries(ctx context.Context, where string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries `+where+
		` ORDER BY created_at, operation_id, entry_index`, args...)
	if err != nil {
		return nil, classify(err, "list ledger entries")
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify(err, "scan ledger entry")
		}
		out = append(out, e)
	}
	return out, classify(rows.Err(), "list ledger entries")
}

// EntriesByOperation returns the entries an operation produced in write order.
func (s *Store) EntriesByOperation(ctx context.Context, operationID uuid.UUID) ([]ledger.Entry, error) {
	return s.listEntries(ctx, `WHERE operation_id = ?`, operationID.String())
}

// EntriesByAccount returns every entry touching an account in write order.
func (s *Store) EntriesByAccount(ctx context.Context, key ledger.AccountKey) ([]ledger.Entry, error) {
	return s.listEntries(ctx, `WHERE account_type = ? AND account_ref = ?`, string(key.Type), key.Ref)
}

// ScanEntries streams the whole journal in write order.
func (s *Store) ScanEntries(ctx context.Context, fn func(ledger.Entry) error) error {
	rows, err := s.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY created_at, operation_id, entry_index`)
	if err != nil {
		return classify(err, "scan journal")
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return classify(err, "scan ledger entry")
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return classify(rows.Err(), "scan journal")
}
