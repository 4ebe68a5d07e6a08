package persistence

import (
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const operationColumns = `operation_id, kind, status, owner_id, escrow_id, amount,
	external_reference, metadata_version, metadata, created_at, updated_at`

func scanOperation(row rowScanner) (*ledger.Operation, error) {
	var (
		op                        ledger.Operation
		id, kind, status, payload string
		ownerID, escrowID, ref    sql.NullString
		version                   int
		createdAt, updatedAt      int64
	)
	if err := row.Scan(&id, &kind, &status, &ownerID, &escrowID, &op.Amount,
		&ref, &version, &payload, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	opID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	op.OperationID = opID
	op.Kind = ledger.OperationKind(kind)
	op.Status = ledger.OperationStatus(status)
	op.OwnerID = ownerID.String
	op.EscrowID = escrowID.String
	op.ExternalReference = ref.String
	op.CreatedAt = fromMicros(createdAt)
	op.UpdatedAt = fromMicros(updatedAt)

	meta, err := ledger.DecodeMetadata(op.Kind, version, []byte(payload))
	if err != nil {
		return nil, err
	}
	op.Metadata = meta
	return &op, nil
}

// InsertOperation writes the operation header. A duplicate external
// reference is reported as CONFLICT.
func (t *Tx) InsertOperation(ctx context.Context, op *ledger.Operation) error {
	payload, err := ledger.EncodeMetadata(op.Metadata)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "encode operation metadata", err)
	}
	_, err = t.exec(ctx, `
		INSERT INTO operations (operation_id, kind, status, owner_id, escrow_id, amount,
			external_reference, metadata_version, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.OperationID.String(), string(op.Kind), string(op.Status),
		nullString(op.OwnerID), nullString(op.EscrowID), op.Amount,
		nullString(op.ExternalReference), ledger.MetadataVersion, string(payload),
		toMicros(op.CreatedAt), toMicros(op.UpdatedAt),
	)
	if err != nil {
		err = classify(err, "insert operation")
		if apperrors.IsCode(err, apperrors.CodeConflict) && op.ExternalReference != "" {
			return apperrors.WithMetadata(apperrors.CodeConflict, "external reference already used",
				map[string]string{"external_reference": op.ExternalReference})
		}
		return err
	}
	return nil
}

// ReferenceExists reports whether an operation already carries ref.
func (t *Tx) ReferenceExists(ctx context.Context, ref string) (bool, error) {
	var one int
	err := t.queryRow(ctx, `SELECT 1 FROM operations WHERE external_reference = ?`, ref).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(err, "check external reference")
	}
	return true, nil
}

// LockOperation takes the row lock on an operation.
func (t *Tx) LockOperation(ctx context.Context, id uuid.UUID) (*ledger.Operation, error) {
	op, err := scanOperation(t.queryRow(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE operation_id = ?`+t.dialect.ForUpdate(), id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("operation", "operation_id", id.String())
	}
	if err != nil {
		return nil, classify(err, "lock operation")
	}
	return op, nil
}

// TransitionOperation moves a locked operation from one status to another
// and rewrites its metadata.
func (t *Tx) TransitionOperation(ctx context.Context, op *ledger.Operation, from ledger.OperationStatus, now time.Time) error {
	payload, err := ledger.EncodeMetadata(op.Metadata)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "encode operation metadata", err)
	}
	res, err := t.exec(ctx, `
		UPDATE operations SET status = ?, metadata = ?, updated_at = ?
		WHERE operation_id = ? AND status = ?`,
		string(op.Status), string(payload), toMicros(now), op.OperationID.String(), string(from),
	)
	if err != nil {
		return classify(err, "transition operation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, "transition operation")
	}
	if n != 1 {
		return apperrors.WithMetadata(apperrors.CodeInvalidState, "operation is no longer "+string(from),
			map[string]string{"operation_id": op.OperationID.String()})
	}
	op.UpdatedAt = now
	return nil
}

// GetOperation reads an operation without locking.
func (s *Store) GetOperation(ctx context.Context, id uuid.UUID) (*ledger.Operation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT `+operationColumns+` FROM operations WHERE operation_id = ?`), id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("operation", "operation_id", id.String())
	}
	if err != nil {
		return nil, classify(err, "get operation")
	}
	return op, nil
}

// ListOperations returns operations for an owner or escrow, newest first.
// Empty filters match everything.
func (s *Store) ListOperations(ctx context.Context, ownerID, escrowID string, limit int) ([]*ledger.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE 1 = 1`
	var args []any
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	if escrowID != "" {
		query += ` AND escrow_id = ?`
		args = append(args, escrowID)
	}
	query += ` ORDER BY created_at DESC, operation_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list operations")
	}
	defer rows.Close()

	var out []*ledger.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, classify(err, "scan operation")
		}
		out = append(out, op)
	}
	return out, classify(rows.Err(), "list operations")
}
