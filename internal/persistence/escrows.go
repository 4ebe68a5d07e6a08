package persistence

import (
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/escrow"
	"WagerLedger/internal/fee"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const escrowColumns = `escrow_id, stake_per_party, total_amount, payout_policy, state,
	winner_id, payout, fee, reason, resolved_at, lock_operation_id, created_at, updated_at`

func scanEscrow(row rowScanner) (*escrow.Record, error) {
	var (
		r                    escrow.Record
		policy, state        string
		winnerID, reason     sql.NullString
		resolvedAt           sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&r.EscrowID, &r.StakePerParty, &r.TotalAmount, &policy, &state,
		&winnerID, &r.Resolution.Payout, &r.Resolution.Fee, &reason, &resolvedAt,
		&r.LockOperation, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p, err := fee.ParsePayoutPolicy(policy)
	if err != nil {
		return nil, fmt.Errorf("escrow %s: %w", r.EscrowID, err)
	}
	r.PayoutPolicy = p
	r.State = escrow.State(state)
	r.Resolution.WinnerID = winnerID.String
	r.Resolution.Reason = reason.String
	if resolvedAt.Valid {
		r.Resolution.ResolvedAt = fromMicros(resolvedAt.Int64)
	}
	r.CreatedAt = fromMicros(createdAt)
	r.UpdatedAt = fromMicros(updatedAt)
	return &r, nil
}

func loadParties(ctx context.Context, q querier, d Dialect, r *escrow.Record) error {
	rows, err := q.QueryContext(ctx, d.Rebind(`
		SELECT owner_id, stake, place, payout
		FROM escrow_parties WHERE escrow_id = ? ORDER BY party_index`), r.EscrowID)
	if err != nil {
		return classify(err, "load escrow parties")
	}
	defer rows.Close()

	r.Parties = r.Parties[:0]
	for rows.Next() {
		var p escrow.Party
		if err := rows.Scan(&p.OwnerID, &p.Stake, &p.Rank, &p.Payout); err != nil {
			return classify(err, "scan escrow party")
		}
		r.Parties = append(r.Parties, p)
	}
	return classify(rows.Err(), "load escrow parties")
}

// InsertEscrow creates the record and its parties. A duplicate escrow id is
// reported as CONFLICT.
func (t *Tx) InsertEscrow(ctx context.Context, r *escrow.Record) error {
	_, err := t.exec(ctx, `
		INSERT INTO escrow_records (escrow_id, stake_per_party, total_amount, party_count, payout_policy,
			state, payout, fee, lock_operation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		r.EscrowID, r.StakePerParty, r.TotalAmount, len(r.Parties), r.PayoutPolicy.String(),
		string(r.State), r.LockOperation, toMicros(r.CreatedAt), toMicros(r.UpdatedAt),
	)
	if err != nil {
		err = classify(err, "insert escrow")
		if apperrors.IsCode(err, apperrors.CodeConflict) {
			return apperrors.WithMetadata(apperrors.CodeConflict, "escrow already exists",
				map[string]string{"escrow_id": r.EscrowID})
		}
		return err
	}

	values := make([]string, 0, len(r.Parties))
	args := make([]any, 0, len(r.Parties)*4)
	for i, p := range r.Parties {
		values = append(values, "(?, ?, ?, ?, 0, 0)")
		args = append(args, r.EscrowID, p.OwnerID, i, p.Stake)
	}
	if _, err := t.exec(ctx, `
		INSERT INTO escrow_parties (escrow_id, owner_id, party_index, stake, place, payout)
		VALUES `+strings.Join(values, ", "), args...); err != nil {
		return classify(err, "insert escrow parties")
	}
	return nil
}

// LockEscrow takes the escrow row lock. It is the first lock of every
// terminal operation.
func (t *Tx) LockEscrow(ctx context.Context, escrowID string) (*escrow.Record, error) {
	r, err := scanEscrow(t.queryRow(ctx,
		`SELECT `+escrowColumns+` FROM escrow_records WHERE escrow_id = ?`+t.dialect.ForUpdate(), escrowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("escrow", "escrow_id", escrowID)
	}
	if err != nil {
		return nil, classify(err, "lock escrow")
	}
	if err := loadParties(ctx, t.tx, t.dialect, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ResolveEscrow persists the terminal transition of a LOCKED record.
func (t *Tx) ResolveEscrow(ctx context.Context, r *escrow.Record) error {
	if !r.State.Terminal() {
		return apperrors.Newf(apperrors.CodeInternal, "escrow %s resolved into non-terminal state %s", r.EscrowID, r.State)
	}
	res, err := t.exec(ctx, `
		UPDATE escrow_records
		SET state = ?, winner_id = ?, payout = ?, fee = ?, reason = ?, resolved_at = ?, updated_at = ?
		WHERE escrow_id = ? AND state = ?`,
		string(r.State), nullString(r.Resolution.WinnerID), r.Resolution.Payout, r.Resolution.Fee,
		nullString(r.Resolution.Reason), toMicros(r.Resolution.ResolvedAt), toMicros(r.UpdatedAt),
		r.EscrowID, string(escrow.StateLocked),
	)
	if err != nil {
		return classify(err, "resolve escrow")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, "resolve escrow")
	}
	if n != 1 {
		return apperrors.WithMetadata(apperrors.CodeInvalidState, "escrow is no longer LOCKED",
			map[string]string{"escrow_id": r.EscrowID})
	}

	for _, p := range r.Parties {
		if p.Rank == 0 {
			continue
		}
		if _, err := t.exec(ctx, `
			UPDATE escrow_parties SET place = ?, payout = ? WHERE escrow_id = ? AND owner_id = ?`,
			p.Rank, p.Payout, r.EscrowID, p.OwnerID,
		); err != nil {
			return classify(err, "update escrow party")
		}
	}
	return nil
}

// GetEscrow reads an escrow and its parties without locking.
func (s *Store) GetEscrow(ctx context.Context, escrowID string) (*escrow.Record, error) {
	r, err := scanEscrow(s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT `+escrowColumns+` FROM escrow_records WHERE escrow_id = ?`), escrowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("escrow", "escrow_id", escrowID)
	}
	if err != nil {
		return nil, classify(err, "get escrow")
	}
	if err := loadParties(ctx, s.db, s.dialect, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListEscrows returns every escrow with its parties, oldest first.
func (s *Store) ListEscrows(ctx context.Context) ([]*escrow.Record, error) {
	rows, err := s.query(ctx, `SELECT `+escrowColumns+` FROM escrow_records ORDER BY created_at, escrow_id`)
	if err != nil {
		return nil, classify(err, "list escrows")
	}
	var out []*escrow.Record
	for rows.Next() {
		r, err := scanEscrow(rows)
		if err != nil {
			rows.Close()
			return nil, classify(err, "scan escrow")
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list escrows")
	}

	for _, r := range out {
		if err := loadParties(ctx, s.db, s.dialect, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}
