package server

import (
	"context"

	"WagerLedger/internal/config"
	"WagerLedger/internal/core"
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/fee"
	"WagerLedger/internal/query"

	"github.com/google/uuid"
)

// SettlementServer is the wager.settlement.v1.SettlementService contract.
type SettlementServer interface {
	OpenAccount(context.Context, *OpenAccountRequest) (*OpenAccountResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error)
	Deposit(context.Context, *DepositRequest) (*DepositResponse, error)
	Withdraw(context.Context, *WithdrawRequest) (*WithdrawResponse, error)
	ConfirmWithdrawal(context.Context, *ConfirmWithdrawalRequest) (*ConfirmWithdrawalResponse, error)
	RejectWithdrawal(context.Context, *RejectWithdrawalRequest) (*RejectWithdrawalResponse, error)
	LockFunds(context.Context, *LockFundsRequest) (*LockResponse, error)
	LockGroupFunds(context.Context, *LockGroupFundsRequest) (*LockResponse, error)
	Release(context.Context, *ReleaseRequest) (*ReleaseResponse, error)
	Refund(context.Context, *RefundRequest) (*RefundResponse, error)
	GetEscrow(context.Context, *GetEscrowRequest) (*query.EscrowResponse, error)
	ListEntries(context.Context, *ListEntriesRequest) (*ListEntriesResponse, error)
	ListOperations(context.Context, *ListOperationsRequest) (*ListOperationsResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	GetPolicy(context.Context, *GetPolicyRequest) (*PolicyResponse, error)
}

// settlementService adapts the engine and query service to the wire
// messages. Errors leave as domain errors; the status interceptor converts
// them.
type settlementService struct {
	engine   *core.Engine
	queries  *query.QueryService
	currency config.Currency
}

// NewSettlementService returns the SettlementServer backed by engine.
func NewSettlementService(engine *core.Engine, queries *query.QueryService, currency config.Currency) SettlementServer {
	return &settlementService{engine: engine, queries: queries, currency: currency}
}

func toBalance(b core.Balance) Balance {
	return Balance{OwnerID: b.OwnerID, Spendable: b.Spendable, Locked: b.Locked}
}

func required(field, value string) error {
	if value == "" {
		return apperrors.Newf(apperrors.CodePolicyViolation, "%s is required", field)
	}
	return nil
}

func parseOperationID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.CodePolicyViolation, "invalid operation_id", err)
	}
	return id, nil
}

func (s *settlementService) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*OpenAccountResponse, error) {
	bal, created, err := s.engine.OpenAccount(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	return &OpenAccountResponse{Balance: toBalance(bal), Created: created}, nil
}

func (s *settlementService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	if err := required("owner_id", req.OwnerID); err != nil {
		return nil, err
	}
	bal, err := s.engine.GetBalance(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	return &GetBalanceResponse{Balance: toBalance(bal)}, nil
}

func (s *settlementService) Deposit(ctx context.Context, req *DepositRequest) (*DepositResponse, error) {
	if err := required("owner_id", req.OwnerID); err != nil {
		return nil, err
	}
	res, err := s.engine.Deposit(ctx, req.OwnerID, req.Amount, req.ExternalReference)
	if err != nil {
		return nil, err
	}
	return &DepositResponse{OperationID: res.OperationID.String(), Balance: toBalance(res.Balance)}, nil
}

func (s *settlementService) Withdraw(ctx context.Context, req *WithdrawRequest) (*WithdrawResponse, error) {
	if err := required("owner_id", req.OwnerID); err != nil {
		return nil, err
	}
	res, err := s.engine.Withdraw(ctx, req.OwnerID, req.Amount, req.Eligible)
	if err != nil {
		return nil, err
	}
	return &WithdrawResponse{
		OperationID: res.OperationID.String(),
		Balance:     toBalance(res.Balance),
		PayoutState: string(res.PayoutState),
	}, nil
}

func (s *settlementService) ConfirmWithdrawal(ctx context.Context, req *ConfirmWithdrawalRequest) (*ConfirmWithdrawalResponse, error) {
	id, err := parseOperationID(req.OperationID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.ConfirmWithdrawal(ctx, id); err != nil {
		return nil, err
	}
	return &ConfirmWithdrawalResponse{OperationID: id.String(), PayoutState: "COMPLETED"}, nil
}

func (s *settlementService) RejectWithdrawal(ctx context.Context, req *RejectWithdrawalRequest) (*RejectWithdrawalResponse, error) {
	id, err := parseOperationID(req.OperationID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.RejectWithdrawal(ctx, id, req.Reason)
	if err != nil {
		return nil, err
	}
	return &RejectWithdrawalResponse{
		ReversalOperationID: res.OperationID.String(),
		Balance:             toBalance(res.Balance),
	}, nil
}

func (s *settlementService) LockFunds(ctx context.Context, req *LockFundsRequest) (*LockResponse, error) {
	if err := required("escrow_id", req.EscrowID); err != nil {
		return nil, err
	}
	res, err := s.engine.LockFunds(ctx, req.EscrowID, req.CreatorID, req.OpponentID, req.Stake)
	if err != nil {
		return nil, err
	}
	return lockResponse(res), nil
}

func (s *settlementService) LockGroupFunds(ctx context.Context, req *LockGroupFundsRequest) (*LockResponse, error) {
	if err := required("escrow_id", req.EscrowID); err != nil {
		return nil, err
	}
	var policy fee.PayoutPolicy
	if req.PayoutPolicy != "" {
		p, err := fee.ParsePayoutPolicy(req.PayoutPolicy)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodePolicyViolation, "invalid payout_policy", err)
		}
		policy = p
	}
	res, err := s.engine.LockGroupFunds(ctx, req.EscrowID, req.Parties, req.Stake, policy)
	if err != nil {
		return nil, err
	}
	return lockResponse(res), nil
}

func lockResponse(res *core.LockResult) *LockResponse {
	return &LockResponse{
		EscrowID:     res.EscrowID,
		OperationID:  res.OperationID.String(),
		EstimatedFee: res.FeeBreakdown,
	}
}

func (s *settlementService) Release(ctx context.Context, req *ReleaseRequest) (*ReleaseResponse, error) {
	if err := required("escrow_id", req.EscrowID); err != nil {
		return nil, err
	}

	var (
		res *core.ReleaseResult
		err error
	)
	switch {
	case req.WinnerID != "" && len(req.Ranking) > 0:
		return nil, apperrors.New(apperrors.CodePolicyViolation, "give winner_id or ranking, not both")
	case req.WinnerID != "":
		res, err = s.engine.ReleaseToWinner(ctx, req.EscrowID, req.WinnerID)
	default:
		res, err = s.engine.ReleaseRanked(ctx, req.EscrowID, req.Ranking)
	}
	if err != nil {
		return nil, err
	}
	return &ReleaseResponse{
		OperationID: res.OperationID.String(),
		Fee:         res.FeeBreakdown,
		Payouts:     res.Payouts,
	}, nil
}

func (s *settlementService) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	if err := required("escrow_id", req.EscrowID); err != nil {
		return nil, err
	}
	res, err := s.engine.RefundEscrow(ctx, req.EscrowID, req.Reason)
	if err != nil {
		return nil, err
	}
	return &RefundResponse{OperationID: res.OperationID.String()}, nil
}

func (s *settlementService) GetEscrow(ctx context.Context, req *GetEscrowRequest) (*query.EscrowResponse, error) {
	if err := required("escrow_id", req.EscrowID); err != nil {
		return nil, err
	}
	return s.queries.GetEscrow(ctx, req.EscrowID)
}

func (s *settlementService) ListEntries(ctx context.Context, req *ListEntriesRequest) (*ListEntriesResponse, error) {
	filter := query.EntryFilter{Account: req.Account}
	if req.OperationID != "" {
		id, err := parseOperationID(req.OperationID)
		if err != nil {
			return nil, err
		}
		filter.OperationID = id
	}
	entries, err := s.queries.ListEntries(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &ListEntriesResponse{Entries: entries}, nil
}

func (s *settlementService) ListOperations(ctx context.Context, req *ListOperationsRequest) (*ListOperationsResponse, error) {
	ops, err := s.queries.ListOperations(ctx, req.OwnerID, req.EscrowID, req.Limit)
	if err != nil {
		return nil, err
	}
	return &ListOperationsResponse{Operations: ops}, nil
}

func (s *settlementService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	return s.queries.VerifyIntegrity(ctx)
}

func (s *settlementService) GetPolicy(_ context.Context, _ *GetPolicyRequest) (*PolicyResponse, error) {
	p := s.engine.Policy()
	return &PolicyResponse{
		Currency:        s.currency.Code,
		Scale:           s.currency.Scale,
		FeeBasisPoints:  p.FeeBasisPoints,
		MinStake:        p.MinStake,
		MaxStake:        p.MaxStake,
		MinWithdrawal:   p.MinWithdrawal,
		MaxWithdrawal:   p.MaxWithdrawal,
		MaxParties:      p.MaxParties,
		GroupPayout:     p.GroupPayout.String(),
		PlatformOwnerID: p.PlatformOwnerID,
	}, nil
}
