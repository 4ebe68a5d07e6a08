package server

import (
	"context"
	"fmt"

	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/query"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var _ SettlementServer = (*Client)(nil)

// Client calls SettlementService over gRPC. Errors come back as domain
// errors rebuilt from the status details.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target. Extra options are appended to the defaults.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	conn, err := grpc.NewClient(target, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, apperrors.FromGRPCStatus(err)
	}
	return out, nil
}

func (c *Client) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*OpenAccountResponse, error) {
	return invoke[OpenAccountResponse](ctx, c, "OpenAccount", req)
}

func (c *Client) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	return invoke[GetBalanceResponse](ctx, c, "GetBalance", req)
}

func (c *Client) Deposit(ctx context.Context, req *DepositRequest) (*DepositResponse, error) {
	return invoke[DepositResponse](ctx, c, "Deposit", req)
}

func (c *Client) Withdraw(ctx context.Context, req *WithdrawRequest) (*WithdrawResponse, error) {
	return invoke[WithdrawResponse](ctx, c, "Withdraw", req)
}

func (c *Client) ConfirmWithdrawal(ctx context.Context, req *ConfirmWithdrawalRequest) (*ConfirmWithdrawalResponse, error) {
	return invoke[ConfirmWithdrawalResponse](ctx, c, "ConfirmWithdrawal", req)
}

func (c *Client) RejectWithdrawal(ctx context.Context, req *RejectWithdrawalRequest) (*RejectWithdrawalResponse, error) {
	return invoke[RejectWithdrawalResponse](ctx, c, "RejectWithdrawal", req)
}

func (c *Client) LockFunds(ctx context.Context, req *LockFundsRequest) (*LockResponse, error) {
	return invoke[LockResponse](ctx, c, "LockFunds", req)
}

func (c *Client) LockGroupFunds(ctx context.Context, req *LockGroupFundsRequest) (*LockResponse, error) {
	return invoke[LockResponse](ctx, c, "LockGroupFunds", req)
}

func (c *Client) Release(ctx context.Context, req *ReleaseRequest) (*ReleaseResponse, error) {
	return invoke[ReleaseResponse](ctx, c, "Release", req)
}

func (c *Client) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	return invoke[RefundResponse](ctx, c, "Refund", req)
}

func (c *Client) GetEscrow(ctx context.Context, req *GetEscrowRequest) (*query.EscrowResponse, error) {
	return invoke[query.EscrowResponse](ctx, c, "GetEscrow", req)
}

func (c *Client) ListEntries(ctx context.Context, req *ListEntriesRequest) (*ListEntriesResponse, error) {
	return invoke[ListEntriesResponse](ctx, c, "ListEntries", req)
}

func (c *Client) ListOperations(ctx context.Context, req *ListOperationsRequest) (*ListOperationsResponse, error) {
	return invoke[ListOperationsResponse](ctx, c, "ListOperations", req)
}

func (c *Client) VerifyIntegrity(ctx context.Context, req *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	return invoke[query.IntegrityReport](ctx, c, "VerifyIntegrity", req)
}

func (c *Client) GetPolicy(ctx context.Context, req *GetPolicyRequest) (*PolicyResponse, error) {
	return invoke[PolicyResponse](ctx, c, "GetPolicy", req)
}
