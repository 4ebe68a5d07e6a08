package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"WagerLedger/internal/config"
	"WagerLedger/internal/core"
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/query"
	"WagerLedger/internal/server"
	"WagerLedger/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func newService(t *testing.T) (server.SettlementServer, *observability.Metrics) {
	t.Helper()
	store := testutil.NewSQLiteStore(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	engine, err := core.NewEngine(store, core.DefaultPolicy(), nil, metrics, zerolog.Nop())
	require.NoError(t, err)
	qs := query.NewQueryService(store, metrics, zerolog.Nop())
	return server.NewSettlementService(engine, qs, config.Currency{Code: "USD", Scale: 2}), metrics
}

// startGRPC serves svc over an in-memory listener and returns a connected
// client.
func startGRPC(t *testing.T) (*server.Client, *server.GRPCServer, *observability.Metrics) {
	t.Helper()
	svc, metrics := newService(t)
	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		Service:       svc,
		HealthChecker: observability.NewHealthChecker(),
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
	})

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client, err := server.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, srv, metrics
}

func TestGRPC_SettlementRoundTrip(t *testing.T) {
	client, _, metrics := startGRPC(t)
	ctx := context.Background()

	for _, owner := range []string{"alice", "bob"} {
		opened, err := client.OpenAccount(ctx, &server.OpenAccountRequest{OwnerID: owner})
		require.NoError(t, err)
		assert.True(t, opened.Created)
		_, err = client.Deposit(ctx, &server.DepositRequest{OwnerID: owner, Amount: 10000, ExternalReference: "seed-" + owner})
		require.NoError(t, err)
	}

	locked, err := client.LockFunds(ctx, &server.LockFundsRequest{
		EscrowID: "m-1", CreatorID: "alice", OpponentID: "bob", Stake: 4000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(800), locked.EstimatedFee.PlatformFee)

	released, err := client.Release(ctx, &server.ReleaseRequest{EscrowID: "m-1", WinnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, released.Payouts, 1)
	assert.Equal(t, int64(7200), released.Payouts[0].Amount)

	bal, err := client.GetBalance(ctx, &server.GetBalanceRequest{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(13200), bal.Balance.Spendable)
	assert.Zero(t, bal.Balance.Locked)

	esc, err := client.GetEscrow(ctx, &server.GetEscrowRequest{EscrowID: "m-1"})
	require.NoError(t, err)
	assert.Equal(t, "RELEASED", esc.State)

	report, err := client.VerifyIntegrity(ctx, &server.VerifyIntegrityRequest{})
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)

	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.RPCRequests.WithLabelValues(
		"grpc", "/"+server.ServiceName+"/Release", "OK")))
}

func TestGRPC_ErrorsKeepDomainCode(t *testing.T) {
	client, _, _ := startGRPC(t)
	ctx := context.Background()

	_, err := client.GetBalance(ctx, &server.GetBalanceRequest{OwnerID: "ghost"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound), "%v", err)

	_, _, err = openAndFund(ctx, client, "alice", 100)
	require.NoError(t, err)
	_, _, err = openAndFund(ctx, client, "bob", 100)
	require.NoError(t, err)

	_, err = client.LockFunds(ctx, &server.LockFundsRequest{
		EscrowID: "m-1", CreatorID: "alice", OpponentID: "bob", Stake: 500,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInsufficientFunds), "%v", err)

	_, err = client.Deposit(ctx, &server.DepositRequest{OwnerID: "alice", Amount: 100, ExternalReference: "seed-alice"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict), "%v", err)

	_, err = client.ConfirmWithdrawal(ctx, &server.ConfirmWithdrawalRequest{OperationID: "not-a-uuid"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodePolicyViolation), "%v", err)

	_, err = client.Release(ctx, &server.ReleaseRequest{EscrowID: "m-1", WinnerID: "alice", Ranking: []string{"alice"}})
	assert.True(t, apperrors.IsCode(err, apperrors.CodePolicyViolation), "%v", err)
}

func openAndFund(ctx context.Context, client *server.Client, owner string, amount int64) (*server.OpenAccountResponse, *server.DepositResponse, error) {
	opened, err := client.OpenAccount(ctx, &server.OpenAccountRequest{OwnerID: owner})
	if err != nil {
		return nil, nil, err
	}
	dep, err := client.Deposit(ctx, &server.DepositRequest{OwnerID: owner, Amount: amount, ExternalReference: "seed-" + owner})
	return opened, dep, err
}

func TestGRPC_WithdrawalLifecycle(t *testing.T) {
	client, _, _ := startGRPC(t)
	ctx := context.Background()

	_, _, err := openAndFund(ctx, client, "alice", 5000)
	require.NoError(t, err)

	w, err := client.Withdraw(ctx, &server.WithdrawRequest{OwnerID: "alice", Amount: 2000, Eligible: true})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", w.PayoutState)
	assert.Equal(t, int64(3000), w.Balance.Spendable)

	rejected, err := client.RejectWithdrawal(ctx, &server.RejectWithdrawalRequest{OperationID: w.OperationID, Reason: "bank refused"})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), rejected.Balance.Spendable)
	assert.NotEqual(t, w.OperationID, rejected.ReversalOperationID)

	_, err = client.ConfirmWithdrawal(ctx, &server.ConfirmWithdrawalRequest{OperationID: w.OperationID})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidState), "%v", err)

	ops, err := client.ListOperations(ctx, &server.ListOperationsRequest{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Len(t, ops.Operations, 3)
}

func TestGRPC_GetPolicy(t *testing.T) {
	client, _, _ := startGRPC(t)

	p, err := client.GetPolicy(context.Background(), &server.GetPolicyRequest{})
	require.NoError(t, err)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, 2, p.Scale)
	assert.Equal(t, int64(1000), p.FeeBasisPoints)
	assert.Equal(t, "ranked:5000,3500,1500", p.GroupPayout)
}

func newGateway(t *testing.T) (*httptest.Server, *observability.HealthChecker) {
	t.Helper()
	svc, metrics := newService(t)
	hc := observability.NewHealthChecker()
	h, err := server.NewGateway(svc, hc, metrics, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, hc
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestGateway_AccountFlow(t *testing.T) {
	ts, _ := newGateway(t)

	var opened server.OpenAccountResponse
	assert.Equal(t, http.StatusOK, doJSON(t, "POST", ts.URL+"/v1/accounts", map[string]any{"owner_id": "alice"}, &opened))
	assert.True(t, opened.Created)

	var dep server.DepositResponse
	assert.Equal(t, http.StatusOK, doJSON(t, "POST", ts.URL+"/v1/accounts/alice/deposits",
		map[string]any{"amount": 2500, "external_reference": "psp-1"}, &dep))
	assert.Equal(t, int64(2500), dep.Balance.Spendable)

	var bal server.GetBalanceResponse
	assert.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/v1/accounts/alice/balance", nil, &bal))
	assert.Equal(t, "alice", bal.Balance.OwnerID)
	assert.Equal(t, int64(2500), bal.Balance.Spendable)

	var ops server.ListOperationsResponse
	assert.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/v1/operations?owner_id=alice&limit=5", nil, &ops))
	require.Len(t, ops.Operations, 1)
	assert.Equal(t, "DEPOSIT", ops.Operations[0].Kind)

	var entries server.ListEntriesResponse
	assert.Equal(t, http.StatusOK, doJSON(t, "GET",
		ts.URL+"/v1/entries?operation_id="+dep.OperationID, nil, &entries))
	assert.Len(t, entries.Entries, 2)
}

func TestGateway_ErrorMapping(t *testing.T) {
	ts, _ := newGateway(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   apperrors.Code
	}{
		{"unknown account", "GET", "/v1/accounts/ghost/balance", nil, http.StatusNotFound, apperrors.CodeNotFound},
		{"bad limit", "GET", "/v1/operations?owner_id=a&limit=x", nil, http.StatusBadRequest, apperrors.CodePolicyViolation},
		{"missing filter", "GET", "/v1/entries", nil, http.StatusBadRequest, apperrors.CodePolicyViolation},
		{"unknown escrow", "POST", "/v1/escrows/nope/refund", map[string]any{"reason": "x"}, http.StatusNotFound, apperrors.CodeNotFound},
		{"malformed body", "POST", "/v1/accounts", "not an object", http.StatusBadRequest, apperrors.CodePolicyViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body server.ErrorBody
			got := doJSON(t, tt.method, ts.URL+tt.path, tt.body, &body)
			assert.Equal(t, tt.wantStatus, got)
			assert.Equal(t, string(tt.wantCode), body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestGateway_HealthEndpoints(t *testing.T) {
	ts, hc := newGateway(t)

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	hc.SetReady(true)
	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// slowBalances holds GetBalance open until release is closed.
type slowBalances struct {
	server.SettlementServer
	entered chan struct{}
	release chan struct{}
}

func (s *slowBalances) GetBalance(ctx context.Context, req *server.GetBalanceRequest) (*server.GetBalanceResponse, error) {
	close(s.entered)
	<-s.release
	return s.SettlementServer.GetBalance(ctx, req)
}

func TestGateway_ServeWaitsForInFlightRequests(t *testing.T) {
	svc, metrics := newService(t)
	slow := &slowBalances{SettlementServer: svc, entered: make(chan struct{}), release: make(chan struct{})}
	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		Service:       slow,
		HealthChecker: observability.NewHealthChecker(),
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
	})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.ServeHTTP(ctx, lis) }()

	status := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + lis.Addr().String() + "/v1/accounts/alice/balance")
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()

	select {
	case <-slow.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the service")
	}
	cancel()

	select {
	case <-served:
		t.Fatal("gateway returned while a request was in flight")
	case <-time.After(200 * time.Millisecond):
	}

	close(slow.release)
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop after the request finished")
	}
	assert.Equal(t, http.StatusNotFound, <-status)
}

func TestGateway_EqualSplitGroup(t *testing.T) {
	ts, _ := newGateway(t)
	for _, owner := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusOK, doJSON(t, "POST", ts.URL+"/v1/accounts", map[string]any{"owner_id": owner}, nil))
		require.Equal(t, http.StatusOK, doJSON(t, "POST", ts.URL+"/v1/accounts/"+owner+"/deposits",
			map[string]any{"amount": 5000, "external_reference": "psp-" + owner}, nil))
	}

	var lock server.LockResponse
	require.Equal(t, http.StatusOK, doJSON(t, "POST", ts.URL+"/v1/group-escrows", map[string]any{
		"escrow_id":     "g-1",
		"parties":       []string{"a", "b", "c"},
		"stake":         1000,
		"payout_policy": "equal_split",
	}, &lock))

	var rel server.ReleaseResponse
	require.Equal(t, http.StatusOK, doJSON(t, "POST", ts.URL+"/v1/escrows/g-1/release",
		map[string]any{"ranking": []string{"c", "a"}}, &rel))
	require.Len(t, rel.Payouts, 2)
	assert.Equal(t, "c", rel.Payouts[0].OwnerID)
	assert.Equal(t, int64(1350), rel.Payouts[0].Amount)
	assert.Equal(t, "a", rel.Payouts[1].OwnerID)
	assert.Equal(t, int64(1350), rel.Payouts[1].Amount)

	var bal server.GetBalanceResponse
	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/v1/accounts/b/balance", nil, &bal))
	assert.Equal(t, int64(4000), bal.Balance.Spendable)
}
