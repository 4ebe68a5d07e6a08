package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/status"
)

// ErrorBody is the HTTP error payload.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type gateway struct {
	svc     SettlementServer
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewGateway builds the HTTP/JSON surface of the settlement service plus the
// /healthz and /readyz endpoints. Request and response bodies are the gRPC
// messages in JSON; amounts are minor units.
func NewGateway(svc SettlementServer, hc *observability.HealthChecker, metrics *observability.Metrics, logger zerolog.Logger) (http.Handler, error) {
	mux := runtime.NewServeMux(
		runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.JSONBuiltin{}),
		runtime.WithErrorHandler(writeError),
	)
	g := &gateway{svc: svc, metrics: metrics, logger: logger}

	routes := []struct {
		method, pattern, name string
		h                     runtime.HandlerFunc
	}{
		{"POST", "/v1/accounts", "OpenAccount", handle(g, mux, svc.OpenAccount, nil)},
		{"GET", "/v1/accounts/{owner_id}/balance", "GetBalance", handle(g, mux, svc.GetBalance,
			func(req *GetBalanceRequest, _ *http.Request, p map[string]string) error {
				req.OwnerID = p["owner_id"]
				return nil
			})},
		{"POST", "/v1/accounts/{owner_id}/deposits", "Deposit", handle(g, mux, svc.Deposit,
			func(req *DepositRequest, _ *http.Request, p map[string]string) error {
				req.OwnerID = p["owner_id"]
				return nil
			})},
		{"POST", "/v1/accounts/{owner_id}/withdrawals", "Withdraw", handle(g, mux, svc.Withdraw,
			func(req *WithdrawRequest, _ *http.Request, p map[string]string) error {
				req.OwnerID = p["owner_id"]
				return nil
			})},
		{"POST", "/v1/withdrawals/{operation_id}/confirm", "ConfirmWithdrawal", handle(g, mux, svc.ConfirmWithdrawal,
			func(req *ConfirmWithdrawalRequest, _ *http.Request, p map[string]string) error {
				req.OperationID = p["operation_id"]
				return nil
			})},
		{"POST", "/v1/withdrawals/{operation_id}/reject", "RejectWithdrawal", handle(g, mux, svc.RejectWithdrawal,
			func(req *RejectWithdrawalRequest, _ *http.Request, p map[string]string) error {
				req.OperationID = p["operation_id"]
				return nil
			})},
		{"POST", "/v1/escrows", "LockFunds", handle(g, mux, svc.LockFunds, nil)},
		{"POST", "/v1/group-escrows", "LockGroupFunds", handle(g, mux, svc.LockGroupFunds, nil)},
		{"GET", "/v1/escrows/{escrow_id}", "GetEscrow", handle(g, mux, svc.GetEscrow,
			func(req *GetEscrowRequest, _ *http.Request, p map[string]string) error {
				req.EscrowID = p["escrow_id"]
				return nil
			})},
		{"POST", "/v1/escrows/{escrow_id}/release", "Release", handle(g, mux, svc.Release,
			func(req *ReleaseRequest, _ *http.Request, p map[string]string) error {
				req.EscrowID = p["escrow_id"]
				return nil
			})},
		{"POST", "/v1/escrows/{escrow_id}/refund", "Refund", handle(g, mux, svc.Refund,
			func(req *RefundRequest, _ *http.Request, p map[string]string) error {
				req.EscrowID = p["escrow_id"]
				return nil
			})},
		{"GET", "/v1/entries", "ListEntries", handle(g, mux, svc.ListEntries,
			func(req *ListEntriesRequest, r *http.Request, _ map[string]string) error {
				q := r.URL.Query()
				req.OperationID = q.Get("operation_id")
				req.Account = q.Get("account")
				return nil
			})},
		{"GET", "/v1/operations", "ListOperations", handle(g, mux, svc.ListOperations,
			func(req *ListOperationsRequest, r *http.Request, _ map[string]string) error {
				q := r.URL.Query()
				req.OwnerID = q.Get("owner_id")
				req.EscrowID = q.Get("escrow_id")
				if s := q.Get("limit"); s != "" {
					n, err := strconv.Atoi(s)
					if err != nil {
						return apperrors.Wrap(apperrors.CodePolicyViolation, "invalid limit", err)
					}
					req.Limit = n
				}
				return nil
			})},
		{"POST", "/v1/admin/verify", "VerifyIntegrity", handle(g, mux, svc.VerifyIntegrity, nil)},
		{"GET", "/v1/policy", "GetPolicy", handle(g, mux, svc.GetPolicy, nil)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, g.observe(rt.name, rt.h)); err != nil {
			return nil, err
		}
	}

	httpMux := http.NewServeMux()
	if hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// handle decodes the request body, overlays path and query parameters, calls
// the service and writes the response.
func handle[Req, Resp any](
	g *gateway,
	mux *runtime.ServeMux,
	call func(context.Context, *Req) (*Resp, error),
	bind func(*Req, *http.Request, map[string]string) error,
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		ctx := r.Context()
		inbound, outbound := runtime.MarshalerForRequest(mux, r)

		req := new(Req)
		if r.Body != nil && r.Method != http.MethodGet {
			if err := inbound.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
				runtime.HTTPError(ctx, mux, outbound, w, r,
					apperrors.ToGRPCStatus(apperrors.Wrap(apperrors.CodePolicyViolation, "malformed request body", err)))
				return
			}
		}
		if bind != nil {
			if err := bind(req, r, params); err != nil {
				runtime.HTTPError(ctx, mux, outbound, w, r, apperrors.ToGRPCStatus(err))
				return
			}
		}

		resp, err := call(ctx, req)
		if err != nil {
			runtime.HTTPError(ctx, mux, outbound, w, r, apperrors.ToGRPCStatus(err))
			return
		}

		body, err := outbound.Marshal(resp)
		if err != nil {
			g.logger.Error().Err(err).Str("path", r.URL.Path).Msg("marshal response")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", outbound.ContentType(resp))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (g *gateway) observe(name string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)
		elapsed := time.Since(start)

		if g.metrics != nil {
			g.metrics.RPCRequests.WithLabelValues("http", name, strconv.Itoa(rec.status)).Inc()
			g.metrics.RPCDuration.WithLabelValues("http", name).Observe(elapsed.Seconds())
		}
		g.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("http")
	}
}

// writeError renders a status error as ErrorBody with the HTTP status
// matching its gRPC code.
func writeError(_ context.Context, _ *runtime.ServeMux, m runtime.Marshaler, w http.ResponseWriter, _ *http.Request, err error) {
	st := status.Convert(err)
	body := ErrorBody{
		Code:    string(apperrors.CodeOf(apperrors.FromGRPCStatus(err))),
		Message: st.Message(),
	}
	buf, merr := m.Marshal(body)
	if merr != nil {
		http.Error(w, st.Message(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", m.ContentType(body))
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	_, _ = w.Write(buf)
}
