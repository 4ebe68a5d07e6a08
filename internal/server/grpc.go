package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/observability"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wager.settlement.v1.SettlementService"

// serviceDesc describes SettlementService without generated stubs; messages
// travel through the JSON codec.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SettlementServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("OpenAccount", SettlementServer.OpenAccount),
		unary("GetBalance", SettlementServer.GetBalance),
		unary("Deposit", SettlementServer.Deposit),
		unary("Withdraw", SettlementServer.Withdraw),
		unary("ConfirmWithdrawal", SettlementServer.ConfirmWithdrawal),
		unary("RejectWithdrawal", SettlementServer.RejectWithdrawal),
		unary("LockFunds", SettlementServer.LockFunds),
		unary("LockGroupFunds", SettlementServer.LockGroupFunds),
		unary("Release", SettlementServer.Release),
		unary("Refund", SettlementServer.Refund),
		unary("GetEscrow", SettlementServer.GetEscrow),
		unary("ListEntries", SettlementServer.ListEntries),
		unary("ListOperations", SettlementServer.ListOperations),
		unary("VerifyIntegrity", SettlementServer.VerifyIntegrity),
		unary("GetPolicy", SettlementServer.GetPolicy),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wager/settlement/v1/settlement.proto",
}

func unary[Req, Resp any](method string, call func(SettlementServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SettlementServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SettlementServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RegisterSettlementServer registers svc on s.
func RegisterSettlementServer(s grpc.ServiceRegistrar, svc SettlementServer) {
	s.RegisterService(&serviceDesc, svc)
}

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       SettlementServer
	healthServer  *health.Server
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	logger        zerolog.Logger

	shutdownTimeout time.Duration
}

// ServerDeps holds all dependencies needed by the servers.
type ServerDeps struct {
	Service       SettlementServer
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewGRPCServer creates a gRPC server with the settlement and health
// services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			loggingInterceptor(deps.Logger, deps.Metrics),
			statusInterceptor,
		),
	)
	RegisterSettlementServer(grpcServer, deps.Service)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       deps.Service,
		healthServer:  healthServer,
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		logger:        deps.Logger,

		shutdownTimeout: 5 * time.Second,
	}
}

// SetServing flips the gRPC health status of the settlement service and the
// HTTP readiness endpoint together.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(ServiceName, st)
	if s.healthChecker != nil {
		s.healthChecker.SetReady(serving)
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves gRPC on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking). The gateway calls
// the settlement service in-process and maps errors the way the gRPC
// interceptor does.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.ServeHTTP(ctx, lis)
}

// ServeHTTP serves the gateway on lis until ctx is cancelled. It returns only
// after in-flight requests have finished or the shutdown timeout closed them.
func (s *GRPCServer) ServeHTTP(ctx context.Context, lis net.Listener) error {
	handler, err := NewGateway(s.service, s.healthChecker, s.metrics, s.logger)
	if err != nil {
		lis.Close()
		return fmt.Errorf("build gateway: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP gateway shutdown")
			s.httpServer.Close()
		}
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP gateway listening")
	if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	// Serve returns as soon as Shutdown starts; wait for the handlers
	<-stopped
	return nil
}

// statusInterceptor turns domain errors into gRPC statuses carrying the
// domain code.
func statusInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		return nil, apperrors.ToGRPCStatus(err)
	}
	return resp, nil
}

func loggingInterceptor(logger zerolog.Logger, metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)
		code := status.Code(err)

		if metrics != nil {
			metrics.RPCRequests.WithLabelValues("grpc", info.FullMethod, code.String()).Inc()
			metrics.RPCDuration.WithLabelValues("grpc", info.FullMethod).Observe(elapsed.Seconds())
		}

		ev := logger.Debug()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("elapsed", elapsed).
			Msg("rpc")
		return resp, err
	}
}
