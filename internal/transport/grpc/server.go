package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"creditflow/internal/apperr"
	"creditflow/internal/logger"
	"creditflow/internal/model"
	"creditflow/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Server struct {
	submit service.SubmissionService
	ledger service.LedgerService
	assets service.AssetService
	log    *logger.Logger
	srv    *grpc.Server
	addr   string
}

var (
	_ CreditServiceServer = (*Server)(nil)
	_ EventServiceServer  = (*Server)(nil)
)

type ServerParams struct {
	Addr       string
	Submission service.SubmissionService
	Ledger     service.LedgerService
	Assets     service.AssetService
	Logger     *logger.Logger
}

func NewServer(p ServerParams) *Server {
	log := p.Logger
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		submit: p.Submission,
		ledger: p.Ledger,
		assets: p.Assets,
		log:    log,
		addr:   p.Addr,
	}
	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	s.srv.RegisterService(&creditServiceDesc, s)
	s.srv.RegisterService(&eventServiceDesc, s)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), fmt.Sprintf("gRPC server listening on %s", lis.Addr()))
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
	}
	return nil
}

// Submit always answers with the envelope; business failures are carried in
// it rather than as RPC errors.
func (s *Server) Submit(ctx context.Context, req *model.SubmitRequest) (*model.SubmissionResponse, error) {
	if req == nil {
		req = &model.SubmitRequest{}
	}
	res, err := s.submit.Submit(ctx, *req)
	resp := model.NewSubmissionResponse(res, err)
	return &resp, nil
}

func (s *Server) GetBalance(ctx context.Context, req *BalanceRequest) (*BalanceResponse, error) {
	balance, err := s.ledger.GetBalance(ctx, req.OrganizationID)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &BalanceResponse{OrganizationID: req.OrganizationID, Balance: balance}, nil
}

// Publish accepts bus messages pushed by a remote publisher. Only asset
// status reports are consumed here.
func (s *Server) Publish(ctx context.Context, req *EventRequest) (*EventResponse, error) {
	switch req.Topic {
	case model.TopicAssetStatus:
		var event model.AssetStatusEvent
		if err := json.Unmarshal(req.Payload, &event); err != nil {
			return &EventResponse{Success: false, Error: "invalid asset status payload"}, nil
		}
		if _, err := s.assets.ApplyStatus(ctx, event); err != nil {
			return &EventResponse{Success: false, Error: string(apperr.CodeOf(err))}, nil
		}
		return &EventResponse{Success: true}, nil
	default:
		return &EventResponse{Success: false, Error: "unsupported topic " + req.Topic}, nil
	}
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	ctx = s.log.WithFields(ctx, map[string]any{
		"method":      info.FullMethod,
		"grpc_code":   status.Code(err).String(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		s.log.Warn(ctx, "grpc.request.failed")
	} else {
		s.log.Debug(ctx, "grpc.request.complete")
	}
	return resp, err
}

func statusFromError(err error) error {
	code := apperr.CodeOf(err)
	meta := apperr.MetadataFor(code)
	var grpcCode codes.Code
	switch code {
	case apperr.CodeValidation:
		grpcCode = codes.InvalidArgument
	case apperr.CodeNotFound:
		grpcCode = codes.NotFound
	case apperr.CodeInsufficientCredits, apperr.CodeStateConflict:
		grpcCode = codes.FailedPrecondition
	case apperr.CodeIdempotency:
		grpcCode = codes.AlreadyExists
	case apperr.CodeUnauthorized:
		grpcCode = codes.Unauthenticated
	case apperr.CodeStoreUnavailable, apperr.CodeDependency:
		grpcCode = codes.Unavailable
	default:
		grpcCode = codes.Internal
	}
	return status.Error(grpcCode, meta.PublicMessage)
}
