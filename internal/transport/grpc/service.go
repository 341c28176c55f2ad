package grpc

import (
	"context"

	"creditflow/internal/model"

	"github.com/google/uuid"
	"google.golang.org/grpc"
)

const (
	creditServiceName = "creditflow.v1.CreditService"
	eventServiceName  = "creditflow.v1.EventService"

	submitMethod     = "/" + creditServiceName + "/Submit"
	getBalanceMethod = "/" + creditServiceName + "/GetBalance"
	publishMethod    = "/" + eventServiceName + "/Publish"
)

type BalanceRequest struct {
	OrganizationID uuid.UUID `json:"organizationId"`
}

type BalanceResponse struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	Balance        int64     `json:"balance"`
}

// EventRequest is one bus message; Payload travels base64-encoded.
type EventRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type EventResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CreditServiceServer is the server API for creditflow.v1.CreditService.
type CreditServiceServer interface {
	Submit(ctx context.Context, req *model.SubmitRequest) (*model.SubmissionResponse, error)
	GetBalance(ctx context.Context, req *BalanceRequest) (*BalanceResponse, error)
}

// EventServiceServer is the server API for creditflow.v1.EventService.
type EventServiceServer interface {
	Publish(ctx context.Context, req *EventRequest) (*EventResponse, error)
}

var creditServiceDesc = grpc.ServiceDesc{
	ServiceName: creditServiceName,
	HandlerType: (*CreditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "GetBalance", Handler: getBalanceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "creditflow/v1/credit",
}

var eventServiceDesc = grpc.ServiceDesc{
	ServiceName: eventServiceName,
	HandlerType: (*EventServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "creditflow/v1/event",
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(model.SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CreditServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CreditServiceServer).Submit(ctx, req.(*model.SubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getBalanceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BalanceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CreditServiceServer).GetBalance(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getBalanceMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CreditServiceServer).GetBalance(ctx, req.(*BalanceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventServiceServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EventServiceServer).Publish(ctx, req.(*EventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CreditClient calls CreditService on a remote creditflow instance.
type CreditClient struct {
	cc grpc.ClientConnInterface
}

func NewCreditClient(cc grpc.ClientConnInterface) *CreditClient {
	return &CreditClient{cc: cc}
}

func (c *CreditClient) Submit(ctx context.Context, req *model.SubmitRequest, opts ...grpc.CallOption) (*model.SubmissionResponse, error) {
	out := new(model.SubmissionResponse)
	if err := c.cc.Invoke(ctx, submitMethod, req, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CreditClient) GetBalance(ctx context.Context, req *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	if err := c.cc.Invoke(ctx, getBalanceMethod, req, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// EventClient calls EventService on a remote bus endpoint.
type EventClient struct {
	cc grpc.ClientConnInterface
}

func NewEventClient(cc grpc.ClientConnInterface) *EventClient {
	return &EventClient{cc: cc}
}

func (c *EventClient) Publish(ctx context.Context, req *EventRequest, opts ...grpc.CallOption) (*EventResponse, error) {
	out := new(EventResponse)
	if err := c.cc.Invoke(ctx, publishMethod, req, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}
