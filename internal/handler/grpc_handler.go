package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
	"github.com/pesio-ai/be-approval-routing/internal/service"
)

// ApprovalRoutingServiceName is the fully qualified gRPC service name.
const ApprovalRoutingServiceName = "approvals.v1.ApprovalRoutingService"

// ApprovalRoutingServer is the gRPC surface of the router. Messages are
// google.protobuf.Struct so no generated stubs are needed.
type ApprovalRoutingServer interface {
	StartWorkflow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetWorkflowState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingApprovals(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// GRPCHandler implements ApprovalRoutingServer
type GRPCHandler struct {
	routingService *service.ApprovalRoutingService
	logger         zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(routingService *service.ApprovalRoutingService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		routingService: routingService,
		logger:         logger.With().Str("handler", "grpc").Logger(),
	}
}

// RegisterApprovalRoutingServer registers srv on s.
func RegisterApprovalRoutingServer(s grpc.ServiceRegistrar, srv ApprovalRoutingServer) {
	s.RegisterService(&approvalRoutingServiceDesc, srv)
}

// StartWorkflow starts a workflow for {subject_id, subject}.
func (h *GRPCHandler) StartWorkflow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	subjectID := fields["subject_id"].GetStringValue()
	subject := map[string]interface{}{}
	if s := fields["subject"].GetStructValue(); s != nil {
		subject = s.AsMap()
	}

	h.logger.Info().Str("subject_id", subjectID).Msg("gRPC StartWorkflow called")

	id, err := h.routingService.StartApprovalWorkflow(ctx, subjectID, subject)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to start approval workflow")
		return nil, mapErrorToGRPC(err)
	}
	return structpb.NewStruct(map[string]interface{}{"workflow_id": id})
}

// SubmitApproval records one decision.
func (h *GRPCHandler) SubmitApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	in := service.SubmitApprovalRequest{
		WorkflowID: fields["workflow_id"].GetStringValue(),
		ApproverID: fields["approver_id"].GetStringValue(),
		Decision:   repository.Decision(fields["decision"].GetStringValue()),
		Comments:   fields["comments"].GetStringValue(),
		StepNumber: int(fields["step_number"].GetNumberValue()),
	}

	h.logger.Info().
		Str("workflow_id", in.WorkflowID).
		Str("approver_id", in.ApproverID).
		Str("decision", string(in.Decision)).
		Msg("gRPC SubmitApproval called")

	result, err := h.routingService.SubmitApproval(ctx, in)
	if err != nil {
		h.logger.Warn().Err(err).Str("workflow_id", in.WorkflowID).Msg("Approval decision refused")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(result)
}

// GetWorkflowState returns {workflow, approvals, escalations, active_step, escalated}.
func (h *GRPCHandler) GetWorkflowState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["workflow_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "workflow_id is required")
	}
	state, err := h.routingService.GetWorkflowState(ctx, id)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(state)
}

// ListPendingApprovals returns the steps awaiting {approver_id}.
func (h *GRPCHandler) ListPendingApprovals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pending, err := h.routingService.ListPendingForApprover(ctx, req.GetFields()["approver_id"].GetStringValue())
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]interface{}{"pending": pending})
}

// toStruct converts a JSON-tagged value to a Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.ErrCodeConflict:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func unaryHandler(
	method string,
	call func(ApprovalRoutingServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ApprovalRoutingServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fmt.Sprintf("/%s/%s", ApprovalRoutingServiceName, method),
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var approvalRoutingServiceDesc = grpc.ServiceDesc{
	ServiceName: ApprovalRoutingServiceName,
	HandlerType: (*ApprovalRoutingServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("StartWorkflow", ApprovalRoutingServer.StartWorkflow),
		unaryHandler("SubmitApproval", ApprovalRoutingServer.SubmitApproval),
		unaryHandler("GetWorkflowState", ApprovalRoutingServer.GetWorkflowState),
		unaryHandler("ListPendingApprovals", ApprovalRoutingServer.ListPendingApprovals),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "approvals/v1/approval_routing.proto",
}
