package client

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
	"github.com/pesio-ai/be-approval-routing/internal/service"
)

const approvalsService = "/approvals.v1.ApprovalRoutingService/"

// ApprovalsGRPCClient calls the approval routing gRPC service. Callers such
// as document services use it to open workflows and record decisions.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service and returns a client.
func NewApprovalsGRPCClient(addr string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

// StartWorkflow opens a workflow for a subject and returns its id.
func (c *ApprovalsGRPCClient) StartWorkflow(ctx context.Context, subjectID string, subject map[string]interface{}) (string, error) {
	out, err := c.call(ctx, "StartWorkflow", map[string]interface{}{
		"subject_id": subjectID,
		"subject":    subject,
	})
	if err != nil {
		return "", err
	}
	return out.GetFields()["workflow_id"].GetStringValue(), nil
}

// SubmitApproval records one decision. stepNumber 0 targets the current step.
func (c *ApprovalsGRPCClient) SubmitApproval(
	ctx context.Context,
	workflowID string,
	stepNumber int,
	approverID string,
	decision repository.Decision,
	comments string,
) (*service.SubmitApprovalResult, error) {
	out, err := c.call(ctx, "SubmitApproval", map[string]interface{}{
		"workflow_id": workflowID,
		"step_number": stepNumber,
		"approver_id": approverID,
		"decision":    string(decision),
		"comments":    comments,
	})
	if err != nil {
		return nil, err
	}
	result := &service.SubmitApprovalResult{}
	if err := decode(out, result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetWorkflowState returns the workflow snapshot, or nil if none exists.
func (c *ApprovalsGRPCClient) GetWorkflowState(ctx context.Context, workflowID string) (*service.WorkflowState, error) {
	out, err := c.call(ctx, "GetWorkflowState", map[string]interface{}{"workflow_id": workflowID})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	state := &service.WorkflowState{}
	if err := decode(out, state); err != nil {
		return nil, err
	}
	return state, nil
}

// GetPendingApprovals returns every step awaiting approverID.
func (c *ApprovalsGRPCClient) GetPendingApprovals(ctx context.Context, approverID string) ([]*service.PendingApproval, error) {
	out, err := c.call(ctx, "ListPendingApprovals", map[string]interface{}{"approver_id": approverID})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Pending []*service.PendingApproval `json:"pending"`
	}
	if err := decode(out, &resp); err != nil {
		return nil, err
	}
	return resp.Pending, nil
}

func (c *ApprovalsGRPCClient) call(ctx context.Context, method string, in map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to build approvals request")
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, approvalsService+method, req, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func decode(s *structpb.Struct, v interface{}) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read approvals response")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to decode approvals response")
	}
	return nil
}

// fromStatus maps a gRPC status back onto an application error code.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.Wrap(err, errors.ErrCodeInternal, "approvals call failed")
	}
	code := errors.ErrCodeInternal
	switch st.Code() {
	case codes.NotFound:
		code = errors.ErrCodeNotFound
	case codes.InvalidArgument:
		code = errors.ErrCodeInvalidInput
	case codes.FailedPrecondition, codes.Aborted:
		code = errors.ErrCodeConflict
	case codes.PermissionDenied:
		code = errors.ErrCodeUnauthorized
	}
	return errors.New(code, st.Message())
}
