package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/logger"
	"github.com/pesio-ai/be-approval-routing/internal/middleware"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
	"github.com/pesio-ai/be-approval-routing/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.ApprovalRoutingService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service *service.ApprovalRoutingService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// Register mounts the approval routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/workflows", h.StartWorkflow)
	mux.HandleFunc("/api/v1/workflows/approve", h.SubmitApproval)
	mux.HandleFunc("/api/v1/workflows/get", h.GetWorkflow)
	mux.HandleFunc("/api/v1/approvals/pending", h.ListPending)
	mux.HandleFunc("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListRules(w, r)
		case http.MethodPost:
			h.RegisterRule(w, r)
		case http.MethodPut:
			h.ReplaceRules(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

type startWorkflowRequest struct {
	SubjectID string                 `json:"subject_id"`
	Subject   map[string]interface{} `json:"subject"`
}

type submitApprovalRequest struct {
	WorkflowID string `json:"workflow_id"`
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	Comments   string `json:"comments"`
	StepNumber int    `json:"step_number"`
}

// StartWorkflow handles start workflow HTTP requests
func (h *HTTPHandler) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Subject == nil {
		req.Subject = map[string]interface{}{}
	}

	id, err := h.service.StartApprovalWorkflow(r.Context(), req.SubjectID, req.Subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"workflow_id": id})
}

// SubmitApproval handles approval decision HTTP requests
func (h *HTTPHandler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.SubmitApproval(r.Context(), service.SubmitApprovalRequest{
		WorkflowID: req.WorkflowID,
		ApproverID: req.ApproverID,
		Decision:   repository.Decision(req.Decision),
		Comments:   req.Comments,
		StepNumber: req.StepNumber,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetWorkflow handles get workflow HTTP requests
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	state, err := h.service.GetWorkflowState(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// ListPending handles pending approvals HTTP requests
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pending, err := h.service.ListPendingForApprover(r.Context(), r.URL.Query().Get("approver_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"total":   len(pending),
	})
}

// ListRules returns the registered rules in evaluation order.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// RegisterRule adds or replaces one rule.
func (h *HTTPHandler) RegisterRule(w http.ResponseWriter, r *http.Request) {
	var rule repository.ApprovalRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.service.RegisterRule(r.Context(), &rule); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"rule_id": rule.ID})
}

// ReplaceRules swaps the whole rule set.
func (h *HTTPHandler) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules []*repository.ApprovalRule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.service.ReplaceRules(r.Context(), body.Rules); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rules": len(body.Rules)})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	ev := h.log.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.log.Error()
	}
	ev.Err(err).
		Str("path", r.URL.Path).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("Request failed")

	writeJSON(w, status, map[string]string{
		"code":       string(errors.CodeOf(err)),
		"message":    err.Error(),
		"request_id": middleware.RequestIDFromContext(r.Context()),
	})
}

func httpStatus(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
