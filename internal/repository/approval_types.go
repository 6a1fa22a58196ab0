package repository

import (
	"slices"
	"time"
)

// ── Enumerations ─────────────────────────────────────────────────────────────

// Operator is a condition comparison operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpGt, OpLt, OpGte, OpLte, OpIn, OpContains:
		return true
	}
	return false
}

// StepType controls how a step's approvers are notified and counted.
type StepType string

const (
	StepTypeSequential StepType = "SEQUENTIAL"
	StepTypeParallel   StepType = "PARALLEL"
	StepTypeAnyOne     StepType = "ANY_ONE"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeSequential, StepTypeParallel, StepTypeAnyOne:
		return true
	}
	return false
}

// WorkflowStatus is the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	StatusInProgress WorkflowStatus = "IN_PROGRESS"
	StatusApproved   WorkflowStatus = "APPROVED"
	StatusRejected   WorkflowStatus = "REJECTED"
)

// Terminal reports whether no further transitions are allowed.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision is an approver's verdict.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// Valid reports whether d is APPROVED or REJECTED.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// UndefinedValue as a condition value matches only a field that is absent
// from the subject. It survives JSON, YAML and JSONB round trips.
const UndefinedValue = "$undefined"

// ── Rules ────────────────────────────────────────────────────────────────────

// ApprovalCondition is one predicate over a subject field. Field is a
// dot-separated path into the subject.
type ApprovalCondition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator Operator    `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
}

// ApprovalStep is one stage of a rule.
type ApprovalStep struct {
	StepNumber        int      `json:"step_number" yaml:"step_number"`
	Type              StepType `json:"type" yaml:"type"`
	Approvers         []string `json:"approvers" yaml:"approvers"` // user:<id> | role:<name> | department:<name>
	RequiredApprovals int      `json:"required_approvals" yaml:"required_approvals"`
	TimeoutHours      float64  `json:"timeout_hours,omitempty" yaml:"timeout_hours,omitempty"` // 0 = no timeout
}

// EffectiveRequired is the number of APPROVED decisions that completes the
// step. ANY_ONE always completes on the first approval.
func (s *ApprovalStep) EffectiveRequired() int {
	if s.Type == StepTypeAnyOne {
		return 1
	}
	if s.RequiredApprovals < 1 {
		return 1
	}
	return s.RequiredApprovals
}

// Timeout converts TimeoutHours to a duration; ok is false when unset.
func (s *ApprovalStep) Timeout() (time.Duration, bool) {
	if s.TimeoutHours <= 0 {
		return 0, false
	}
	return time.Duration(s.TimeoutHours * float64(time.Hour)), true
}

// EscalationRule says who to notify when a step outlives its timeout.
type EscalationRule struct {
	TimeoutHours         float64  `json:"timeout_hours" yaml:"timeout_hours"`
	EscalateTo           []string `json:"escalate_to" yaml:"escalate_to"`
	NotificationTemplate string   `json:"notification_template" yaml:"notification_template"`
}

// ApprovalRule selects subjects through its conditions (implicit AND) and
// describes the steps they are routed through.
type ApprovalRule struct {
	ID         string              `json:"id" yaml:"id"`
	Name       string              `json:"name" yaml:"name"`
	Conditions []ApprovalCondition `json:"conditions" yaml:"conditions"`
	Steps      []ApprovalStep      `json:"steps" yaml:"steps"`
	Escalation *EscalationRule     `json:"escalation,omitempty" yaml:"escalation,omitempty"`
	CreatedAt  time.Time           `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time           `json:"updated_at" yaml:"-"`
}

// Step returns the step with the given number.
func (r *ApprovalRule) Step(number int) (*ApprovalStep, bool) {
	for i := range r.Steps {
		if r.Steps[i].StepNumber == number {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so registered rules cannot be mutated by callers.
func (r *ApprovalRule) Clone() *ApprovalRule {
	if r == nil {
		return nil
	}
	out := *r
	out.Conditions = slices.Clone(r.Conditions)
	out.Steps = make([]ApprovalStep, len(r.Steps))
	for i, s := range r.Steps {
		s.Approvers = slices.Clone(s.Approvers)
		out.Steps[i] = s
	}
	if r.Escalation != nil {
		esc := *r.Escalation
		esc.EscalateTo = slices.Clone(r.Escalation.EscalateTo)
		out.Escalation = &esc
	}
	return &out
}

// ── Workflow state ───────────────────────────────────────────────────────────

// WorkflowInstance tracks one subject's progress through a rule.
type WorkflowInstance struct {
	ID              string         `json:"id"`
	SubjectID       string         `json:"subject_id"`
	RuleID          string         `json:"rule_id"`
	CurrentStep     int            `json:"current_step"`
	Status          WorkflowStatus `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	StepActivatedAt time.Time      `json:"step_activated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Version         int64          `json:"version"` // optimistic concurrency token, bumped by Update
}

// Clone returns a copy safe to hand out of a store.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	out := *w
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// WorkflowApproval is one immutable decision in the ledger.
type WorkflowApproval struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	StepNumber int       `json:"step_number"`
	ApproverID string    `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	Timestamp  time.Time `json:"timestamp"`
	Comments   string    `json:"comments,omitempty"`
}

// WorkflowEscalation is one immutable escalation record in the ledger.
type WorkflowEscalation struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	StepNumber  int       `json:"step_number"`
	EscalatedAt time.Time `json:"escalated_at"`
	EscalatedTo []string  `json:"escalated_to"`
}

// StepActivation records who a step was routed to and when it falls due.
type StepActivation struct {
	WorkflowID  string     `json:"workflow_id"`
	StepNumber  int        `json:"step_number"`
	Type        StepType   `json:"type"`
	Approvers   []string   `json:"approvers"` // resolved ids, empty when resolution found nobody
	ActivatedAt time.Time  `json:"activated_at"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// Clone returns a deep copy.
func (a *StepActivation) Clone() *StepActivation {
	if a == nil {
		return nil
	}
	out := *a
	out.Approvers = slices.Clone(a.Approvers)
	if a.DueAt != nil {
		t := *a.DueAt
		out.DueAt = &t
	}
	return &out
}

// HasApprover reports whether id was resolved as an approver of the step.
func (a *StepActivation) HasApprover(id string) bool {
	return slices.Contains(a.Approvers, id)
}
