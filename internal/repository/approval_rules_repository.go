package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approval-routing/internal/database"
	"github.com/pesio-ai/be-approval-routing/internal/errors"
)

// ApprovalRulesRepository persists approval rules in Postgres. Registration
// order is kept in the seq column; replacing a rule by id keeps its seq.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

var _ RuleRepository = (*ApprovalRulesRepository)(nil)

const ruleColumns = `id, name, conditions, steps, escalation, created_at, updated_at`

// Register inserts a rule or replaces the rule with the same id in place.
func (r *ApprovalRulesRepository) Register(ctx context.Context, rule *ApprovalRule) error {
	return r.upsert(ctx, r.db, rule)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *ApprovalRulesRepository) upsert(ctx context.Context, q queryRower, rule *ApprovalRule) error {
	conditionsJSON, stepsJSON, escalationJSON, err := marshalRule(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_rules (id, name, conditions, steps, escalation)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name       = EXCLUDED.name,
		    conditions = EXCLUDED.conditions,
		    steps      = EXCLUDED.steps,
		    escalation = EXCLUDED.escalation,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err = q.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		conditionsJSON,
		stepsJSON,
		escalationJSON,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to register approval rule")
	}
	return nil
}

// AllRules returns every rule in registration order.
func (r *ApprovalRulesRepository) AllRules(ctx context.Context) ([]*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules ORDER BY seq ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval rules")
	}
	return rules, nil
}

// Get retrieves a rule by id.
func (r *ApprovalRulesRepository) Get(ctx context.Context, id string) (*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE id = $1`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", id)
	}
	return rule, err
}

// ReplaceAll swaps the whole rule set in one transaction. The new rules take
// registration order from the slice order.
func (r *ApprovalRulesRepository) ReplaceAll(ctx context.Context, rules []*ApprovalRule) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM approval_rules`); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear approval rules")
		}
		for _, rule := range rules {
			if err := r.upsert(ctx, tx, rule); err != nil {
				return err
			}
		}
		return nil
	})
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func marshalRule(rule *ApprovalRule) (conditions, steps, escalation []byte, err error) {
	conds := rule.Conditions
	if conds == nil {
		conds = []ApprovalCondition{}
	}
	if conditions, err = json.Marshal(conds); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule conditions")
	}
	if steps, err = json.Marshal(rule.Steps); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule steps")
	}
	if rule.Escalation != nil {
		if escalation, err = json.Marshal(rule.Escalation); err != nil {
			return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal escalation rule")
		}
	}
	return conditions, steps, escalation, nil
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRulesRepository) scanRule(row ruleScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var conditionsJSON, stepsJSON, escalationJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&conditionsJSON,
		&stepsJSON,
		&escalationJSON,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
	}

	if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule conditions")
	}
	if err := json.Unmarshal(stepsJSON, &rule.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule steps")
	}
	if escalationJSON != nil {
		rule.Escalation = &EscalationRule{}
		if err := json.Unmarshal(escalationJSON, rule.Escalation); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal escalation rule")
		}
	}
	return rule, nil
}
