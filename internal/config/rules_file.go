package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

// RulesFile is the on-disk shape of a rule set:
//
//	rules:
//	  - id: high-value
//	    name: High value purchases
//	    conditions:
//	      - {field: amount, operator: gte, value: 10000}
//	    steps:
//	      - {step_number: 1, type: PARALLEL, approvers: [role:manager], required_approvals: 2, timeout_hours: 24}
//	    escalation:
//	      escalate_to: [role:director]
//	      notification_template: approval-overdue
type RulesFile struct {
	Rules []*repository.ApprovalRule `yaml:"rules"`
}

// LoadRulesFile reads rules from a YAML file. Rules keep file order.
func LoadRulesFile(path string) ([]*repository.ApprovalRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()
	return DecodeRules(f)
}

// DecodeRules parses a rules document. Unknown keys are errors.
func DecodeRules(r io.Reader) ([]*repository.ApprovalRule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var file RulesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return file.Rules, nil
}
