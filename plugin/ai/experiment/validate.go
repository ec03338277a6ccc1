package experiment

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/querylab/store"
)

// Validation rules.
const (
	RuleNameRequired     = "name_required"
	RuleControlExists    = "control_exists"
	RuleVariantExists    = "variant_exists"
	RuleDistinctSides    = "distinct_templates"
	RuleControlAvailable = "control_not_under_test"
	RuleVariantAvailable = "variant_not_under_test"
	RuleSplitRange       = "traffic_split_range"
)

// ValidationError is one violated rule.
type ValidationError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationResult lists every violated rule of a request.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(field, rule, format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

// HasRule reports whether the rule was violated.
func (r *ValidationResult) HasRule(rule string) bool {
	for _, e := range r.Errors {
		if e.Rule == rule {
			return true
		}
	}
	return false
}

// Error joins the messages for logging.
func (r *ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

type resolvedTemplates struct {
	control *store.Template
	variant *store.Template
}

// validateCreate checks every rule and never stops at the first failure.
// The returned error is an infrastructure failure only.
func (s *Service) validateCreate(ctx context.Context, req CreateRequest) (*ValidationResult, *resolvedTemplates, error) {
	result := &ValidationResult{Valid: true}
	resolved := &resolvedTemplates{}

	if strings.TrimSpace(req.Name) == "" {
		result.add("name", RuleNameRequired, "experiment name is required")
	}
	if req.TrafficSplit < 0 || req.TrafficSplit > 100 {
		result.add("traffic_split", RuleSplitRange, "traffic split %d is outside [0, 100]", req.TrafficSplit)
	}

	var err error
	if resolved.control, err = s.store.GetTemplateByKey(ctx, req.ControlTemplateKey); err != nil {
		return nil, nil, err
	}
	if resolved.control == nil {
		result.add("control_template_key", RuleControlExists, "control template %q does not exist", req.ControlTemplateKey)
	}
	if resolved.variant, err = s.store.GetTemplateByKey(ctx, req.VariantTemplateKey); err != nil {
		return nil, nil, err
	}
	if resolved.variant == nil {
		result.add("variant_template_key", RuleVariantExists, "variant template %q does not exist", req.VariantTemplateKey)
	}

	if resolved.control != nil && resolved.variant != nil && resolved.control.ID == resolved.variant.ID {
		result.add("variant_template_key", RuleDistinctSides, "control and variant must be different templates")
	}

	if err := s.checkAvailable(ctx, result, resolved.control, "control_template_key", RuleControlAvailable); err != nil {
		return nil, nil, err
	}
	if resolved.variant != nil && (resolved.control == nil || resolved.variant.ID != resolved.control.ID) {
		if err := s.checkAvailable(ctx, result, resolved.variant, "variant_template_key", RuleVariantAvailable); err != nil {
			return nil, nil, err
		}
	}

	return result, resolved, nil
}

// validateStart re-checks the start preconditions of a Created experiment.
func (s *Service) validateStart(ctx context.Context, experiment *store.Experiment) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}

	if experiment.TrafficSplit < 0 || experiment.TrafficSplit > 100 {
		result.add("traffic_split", RuleSplitRange, "traffic split %d is outside [0, 100]", experiment.TrafficSplit)
	}
	if experiment.ControlTemplate == nil {
		result.add("control_template_id", RuleControlExists, "control template %d does not exist", experiment.ControlTemplateID)
	}
	if experiment.VariantTemplate == nil {
		result.add("variant_template_id", RuleVariantExists, "variant template %d does not exist", experiment.VariantTemplateID)
	}
	if err := s.checkAvailable(ctx, result, experiment.ControlTemplate, "control_template_id", RuleControlAvailable); err != nil {
		return nil, err
	}
	if err := s.checkAvailable(ctx, result, experiment.VariantTemplate, "variant_template_id", RuleVariantAvailable); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) checkAvailable(ctx context.Context, result *ValidationResult, template *store.Template, field, rule string) error {
	if template == nil {
		return nil
	}
	busy, err := s.store.HasActiveExperimentForTemplate(ctx, template.ID)
	if err != nil {
		return err
	}
	if busy {
		result.add(field, rule, "template %q is already under an active experiment", template.Key)
	}
	return nil
}
