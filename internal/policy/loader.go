package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cloudguardian/policyguard/internal/apperrors"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateAction, RemediationAction{})
	return v
}

// validateAction enforces warning_threshold < delay, a cross-field rule
// validator/v10 has no built-in duration-compare tag for.
func validateAction(sl validator.StructLevel) {
	action := sl.Current().Interface().(RemediationAction)
	if action.Timing == nil {
		return
	}
	t := action.Timing
	if t.HasWarning() && t.WarningThreshold.Duration >= t.Delay.Duration {
		sl.ReportError(t.WarningThreshold, "WarningThreshold", "WarningThreshold", "ltfield_delay", "")
	}
}

// Load reads, parses and validates a policy file. One invalid policy fails
// the entire load (spec.md §4.1) and is reported with the policy's index
// and ID so operators can find it quickly.
func Load(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeValidation, "reading policy file")
	}
	return Parse(data)
}

// Parse validates and returns the policies encoded in data.
func Parse(data []byte) ([]Policy, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeValidation, "parsing policy document")
	}

	for i, p := range doc.Policies {
		if err := validate.Struct(p); err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeValidation,
				fmt.Sprintf("policy[%d] id=%q failed validation", i, p.ID))
		}
		for j, c := range p.Conditions {
			if c.Operator != OpExists && c.Operator != OpNotExists && c.Value == nil {
				return nil, apperrors.Newf(apperrors.TypeValidation,
					"policy[%d] id=%q condition[%d]: operator %q requires a value", i, p.ID, j, c.Operator)
			}
		}
	}

	return doc.Policies, nil
}
