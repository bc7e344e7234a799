package shared

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the process wide validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct checks s against its validate tags and reports the first
// violations as a ledger validation error.
func ValidateStruct(entity string, s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Validation(entity, "input", "%v", err)
	}
	parts := make([]string, 0, len(fieldErrs))
	rules := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
		rules = append(rules, fe.Field()+"."+fe.Tag())
	}
	return &Error{Kind: KindValidation, Entity: entity, Rule: strings.Join(rules, ","), Message: strings.Join(parts, "; ")}
}
