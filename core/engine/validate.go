package engine

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
)

var validate = validator.New()

// Validate checks that facts carry everything a calculation needs.
// The returned error is always a ValidationError.
func Validate(facts types.RequestFacts) error {
	var problems []string

	if err := validate.Struct(facts); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	if len(facts.SortedCountries()) == 0 && strings.TrimSpace(facts.Region) == "" {
		problems = append(problems, "countries or region is required")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Validation("invalid pricing request: "+strings.Join(problems, "; ")).
		WithContext("problems", problems)
}
