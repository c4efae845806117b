package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
	"github.com/go-playground/validator/v10"
)

const (
	minLocationLength = 5
	maxLocationLength = 100
)

var (
	phonePattern = regexp.MustCompile(`^\(?([0-9]{3})\)?[-. ]?([0-9]{3})[-. ]?([0-9]{4})$`)
	nonDigit     = regexp.MustCompile(`[^0-9]`)
)

// SubmissionRules are the tunable parts of request validation.
type SubmissionRules struct {
	DescriptionMaxLength int
	DisallowedWords      []string
}

func DefaultSubmissionRules() SubmissionRules {
	return SubmissionRules{
		DescriptionMaxLength: 500,
		DisallowedWords:      []string{"badword1", "badword2"},
	}
}

type submissionForm struct {
	Location    string `validate:"min=5,max=100"`
	Phone       string `validate:"phone"`
	Description string `validate:"desclen,nodisallowed"`
}

// InputValidator checks a submission and reports only the first violation.
type InputValidator struct {
	validate *validator.Validate
	rules    SubmissionRules
}

func NewInputValidator(rules SubmissionRules) *InputValidator {
	v := validator.New()
	lowered := make([]string, 0, len(rules.DisallowedWords))
	for _, w := range rules.DisallowedWords {
		if w = strings.TrimSpace(strings.ToLower(w)); w != "" {
			lowered = append(lowered, w)
		}
	}
	rules.DisallowedWords = lowered

	v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("desclen", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) <= rules.DescriptionMaxLength
	})
	v.RegisterValidation("nodisallowed", func(fl validator.FieldLevel) bool {
		return !containsDisallowed(fl.Field().String(), rules.DisallowedWords)
	})

	return &InputValidator{validate: v, rules: rules}
}

// Validate returns a *apperrors.ValidationError for the first failing field, in
// location, phone, description order.
func (iv *InputValidator) Validate(location, phone, description string) error {
	form := submissionForm{
		Location:    strings.TrimSpace(location),
		Phone:       strings.TrimSpace(phone),
		Description: description,
	}

	err := iv.validate.Struct(form)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.Validation("", err.Error())
	}
	return iv.toValidationError(fieldErrs[0])
}

func (iv *InputValidator) toValidationError(fe validator.FieldError) *apperrors.ValidationError {
	switch fe.Field() {
	case "Location":
		if fe.Tag() == "max" {
			return apperrors.Validation("location", fmt.Sprintf("Location must be less than %d characters", maxLocationLength))
		}
		return apperrors.Validation("location", fmt.Sprintf("Location must be at least %d characters", minLocationLength))
	case "Phone":
		return apperrors.Validation("phone", "Please enter a valid phone number format (e.g., 555-123-4567)")
	case "Description":
		if fe.Tag() == "nodisallowed" {
			return apperrors.Validation("description", "Description contains inappropriate language")
		}
		return apperrors.Validation("description", fmt.Sprintf("Description must be less than %d characters", iv.rules.DescriptionMaxLength))
	}
	return apperrors.Validation(strings.ToLower(fe.Field()), fe.Error())
}

func containsDisallowed(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// NormalizePhone formats any input holding exactly ten digits as DDD-DDD-DDDD.
// Other inputs are reduced to their digits.
func NormalizePhone(phone string) string {
	digits := nonDigit.ReplaceAllString(phone, "")
	if len(digits) != 10 {
		return digits
	}
	return digits[0:3] + "-" + digits[3:6] + "-" + digits[6:]
}

var serviceKeywords = []struct {
	words []string
	st    models.ServiceType
}{
	{[]string{"tire"}, models.ServiceTireChange},
	{[]string{"battery"}, models.ServiceBattery},
	{[]string{"fuel", "gas"}, models.ServiceFuelDelivery},
	{[]string{"lock", "key"}, models.ServiceLockout},
	{[]string{"tow"}, models.ServiceTowing},
	{[]string{"engine", "brake"}, models.ServiceGeneralRepair},
}

// InferServiceType guesses the service from description keywords. The first
// matching keyword group wins.
func InferServiceType(description string) (models.ServiceType, bool) {
	lower := strings.ToLower(description)
	for _, kw := range serviceKeywords {
		for _, w := range kw.words {
			if strings.Contains(lower, w) {
				return kw.st, true
			}
		}
	}
	return "", false
}
