package validation

import (
	"fmt"
	"regexp"
	"strings"

	errors "github.com/frahmantamala/adride-payments/internal"
	"github.com/shopspring/decimal"
)

var (
	KenyanPhonePattern = regexp.MustCompile(`^254[17]\d{8}$`)
	ReceiptPattern     = regexp.MustCompile(`^[A-Z0-9]{8,12}$`)
	nonDigits          = regexp.MustCompile(`\D`)
)

type ValidatorFunc func(interface{}) *errors.AppError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

type ValidationBuilder struct {
	fields []*FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{
		fields: make([]*FieldValidator, 0),
	}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := &FieldValidator{
		FieldName:  name,
		Value:      value,
		Validators: make([]ValidatorFunc, 0),
	}
	v.fields = append(v.fields, fv)
	return fv
}

func (fv *FieldValidator) Required() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		missing := false
		switch v := value.(type) {
		case string:
			missing = strings.TrimSpace(v) == ""
		case int64:
			missing = v == 0
		case *string:
			missing = v == nil || strings.TrimSpace(*v) == ""
		case decimal.Decimal:
			missing = v.IsZero()
		case nil:
			missing = true
		}
		if missing {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s is required", fv.FieldName), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Positive() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(int64); ok && v <= 0 {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must be positive", fv.FieldName), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MinAmount(min int64, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(decimal.Decimal); ok && v.LessThan(decimal.NewFromInt(min)) {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must be at least %d KES", fv.FieldName, min), code)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MaxAmount(max int64, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(decimal.Decimal); ok && v.GreaterThan(decimal.NewFromInt(max)) {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must not exceed %d KES", fv.FieldName, max), code)
		}
		return nil
	})
	return fv
}

// WholeShillings rejects fractional amounts; M-Pesa only moves whole shillings.
func (fv *FieldValidator) WholeShillings() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(decimal.Decimal); ok && !v.IsInteger() {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must be a whole number of shillings", fv.FieldName), errors.ErrCodeInvalidAmount)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Matches(pattern *regexp.Regexp, message string, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok && v != "" && !pattern.MatchString(v) {
			return errors.NewValidationFieldError(fv.FieldName, message, code)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MinLength(min int) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok {
			if len(v) < min {
				message := fmt.Sprintf("%s must be at least %d characters", fv.FieldName, min)
				return errors.NewValidationFieldError(fv.FieldName, message, errors.ErrCodeValidationFailed)
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MaxLength(max int) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok {
			if len(v) > max {
				message := fmt.Sprintf("%s must not exceed %d characters", fv.FieldName, max)
				return errors.NewValidationFieldError(fv.FieldName, message, errors.ErrCodeValidationFailed)
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Custom(validator func(interface{}) *errors.AppError) *FieldValidator {
	fv.Validators = append(fv.Validators, validator)
	return fv
}

func (v *ValidationBuilder) Validate() *errors.AppError {
	var validationErrors []errors.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			appErr := validator(field.Value)
			if appErr == nil {
				continue
			}
			if details, ok := appErr.Details.(errors.ValidationErrors); ok {
				validationErrors = append(validationErrors, details.Errors...)
			} else {
				validationErrors = append(validationErrors, errors.ValidationError{
					Field:   field.FieldName,
					Message: appErr.Message,
					Code:    string(appErr.Code),
				})
			}
			// first failure per field is enough
			break
		}
	}

	if len(validationErrors) > 0 {
		return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
			WithDetails(errors.ValidationErrors{Errors: validationErrors})
	}

	return nil
}

// NormalizePhoneNumber turns 07XXXXXXXX, 7XXXXXXXX and +2547XXXXXXXX into 2547XXXXXXXX.
func NormalizePhoneNumber(phone string) string {
	digits := nonDigits.ReplaceAllString(phone, "")
	switch {
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		return "254" + digits[1:]
	case len(digits) == 9 && (digits[0] == '7' || digits[0] == '1'):
		return "254" + digits
	}
	return digits
}

func NormalizeReceiptNumber(receipt string) string {
	return strings.ToUpper(strings.TrimSpace(receipt))
}

func ValidatePhoneNumber(phone string) *errors.AppError {
	validator := NewValidator()
	validator.Field("phone_number", phone).
		Required().
		Matches(KenyanPhonePattern, "phone_number must be a Safaricom number in the format 2547XXXXXXXX", errors.ErrCodeInvalidPhone)
	return validator.Validate()
}

func ValidatePaymentAmount(amount decimal.Decimal, min, max int64) *errors.AppError {
	validator := NewValidator()
	validator.Field("amount", amount).
		Required().
		WholeShillings().
		MinAmount(min, errors.ErrCodeAmountTooLow).
		MaxAmount(max, errors.ErrCodeAmountTooHigh)
	return validator.Validate()
}

func ValidateReceiptNumber(receipt string) *errors.AppError {
	validator := NewValidator()
	validator.Field("receipt_number", receipt).
		Required().
		Matches(ReceiptPattern, "receipt_number must be 8 to 12 letters or digits", errors.ErrCodeInvalidReceipt)
	return validator.Validate()
}
