package checkin

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var scanCharset = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("scancode", func(fl validator.FieldLevel) bool {
		return scanCharset.MatchString(fl.Field().String())
	})
	return v
}

// scanInput is checked before any lookup or lock.
type scanInput struct {
	TicketCode string `validate:"required,max=100,scancode"`
	Entrance   string `validate:"omitempty,min=3,max=100,scancode"`
}

// validateScan returns a rejection naming the first bad field. Validation
// failures are not audited.
func validateScan(code, entrance string) error {
	err := validate.Struct(scanInput{TicketCode: code, Entrance: entrance})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Entrance" {
		return reject(CodeValidation, "", "Invalid entrance: use 3-100 letters, digits, dots, dashes or underscores", nil)
	}
	return reject(CodeValidation, "", "Invalid ticket code: use up to 100 letters, digits, dots, dashes or underscores", nil)
}
