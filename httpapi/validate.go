package httpapi

import (
	"github.com/go-playground/validator/v10"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

// newValidator registers the clock tag used for posting windows.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := scheduler.ParseClock(fl.Field().String())
		return err == nil
	})
	return v
}

// validationDetail returns the first failing field and tag.
func validationDetail(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return errs[0].Field() + ": " + errs[0].Tag()
	}
	return err.Error()
}
