package binder

import (
	"github.com/go-playground/validator/v10"
	"github.com/shelfopds/shelfopds/pkg/collation"
)

// collationValidator accepts a sort order name or the empty string, which
// leaves the configured order in place.
func collationValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := collation.ParseOrder(value)
	return err == nil
}
