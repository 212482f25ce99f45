package service

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"pointledger/internal/domain"
)

var validate = validator.New()

// validateCommand checks struct tags and maps the first failing field onto
// the ledger's error taxonomy.
func validateCommand(cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCommand, err)
	}

	fe := verrs[0]
	switch fe.Field() {
	case "Amount":
		return fmt.Errorf("%w: %v", domain.ErrInvalidAmount, fe.Value())
	case "AccountID":
		return domain.ErrInvalidAccount
	case "EntryID":
		return fmt.Errorf("%w: id %v", domain.ErrNotFound, fe.Value())
	default:
		return fmt.Errorf("%w: field %s failed on '%s'", domain.ErrInvalidCommand, fe.Field(), fe.Tag())
	}
}
