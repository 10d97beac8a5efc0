package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrValidation marks malformed or missing input. It is never retried.
var ErrValidation = errors.New("validation failed")

var validate = validator.New()

// Validate checks the product fields that the catalog requires before any write.
func (p *Product) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	return nil
}
