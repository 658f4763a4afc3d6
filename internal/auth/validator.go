package auth

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidCredentials covers both malformed registration input and a
// failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

var validate = validator.New()

// Credentials is the body of /register and /login.
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	// bcrypt ignores everything past 72 bytes.
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// ValidateCredentials checks the shape of a registration request.
func ValidateCredentials(c Credentials) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return nil
}
