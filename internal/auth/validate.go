package auth

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return Role(fl.Field().String()).Valid()
	})
	return v
}

// RegisterInput is a self-registration request.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=32,username"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Role     Role   `json:"role" validate:"required,oneof=write readonly"`
}

// InviteInput is an admin invitation request.
type InviteInput struct {
	Username string `json:"username" validate:"required,min=3,max=32,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Role     Role   `json:"role" validate:"required,role"`
}

func normalizeUsername(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (in *RegisterInput) normalize() {
	in.Username = normalizeUsername(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.Role = Role(strings.ToLower(strings.TrimSpace(string(in.Role))))
}

func (in *InviteInput) normalize() {
	in.Username = normalizeUsername(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.Role = Role(strings.ToLower(strings.TrimSpace(string(in.Role))))
}

func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %s", ErrInvalidInput, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}
