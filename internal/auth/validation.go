package auth

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/authgate/authgate/internal/errors"
)

const (
	minNameLength     = 2
	minPasswordLength = 6
	maxPasswordLength = 8
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateName(name string) error {
	if utf8.RuneCountInString(name) < minNameLength {
		return apperrors.ValidationError("name must have at least 2 characters")
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && r != ' ' {
			return apperrors.ValidationError("name may only contain letters and spaces")
		}
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return apperrors.ValidationError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return apperrors.ValidationError("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLength || n > maxPasswordLength {
		return apperrors.ValidationError("password must have between 6 and 8 characters")
	}
	return nil
}

func validateRegister(req *RegisterRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)

	if err := validateName(req.Name); err != nil {
		return err
	}
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	return validatePassword(req.Password)
}

func validateLogin(req *LoginRequest) error {
	req.Email = normalizeEmail(req.Email)

	if req.Email == "" || req.Password == "" {
		return apperrors.ValidationError("email and password are required")
	}
	return nil
}
