// Package password хеширует пароли трейдеров и проверяет их при входе.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Границы длины пароля. bcrypt учитывает только первые 72 байта.
const (
	MinLength = 8
	MaxLength = 72
)

var (
	ErrTooShort = errors.New("password is too short")
	ErrTooLong  = errors.New("password is too long")
	ErrMismatch = errors.New("password does not match")
)

// Hash проверяет длину пароля и возвращает его bcrypt-хеш.
func Hash(password string) (string, error) {
	const op = "password.Hash"
	if err := Validate(password); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(hashed), nil
}

// Validate проверяет длину пароля в байтах.
func Validate(password string) error {
	switch {
	case len(password) < MinLength:
		return ErrTooShort
	case len(password) > MaxLength:
		return ErrTooLong
	}
	return nil
}

// Compare возвращает ErrMismatch, если пароль не подходит к хешу.
func Compare(hash, password string) error {
	const op = "password.Compare"
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return fmt.Errorf("%s: %w", op, ErrMismatch)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
