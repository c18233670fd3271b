package domain

import (
	"errors"
	"fmt"
)

// Ошибки предметной области. Слои выше оборачивают их через fmt.Errorf("...: %w")
// и сравнивают через errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidToken    = errors.New("invalid token")
	ErrNoSuchUser      = errors.New("no such user")
	ErrInvalidPassword = errors.New("invalid password")
	ErrNotFound        = errors.New("not found")
	ErrEmailTaken      = errors.New("email already taken")
	ErrForbidden       = errors.New("forbidden")
)

// PersistenceError - сбой хранилища, не сводящийся к ErrNotFound или ErrEmailTaken:
// потеря соединения, нарушение ограничений, ошибка драйвера.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence оборачивает ошибку бэкенда. nil остается nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence сообщает, есть ли в цепочке PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
