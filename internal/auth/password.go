package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

// DefaultCost - стоимость bcrypt по умолчанию.
const DefaultCost = 10

// PasswordHasher хеширует и проверяет пароли через bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher создает хешер. Стоимость вне [bcrypt.MinCost, bcrypt.MaxCost]
// заменяется на DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash возвращает bcrypt-хеш пароля. Соль каждый раз новая.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("password longer than 72 bytes: %w", domain.ErrValidation)
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify сравнивает пароль с хешем за постоянное время.
func (h *PasswordHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
