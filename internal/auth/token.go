package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

// Keyring - набор ключей подписи. Active подписывает новые токены, остальные
// ключи остаются для проверки уже выданных (ротация).
type Keyring struct {
	Active string
	Keys   map[string][]byte
}

// RandomKeyring генерирует одноразовый ключ на время жизни процесса.
func RandomKeyring() (Keyring, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return Keyring{}, fmt.Errorf("failed to generate signing key: %w", err)
	}
	kid := hex.EncodeToString(secret[:4])
	return Keyring{Active: kid, Keys: map[string][]byte{kid: secret}}, nil
}

func (k Keyring) validate() error {
	if k.Active == "" {
		return errors.New("keyring: active key id is empty")
	}
	if len(k.Keys[k.Active]) == 0 {
		return fmt.Errorf("keyring: active key %q has no secret", k.Active)
	}
	return nil
}

// TokenManager выпускает и проверяет HS256 JWT.
type TokenManager struct {
	keys Keyring
	ttl  time.Duration
	now  func() time.Time
}

// NewTokenManager создает менеджер токенов. ttl == 0 - токены без срока действия.
func NewTokenManager(keys Keyring, ttl time.Duration) (*TokenManager, error) {
	if err := keys.validate(); err != nil {
		return nil, err
	}
	return &TokenManager{keys: keys, ttl: ttl, now: time.Now}, nil
}

// Issue подписывает токен для пользователя активным ключом.
func (m *TokenManager) Issue(userID string) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.keys.Active
	signed, err := token.SignedString(m.keys.Keys[m.keys.Active])
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify проверяет подпись и возвращает id пользователя из sub.
func (m *TokenManager) Verify(tokenStr string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.ttl > 0 {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, m.keyFunc, opts...)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	return claims.Subject, nil
}

func (m *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		// Токены без kid проверяются активным ключом
		kid = m.keys.Active
	}
	secret, ok := m.keys.Keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return secret, nil
}
