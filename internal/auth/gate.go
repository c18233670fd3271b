package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

type contextKey string

const headerKey = contextKey("authorization")

// Middleware сохраняет заголовок Authorization в контексте запроса.
// Проверка токена откладывается до резолвера, которому нужен вызывающий.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithAuthorization(r.Context(), r.Header.Get("Authorization"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithAuthorization кладет сырое значение заголовка в контекст.
func WithAuthorization(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, headerKey, header)
}

func authorizationFrom(ctx context.Context) string {
	header, _ := ctx.Value(headerKey).(string)
	return header
}

// Verifier проверяет токен и возвращает id пользователя.
type Verifier interface {
	Verify(token string) (string, error)
}

// Gate определяет вызывающего по токену текущего запроса.
type Gate struct {
	tokens Verifier
}

func NewGate(tokens Verifier) *Gate {
	return &Gate{tokens: tokens}
}

// ResolveCaller возвращает ("", nil) для анонимного запроса и ErrInvalidToken,
// если заголовок есть, но токен не проходит проверку.
func (g *Gate) ResolveCaller(ctx context.Context) (string, error) {
	header := authorizationFrom(ctx)
	if header == "" {
		return "", nil
	}
	token := strings.TrimPrefix(header, "Bearer ")
	userID, err := g.tokens.Verify(token)
	if err != nil {
		return "", fmt.Errorf("resolve caller: %w", domain.ErrInvalidToken)
	}
	return userID, nil
}

// RequireCaller как ResolveCaller, но анонимный запрос - ErrUnauthenticated.
func (g *Gate) RequireCaller(ctx context.Context) (string, error) {
	userID, err := g.ResolveCaller(ctx)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", domain.ErrUnauthenticated
	}
	return userID, nil
}
