package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

// Коды ошибок в extensions.code.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeNoSuchUser      = "NO_SUCH_USER"
	CodeInvalidPassword = "INVALID_PASSWORD"
	CodeNotFound        = "NOT_FOUND"
	CodeEmailTaken      = "EMAIL_TAKEN"
	CodeForbidden       = "FORBIDDEN"
	CodePersistence     = "PERSISTENCE_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
)

var codes = []struct {
	err  error
	code string
}{
	{domain.ErrValidation, CodeValidation},
	{domain.ErrUnauthenticated, CodeUnauthenticated},
	{domain.ErrInvalidToken, CodeInvalidToken},
	{domain.ErrNoSuchUser, CodeNoSuchUser},
	{domain.ErrInvalidPassword, CodeInvalidPassword},
	{domain.ErrNotFound, CodeNotFound},
	{domain.ErrEmailTaken, CodeEmailTaken},
	{domain.ErrForbidden, CodeForbidden},
}

// ErrorCode возвращает код для ошибки предметной области.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if domain.IsPersistence(err) {
		return CodePersistence
	}
	return CodeInternal
}

// ErrorPresenter проставляет extensions.code. Коды, уже выставленные gqlgen
// (GRAPHQL_PARSE_FAILED, GRAPHQL_VALIDATION_FAILED), не трогает. Детали сбоев
// хранилища уходят в лог, клиенту - только код.
func ErrorPresenter(logger *slog.Logger) graphql.ErrorPresenterFunc {
	return func(ctx context.Context, err error) *gqlerror.Error {
		gqlErr := graphql.DefaultErrorPresenter(ctx, err)
		if _, ok := gqlErr.Extensions["code"]; ok {
			return gqlErr
		}
		if gqlErr.Extensions == nil {
			gqlErr.Extensions = map[string]interface{}{}
		}

		code := ErrorCode(err)
		gqlErr.Extensions["code"] = code
		switch code {
		case CodePersistence:
			logger.ErrorContext(ctx, "storage failure", "path", gqlErr.Path.String(), "error", err)
			gqlErr.Message = "storage failure"
		case CodeInternal:
			logger.ErrorContext(ctx, "resolver failure", "path", gqlErr.Path.String(), "error", err)
		}
		return gqlErr
	}
}

// RecoverFunc превращает панику резолвера в INTERNAL_ERROR.
func RecoverFunc(logger *slog.Logger) graphql.RecoverFunc {
	return func(ctx context.Context, p interface{}) error {
		logger.ErrorContext(ctx, "resolver panic", "panic", fmt.Sprint(p))
		return &gqlerror.Error{
			Message:    "internal server error",
			Extensions: map[string]interface{}{"code": CodeInternal},
		}
	}
}
