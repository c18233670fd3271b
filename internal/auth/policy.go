package auth

import (
	"fmt"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

// Action - мутация, для которой проверяются права.
type Action string

const (
	ActionCreatePost Action = "createPost"
	ActionUpdatePost Action = "updatePost"
	ActionDeletePost Action = "deletePost"
	ActionAddComment Action = "addComment"
)

// Режимы политики.
const (
	PolicyAuthenticated = "authenticated"
	PolicyOwner         = "owner"
)

// Policy решает, может ли вызывающий выполнить действие над ресурсом владельца.
type Policy struct {
	mode string
}

// NewPolicy создает политику. Пустой режим - PolicyAuthenticated.
func NewPolicy(mode string) (*Policy, error) {
	switch mode {
	case "":
		mode = PolicyAuthenticated
	case PolicyAuthenticated, PolicyOwner:
	default:
		return nil, fmt.Errorf("unknown auth policy %q", mode)
	}
	return &Policy{mode: mode}, nil
}

func (p *Policy) Mode() string { return p.mode }

// Authorize проверяет право caller на action. owner пуст для действий,
// не привязанных к существующему ресурсу (создание).
func (p *Policy) Authorize(caller, owner string, action Action) error {
	if caller == "" {
		return domain.ErrUnauthenticated
	}
	if p.mode == PolicyOwner && owner != "" && owner != caller {
		return fmt.Errorf("%s: caller is not the author: %w", action, domain.ErrForbidden)
	}
	return nil
}
