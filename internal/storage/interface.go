package storage

import (
	"context"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

// Storage определяет контракт для хранилищ.
//
// Каждый метод - одна атомарная операция. Вызывающий код не объединяет их в
// транзакции. Ошибки: domain.ErrNotFound, domain.ErrEmailTaken или
// *domain.PersistenceError.
type Storage interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)

	ListPosts(ctx context.Context) ([]*domain.Post, error)
	GetPostByID(ctx context.Context, id string) (*domain.Post, error)
	CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error)
	UpdatePost(ctx context.Context, id string, patch domain.PostPatch) (*domain.Post, error)
	DeletePost(ctx context.Context, id string) (*domain.Post, error)

	ListComments(ctx context.Context) ([]*domain.Comment, error)
	GetCommentByID(ctx context.Context, id string) (*domain.Comment, error)
	CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error)

	// Методы для Dataloader'ов: один запрос на пачку ключей.
	// Отсутствующие ключи просто не попадают в результат.
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error)
	GetPostsByIDs(ctx context.Context, ids []string) (map[string]*domain.Post, error)
	GetPostsByAuthorIDs(ctx context.Context, authorIDs []string) (map[string][]*domain.Post, error)
	GetCommentsByAuthorIDs(ctx context.Context, authorIDs []string) (map[string][]*domain.Comment, error)
	GetCommentsByPostIDs(ctx context.Context, postIDs []string) (map[string][]*domain.Comment, error)

	Ping(ctx context.Context) error
	Close() error
}
