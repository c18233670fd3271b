package dataloader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/graph-gophers/dataloader"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/storage"
)

type contextKey string

const key = contextKey("dataloaders")

// wait - сколько лоадер копит ключи перед походом в хранилище.
const wait = 2 * time.Millisecond

// Loaders содержит все дата-лоадеры приложения. Живут один запрос:
// кеш не переживает запрос и не видит чужих изменений.
type Loaders struct {
	UserByID           *dataloader.Loader
	PostByID           *dataloader.Loader
	PostsByAuthorID    *dataloader.Loader
	CommentsByAuthorID *dataloader.Loader
	CommentsByPostID   *dataloader.Loader
}

// NewLoaders создает свежий набор лоадеров поверх хранилища.
func NewLoaders(store storage.Storage) *Loaders {
	return &Loaders{
		UserByID: newLoader(func(ctx context.Context, ids []string) ([]interface{}, error) {
			users, err := store.GetUsersByIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			data := make([]interface{}, len(ids))
			for i, id := range ids {
				if u, ok := users[id]; ok {
					data[i] = u
				}
			}
			return data, nil
		}),
		PostByID: newLoader(func(ctx context.Context, ids []string) ([]interface{}, error) {
			posts, err := store.GetPostsByIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			data := make([]interface{}, len(ids))
			for i, id := range ids {
				if p, ok := posts[id]; ok {
					data[i] = p
				}
			}
			return data, nil
		}),
		PostsByAuthorID: newLoader(func(ctx context.Context, ids []string) ([]interface{}, error) {
			posts, err := store.GetPostsByAuthorIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			data := make([]interface{}, len(ids))
			for i, id := range ids {
				data[i] = nonNil(posts[id])
			}
			return data, nil
		}),
		CommentsByAuthorID: newLoader(func(ctx context.Context, ids []string) ([]interface{}, error) {
			comments, err := store.GetCommentsByAuthorIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			data := make([]interface{}, len(ids))
			for i, id := range ids {
				data[i] = nonNil(comments[id])
			}
			return data, nil
		}),
		CommentsByPostID: newLoader(func(ctx context.Context, ids []string) ([]interface{}, error) {
			comments, err := store.GetCommentsByPostIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			data := make([]interface{}, len(ids))
			for i, id := range ids {
				data[i] = nonNil(comments[id])
			}
			return data, nil
		}),
	}
}

// newLoader оборачивает выборку пачкой в dataloader.BatchFunc. Результат fetch
// выровнен по ids, nil означает отсутствующую запись.
func newLoader(fetch func(ctx context.Context, ids []string) ([]interface{}, error)) *dataloader.Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := keys.Keys()
		results := make([]*dataloader.Result, len(keys))

		data, err := fetch(ctx, ids)
		if err != nil {
			// В случае ошибки, возвращаем ее для всех ключей
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		for i, id := range ids {
			if data[i] == nil {
				results[i] = &dataloader.Result{Error: fmt.Errorf("load %s: %w", id, domain.ErrNotFound)}
				continue
			}
			results[i] = &dataloader.Result{Data: data[i]}
		}
		return results
	}
	return dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(wait))
}

func nonNil[T any](items []*T) []*T {
	if items == nil {
		return []*T{}
	}
	return items
}

// Middleware для внедрения лоадеров в контекст запроса.
func Middleware(store storage.Storage, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithLoaders(r.Context(), store)))
	})
}

// WithLoaders кладет в контекст новый набор лоадеров. Используется и вне HTTP,
// например для каждого события подписки.
func WithLoaders(ctx context.Context, store storage.Storage) context.Context {
	return context.WithValue(ctx, key, NewLoaders(store))
}

// SubscriptionEvents выдает каждому событию подписки свой набор лоадеров.
func SubscriptionEvents(store storage.Storage) graphql.ResponseMiddleware {
	return func(ctx context.Context, next graphql.ResponseHandler) *graphql.Response {
		if graphql.HasOperationContext(ctx) {
			if op := graphql.GetOperationContext(ctx).Operation; op != nil && op.Operation == ast.Subscription {
				ctx = WithLoaders(ctx, store)
			}
		}
		return next(ctx)
	}
}

// For извлекает лоадеры из контекста.
func For(ctx context.Context) *Loaders {
	return ctx.Value(key).(*Loaders)
}

// === Invalidation ===

// Кеш лоадеров живет весь запрос: мутация сбрасывает ключи, которые изменила.

// PostCreated сбрасывает список постов автора.
func (l *Loaders) PostCreated(ctx context.Context, post *domain.Post) {
	l.PostsByAuthorID.Clear(ctx, dataloader.StringKey(post.AuthorID))
}

// PostUpdated кладет в кеш новую версию поста.
func (l *Loaders) PostUpdated(ctx context.Context, post *domain.Post) {
	id := dataloader.StringKey(post.ID)
	l.PostByID.Clear(ctx, id).Prime(ctx, id, post)
	l.PostsByAuthorID.Clear(ctx, dataloader.StringKey(post.AuthorID))
}

// PostDeleted забывает пост и все, что с ним связано. Комментарии удалены
// каскадом, поэтому списки комментариев по авторам сбрасываются целиком.
func (l *Loaders) PostDeleted(ctx context.Context, post *domain.Post) {
	l.PostByID.Clear(ctx, dataloader.StringKey(post.ID))
	l.PostsByAuthorID.Clear(ctx, dataloader.StringKey(post.AuthorID))
	l.CommentsByPostID.Clear(ctx, dataloader.StringKey(post.ID))
	l.CommentsByAuthorID.ClearAll()
}

// CommentCreated сбрасывает списки комментариев поста и автора.
func (l *Loaders) CommentCreated(ctx context.Context, comment *domain.Comment) {
	l.CommentsByPostID.Clear(ctx, dataloader.StringKey(comment.PostID))
	l.CommentsByAuthorID.Clear(ctx, dataloader.StringKey(comment.AuthorID))
}

// === Typed helpers ===

func (l *Loaders) User(ctx context.Context, id string) (*domain.User, error) {
	v, err := l.UserByID.Load(ctx, dataloader.StringKey(id))()
	if err != nil {
		return nil, err
	}
	return v.(*domain.User), nil
}

func (l *Loaders) Post(ctx context.Context, id string) (*domain.Post, error) {
	v, err := l.PostByID.Load(ctx, dataloader.StringKey(id))()
	if err != nil {
		return nil, err
	}
	return v.(*domain.Post), nil
}

func (l *Loaders) PostsOf(ctx context.Context, authorID string) ([]*domain.Post, error) {
	v, err := l.PostsByAuthorID.Load(ctx, dataloader.StringKey(authorID))()
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Post), nil
}

func (l *Loaders) CommentsOfUser(ctx context.Context, authorID string) ([]*domain.Comment, error) {
	v, err := l.CommentsByAuthorID.Load(ctx, dataloader.StringKey(authorID))()
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Comment), nil
}

func (l *Loaders) CommentsOfPost(ctx context.Context, postID string) ([]*domain.Comment, error) {
	v, err := l.CommentsByPostID.Load(ctx, dataloader.StringKey(postID))()
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Comment), nil
}
