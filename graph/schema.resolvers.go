package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/UkralStul/graphql-blog-service/graph/generated"
	"github.com/UkralStul/graphql-blog-service/graph/model"
	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/dataloader"
	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

// === Comment Resolvers ===

// Author резолвер автора комментария. Через Dataloader, чтобы список
// комментариев не давал N+1 запросов.
func (r *commentResolver) Author(ctx context.Context, obj *domain.Comment) (*domain.User, error) {
	return dataloader.For(ctx).User(ctx, obj.AuthorID)
}

func (r *commentResolver) Post(ctx context.Context, obj *domain.Comment) (*domain.Post, error) {
	return dataloader.For(ctx).Post(ctx, obj.PostID)
}

// === Mutation Resolvers ===

func (r *mutationResolver) SignUp(ctx context.Context, email string, password string) (*model.AuthPayload, error) {
	hash, err := r.Passwords.Hash(password)
	if err != nil {
		return nil, err
	}
	user, err := r.Storage.CreateUser(ctx, &domain.User{Email: email, PasswordHash: hash})
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	r.log().InfoContext(ctx, "user signed up", "user_id", user.ID)
	return r.issue(user)
}

func (r *mutationResolver) Login(ctx context.Context, email string, password string) (*model.AuthPayload, error) {
	user, err := r.Storage.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("login %s: %w", email, domain.ErrNoSuchUser)
	}
	if err != nil {
		return nil, err
	}
	if !r.Passwords.Verify(password, user.PasswordHash) {
		return nil, fmt.Errorf("login %s: %w", email, domain.ErrInvalidPassword)
	}
	return r.issue(user)
}

func (r *mutationResolver) issue(user *domain.User) (*model.AuthPayload, error) {
	token, err := r.Tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &model.AuthPayload{Token: token, User: user}, nil
}

func (r *mutationResolver) CreatePost(ctx context.Context, title string, content string) (*domain.Post, error) {
	caller, err := r.authorize(ctx, "", auth.ActionCreatePost)
	if err != nil {
		return nil, err
	}
	post, err := r.Storage.CreatePost(ctx, &domain.Post{Title: title, Content: content, AuthorID: caller})
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	dataloader.For(ctx).PostCreated(ctx, post)
	return post, nil
}

func (r *mutationResolver) UpdatePost(ctx context.Context, id string, title *string, content *string) (*domain.Post, error) {
	caller, err := r.Gate.RequireCaller(ctx)
	if err != nil {
		return nil, err
	}
	post, err := r.Storage.GetPostByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Policy.Authorize(caller, post.AuthorID, auth.ActionUpdatePost); err != nil {
		return nil, err
	}

	patch := domain.PostPatch{Title: title, Content: content}
	if patch.Empty() {
		return post, nil
	}
	updated, err := r.Storage.UpdatePost(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	dataloader.For(ctx).PostUpdated(ctx, updated)
	return updated, nil
}

func (r *mutationResolver) DeletePost(ctx context.Context, id string) (*domain.Post, error) {
	caller, err := r.Gate.RequireCaller(ctx)
	if err != nil {
		return nil, err
	}
	post, err := r.Storage.GetPostByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Policy.Authorize(caller, post.AuthorID, auth.ActionDeletePost); err != nil {
		return nil, err
	}

	deleted, err := r.Storage.DeletePost(ctx, id)
	if err != nil {
		return nil, err
	}
	dataloader.For(ctx).PostDeleted(ctx, deleted)
	r.log().InfoContext(ctx, "post deleted", "post_id", id, "caller", caller)
	return deleted, nil
}

func (r *mutationResolver) AddComment(ctx context.Context, postID string, content string) (*domain.Comment, error) {
	caller, err := r.authorize(ctx, "", auth.ActionAddComment)
	if err != nil {
		return nil, err
	}
	comment, err := r.Storage.CreateComment(ctx, &domain.Comment{
		PostID:   postID,
		AuthorID: caller,
		Content:  content,
	})
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	dataloader.For(ctx).CommentCreated(ctx, comment)

	// Уведомляем подписчиков, не блокируя мутацию
	r.Observer.Publish(comment)
	return comment, nil
}

// authorize определяет вызывающего и спрашивает политику.
func (r *mutationResolver) authorize(ctx context.Context, owner string, action auth.Action) (string, error) {
	caller, err := r.Gate.RequireCaller(ctx)
	if err != nil {
		return "", err
	}
	if err := r.Policy.Authorize(caller, owner, action); err != nil {
		return "", err
	}
	return caller, nil
}

// === Post Resolvers ===

func (r *postResolver) Author(ctx context.Context, obj *domain.Post) (*domain.User, error) {
	return dataloader.For(ctx).User(ctx, obj.AuthorID)
}

func (r *postResolver) Comments(ctx context.Context, obj *domain.Post) ([]*domain.Comment, error) {
	return dataloader.For(ctx).CommentsOfPost(ctx, obj.ID)
}

// === Query Resolvers ===

func (r *queryResolver) Users(ctx context.Context) ([]*domain.User, error) {
	return r.Storage.ListUsers(ctx)
}

func (r *queryResolver) Posts(ctx context.Context) ([]*domain.Post, error) {
	return r.Storage.ListPosts(ctx)
}

func (r *queryResolver) Comments(ctx context.Context) ([]*domain.Comment, error) {
	return r.Storage.ListComments(ctx)
}

// Me возвращает null для анонимного запроса, но ошибку для испорченного токена.
func (r *queryResolver) Me(ctx context.Context) (*domain.User, error) {
	caller, err := r.Gate.ResolveCaller(ctx)
	if err != nil || caller == "" {
		return nil, err
	}
	user, err := dataloader.For(ctx).User(ctx, caller)
	return orNil(user, err)
}

func (r *queryResolver) User(ctx context.Context, id string) (*domain.User, error) {
	user, err := r.Storage.GetUserByID(ctx, id)
	return orNil(user, err)
}

func (r *queryResolver) Post(ctx context.Context, id string) (*domain.Post, error) {
	post, err := r.Storage.GetPostByID(ctx, id)
	return orNil(post, err)
}

// orNil превращает ErrNotFound в null для nullable-полей.
func orNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// === Subscription Resolvers ===

func (r *subscriptionResolver) CommentAdded(ctx context.Context, postID string) (<-chan *domain.Comment, error) {
	// Проверяем, существует ли пост, прежде чем подписываться
	if _, err := r.Storage.GetPostByID(ctx, postID); err != nil {
		return nil, err
	}
	return r.Observer.Subscribe(ctx, postID), nil
}

// === User Resolvers ===

func (r *userResolver) Posts(ctx context.Context, obj *domain.User) ([]*domain.Post, error) {
	return dataloader.For(ctx).PostsOf(ctx, obj.ID)
}

func (r *userResolver) Comments(ctx context.Context, obj *domain.User) ([]*domain.Comment, error) {
	return dataloader.For(ctx).CommentsOfUser(ctx, obj.ID)
}

// === Boilerplate: Связывание резолверов с интерфейсами схемы ===

// Comment returns generated.CommentResolver implementation.
func (r *Resolver) Comment() generated.CommentResolver { return &commentResolver{r} }

// Mutation returns generated.MutationResolver implementation.
func (r *Resolver) Mutation() generated.MutationResolver { return &mutationResolver{r} }

// Post returns generated.PostResolver implementation.
func (r *Resolver) Post() generated.PostResolver { return &postResolver{r} }

// Query returns generated.QueryResolver implementation.
func (r *Resolver) Query() generated.QueryResolver { return &queryResolver{r} }

// Subscription returns generated.SubscriptionResolver implementation.
func (r *Resolver) Subscription() generated.SubscriptionResolver { return &subscriptionResolver{r} }

// User returns generated.UserResolver implementation.
func (r *Resolver) User() generated.UserResolver { return &userResolver{r} }

type commentResolver struct{ *Resolver }
type mutationResolver struct{ *Resolver }
type postResolver struct{ *Resolver }
type queryResolver struct{ *Resolver }
type subscriptionResolver struct{ *Resolver }
type userResolver struct{ *Resolver }
