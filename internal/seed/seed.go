// Package seed заполняет пустое хранилище демонстрационными данными.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/storage"
)

// Password - пароль всех демонстрационных пользователей.
const Password = "password"

// Hasher хеширует пароли демонстрационных пользователей.
type Hasher interface {
	Hash(password string) (string, error)
}

// Result описывает созданные записи.
type Result struct {
	Users    []*domain.User
	Posts    []*domain.Post
	Comments []*domain.Comment
}

// Fill создает пользователей, посты и комментарии. Если в хранилище уже есть
// пользователи, ничего не делает и возвращает nil.
func Fill(ctx context.Context, s storage.Storage, hasher Hasher, logger *slog.Logger) (*Result, error) {
	existing, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		logger.InfoContext(ctx, "storage is not empty, skipping seed", "users", len(existing))
		return nil, nil
	}

	hash, err := hasher.Hash(Password)
	if err != nil {
		return nil, err
	}

	res := &Result{}

	// 1. Пользователи
	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		user, err := s.CreateUser(ctx, &domain.User{Email: email, PasswordHash: hash})
		if err != nil {
			return nil, fmt.Errorf("seed: failed to create user %s: %w", email, err)
		}
		res.Users = append(res.Users, user)
	}
	alice, bob := res.Users[0], res.Users[1]

	// 2. Посты
	posts := []*domain.Post{
		{Title: "Тестовый пост о GraphQL", Content: "Это содержимое тестового поста. Здесь мы обсуждаем GraphQL и Go.", AuthorID: alice.ID},
		{Title: "Dataloader на практике", Content: "Как избавиться от N+1 запросов при загрузке авторов.", AuthorID: bob.ID},
	}
	for _, p := range posts {
		post, err := s.CreatePost(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("seed: failed to create post: %w", err)
		}
		res.Posts = append(res.Posts, post)
	}

	// 3. Комментарии
	comments := []*domain.Comment{
		{PostID: res.Posts[0].ID, AuthorID: bob.ID, Content: "Отличный пост! Очень информативно."},
		{PostID: res.Posts[0].ID, AuthorID: alice.ID, Content: "Спасибо! Рад, что вам понравилось."},
		{PostID: res.Posts[1].ID, AuthorID: alice.ID, Content: "А как насчет производительности при большой вложенности?"},
	}
	for _, c := range comments {
		comment, err := s.CreateComment(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("seed: failed to create comment: %w", err)
		}
		res.Comments = append(res.Comments, comment)
	}

	logger.InfoContext(ctx, "mock data filled",
		"users", len(res.Users), "posts", len(res.Posts), "comments", len(res.Comments),
		"login", alice.Email)
	return res, nil
}
