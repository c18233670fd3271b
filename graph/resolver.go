package graph

//go:generate go run github.com/99designs/gqlgen generate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/storage"
)

// This file will not be regenerated automatically.
//
// It serves as dependency injection for your app, add any dependencies you require here.

// CommentObserver хранит каналы для подписчиков на комментарии.
type CommentObserver struct {
	mu sync.RWMutex
	//          map[postID] map[subscriberID] channel
	subs map[string]map[string]chan *domain.Comment
}

// NewCommentObserver - конструктор для нашего наблюдателя.
func NewCommentObserver() *CommentObserver {
	return &CommentObserver{
		subs: make(map[string]map[string]chan *domain.Comment),
	}
}

// Subscribe регистрирует подписчика на комментарии поста. Подписка снимается,
// а канал закрывается, когда ctx завершается.
func (o *CommentObserver) Subscribe(ctx context.Context, postID string) <-chan *domain.Comment {
	ch := make(chan *domain.Comment, 1)
	subID := uuid.NewString()

	o.mu.Lock()
	if o.subs[postID] == nil {
		o.subs[postID] = make(map[string]chan *domain.Comment)
	}
	o.subs[postID][subID] = ch
	o.mu.Unlock()

	// Горутина для очистки при отключении клиента
	go func() {
		<-ctx.Done()
		o.mu.Lock()
		if postSubs, ok := o.subs[postID]; ok {
			delete(postSubs, subID)
			if len(postSubs) == 0 {
				delete(o.subs, postID)
			}
		}
		close(ch)
		o.mu.Unlock()
	}()

	return ch
}

// Publish рассылает комментарий подписчикам его поста. Не блокируется:
// если подписчик не успевает читать, событие для него пропускается.
func (o *CommentObserver) Publish(c *domain.Comment) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, ch := range o.subs[c.PostID] {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribers возвращает число активных подписчиков поста.
func (o *CommentObserver) Subscribers(postID string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs[postID])
}

// Resolver - это корневая структура резолвера.
// Она содержит все зависимости, которые нужны для выполнения запросов.
type Resolver struct {
	Storage   storage.Storage
	Observer  *CommentObserver
	Passwords *auth.PasswordHasher
	Tokens    *auth.TokenManager
	Gate      *auth.Gate
	Policy    *auth.Policy
	Logger    *slog.Logger
}

func (r *Resolver) log() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
