package dataloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/99designs/gqlgen/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/storage"
	"github.com/UkralStul/graphql-blog-service/internal/storage/inmemory"
)

// countingStore считает обращения к батч-методам
type countingStore struct {
	storage.Storage
	userBatches  atomic.Int32
	lastUserKeys []string
}

func (s *countingStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	s.userBatches.Add(1)
	s.lastUserKeys = ids
	return s.Storage.GetUsersByIDs(ctx, ids)
}

func TestLoaders_BatchesAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	mem := inmemory.New()
	alice, err := mem.CreateUser(ctx, &domain.User{Email: "alice@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	bob, err := mem.CreateUser(ctx, &domain.User{Email: "bob@example.com", PasswordHash: "h"})
	require.NoError(t, err)

	store := &countingStore{Storage: mem}
	loaders := NewLoaders(store)

	ids := []string{alice.ID, bob.ID, alice.ID, bob.ID, alice.ID}
	emails := make([]string, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			u, err := loaders.User(ctx, id)
			if assert.NoError(t, err) {
				emails[i] = u.Email
			}
		}(i, id)
	}
	wg.Wait()

	assert.Equal(t, int32(1), store.userBatches.Load())
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, store.lastUserKeys)
	assert.Equal(t, "alice@example.com", emails[0])
	assert.Equal(t, "bob@example.com", emails[1])
}

func TestLoaders_Missing(t *testing.T) {
	ctx := context.Background()
	mem := inmemory.New()
	alice, err := mem.CreateUser(ctx, &domain.User{Email: "alice@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	loaders := NewLoaders(mem)

	_, err = loaders.User(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = loaders.Post(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// У пользователя без постов - пустой список, а не ошибка
	posts, err := loaders.PostsOf(ctx, alice.ID)
	require.NoError(t, err)
	assert.NotNil(t, posts)
	assert.Empty(t, posts)

	comments, err := loaders.CommentsOfUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestLoaders_Associations(t *testing.T) {
	ctx := context.Background()
	mem := inmemory.New()
	alice, err := mem.CreateUser(ctx, &domain.User{Email: "alice@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	post, err := mem.CreatePost(ctx, &domain.Post{Title: "Hello", Content: "World", AuthorID: alice.ID})
	require.NoError(t, err)
	_, err = mem.CreateComment(ctx, &domain.Comment{PostID: post.ID, AuthorID: alice.ID, Content: "Nice!"})
	require.NoError(t, err)

	loaders := NewLoaders(mem)

	posts, err := loaders.PostsOf(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Hello", posts[0].Title)

	comments, err := loaders.CommentsOfPost(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Nice!", comments[0].Content)

	got, err := loaders.Post(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, post.ID, got.ID)
}

func TestLoaders_InvalidationSeesWrites(t *testing.T) {
	ctx := context.Background()
	mem := inmemory.New()
	alice, err := mem.CreateUser(ctx, &domain.User{Email: "alice@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	post, err := mem.CreatePost(ctx, &domain.Post{Title: "Hello", Content: "World", AuthorID: alice.ID})
	require.NoError(t, err)

	loaders := NewLoaders(mem)

	// Прогреваем кеш
	comments, err := loaders.CommentsOfPost(ctx, post.ID)
	require.NoError(t, err)
	require.Empty(t, comments)
	_, err = loaders.CommentsOfUser(ctx, alice.ID)
	require.NoError(t, err)
	_, err = loaders.Post(ctx, post.ID)
	require.NoError(t, err)

	comment, err := mem.CreateComment(ctx, &domain.Comment{PostID: post.ID, AuthorID: alice.ID, Content: "one"})
	require.NoError(t, err)
	loaders.CommentCreated(ctx, comment)

	comments, err = loaders.CommentsOfPost(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "one", comments[0].Content)
	byUser, err := loaders.CommentsOfUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	title := "Edited"
	updated, err := mem.UpdatePost(ctx, post.ID, domain.PostPatch{Title: &title})
	require.NoError(t, err)
	loaders.PostUpdated(ctx, updated)

	got, err := loaders.Post(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Edited", got.Title)

	deleted, err := mem.DeletePost(ctx, post.ID)
	require.NoError(t, err)
	loaders.PostDeleted(ctx, deleted)

	_, err = loaders.Post(ctx, post.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	posts, err := loaders.PostsOf(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, posts)
	byUser, err = loaders.CommentsOfUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, byUser)
}

func TestMiddleware_InjectsLoaders(t *testing.T) {
	var first, second *Loaders
	h := Middleware(inmemory.New(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if first == nil {
			first = For(r.Context())
		} else {
			second = For(r.Context())
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/query", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/query", nil))

	require.NotNil(t, first)
	require.NotNil(t, second)
	// Каждый запрос получает свои лоадеры
	assert.NotSame(t, first, second)
}

func TestSubscriptionEvents_FreshLoadersPerEvent(t *testing.T) {
	mw := SubscriptionEvents(inmemory.New())
	opCtx := func(op ast.Operation) context.Context {
		return graphql.WithOperationContext(context.Background(), &graphql.OperationContext{
			Operation: &ast.OperationDefinition{Operation: op},
		})
	}

	var seen []*Loaders
	next := func(ctx context.Context) *graphql.Response {
		l, _ := ctx.Value(key).(*Loaders)
		seen = append(seen, l)
		return &graphql.Response{}
	}

	sub := opCtx(ast.Subscription)
	mw(sub, next)
	mw(sub, next)
	require.Len(t, seen, 2)
	require.NotNil(t, seen[0])
	require.NotNil(t, seen[1])
	assert.NotSame(t, seen[0], seen[1])

	// Запросы и мутации используют лоадеры из HTTP-middleware
	seen = nil
	mw(opCtx(ast.Query), next)
	mw(context.Background(), next)
	assert.Equal(t, []*Loaders{nil, nil}, seen)
}
