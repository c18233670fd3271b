package graph

import (
	"context"
	"testing"
	"time"

	"github.com/99designs/gqlgen/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/storage/inmemory"
)

func TestCommentObserver(t *testing.T) {
	o := NewCommentObserver()
	ctx, cancel := context.WithCancel(context.Background())

	ch := o.Subscribe(ctx, "post-1")
	other := o.Subscribe(context.Background(), "post-2")
	assert.Equal(t, 1, o.Subscribers("post-1"))

	o.Publish(&domain.Comment{ID: "c-1", PostID: "post-1"})
	select {
	case c := <-ch:
		assert.Equal(t, "c-1", c.ID)
	case <-time.After(time.Second):
		t.Fatal("comment was not delivered")
	}

	// Комментарий к другому посту не приходит
	select {
	case <-other:
		t.Fatal("unexpected comment for post-2")
	default:
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, o.Subscribers("post-1"))

	// Публикация без подписчиков не блокируется
	o.Publish(&domain.Comment{ID: "c-2", PostID: "post-1"})
}

func TestCommentObserver_SlowSubscriberDoesNotBlock(t *testing.T) {
	o := NewCommentObserver()
	o.Subscribe(context.Background(), "post-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			o.Publish(&domain.Comment{PostID: "post-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestMutation_OwnerPolicy(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)
	policy, err := auth.NewPolicy(auth.PolicyOwner)
	require.NoError(t, err)
	env.resolver.Policy = policy

	alice := env.signUp(t, "alice@example.com")
	bob := env.signUp(t, "bob@example.com")

	var created struct {
		CreatePost struct{ ID string }
	}
	require.NoError(t, env.client.Post(`mutation { createPost(title: "Hello", content: "World") { id } }`, &created, bearer(alice)))
	id := client.Var("id", created.CreatePost.ID)

	var resp map[string]interface{}
	err = env.client.Post(`mutation($id: ID!) { updatePost(id: $id, title: "Hijacked") { id } }`, &resp, id, bearer(bob))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FORBIDDEN")

	err = env.client.Post(`mutation($id: ID!) { deletePost(id: $id) { id } }`, &resp, id, bearer(bob))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FORBIDDEN")

	// Комментировать чужие посты можно
	err = env.client.Post(`mutation($id: ID!) { addComment(postId: $id, content: "Hi") { id } }`, &resp, id, bearer(bob))
	require.NoError(t, err)

	err = env.client.Post(`mutation($id: ID!) { updatePost(id: $id, title: "Edited") { id } }`, &resp, id, bearer(alice))
	require.NoError(t, err)

	post, err := env.store.GetPostByID(context.Background(), created.CreatePost.ID)
	require.NoError(t, err)
	assert.Equal(t, "Edited", post.Title)
}

func TestMutation_UpdateWithoutFieldsKeepsPost(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)
	token := env.signUp(t, "alice@example.com")

	var created struct {
		CreatePost struct {
			ID        string
			UpdatedAt string
		}
	}
	require.NoError(t, env.client.Post(`mutation { createPost(title: "Hello", content: "World") { id updatedAt } }`, &created, bearer(token)))

	var resp struct {
		UpdatePost struct {
			Title     string
			UpdatedAt string
		}
	}
	require.NoError(t, env.client.Post(`mutation($id: ID!) { updatePost(id: $id) { title updatedAt } }`,
		&resp, client.Var("id", created.CreatePost.ID), bearer(token)))
	assert.Equal(t, "Hello", resp.UpdatePost.Title)
	assert.Equal(t, created.CreatePost.UpdatedAt, resp.UpdatePost.UpdatedAt)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{domain.ErrValidation, CodeValidation},
		{domain.ErrUnauthenticated, CodeUnauthenticated},
		{domain.ErrInvalidToken, CodeInvalidToken},
		{domain.ErrNoSuchUser, CodeNoSuchUser},
		{domain.ErrInvalidPassword, CodeInvalidPassword},
		{domain.ErrNotFound, CodeNotFound},
		{domain.ErrEmailTaken, CodeEmailTaken},
		{domain.ErrForbidden, CodeForbidden},
		{domain.Persistence("op", context.DeadlineExceeded), CodePersistence},
		{context.Canceled, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}
