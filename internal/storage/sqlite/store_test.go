package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

// newTestStore создает in-memory базу с одним пользователем
func newTestStore(t *testing.T) (*Store, *domain.User) {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	user, err := store.CreateUser(context.Background(), &domain.User{Email: "alice@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	return store, user
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.Migrate())
	assert.NoError(t, store.Ping(context.Background()))
}

func TestStore_Users(t *testing.T) {
	store, alice := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.CreateUser(ctx, &domain.User{Email: "alice@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	_, err = store.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestStore_PostLifecycle(t *testing.T) {
	store, alice := newTestStore(t)
	ctx := context.Background()

	post, err := store.CreatePost(ctx, &domain.Post{Title: "Hello", Content: "World", AuthorID: alice.ID})
	require.NoError(t, err)

	content := "Updated"
	updated, err := store.UpdatePost(ctx, post.ID, domain.PostPatch{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "Hello", updated.Title)
	assert.Equal(t, "Updated", updated.Content)

	_, err = store.UpdatePost(ctx, "missing", domain.PostPatch{Content: &content})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.CreateComment(ctx, &domain.Comment{PostID: post.ID, AuthorID: alice.ID, Content: "Nice!"})
	require.NoError(t, err)

	deleted, err := store.DeletePost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, post.ID, deleted.ID)

	// Каскадное удаление комментариев
	comments, err := store.ListComments(ctx)
	require.NoError(t, err)
	assert.Empty(t, comments)

	_, err = store.DeletePost(ctx, post.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ForeignKeys(t *testing.T) {
	store, alice := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreatePost(ctx, &domain.Post{Title: "x", Content: "y", AuthorID: "ghost"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.CreateComment(ctx, &domain.Comment{PostID: "missing", AuthorID: alice.ID, Content: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	comments, err := store.ListComments(ctx)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestStore_BatchLoaders(t *testing.T) {
	store, alice := newTestStore(t)
	ctx := context.Background()

	bob, err := store.CreateUser(ctx, &domain.User{Email: "bob@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	first, err := store.CreatePost(ctx, &domain.Post{Title: "first", Content: "c", AuthorID: alice.ID})
	require.NoError(t, err)
	second, err := store.CreatePost(ctx, &domain.Post{Title: "second", Content: "c", AuthorID: alice.ID})
	require.NoError(t, err)
	_, err = store.CreateComment(ctx, &domain.Comment{PostID: first.ID, AuthorID: bob.ID, Content: "one"})
	require.NoError(t, err)
	_, err = store.CreateComment(ctx, &domain.Comment{PostID: first.ID, AuthorID: alice.ID, Content: "two"})
	require.NoError(t, err)

	users, err := store.GetUsersByIDs(ctx, []string{alice.ID, bob.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	posts, err := store.GetPostsByIDs(ctx, []string{first.ID, second.ID})
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	byAuthor, err := store.GetPostsByAuthorIDs(ctx, []string{alice.ID, bob.ID})
	require.NoError(t, err)
	require.Len(t, byAuthor[alice.ID], 2)
	assert.Equal(t, second.ID, byAuthor[alice.ID][0].ID) // новые первыми
	assert.Empty(t, byAuthor[bob.ID])

	byPost, err := store.GetCommentsByPostIDs(ctx, []string{first.ID, second.ID})
	require.NoError(t, err)
	require.Len(t, byPost[first.ID], 2)
	assert.Equal(t, "one", byPost[first.ID][0].Content)
	assert.Empty(t, byPost[second.ID])

	byUser, err := store.GetCommentsByAuthorIDs(ctx, []string{bob.ID})
	require.NoError(t, err)
	assert.Len(t, byUser[bob.ID], 1)
}
