// internal/storage/inmemory/store_test.go

package inmemory

import (
	"context"
	"testing"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore создает хранилище с одним пользователем и одним постом
func newTestStore(t *testing.T) (storage.Storage, *domain.User, *domain.Post) {
	store := New()
	ctx := context.Background()
	user, err := store.CreateUser(ctx, &domain.User{Email: "alice@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	post, err := store.CreatePost(ctx, &domain.Post{
		Title:    "Test Post",
		Content:  "Content",
		AuthorID: user.ID,
	})
	require.NoError(t, err)
	return store, user, post
}

func TestStore_CreateAndGetUser(t *testing.T) {
	store, user, _ := newTestStore(t)
	ctx := context.Background()

	byID, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)

	byEmail, err := store.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	_, err = store.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_CreateUser_EmailTaken(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.CreateUser(context.Background(), &domain.User{Email: "alice@example.com", PasswordHash: "other"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestStore_CreateAndGetPost(t *testing.T) {
	store, _, post := newTestStore(t)
	ctx := context.Background()

	retrieved, err := store.GetPostByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, post.Title, retrieved.Title)

	_, err = store.GetPostByID(ctx, "non-existent-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_CreatePost_UnknownAuthor(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.CreatePost(context.Background(), &domain.Post{Title: "x", Content: "y", AuthorID: "ghost"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_UpdatePost(t *testing.T) {
	store, _, post := newTestStore(t)
	ctx := context.Background()

	title := "New title"
	updated, err := store.UpdatePost(ctx, post.ID, domain.PostPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "New title", updated.Title)
	assert.Equal(t, "Content", updated.Content) // не трогали
	assert.True(t, updated.UpdatedAt.After(post.UpdatedAt))

	// Изменение возвращенной копии не влияет на хранилище
	updated.Title = "mutated"
	again, err := store.GetPostByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "New title", again.Title)

	_, err = store.UpdatePost(ctx, "missing", domain.PostPatch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_DeletePost_CascadesComments(t *testing.T) {
	store, user, post := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateComment(ctx, &domain.Comment{PostID: post.ID, AuthorID: user.ID, Content: "First comment!"})
	require.NoError(t, err)

	deleted, err := store.DeletePost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, post.ID, deleted.ID)

	comments, err := store.ListComments(ctx)
	require.NoError(t, err)
	assert.Empty(t, comments)

	byUser, err := store.GetCommentsByAuthorIDs(ctx, []string{user.ID})
	require.NoError(t, err)
	assert.Empty(t, byUser[user.ID])

	_, err = store.DeletePost(ctx, post.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_CreateComment_Success(t *testing.T) {
	store, user, post := newTestStore(t)
	ctx := context.Background()

	comment, err := store.CreateComment(ctx, &domain.Comment{PostID: post.ID, AuthorID: user.ID, Content: "First comment!"})
	require.NoError(t, err)
	assert.NotEmpty(t, comment.ID)

	byPost, err := store.GetCommentsByPostIDs(ctx, []string{post.ID})
	require.NoError(t, err)
	require.Len(t, byPost[post.ID], 1)
	assert.Equal(t, "First comment!", byPost[post.ID][0].Content)
}

func TestStore_CreateComment_PostNotFound(t *testing.T) {
	store, user, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateComment(ctx, &domain.Comment{PostID: "missing", AuthorID: user.ID, Content: "This should fail"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	comments, err := store.ListComments(ctx)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestStore_ListOrdering(t *testing.T) {
	store, user, first := newTestStore(t)
	ctx := context.Background()

	second, err := store.CreatePost(ctx, &domain.Post{Title: "Second", Content: "c", AuthorID: user.ID})
	require.NoError(t, err)

	posts, err := store.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	// Новые посты идут первыми
	assert.Equal(t, second.ID, posts[0].ID)
	assert.Equal(t, first.ID, posts[1].ID)

	c1, err := store.CreateComment(ctx, &domain.Comment{PostID: first.ID, AuthorID: user.ID, Content: "one"})
	require.NoError(t, err)
	c2, err := store.CreateComment(ctx, &domain.Comment{PostID: first.ID, AuthorID: user.ID, Content: "two"})
	require.NoError(t, err)

	comments, err := store.ListComments(ctx)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	// Комментарии - в порядке создания
	assert.Equal(t, c1.ID, comments[0].ID)
	assert.Equal(t, c2.ID, comments[1].ID)
}

func TestStore_BatchLoaders(t *testing.T) {
	store, alice, post := newTestStore(t)
	ctx := context.Background()

	bob, err := store.CreateUser(ctx, &domain.User{Email: "bob@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	_, err = store.CreateComment(ctx, &domain.Comment{PostID: post.ID, AuthorID: bob.ID, Content: "hi"})
	require.NoError(t, err)

	users, err := store.GetUsersByIDs(ctx, []string{alice.ID, bob.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "bob@example.com", users[bob.ID].Email)

	posts, err := store.GetPostsByIDs(ctx, []string{post.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, posts, 1)

	byAuthor, err := store.GetPostsByAuthorIDs(ctx, []string{alice.ID, bob.ID})
	require.NoError(t, err)
	assert.Len(t, byAuthor[alice.ID], 1)
	assert.Empty(t, byAuthor[bob.ID])

	commentsByAuthor, err := store.GetCommentsByAuthorIDs(ctx, []string{alice.ID, bob.ID})
	require.NoError(t, err)
	assert.Empty(t, commentsByAuthor[alice.ID])
	assert.Len(t, commentsByAuthor[bob.ID], 1)
}
