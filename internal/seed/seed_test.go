package seed

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/storage/inmemory"
)

func TestFill(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	res, err := Fill(ctx, store, hasher, logger)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Users, 2)
	assert.Len(t, res.Posts, 2)
	assert.Len(t, res.Comments, 3)

	alice, err := store.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, hasher.Verify(Password, alice.PasswordHash))

	byPost, err := store.GetCommentsByPostIDs(ctx, []string{res.Posts[0].ID})
	require.NoError(t, err)
	assert.Len(t, byPost[res.Posts[0].ID], 2)

	// Повторный запуск не дублирует данные
	again, err := Fill(ctx, store, hasher, logger)
	require.NoError(t, err)
	assert.Nil(t, again)
	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
