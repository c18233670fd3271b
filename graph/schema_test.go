package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/99designs/gqlgen/client"
	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/UkralStul/graphql-blog-service/graph/generated"
	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/dataloader"
	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/storage"
	"github.com/UkralStul/graphql-blog-service/internal/storage/inmemory"
)

type testEnv struct {
	client   *client.Client
	resolver *Resolver
	store    storage.Storage
}

// newTestEnv собирает gqlgen-хендлер поверх резолвера и хранилища
func newTestEnv(t *testing.T, store storage.Storage, introspection bool) *testEnv {
	t.Helper()

	tokens, err := auth.NewTokenManager(auth.Keyring{Active: "test", Keys: map[string][]byte{"test": []byte("secret")}}, 0)
	require.NoError(t, err)
	policy, err := auth.NewPolicy(auth.PolicyAuthenticated)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	resolver := &Resolver{
		Storage:   store,
		Observer:  NewCommentObserver(),
		Passwords: auth.NewPasswordHasher(bcrypt.MinCost),
		Tokens:    tokens,
		Gate:      auth.NewGate(tokens),
		Policy:    policy,
		Logger:    logger,
	}

	srv := handler.New(generated.NewExecutableSchema(generated.Config{Resolvers: resolver}))
	srv.AddTransport(transport.POST{})
	if introspection {
		srv.Use(extension.Introspection{})
	}
	srv.SetErrorPresenter(ErrorPresenter(logger))
	srv.SetRecoverFunc(RecoverFunc(logger))

	var h http.Handler = dataloader.Middleware(store, srv)
	h = auth.Middleware(h)
	return &testEnv{client: client.New(h), resolver: resolver, store: store}
}

// signUp регистрирует пользователя и возвращает его токен
func (e *testEnv) signUp(t *testing.T, email string) string {
	t.Helper()
	var resp struct {
		SignUp struct{ Token string }
	}
	err := e.client.Post(`mutation($email: String!) { signUp(email: $email, password: "pw") { token } }`,
		&resp, client.Var("email", email))
	require.NoError(t, err)
	return resp.SignUp.Token
}

func bearer(token string) client.Option {
	return client.AddHeader("Authorization", "Bearer "+token)
}

func TestSchema_Typename(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)

	var resp struct {
		Typename string `json:"__typename"`
	}
	env.client.MustPost(`{ __typename }`, &resp)
	assert.Equal(t, "Query", resp.Typename)
}

func TestSchema_Introspection(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)

	var resp struct {
		Schema struct {
			QueryType    struct{ Name string }
			MutationType struct{ Name string }
			Types        []struct{ Name string }
		} `json:"__schema"`
		Type struct {
			Kind   string
			Fields []struct {
				Name string
				Type struct {
					Kind   string
					OfType struct{ Name string }
				}
			}
		} `json:"__type"`
	}
	env.client.MustPost(`{
		__schema { queryType { name } mutationType { name } types { name } }
		__type(name: "Post") { kind fields { name type { kind ofType { name } } } }
	}`, &resp)

	assert.Equal(t, "Query", resp.Schema.QueryType.Name)
	assert.Equal(t, "Mutation", resp.Schema.MutationType.Name)

	var names []string
	for _, typ := range resp.Schema.Types {
		names = append(names, typ.Name)
	}
	assert.Contains(t, names, "Post")
	assert.Contains(t, names, "AuthPayload")

	assert.Equal(t, "OBJECT", resp.Type.Kind)
	for _, f := range resp.Type.Fields {
		if f.Name == "author" {
			assert.Equal(t, "NON_NULL", f.Type.Kind)
			assert.Equal(t, "User", f.Type.OfType.Name)
			return
		}
	}
	t.Fatal("Post.author not found in introspection")
}

func TestSchema_IntrospectionDisabled(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), false)

	var resp map[string]interface{}
	err := env.client.Post(`{ __schema { queryType { name } } }`, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "introspection disabled")
}

func TestSchema_UnknownFieldIsValidationError(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)

	var resp map[string]interface{}
	err := env.client.Post(`{ posts { passwordHash } }`, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRAPHQL_VALIDATION_FAILED")
}

func TestSchema_PasswordHashNotExposed(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)

	var resp map[string]interface{}
	err := env.client.Post(`{ users { passwordHash } }`, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRAPHQL_VALIDATION_FAILED")
}

// failingUsers ломает батч-загрузку пользователей
type failingUsers struct {
	storage.Storage
}

func (s failingUsers) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	return nil, domain.Persistence("get users by ids", errors.New("connection reset"))
}

func TestSchema_NullPropagation(t *testing.T) {
	mem := inmemory.New()
	env := newTestEnv(t, failingUsers{mem}, true)
	token := env.signUp(t, "alice@example.com")

	var created struct {
		CreatePost struct{ ID string }
	}
	require.NoError(t, env.client.Post(`mutation { createPost(title: "Hello", content: "World") { id } }`, &created, bearer(token)))

	resp, err := env.client.RawPost(`query($id: ID!) {
		users { email }
		post(id: $id) { title author { email } }
	}`, client.Var("id", created.CreatePost.ID))
	require.NoError(t, err)

	// post - nullable, поэтому null останавливается на нем, а users не страдает
	data := resp.Data.(map[string]interface{})
	assert.Nil(t, data["post"])
	users := data["users"].([]interface{})
	require.Len(t, users, 1)

	errs := string(resp.Errors)
	assert.Contains(t, errs, "PERSISTENCE_ERROR")
	assert.Contains(t, errs, `"path":["post","author"]`)
	assert.NotContains(t, errs, "connection reset")
}

func TestSchema_NullPropagatesToData(t *testing.T) {
	mem := inmemory.New()
	env := newTestEnv(t, failingUsers{mem}, true)
	token := env.signUp(t, "alice@example.com")
	require.NoError(t, env.client.Post(`mutation { createPost(title: "Hello", content: "World") { id } }`,
		&map[string]interface{}{}, bearer(token)))

	// posts: [Post!]! - null от author доходит до корня
	resp, err := env.client.RawPost(`{ posts { author { email } } }`)
	require.NoError(t, err)
	assert.Nil(t, resp.Data)
	assert.Contains(t, string(resp.Errors), `"path":["posts",0,"author"]`)
}

// panickingPosts паникует при чтении списка постов
type panickingPosts struct {
	storage.Storage
}

func (panickingPosts) ListPosts(ctx context.Context) ([]*domain.Post, error) {
	panic("boom")
}

func TestSchema_PanicIsInternalError(t *testing.T) {
	env := newTestEnv(t, panickingPosts{inmemory.New()}, true)

	resp, err := env.client.RawPost(`{ posts { id } }`)
	require.NoError(t, err)
	assert.Contains(t, string(resp.Errors), "INTERNAL_ERROR")
	assert.NotContains(t, string(resp.Errors), "boom")
}

func TestSchema_MutationsRunInDocumentOrder(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)

	// login видит пользователя, созданного предыдущим полем того же документа
	var resp struct {
		First  struct{ User struct{ ID string } }
		Second struct{ User struct{ ID string } }
	}
	err := env.client.Post(`mutation {
		first: signUp(email: "alice@example.com", password: "pw123") { user { id } }
		second: login(email: "alice@example.com", password: "pw123") { user { id } }
	}`, &resp)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.First.User.ID)
	assert.Equal(t, resp.First.User.ID, resp.Second.User.ID)
}

func TestSchema_OptionalArguments(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)
	token := env.signUp(t, "alice@example.com")

	var created struct {
		CreatePost struct{ ID string }
	}
	require.NoError(t, env.client.Post(`mutation { createPost(title: "Hello", content: "World") { id } }`, &created, bearer(token)))

	var resp struct {
		UpdatePost struct{ Title, Content string }
	}
	err := env.client.Post(`mutation($id: ID!, $title: String) { updatePost(id: $id, title: $title, content: "Updated") { title content } }`,
		&resp, client.Var("id", created.CreatePost.ID), client.Var("title", nil), bearer(token))
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.UpdatePost.Title)
	assert.Equal(t, "Updated", resp.UpdatePost.Content)
}

func TestSchema_NestedAssociations(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)
	token := env.signUp(t, "alice@example.com")

	var created struct {
		CreatePost struct{ ID string }
	}
	require.NoError(t, env.client.Post(`mutation { createPost(title: "Hello", content: "World") { id } }`, &created, bearer(token)))
	require.NoError(t, env.client.Post(`mutation($id: ID!) { addComment(postId: $id, content: "Nice!") { id } }`,
		&map[string]interface{}{}, client.Var("id", created.CreatePost.ID), bearer(token)))

	var resp struct {
		Me struct {
			Email string
			Posts []struct {
				Title    string
				Comments []struct {
					Content string
					Post    struct{ ID string }
					Author  struct{ Email string }
				}
			}
			Comments []struct{ Content string }
		}
	}
	env.client.MustPost(`{ me { email posts { title comments { content post { id } author { email } } } comments { content } } }`,
		&resp, bearer(token))

	assert.Equal(t, "alice@example.com", resp.Me.Email)
	require.Len(t, resp.Me.Posts, 1)
	require.Len(t, resp.Me.Posts[0].Comments, 1)
	c := resp.Me.Posts[0].Comments[0]
	assert.Equal(t, "Nice!", c.Content)
	assert.Equal(t, created.CreatePost.ID, c.Post.ID)
	assert.Equal(t, "alice@example.com", c.Author.Email)
	require.Len(t, resp.Me.Comments, 1)
}

func TestSchema_MeAnonymous(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)

	resp, err := env.client.RawPost(`{ me { id } }`)
	require.NoError(t, err)
	assert.Nil(t, resp.Errors)
	assert.Equal(t, map[string]interface{}{"me": nil}, resp.Data)

	var out map[string]interface{}
	err = env.client.Post(`{ me { id } }`, &out, bearer("garbage"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_TOKEN")
}

func TestSchema_LookupByID(t *testing.T) {
	env := newTestEnv(t, inmemory.New(), true)
	env.signUp(t, "alice@example.com")

	resp, err := env.client.RawPost(`{ user(id: "missing") { id } post(id: 42) { id } }`)
	require.NoError(t, err)
	assert.Nil(t, resp.Errors)
	assert.Equal(t, map[string]interface{}{"user": nil, "post": nil}, resp.Data)
}
