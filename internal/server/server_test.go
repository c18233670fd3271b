package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/99designs/gqlgen/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/graphql-blog-service/graph"
	"github.com/UkralStul/graphql-blog-service/internal/config"
	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/storage"
	"github.com/UkralStul/graphql-blog-service/internal/storage/inmemory"
	"github.com/UkralStul/graphql-blog-service/internal/storage/sqlite"
)

type testServer struct {
	srv      *Server
	resolver *graph.Resolver
	store    storage.Storage
	client   *client.Client
}

// testConfig - конфигурация по умолчанию с дешевым bcrypt и фиксированным секретом
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Auth.Secret = "test-secret"
	cfg.Auth.BcryptCost = 4
	return cfg
}

func newTestServer(t *testing.T, store storage.Storage, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver, err := NewResolver(cfg.Auth, store, logger)
	require.NoError(t, err)

	srv := New(cfg, store, resolver, logger)
	return &testServer{
		srv:      srv,
		resolver: resolver,
		store:    store,
		client:   client.New(srv.Handler(), client.Path(QueryPath)),
	}
}

type authPayload struct {
	Token string
	User  struct {
		ID    string
		Email string
	}
}

func (ts *testServer) signUp(t *testing.T, email, password string) authPayload {
	t.Helper()
	var resp struct{ SignUp authPayload }
	ts.client.MustPost(`mutation($email: String!, $password: String!) {
		signUp(email: $email, password: $password) { token user { id email } }
	}`, &resp, client.Var("email", email), client.Var("password", password))
	return resp.SignUp
}

func (ts *testServer) createPost(t *testing.T, token, title, content string) string {
	t.Helper()
	var resp struct {
		CreatePost struct{ ID string }
	}
	ts.client.MustPost(`mutation($title: String!, $content: String!) {
		createPost(title: $title, content: $content) { id }
	}`, &resp, client.Var("title", title), client.Var("content", content), bearer(token))
	return resp.CreatePost.ID
}

func bearer(token string) client.Option {
	return client.AddHeader("Authorization", "Bearer "+token)
}

func TestSignUpThenLogin_SameUser(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	signed := ts.signUp(t, "alice@example.com", "pw123")
	require.NotEmpty(t, signed.Token)

	var login struct{ Login authPayload }
	ts.client.MustPost(`mutation { login(email: "alice@example.com", password: "pw123") { token user { id email } } }`, &login)
	require.NotEmpty(t, login.Login.Token)
	assert.Equal(t, signed.User.ID, login.Login.User.ID)

	for _, token := range []string{signed.Token, login.Login.Token} {
		var me struct{ Me struct{ ID string } }
		ts.client.MustPost(`{ me { id } }`, &me, bearer(token))
		assert.Equal(t, signed.User.ID, me.Me.ID)
	}
}

func TestSignUp_EmailTaken(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	ts.signUp(t, "alice@example.com", "pw123")

	var resp map[string]interface{}
	err := ts.client.Post(`mutation { signUp(email: "alice@example.com", password: "other") { token } }`, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.CodeEmailTaken)
}

func TestLogin_Failures(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	ts.signUp(t, "alice@example.com", "pw123")

	var resp map[string]interface{}
	err := ts.client.Post(`mutation { login(email: "nobody@example.com", password: "pw123") { token } }`, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.CodeNoSuchUser)
	assert.NotContains(t, err.Error(), graph.CodeInvalidPassword)

	err = ts.client.Post(`mutation { login(email: "alice@example.com", password: "wrong") { token } }`, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.CodeInvalidPassword)
	assert.NotContains(t, err.Error(), graph.CodeNoSuchUser)
}

func TestCreatePost_AuthorIsCaller(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	ts.signUp(t, "alice@example.com", "pw123")
	bob := ts.signUp(t, "bob@example.com", "pw456")

	var resp struct {
		CreatePost struct {
			Author struct{ ID, Email string }
		}
	}
	ts.client.MustPost(`mutation { createPost(title: "Hi", content: "from bob") { author { id email } } }`, &resp, bearer(bob.Token))
	assert.Equal(t, bob.User.ID, resp.CreatePost.Author.ID)
	assert.Equal(t, "bob@example.com", resp.CreatePost.Author.Email)
}

func TestCreatePost_Unauthenticated(t *testing.T) {
	ts := newTestServer(t, inmemory.New())

	var resp map[string]interface{}
	err := ts.client.Post(`mutation { createPost(title: "Hello", content: "World") { id } }`, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.CodeUnauthenticated)

	posts, err := ts.store.ListPosts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestCreatePost_InvalidToken(t *testing.T) {
	ts := newTestServer(t, inmemory.New())

	var resp map[string]interface{}
	err := ts.client.Post(`mutation { createPost(title: "Hello", content: "World") { id } }`, &resp, bearer("forged.token.value"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.CodeInvalidToken)
}

func TestUpdateDelete_AnyAuthenticatedCaller(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	alice := ts.signUp(t, "alice@example.com", "pw123")
	bob := ts.signUp(t, "bob@example.com", "pw456")
	id := ts.createPost(t, alice.Token, "Hello", "World")

	var updated struct {
		UpdatePost struct {
			Title, Content string
			Author         struct{ Email string }
		}
	}
	ts.client.MustPost(`mutation($id: ID!) { updatePost(id: $id, content: "Edited by bob") { title content author { email } } }`,
		&updated, client.Var("id", id), bearer(bob.Token))
	assert.Equal(t, "Hello", updated.UpdatePost.Title)
	assert.Equal(t, "Edited by bob", updated.UpdatePost.Content)
	assert.Equal(t, "alice@example.com", updated.UpdatePost.Author.Email)

	var deleted struct {
		DeletePost struct{ ID string }
	}
	ts.client.MustPost(`mutation($id: ID!) { deletePost(id: $id) { id } }`, &deleted, client.Var("id", id), bearer(bob.Token))
	assert.Equal(t, id, deleted.DeletePost.ID)

	_, err := ts.store.GetPostByID(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateDelete_OwnerPolicy(t *testing.T) {
	ts := newTestServer(t, inmemory.New(), func(c *config.Config) { c.Auth.Policy = "owner" })
	alice := ts.signUp(t, "alice@example.com", "pw123")
	bob := ts.signUp(t, "bob@example.com", "pw456")
	id := ts.createPost(t, alice.Token, "Hello", "World")

	var resp map[string]interface{}
	err := ts.client.Post(`mutation($id: ID!) { deletePost(id: $id) { id } }`, &resp, client.Var("id", id), bearer(bob.Token))
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.CodeForbidden)

	_, err = ts.store.GetPostByID(context.Background(), id)
	assert.NoError(t, err)
}

func TestUpdateDelete_NotFound(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	alice := ts.signUp(t, "alice@example.com", "pw123")

	var resp map[string]interface{}
	err := ts.client.Post(`mutation { updatePost(id: "missing", title: "x") { id } }`, &resp, bearer(alice.Token))
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.CodeNotFound)

	err = ts.client.Post(`mutation { deletePost(id: "missing") { id } }`, &resp, bearer(alice.Token))
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.CodeNotFound)

	// Без токена проверка аутентификации идет раньше поиска
	err = ts.client.Post(`mutation { deletePost(id: "missing") { id } }`, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.CodeUnauthenticated)
}

func TestAddComment_MissingPost(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	alice := ts.signUp(t, "alice@example.com", "pw123")

	var resp map[string]interface{}
	err := ts.client.Post(`mutation { addComment(postId: "missing", content: "Nice!") { id } }`, &resp, bearer(alice.Token))
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.CodeNotFound)

	comments, err := ts.store.ListComments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestCreatePost_RoundTrip(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	alice := ts.signUp(t, "alice@example.com", "pw123")
	id := ts.createPost(t, alice.Token, "Заголовок с юникодом ✓", "  content with spaces  ")

	var resp struct {
		Posts []struct {
			ID, Title, Content string
			Author             struct{ Email string }
		}
	}
	ts.client.MustPost(`{ posts { id title content author { email } } }`, &resp)
	require.Len(t, resp.Posts, 1)
	assert.Equal(t, id, resp.Posts[0].ID)
	assert.Equal(t, "Заголовок с юникодом ✓", resp.Posts[0].Title)
	assert.Equal(t, "  content with spaces  ", resp.Posts[0].Content)
	assert.Equal(t, "alice@example.com", resp.Posts[0].Author.Email)
}

func TestAliceScenario(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	t1 := ts.signUp(t, "alice@example.com", "pw123").Token

	var post struct {
		CreatePost struct {
			ID     string
			Author struct{ Email string }
		}
	}
	ts.client.MustPost(`mutation { createPost(title: "Hello", content: "World") { id author { email } } }`, &post, bearer(t1))
	assert.Equal(t, "alice@example.com", post.CreatePost.Author.Email)

	var comment struct {
		AddComment struct {
			Content string
			Post    struct{ ID string }
			Author  struct{ Email string }
		}
	}
	ts.client.MustPost(`mutation($id: ID!) { addComment(postId: $id, content: "Nice!") { content post { id } author { email } } }`,
		&comment, client.Var("id", post.CreatePost.ID), bearer(t1))
	assert.Equal(t, "Nice!", comment.AddComment.Content)
	assert.Equal(t, post.CreatePost.ID, comment.AddComment.Post.ID)
	assert.Equal(t, "alice@example.com", comment.AddComment.Author.Email)
}

func TestMutationDocument_SeesOwnWrites(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	alice := ts.signUp(t, "alice@example.com", "pw123")
	postID := ts.createPost(t, alice.Token, "Hello", "World")
	id := client.Var("id", postID)

	type comments struct {
		Post struct {
			Comments []struct{ Content string }
		}
	}
	contents := func(c comments) []string {
		var out []string
		for _, cm := range c.Post.Comments {
			out = append(out, cm.Content)
		}
		return out
	}

	var two struct{ A, B comments }
	ts.client.MustPost(`mutation($id: ID!) {
		a: addComment(postId: $id, content: "one") { post { comments { content } } }
		b: addComment(postId: $id, content: "two") { post { comments { content } } }
	}`, &two, id, bearer(alice.Token))
	assert.Equal(t, []string{"one"}, contents(two.A))
	assert.Equal(t, []string{"one", "two"}, contents(two.B))

	var edited struct {
		A struct{ Post struct{ Title string } }
		U struct{ Title string }
		B struct {
			Post struct{ Title string }
		}
	}
	ts.client.MustPost(`mutation($id: ID!) {
		a: addComment(postId: $id, content: "three") { post { title } }
		u: updatePost(id: $id, title: "Edited") { title }
		b: addComment(postId: $id, content: "four") { post { title } }
	}`, &edited, id, bearer(alice.Token))
	assert.Equal(t, "Hello", edited.A.Post.Title)
	assert.Equal(t, "Edited", edited.B.Post.Title)

	var deleted struct {
		Before struct {
			Author struct{ Posts []struct{ ID string } }
		}
		D     struct{ ID string }
		After struct {
			Author struct{ Posts []struct{ ID string } }
		}
	}
	ts.client.MustPost(`mutation($id: ID!) {
		before: createPost(title: "Second", content: "c") { author { posts { id } } }
		d: deletePost(id: $id) { id }
		after: createPost(title: "Third", content: "c") { author { posts { id } } }
	}`, &deleted, id, bearer(alice.Token))
	assert.Len(t, deleted.Before.Author.Posts, 2)
	require.Len(t, deleted.After.Author.Posts, 2)
	for _, p := range deleted.After.Author.Posts {
		assert.NotEqual(t, postID, p.ID)
	}
}

// countingStore считает батч-запросы пользователей
type countingStore struct {
	storage.Storage
	userBatches atomic.Int32
}

func (s *countingStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	s.userBatches.Add(1)
	return s.Storage.GetUsersByIDs(ctx, ids)
}

func TestPostsAuthors_LoadedInOneBatch(t *testing.T) {
	ctx := context.Background()
	mem := inmemory.New()
	var authors []*domain.User
	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		u, err := mem.CreateUser(ctx, &domain.User{Email: email, PasswordHash: "h"})
		require.NoError(t, err)
		authors = append(authors, u)
	}
	for i := 0; i < 5; i++ {
		_, err := mem.CreatePost(ctx, &domain.Post{Title: "t", Content: "c", AuthorID: authors[i%2].ID})
		require.NoError(t, err)
	}

	store := &countingStore{Storage: mem}
	ts := newTestServer(t, store)

	var resp struct {
		Posts []struct {
			Author struct{ Email string }
		}
	}
	ts.client.MustPost(`{ posts { author { email } } }`, &resp)
	require.Len(t, resp.Posts, 5)
	assert.EqualValues(t, 1, store.userBatches.Load())
}

func TestCommentAddedSubscription(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	alice := ts.signUp(t, "alice@example.com", "pw123")
	bob := ts.signUp(t, "bob@example.com", "pw456")
	id := ts.createPost(t, alice.Token, "Hello", "World")

	sub := ts.client.Websocket(`subscription($id: ID!) { commentAdded(postId: $id) { content author { email } } }`,
		client.Var("id", id))
	defer sub.Close()

	require.Eventually(t, func() bool {
		return ts.resolver.Observer.Subscribers(id) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ts.client.MustPost(`mutation($id: ID!) { addComment(postId: $id, content: "Nice!") { id } }`,
		&map[string]interface{}{}, client.Var("id", id), bearer(bob.Token))

	var event struct {
		CommentAdded struct {
			Content string
			Author  struct{ Email string }
		}
	}
	require.NoError(t, sub.Next(&event))
	assert.Equal(t, "Nice!", event.CommentAdded.Content)
	assert.Equal(t, "bob@example.com", event.CommentAdded.Author.Email)
}

func TestComplexityLimit(t *testing.T) {
	ts := newTestServer(t, inmemory.New(), func(c *config.Config) { c.Server.ComplexityLimit = 3 })

	var resp map[string]interface{}
	err := ts.client.Post(`{ posts { author { posts { author { email } } } } }`, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMPLEXITY_LIMIT_EXCEEDED")

	require.NoError(t, ts.client.Post(`{ posts { id } }`, &resp))
}

func TestGetTransport(t *testing.T) {
	ts := newTestServer(t, inmemory.New())

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, QueryPath+"?query=%7B__typename%7D", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"__typename":"Query"}}`, rec.Body.String())
}

// unhealthyStore не отвечает на ping
type unhealthyStore struct {
	storage.Storage
}

func (unhealthyStore) Ping(ctx context.Context) error {
	return domain.Persistence("ping", errors.New("connection refused"))
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ts = newTestServer(t, unhealthyStore{inmemory.New()})
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, inmemory.New(), func(c *config.Config) { c.Metrics.Operations = []string{"Feed"} })
	ts.client.MustPost(`query Feed { posts { id } }`, &map[string]interface{}{})
	ts.client.MustPost(`query Random42 { posts { id } }`, &map[string]interface{}{})
	ts.client.MustPost(`{ posts { id } }`, &map[string]interface{}{})

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `blog_graphql_operations_total{operation="Feed",status="ok"} 1`)
	assert.Contains(t, body, `blog_graphql_operations_total{operation="other_query",status="ok"} 1`)
	assert.Contains(t, body, `blog_graphql_operations_total{operation="anonymous_query",status="ok"} 1`)
	assert.NotContains(t, body, "Random42")
	// У in-memory хранилища нет пула соединений
	assert.NotContains(t, body, "go_sql_open_connections")

	off := newTestServer(t, inmemory.New(), func(c *config.Config) { c.Metrics.Enabled = false })
	rec = httptest.NewRecorder()
	off.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint_DBStats(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ts := newTestServer(t, store, func(c *config.Config) { c.Storage.Type = config.StorageSQLite })
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `go_sql_max_open_connections{db_name="sqlite"} 1`)
}

func TestPlayground(t *testing.T) {
	ts := newTestServer(t, inmemory.New())
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))

	off := newTestServer(t, inmemory.New(), func(c *config.Config) { c.Server.Playground = false })
	rec = httptest.NewRecorder()
	off.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartStop(t *testing.T) {
	ts := newTestServer(t, inmemory.New(), func(c *config.Config) { c.Server.Addr = "127.0.0.1:0" })

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- ts.srv.Start(ctx, ready) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	assert.ErrorIs(t, ts.srv.Start(ctx, nil), ErrAlreadyStarted)

	resp, err := http.Get("http://" + ts.srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
