package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/99designs/gqlgen/graphql"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

func TestOperationLabel(t *testing.T) {
	m := New("Feed", "Named")
	query := func(name string) *graphql.OperationContext {
		return &graphql.OperationContext{
			OperationName: name,
			Operation:     &ast.OperationDefinition{Name: name, Operation: ast.Query},
		}
	}

	tests := []struct {
		name string
		oc   *graphql.OperationContext
		want string
	}{
		{"allowed by request name", query("Feed"), "Feed"},
		{"allowed by document name", &graphql.OperationContext{
			Operation: &ast.OperationDefinition{Name: "Named", Operation: ast.Query},
		}, "Named"},
		{"unlisted name", query("Random123"), "other_query"},
		{"anonymous mutation", &graphql.OperationContext{
			Operation: &ast.OperationDefinition{Operation: ast.Mutation},
		}, "anonymous_mutation"},
		{"no operation", &graphql.OperationContext{OperationName: "Sneaky"}, "unknown"},
		{"nothing", &graphql.OperationContext{}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.OperationLabel(tt.oc))
		})
	}
}

func TestInterceptResponse_BoundedLabels(t *testing.T) {
	m := New("Feed")
	for _, name := range []string{"A", "B", "C"} {
		ctx := graphql.WithOperationContext(context.Background(), &graphql.OperationContext{
			OperationName: name,
			Operation:     &ast.OperationDefinition{Name: name, Operation: ast.Query},
		})
		m.InterceptResponse(ctx, func(context.Context) *graphql.Response { return &graphql.Response{} })
	}

	assert.Equal(t, 1, testutil.CollectAndCount(m.operationsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("other_query", "ok")))
}

func TestInterceptResponse(t *testing.T) {
	m := New("Feed")
	ctx := graphql.WithOperationContext(context.Background(), &graphql.OperationContext{OperationName: "Feed"})

	m.InterceptResponse(ctx, func(context.Context) *graphql.Response {
		return &graphql.Response{}
	})
	m.InterceptResponse(ctx, func(context.Context) *graphql.Response {
		return &graphql.Response{Errors: gqlerror.List{gqlerror.Errorf("boom")}}
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("Feed", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("Feed", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.operationDuration))
}

func TestInterceptField(t *testing.T) {
	m := New()
	fc := &graphql.FieldContext{
		Object: "Post",
		Field:  graphql.CollectedField{Field: &ast.Field{Name: "author"}},
	}
	ctx := graphql.WithFieldContext(context.Background(), fc)

	_, err := m.InterceptField(ctx, func(context.Context) (interface{}, error) {
		return nil, errors.New("not found")
	})
	require.Error(t, err)
	res, err := m.InterceptField(ctx, func(context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolverErrors.WithLabelValues("Post.author")))
}

func TestRegister(t *testing.T) {
	m := New()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, m.Register(collectors.NewDBStatsCollector(db, "blog")))
	// Повторная регистрация того же коллектора - ошибка
	assert.Error(t, m.Register(collectors.NewDBStatsCollector(db, "blog")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `go_sql_open_connections{db_name="blog"}`)
}

func TestHandler(t *testing.T) {
	m := New()
	m.operationsTotal.WithLabelValues("Feed", "ok").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `blog_graphql_operations_total{operation="Feed",status="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
