package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

func TestGate_ResolveCaller(t *testing.T) {
	tokens, err := NewTokenManager(testKeyring(), 0)
	require.NoError(t, err)
	gate := NewGate(tokens)

	token, err := tokens.Issue("user-1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "Anonymous", header: "", want: ""},
		{name: "Bearer token", header: "Bearer " + token, want: "user-1"},
		{name: "Bare token", header: token, want: "user-1"},
		{name: "Invalid token", header: "Bearer garbage", wantErr: domain.ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithAuthorization(context.Background(), tt.header)
			got, err := gate.ResolveCaller(ctx)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGate_RequireCaller(t *testing.T) {
	tokens, err := NewTokenManager(testKeyring(), 0)
	require.NoError(t, err)
	gate := NewGate(tokens)

	_, err = gate.RequireCaller(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = gate.RequireCaller(WithAuthorization(context.Background(), "Bearer nope"))
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestMiddleware_CapturesHeader(t *testing.T) {
	var captured string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = authorizationFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/query", nil)
	req.Header.Set("Authorization", "Bearer abc")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "Bearer abc", captured)
}
