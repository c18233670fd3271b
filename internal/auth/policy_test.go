package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

func TestPolicy_Authorize(t *testing.T) {
	authenticated, err := NewPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAuthenticated, authenticated.Mode())

	owner, err := NewPolicy(PolicyOwner)
	require.NoError(t, err)

	tests := []struct {
		name    string
		policy  *Policy
		caller  string
		owner   string
		action  Action
		wantErr error
	}{
		{name: "Anonymous", policy: authenticated, caller: "", action: ActionCreatePost, wantErr: domain.ErrUnauthenticated},
		{name: "Any caller may update", policy: authenticated, caller: "bob", owner: "alice", action: ActionUpdatePost},
		{name: "Owner updates own post", policy: owner, caller: "alice", owner: "alice", action: ActionUpdatePost},
		{name: "Non-owner forbidden", policy: owner, caller: "bob", owner: "alice", action: ActionDeletePost, wantErr: domain.ErrForbidden},
		{name: "Create has no owner", policy: owner, caller: "bob", action: ActionAddComment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Authorize(tt.caller, tt.owner, tt.action)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPolicy_Unknown(t *testing.T) {
	_, err := NewPolicy("admin-only")
	assert.Error(t, err)
}
