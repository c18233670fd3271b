package model

import "github.com/UkralStul/graphql-blog-service/internal/domain"

// AuthPayload - ответ signUp и login.
type AuthPayload struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}
