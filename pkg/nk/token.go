package nk

import (
	"context"
	"strings"
)

// TokenProvider yields the access token used for signed API calls
type TokenProvider interface {
	// Token returns the current access token or "" when none is available
	Token(ctx context.Context) string
	TokenAvailable(ctx context.Context) bool
}

// StaticToken is a caller-supplied bearer token. It never expires or refreshes.
type StaticToken string

// NewStaticToken trims surrounding whitespace from token
func NewStaticToken(token string) StaticToken {
	return StaticToken(strings.TrimSpace(token))
}

func (t StaticToken) Token(context.Context) string {
	return string(t)
}

func (t StaticToken) TokenAvailable(context.Context) bool {
	return t != ""
}

var _ TokenProvider = StaticToken("")
