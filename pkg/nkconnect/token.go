package nkconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"nksdk/pkg/session"
)

// TokenAvailable reports whether the session holds a token that has not
// expired yet. An expired token with a refresh token is refreshed once.
func (c *Connect) TokenAvailable(ctx context.Context) bool {
	return c.tokenAvailable(ctx, true)
}

func (c *Connect) tokenAvailable(ctx context.Context, allowRefresh bool) bool {
	_, hasToken := c.req.Session.Get(c.keys.Key(session.FieldToken))
	expiry, hasExpiry := c.expiry()

	if hasToken && hasExpiry {
		margin := int64(c.config.RefreshAhead.Seconds())
		if c.req.now().Unix() <= expiry-margin {
			return true
		}
	}

	// Refresh only a token that existed and expired
	if !allowRefresh || !hasToken || !hasExpiry {
		return false
	}
	refresh, ok := c.req.Session.Get(c.keys.Key(session.FieldRefresh))
	if !ok || refresh == "" {
		return false
	}
	if !c.refresh(ctx, refresh) {
		return false
	}
	return c.tokenAvailable(ctx, false)
}

// Token returns the access token when one is available, else ""
func (c *Connect) Token(ctx context.Context) string {
	if !c.TokenAvailable(ctx) {
		return ""
	}
	token, _ := c.req.Session.Get(c.keys.Key(session.FieldToken))
	return token
}

func (c *Connect) expiry() (int64, bool) {
	raw, ok := c.req.Session.Get(c.keys.Key(session.FieldExpiry))
	if !ok {
		return 0, false
	}
	expiry, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return expiry, true
}

// exchange trades an authorization code for a token
func (c *Connect) exchange(ctx context.Context, code string) bool {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauthConfig().Exchange(ctx, code, oauth2.SetAuthURLParam("scope", c.config.Scope()))
	if err != nil {
		c.fail(err)
		return false
	}
	return c.storeToken(token)
}

// refresh obtains a new token with the stored refresh token. The provider
// keeps the original scope, so none is sent.
func (c *Connect) refresh(ctx context.Context, refreshToken string) bool {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	src := c.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		c.fail(err)
		return false
	}

	c.logger.Info("refreshed NK access token")
	return c.storeToken(token)
}

func (c *Connect) storeToken(token *oauth2.Token) bool {
	expiresIn, ok := expiresIn(token)
	if !ok || expiresIn <= 0 {
		c.Logout()
		c.record(ErrCodeAuth, "Token response is missing expires_in")
		return false
	}

	expiry := c.req.now().Unix() + expiresIn

	c.req.Session.Set(c.keys.Key(session.FieldToken), token.AccessToken)
	c.req.Session.Set(c.keys.Key(session.FieldExpiry), strconv.FormatInt(expiry, 10))
	if token.RefreshToken != "" {
		c.req.Session.Set(c.keys.Key(session.FieldRefresh), token.RefreshToken)
	} else {
		c.req.Session.Unset(c.keys.Key(session.FieldRefresh))
	}

	c.user = nil
	c.service = nil
	return true
}

// expiresIn reads the lifetime the provider sent. oauth2 turns it into an
// absolute Expiry and leaves ExpiresIn unset, so the raw field is used.
func expiresIn(token *oauth2.Token) (int64, bool) {
	if token.ExpiresIn > 0 {
		return token.ExpiresIn, true
	}
	switch v := token.Extra("expires_in").(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// fail clears token state and records why the token endpoint call failed
func (c *Connect) fail(err error) {
	c.Logout()
	code, description := classifyTokenError(err)
	c.logger.Warn("NK token request failed", "code", code, "error", err)
	c.record(code, description)
}

func classifyTokenError(err error) (code, description string) {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode != "" {
			if retrieveErr.ErrorDescription != "" {
				return retrieveErr.ErrorCode, retrieveErr.ErrorDescription
			}
			return retrieveErr.ErrorCode, retrieveErr.ErrorCode
		}
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return ErrCodeHTTP, fmt.Sprintf("Token endpoint answered with HTTP %d", status)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrCodeHTTP, "Token endpoint could not be reached"
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "missing access_token"):
		return ErrCodeAuth, "Token response is missing access_token"
	case strings.Contains(msg, "cannot fetch token"):
		return ErrCodeHTTP, "Token endpoint could not be reached"
	default:
		return ErrCodeDecode, "Token response could not be decoded"
	}
}
