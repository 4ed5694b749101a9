// Package auth inspects group access tokens handed to the client.
// The client never holds the signing key, so tokens are decoded without
// verification; the server remains the authority.
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrWrongGroup   = errors.New("token not valid for group")
)

// Claims mirrors the claims a group server puts in an access token.
type Claims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// TokenInfo is the decoded, client-side view of an access token.
type TokenInfo struct {
	Username    string
	Audience    []string
	Permissions []string
	ExpiresAt   time.Time
}

// ParseToken decodes token without verifying its signature.
func ParseToken(token string) (*TokenInfo, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	info := &TokenInfo{
		Username:    claims.Subject,
		Audience:    []string(claims.Audience),
		Permissions: claims.Permissions,
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// Expired reports whether the token is past its expiry at now.
func (t *TokenInfo) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// HasPermission reports whether the token grants perm.
func (t *TokenInfo) HasPermission(perm string) bool {
	for _, p := range t.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// AllowsGroup reports whether group is in the token's audience. Audiences are
// group URLs (".../group/<name>/"); a bare group name also matches.
func (t *TokenInfo) AllowsGroup(group string) bool {
	if len(t.Audience) == 0 {
		return true
	}
	for _, aud := range t.Audience {
		if aud == group {
			return true
		}
		u, err := url.Parse(aud)
		if err != nil {
			continue
		}
		path := strings.Trim(u.Path, "/")
		if strings.TrimPrefix(path, "group/") == group {
			return true
		}
	}
	return false
}

// Check validates a token for use against group at now.
func Check(token, group string, now time.Time) (*TokenInfo, error) {
	info, err := ParseToken(token)
	if err != nil {
		return nil, err
	}
	if info.Expired(now) {
		return info, ErrExpiredToken
	}
	if !info.AllowsGroup(group) {
		return info, ErrWrongGroup
	}
	return info, nil
}
