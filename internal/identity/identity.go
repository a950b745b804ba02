// Package identity derives the acting user and tenant from the stored
// session token. Every queued mutation and remote write is stamped with both.
package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Actor identifies who is mutating data and under which tenant.
type Actor struct {
	UserID    string
	CompanyID string
}

var (
	ErrMissingSubject = errors.New("identity: token has no subject")
	ErrMissingCompany = errors.New("identity: token has no company claim")
)

// ParseSession validates an HS256 session token and extracts the actor.
// The token is the one the signed-in client already holds; offline operation
// keeps working as long as the stored token parses, so expiry is checked by
// the remote store on replay rather than here.
func ParseSession(token, secret string) (Actor, error) {
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return Actor{}, fmt.Errorf("identity: parse session token: %w", err)
	}
	if !t.Valid {
		return Actor{}, errors.New("identity: invalid session token")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Actor{}, ErrMissingSubject
	}
	company, _ := claims["company_id"].(string)
	if company == "" {
		return Actor{}, ErrMissingCompany
	}

	return Actor{UserID: sub, CompanyID: company}, nil
}
