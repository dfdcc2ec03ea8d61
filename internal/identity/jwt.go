package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"wealthflow/internal/core"
)

// JWTProvider verifies HMAC-signed access tokens locally with the shared secret
type JWTProvider struct {
	secret []byte
}

func NewJWTProvider(secret string) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTProvider{secret: []byte(secret)}, nil
}

func (p *JWTProvider) GetUser(_ context.Context, token string) (core.User, error) {
	if token == "" {
		return core.User{}, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return core.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return core.User{}, ErrInvalidToken
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return core.User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return core.User{ID: sub, Email: email, Name: name}, nil
}

// IssueToken signs a token for user. The identity service owns issuance in production;
// this exists for the CLI's dev login and for tests.
func (p *JWTProvider) IssueToken(user core.User, claims jwt.MapClaims) (string, error) {
	all := jwt.MapClaims{"sub": user.ID, "email": user.Email}
	if user.Name != "" {
		all["name"] = user.Name
	}
	for k, v := range claims {
		all[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, all).SignedString(p.secret)
}
