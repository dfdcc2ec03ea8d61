package identity

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"wealthflow/internal/core"
)

// GoogleProvider resolves Google OAuth access tokens through the userinfo endpoint
type GoogleProvider struct {
	opts []option.ClientOption
}

// NewGoogleProvider builds a provider. Extra options are appended to every
// service construction, e.g. option.WithEndpoint in tests.
func NewGoogleProvider(opts ...option.ClientOption) *GoogleProvider {
	return &GoogleProvider{opts: opts}
}

func (p *GoogleProvider) GetUser(ctx context.Context, token string) (core.User, error) {
	if token == "" {
		return core.User{}, ErrMissingToken
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, p.opts...)

	svc, err := goauth2.NewService(ctx, opts...)
	if err != nil {
		return core.User{}, fmt.Errorf("create oauth2 service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == 401 || gerr.Code == 403) {
			return core.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return core.User{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	if info.Id == "" {
		return core.User{}, fmt.Errorf("%w: userinfo has no id", ErrInvalidToken)
	}

	return core.User{ID: info.Id, Email: info.Email, Name: info.Name}, nil
}
