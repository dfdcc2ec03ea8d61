package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func fakeOAuth(t *testing.T) *oauth2.Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "the-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.token","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		Scopes:       loginScopes,
	}
}

// browser follows the auth URL straight back to the redirect with code
func browser(t *testing.T, code string, tamperState bool) func(string) {
	return func(authURL string) {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()
		state := q.Get("state")
		if tamperState {
			state = "forged"
		}
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?code=" + code + "&state=" + state)
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
}

func TestAuthorize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tok, err := authorize(ctx, fakeOAuth(t), "127.0.0.1:0", browser(t, "the-code", false))
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", tok.AccessToken)
	assert.False(t, tok.Expiry.IsZero())
}

func TestAuthorize_BadExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := authorize(ctx, fakeOAuth(t), "127.0.0.1:0", browser(t, "wrong", false))
	assert.ErrorContains(t, err, "token exchange")
}

func TestAuthorize_StateMismatchTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := authorize(ctx, fakeOAuth(t), "127.0.0.1:0", browser(t, "the-code", true))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallback_Denied(t *testing.T) {
	cb := &callback{state: "s", result: make(chan callbackResult, 1)}
	rec := httptest.NewRecorder()
	cb.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	res := <-cb.result
	assert.ErrorContains(t, res.err, "access_denied")
}

func TestOAuthClientJSON(t *testing.T) {
	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", "")
	t.Setenv("GOOGLE_OAUTH_CLIENT_FILE", "")
	_, err := oauthClientJSON("")
	assert.Error(t, err)

	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", `{"installed":{}}`)
	b, err := oauthClientJSON("")
	require.NoError(t, err)
	assert.JSONEq(t, `{"installed":{}}`, string(b))

	_, err = oauthClientJSON("/does/not/exist.json")
	assert.ErrorContains(t, err, "read client file")
}
