package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goauth2 "google.golang.org/api/oauth2/v2"

	"wealthflow/internal/app"
)

// loginScopes are enough for the server's Google identity provider to
// resolve the user through the userinfo endpoint
var loginScopes = []string{"openid", goauth2.UserinfoEmailScope, goauth2.UserinfoProfileScope}

func newTokenLoginCommand(opts *RootOptions) *cobra.Command {
	var (
		clientFile string
		port       int
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google in the browser and store the access token",
		Long: `Runs the OAuth authorization code flow against Google. The OAuth client
JSON comes from --client-file, GOOGLE_OAUTH_CLIENT_JSON or
GOOGLE_OAUTH_CLIENT_FILE. Add http://localhost:<port>/callback to the
client's authorized redirect URIs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := oauthClientJSON(clientFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "missing OAuth client", err)
			}
			oc, err := google.ConfigFromJSON(raw, loginScopes...)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid OAuth client", err)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				tok, err := authorize(ctx, oc, fmt.Sprintf("localhost:%d", port), func(url string) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Open this URL to sign in:\n%s\n", url)
				})
				if err != nil {
					return WrapExitError(ExitFailure, "sign-in failed", err)
				}
				if err := a.Tokens.Set(ctx, tok.AccessToken); err != nil {
					return WrapExitError(ExitFailure, "failed to store token", err)
				}
				return opts.formatter(cmd).Success(map[string]any{"stored": true, "expiry": tok.Expiry}, func(w io.Writer) {
					fmt.Fprintln(w, "Signed in; token stored")
				})
			})
		},
	}
	cmd.Flags().StringVar(&clientFile, "client-file", "", "path to the Google OAuth client JSON")
	cmd.Flags().IntVar(&port, "port", 8085, "local port for the OAuth redirect")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the browser")
	return cmd
}

func oauthClientJSON(path string) ([]byte, error) {
	if path == "" {
		if inline := os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"); inline != "" {
			return []byte(inline), nil
		}
		path = os.Getenv("GOOGLE_OAUTH_CLIENT_FILE")
	}
	if path == "" {
		return nil, errors.New("set --client-file, GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client file: %w", err)
	}
	return b, nil
}

// callback receives the authorization redirect
type callback struct {
	state  string
	result chan callbackResult
}

type callbackResult struct {
	code string
	err  error
}

func (c *callback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var res callbackResult
	switch {
	case q.Get("error") != "":
		res.err = fmt.Errorf("authorization denied: %s", q.Get("error"))
		http.Error(w, "OAuth error: "+q.Get("error"), http.StatusBadRequest)
	case q.Get("state") != c.state:
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	case q.Get("code") == "":
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	default:
		res.code = q.Get("code")
		fmt.Fprintln(w, "You may close this window and return to the terminal.")
	}
	select {
	case c.result <- res:
	default:
	}
}

// authorize runs the code flow with a one-shot redirect listener on addr
func authorize(ctx context.Context, oc *oauth2.Config, addr string, open func(url string)) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for redirect: %w", err)
	}
	cfg := *oc
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/callback"

	cb := &callback{state: uuid.NewString(), result: make(chan callbackResult, 1)}
	mux := http.NewServeMux()
	mux.Handle("/callback", cb)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	open(cfg.AuthCodeURL(cb.state, oauth2.AccessTypeOffline))

	select {
	case res := <-cb.result:
		if res.err != nil {
			return nil, res.err
		}
		tok, err := cfg.Exchange(ctx, res.code)
		if err != nil {
			return nil, fmt.Errorf("token exchange: %w", err)
		}
		return tok, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for authorization: %w", ctx.Err())
	}
}
