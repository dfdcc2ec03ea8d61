package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 10 << 20

// TokenSource supplies the bearer token. An empty token with a nil error means none is stored.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Executor performs exactly one network attempt for a descriptor
type Executor interface {
	Execute(ctx context.Context, d Descriptor) ([]byte, error)
}

// Transport is the single-attempt HTTP executor
type Transport struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	timeout time.Duration
	now     func() time.Time
}

// TransportConfig configures a Transport
type TransportConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Tokens  TokenSource
}

func NewTransport(cfg TransportConfig) *Transport {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Transport{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		tokens:  cfg.Tokens,
		timeout: timeout,
		now:     time.Now,
	}
}

// Execute issues the request once under the configured timeout
func (t *Transport) Execute(ctx context.Context, d Descriptor) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	fail := func(kind Kind, status int, err error) *Error {
		return &Error{Kind: kind, Method: d.Method, Endpoint: d.Endpoint, Status: status, Err: err}
	}

	var token string
	if d.RequiresAuth {
		if t.tokens != nil {
			tok, err := t.tokens.Token(ctx)
			if err != nil {
				return nil, fail(KindAuthRequired, 0, err)
			}
			token = tok
		}
		if token == "" {
			return nil, fail(KindAuthRequired, 0, errors.New("no token available"))
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader
	if len(d.Body) > 0 {
		body = bytes.NewReader(d.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, d.Method, t.baseURL+d.Endpoint, body)
	if err != nil {
		return nil, fail(KindPermanent, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// caller cancelled, not a transport problem
			return nil, ctx.Err()
		}
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fail(KindTimeout, 0, fmt.Errorf("no response within %s: %w", t.timeout, err))
		}
		return nil, fail(KindTransient, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fail(KindTimeout, 0, err)
		}
		return nil, fail(KindTransient, 0, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return normalizePayload(raw), nil
	}

	gerr := fail(classifyStatus(resp.StatusCode), resp.StatusCode, nil)
	gerr.Body = raw
	gerr.Message = errorMessage(raw, resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests {
		gerr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), t.now())
	}
	return nil, gerr
}

// normalizePayload always hands back valid JSON
func normalizePayload(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []byte("null")
	}
	if json.Valid(trimmed) {
		return trimmed
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

func errorMessage(raw []byte, status int) string {
	if gjson.ValidBytes(raw) {
		for _, path := range []string{"message", "error.message", "error"} {
			if v := gjson.GetBytes(raw, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	return http.StatusText(status)
}

// parseRetryAfter accepts delay-seconds or an HTTP date
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
