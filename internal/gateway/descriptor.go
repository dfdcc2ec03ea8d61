// Package gateway issues authenticated HTTP calls against the WealthFlow REST
// API with a response cache, bounded timeouts, transient-failure retries and
// an offline fallback for mutations.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrInvalidDescriptor = errors.New("invalid request descriptor")

// RetryPolicy bounds how often a transient failure is retried. MaxRetries counts
// retries after the first attempt.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	Delay      time.Duration `json:"delay"`
	Disabled   bool          `json:"disabled,omitempty"`
}

// DefaultRetryPolicy is three retries with a fixed one second backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: time.Second}
}

// Descriptor identifies one unit of network work. Treat it as a value: the
// With* helpers return modified copies and never share maps with the original.
type Descriptor struct {
	Endpoint     string            `json:"endpoint"`
	Method       string            `json:"method"`
	Body         json.RawMessage   `json:"body,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	RequiresAuth bool              `json:"requires_auth"`
	Cacheable    bool              `json:"cacheable"`
	Retry        *RetryPolicy      `json:"retry,omitempty"`
	Detached     bool              `json:"detached,omitempty"`
}

// DescriptorOption customizes a Descriptor at construction
type DescriptorOption func(*Descriptor) error

// NewDescriptor builds a validated descriptor. Auth is required by default and
// GET requests are cacheable by default.
func NewDescriptor(method, endpoint string, opts ...DescriptorOption) (Descriptor, error) {
	d := Descriptor{
		Endpoint:     endpoint,
		Method:       strings.ToUpper(method),
		RequiresAuth: true,
		Cacheable:    strings.EqualFold(method, http.MethodGet),
	}
	for _, opt := range opts {
		if err := opt(&d); err != nil {
			return Descriptor{}, err
		}
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func Get(endpoint string, opts ...DescriptorOption) (Descriptor, error) {
	return NewDescriptor(http.MethodGet, endpoint, opts...)
}

func Post(endpoint string, body any, opts ...DescriptorOption) (Descriptor, error) {
	return NewDescriptor(http.MethodPost, endpoint, append([]DescriptorOption{WithBody(body)}, opts...)...)
}

func Put(endpoint string, body any, opts ...DescriptorOption) (Descriptor, error) {
	return NewDescriptor(http.MethodPut, endpoint, append([]DescriptorOption{WithBody(body)}, opts...)...)
}

func Delete(endpoint string, opts ...DescriptorOption) (Descriptor, error) {
	return NewDescriptor(http.MethodDelete, endpoint, opts...)
}

// WithBody JSON-encodes v as the request body. A nil v leaves the body empty.
func WithBody(v any) DescriptorOption {
	return func(d *Descriptor) error {
		if v == nil {
			return nil
		}
		if raw, ok := v.(json.RawMessage); ok {
			d.Body = append(json.RawMessage(nil), raw...)
			return nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: encode body: %v", ErrInvalidDescriptor, err)
		}
		d.Body = raw
		return nil
	}
}

func WithHeader(key, value string) DescriptorOption {
	return func(d *Descriptor) error {
		if d.Headers == nil {
			d.Headers = make(map[string]string)
		}
		d.Headers[key] = value
		return nil
	}
}

// WithoutAuth sends the request without a bearer token
func WithoutAuth() DescriptorOption {
	return func(d *Descriptor) error {
		d.RequiresAuth = false
		return nil
	}
}

func WithCache(cacheable bool) DescriptorOption {
	return func(d *Descriptor) error {
		d.Cacheable = cacheable
		return nil
	}
}

func WithRetry(p RetryPolicy) DescriptorOption {
	return func(d *Descriptor) error {
		d.Retry = &p
		return nil
	}
}

// Detached marks a best-effort mutation: when it has to be parked offline the
// call returns as soon as the item is queued instead of waiting for the replay
func Detached() DescriptorOption {
	return func(d *Descriptor) error {
		d.Detached = true
		return nil
	}
}

func NoRetry() DescriptorOption {
	return WithRetry(RetryPolicy{Disabled: true})
}

// Validate checks the endpoint and method
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Endpoint) == "" {
		return fmt.Errorf("%w: endpoint is empty", ErrInvalidDescriptor)
	}
	switch d.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidDescriptor, d.Method)
	}
	return nil
}

// IsMutating reports whether the request changes server state
func (d Descriptor) IsMutating() bool {
	return d.Method != http.MethodGet
}

// CacheKey is METHOD:endpoint:body, with {} standing in for an empty body
func (d Descriptor) CacheKey() string {
	body := "{}"
	if len(d.Body) > 0 {
		body = string(d.Body)
	}
	return d.Method + ":" + d.Endpoint + ":" + body
}

// WithoutRetry returns a copy with retries disabled
func (d Descriptor) WithoutRetry() Descriptor {
	c := d.clone()
	c.Retry = &RetryPolicy{Disabled: true}
	return c
}

func (d Descriptor) clone() Descriptor {
	c := d
	if d.Body != nil {
		c.Body = append(json.RawMessage(nil), d.Body...)
	}
	if d.Headers != nil {
		c.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			c.Headers[k] = v
		}
	}
	if d.Retry != nil {
		p := *d.Retry
		c.Retry = &p
	}
	return c
}

// resource is the collection path a mutation touches, e.g. /api/accounts for /api/accounts/7?x=1
func (d Descriptor) resource() string {
	path := d.Endpoint
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "api" {
		return "/api/" + parts[1]
	}
	if len(parts) >= 1 && parts[0] != "" {
		return "/" + parts[0]
	}
	return ""
}
