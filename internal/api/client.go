// Package api binds the WealthFlow REST endpoints to typed calls over the
// request gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"wealthflow/internal/core"
	"wealthflow/internal/gateway"
	"wealthflow/internal/log"
)

// Requester is the gateway entry point
type Requester interface {
	Request(ctx context.Context, d gateway.Descriptor) (json.RawMessage, error)
}

// Client groups the endpoint bindings
type Client struct {
	gw     Requester
	exec   gateway.Executor
	logger *log.Logger
	sf     singleflight.Group

	Accounts      Resource[core.Account]
	Transactions  TransactionsAPI
	Categories    Resource[core.Category]
	Budgets       Resource[core.Budget]
	Goals         GoalsAPI
	Notifications NotificationsAPI
	Dashboard     DashboardAPI
	Profile       ProfileAPI
}

// New builds a client. exec is used for token validation, which must not
// trigger the gateway's unauthorized handling.
func New(gw Requester, exec gateway.Executor, logger *log.Logger) *Client {
	c := &Client{
		gw:     gw,
		exec:   exec,
		logger: log.OrNop(logger).WithComponent(log.ComponentGateway),
	}
	c.Accounts = Resource[core.Account]{c: c, path: "/api/accounts", plural: "accounts", singular: "account"}
	c.Transactions = TransactionsAPI{Resource[core.Transaction]{c: c, path: "/api/transactions", plural: "transactions", singular: "transaction"}}
	c.Categories = Resource[core.Category]{c: c, path: "/api/categories", plural: "categories", singular: "category"}
	c.Budgets = Resource[core.Budget]{c: c, path: "/api/budgets", plural: "budgets", singular: "budget"}
	c.Goals = GoalsAPI{Resource[core.Goal]{c: c, path: "/api/goals", plural: "goals", singular: "goal"}}
	c.Notifications = NotificationsAPI{c: c}
	c.Dashboard = DashboardAPI{c: c}
	c.Profile = ProfileAPI{c: c}
	return c
}

func (c *Client) do(ctx context.Context, d gateway.Descriptor, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	return c.gw.Request(ctx, d)
}

// ValidateToken asks the server whether token is accepted. Concurrent calls
// for the same token share one request.
func (c *Client) ValidateToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	v, err, _ := c.sf.Do(token, func() (any, error) {
		d, err := gateway.NewDescriptor("POST", "/api/auth/validate",
			gateway.WithoutAuth(),
			gateway.WithHeader("Authorization", "Bearer "+token),
			gateway.WithCache(false),
			gateway.NoRetry())
		if err != nil {
			return false, err
		}
		_, err = c.exec.Execute(ctx, d)
		switch kind := gateway.KindOf(err); {
		case err == nil:
			return true, nil
		case kind == gateway.KindUnauthorized || kind == gateway.KindPermanent:
			return false, nil
		default:
			return false, err
		}
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Push asks the server to deliver payload to the caller's realtime channel
func (c *Client) Push(ctx context.Context, eventType string, payload any) error {
	d, err := gateway.Post("/api/push", map[string]any{"type": eventType, "payload": payload}, gateway.NoRetry(), gateway.Detached())
	_, err = c.do(ctx, d, err)
	return err
}

// Resource is the CRUD binding shared by every collection
type Resource[T any] struct {
	c        *Client
	path     string
	plural   string
	singular string
}

func (r Resource[T]) List(ctx context.Context) ([]T, error) {
	return r.listAt(ctx, r.path)
}

func (r Resource[T]) listAt(ctx context.Context, endpoint string, opts ...gateway.DescriptorOption) ([]T, error) {
	d, err := gateway.Get(endpoint, opts...)
	raw, err := r.c.do(ctx, d, err)
	if err != nil {
		return nil, err
	}
	return decodeList[T](raw, r.plural)
}

func (r Resource[T]) Get(ctx context.Context, id string) (T, error) {
	d, err := gateway.Get(r.path + "/" + url.PathEscape(id))
	return r.one(ctx, d, err)
}

func (r Resource[T]) Create(ctx context.Context, body any) (T, error) {
	d, err := gateway.Post(r.path, body)
	return r.one(ctx, d, err)
}

func (r Resource[T]) Update(ctx context.Context, id string, body any) (T, error) {
	d, err := gateway.Put(r.path+"/"+url.PathEscape(id), body)
	return r.one(ctx, d, err)
}

func (r Resource[T]) Delete(ctx context.Context, id string) error {
	d, err := gateway.Delete(r.path + "/" + url.PathEscape(id))
	_, err = r.c.do(ctx, d, err)
	return err
}

func (r Resource[T]) one(ctx context.Context, d gateway.Descriptor, err error) (T, error) {
	var zero T
	raw, err := r.c.do(ctx, d, err)
	if err != nil {
		return zero, err
	}
	return decodeOne[T](raw, r.singular)
}

type TransactionsAPI struct {
	Resource[core.Transaction]
}

// Recent returns the newest transactions, newest first
func (t TransactionsAPI) Recent(ctx context.Context, limit int) ([]core.Transaction, error) {
	return t.listAt(ctx, t.path+"/recent?limit="+strconv.Itoa(limit))
}

// Search runs a free-text search
func (t TransactionsAPI) Search(ctx context.Context, query string) ([]core.Transaction, error) {
	return t.listAt(ctx, t.path+"/search?q="+url.QueryEscape(query), gateway.WithCache(false))
}

type GoalsAPI struct {
	Resource[core.Goal]
}

// Contribute adds amount to a goal
func (g GoalsAPI) Contribute(ctx context.Context, id string, amount string) (core.Goal, error) {
	d, err := gateway.Post(g.path+"/"+url.PathEscape(id)+"/contribute", map[string]string{"amount": amount})
	return g.one(ctx, d, err)
}

// NotificationsAPI writes are best-effort: offline they are parked and the call
// returns without waiting for the replay
type NotificationsAPI struct {
	c *Client
}

func (n NotificationsAPI) List(ctx context.Context) ([]core.Notification, error) {
	return n.list(ctx, "/api/notifications")
}

// Unread bypasses the response cache so polling sees new notifications
func (n NotificationsAPI) Unread(ctx context.Context) ([]core.Notification, error) {
	return n.list(ctx, "/api/notifications/unread", gateway.WithCache(false))
}

func (n NotificationsAPI) list(ctx context.Context, endpoint string, opts ...gateway.DescriptorOption) ([]core.Notification, error) {
	d, err := gateway.Get(endpoint, opts...)
	raw, err := n.c.do(ctx, d, err)
	if err != nil {
		return nil, err
	}
	return decodeList[core.Notification](raw, "notifications")
}

func (n NotificationsAPI) Create(ctx context.Context, notif core.Notification) error {
	d, err := gateway.Post("/api/notifications", notif, gateway.Detached())
	_, err = n.c.do(ctx, d, err)
	return err
}

func (n NotificationsAPI) MarkAsRead(ctx context.Context, id string) error {
	d, err := gateway.Put("/api/notifications/"+url.PathEscape(id)+"/read", nil, gateway.Detached())
	_, err = n.c.do(ctx, d, err)
	return err
}

func (n NotificationsAPI) MarkAllAsRead(ctx context.Context) error {
	d, err := gateway.Put("/api/notifications/read-all", nil, gateway.Detached())
	_, err = n.c.do(ctx, d, err)
	return err
}

func (n NotificationsAPI) Delete(ctx context.Context, id string) error {
	d, err := gateway.Delete("/api/notifications/"+url.PathEscape(id), gateway.Detached())
	_, err = n.c.do(ctx, d, err)
	return err
}

func (n NotificationsAPI) UpdateSettings(ctx context.Context, settings any) error {
	d, err := gateway.Put("/api/notifications/settings", settings, gateway.Detached())
	_, err = n.c.do(ctx, d, err)
	return err
}

type DashboardAPI struct {
	c *Client
}

// Summary accepts either a full dashboard document or a bare summary
func (d DashboardAPI) Summary(ctx context.Context) (core.Dashboard, error) {
	desc, err := gateway.Get("/api/dashboard/summary")
	raw, err := d.c.do(ctx, desc, err)
	if err != nil {
		return core.Dashboard{}, err
	}
	var out core.Dashboard
	if gjson.GetBytes(raw, "summary").IsObject() {
		if err := json.Unmarshal(raw, &out); err != nil {
			return core.Dashboard{}, fmt.Errorf("decode dashboard: %w", err)
		}
		return out, nil
	}
	if err := json.Unmarshal(raw, &out.Summary); err != nil {
		return core.Dashboard{}, fmt.Errorf("decode dashboard summary: %w", err)
	}
	return out, nil
}

// UpcomingBills lists bills due within days
func (d DashboardAPI) UpcomingBills(ctx context.Context, days int) ([]core.Bill, error) {
	desc, err := gateway.Get("/api/dashboard/upcoming-bills?days=" + strconv.Itoa(days))
	raw, err := d.c.do(ctx, desc, err)
	if err != nil {
		return nil, err
	}
	return decodeList[core.Bill](raw, "bills")
}

type ProfileAPI struct {
	c *Client
}

func (p ProfileAPI) Get(ctx context.Context) (core.User, error) {
	d, err := gateway.Get("/api/auth/profile")
	raw, err := p.c.do(ctx, d, err)
	if err != nil {
		return core.User{}, err
	}
	return decodeOne[core.User](raw, "user")
}

func (p ProfileAPI) Update(ctx context.Context, body any) (core.User, error) {
	d, err := gateway.Put("/api/auth/profile", body)
	raw, err := p.c.do(ctx, d, err)
	if err != nil {
		return core.User{}, err
	}
	return decodeOne[core.User](raw, "user")
}

var ErrUnexpectedPayload = errors.New("unexpected payload shape")

// decodeList accepts {"<key>": [...]}, {"data": [...]} or a bare array
func decodeList[T any](raw json.RawMessage, key string) ([]T, error) {
	var src string
	switch {
	case gjson.GetBytes(raw, key).IsArray():
		src = gjson.GetBytes(raw, key).Raw
	case gjson.GetBytes(raw, "data").IsArray():
		src = gjson.GetBytes(raw, "data").Raw
	case gjson.ParseBytes(raw).IsArray():
		src = string(raw)
	case gjson.ParseBytes(raw).Type == gjson.Null:
		return []T{}, nil
	default:
		return nil, fmt.Errorf("%w: expected %s list", ErrUnexpectedPayload, key)
	}
	out := []T{}
	if err := json.Unmarshal([]byte(src), &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// decodeOne accepts {"<key>": {...}}, {"data": {...}} or a bare object
func decodeOne[T any](raw json.RawMessage, key string) (T, error) {
	var out T
	src := string(raw)
	if v := gjson.GetBytes(raw, key); v.IsObject() {
		src = v.Raw
	} else if v := gjson.GetBytes(raw, "data"); v.IsObject() {
		src = v.Raw
	} else if !gjson.ParseBytes(raw).IsObject() {
		return out, fmt.Errorf("%w: expected %s object", ErrUnexpectedPayload, key)
	}
	if err := json.Unmarshal([]byte(src), &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}
