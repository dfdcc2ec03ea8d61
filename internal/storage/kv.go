// Package storage provides the local durable key-value store used for
// selective UI state, the offline mutation queue and notification settings.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known keys
const (
	KeyState                = "wealthflow_state"
	KeyRequestQueue         = "wealthflow_request_queue"
	KeyNotificationSettings = "wealthflow_notification_settings"
	KeyNotificationLedger   = "wealthflow_notification_ledger"
	KeyToken                = "wealthflow_token"
)

var ErrNotFound = errors.New("key not found")

// KV is a durable string-keyed byte store that survives process restarts
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON decodes the value under key into v. It reports false when the key is absent.
func GetJSON(ctx context.Context, kv KV, key string, v any) (bool, error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it under key
func PutJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Put(ctx, key, raw)
}
