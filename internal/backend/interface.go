// Package backend builds the pluggable infrastructure both binaries share:
// the local durable store and the identity provider.
package backend

import (
	"context"

	"wealthflow/internal/identity"
	"wealthflow/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// StoreResult contains the store instance and optional cleanup function
type StoreResult struct {
	KV      storage.KV
	Cleanup CleanupFunc
}

// Factory creates infrastructure based on configuration
type Factory interface {
	// CreateStore opens the local durable store selected by config
	CreateStore(ctx context.Context, config Config) (*StoreResult, error)

	// CreateIdentity builds the token-to-user lookup selected by config
	CreateIdentity(ctx context.Context, config Config) (identity.Provider, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type StoreType

	// SQLite specific
	SQLiteDBPath string

	Identity     identity.ProviderType
	JWTSecret    string
	StaticTokens string
}

// StoreType represents the type of local store
type StoreType string

const (
	SQLiteStore StoreType = "sqlite"
	MemoryStore StoreType = "memory"
)

// String implements fmt.Stringer
func (st StoreType) String() string {
	return string(st)
}

// IsValid returns true if the store type is valid
func (st StoreType) IsValid() bool {
	switch st {
	case SQLiteStore, MemoryStore:
		return true
	default:
		return false
	}
}
