package backend

import (
	"context"
	"fmt"

	"wealthflow/internal/identity"
	"wealthflow/internal/log"
	"wealthflow/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	return &DefaultFactory{
		logger: log.OrNop(logger).WithComponent(log.ComponentBackend),
	}
}

// CreateStore implements Factory.CreateStore
func (f *DefaultFactory) CreateStore(ctx context.Context, config Config) (*StoreResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteStore:
		return f.createSQLiteStore(ctx, config)
	case MemoryStore:
		return f.createMemoryStore(ctx)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteStore(ctx context.Context, config Config) (*StoreResult, error) {
	kv, err := storage.NewSQLiteKV(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite store", "db_path", config.SQLiteDBPath)

	return &StoreResult{
		KV:      kv,
		Cleanup: kv.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryStore(ctx context.Context) (*StoreResult, error) {
	kv := storage.NewMemoryKV()

	f.logger.InfoContext(ctx, "Initialized memory store; state will not survive restarts")

	return &StoreResult{
		KV:      kv,
		Cleanup: kv.Close,
	}, nil
}

// CreateIdentity implements Factory.CreateIdentity
func (f *DefaultFactory) CreateIdentity(ctx context.Context, config Config) (identity.Provider, error) {
	if !config.Identity.IsValid() {
		return nil, fmt.Errorf("invalid identity provider: %s", config.Identity)
	}

	switch config.Identity {
	case identity.ProviderJWT:
		p, err := identity.NewJWTProvider(config.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JWT identity: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized JWT identity provider")
		return p, nil

	case identity.ProviderStatic:
		users, err := identity.ParseStaticTokens(config.StaticTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize static identity: %w", err)
		}
		f.logger.WarnContext(ctx, "Using static identity tokens; do not use in production", "tokens", len(users))
		return identity.NewStaticProvider(users), nil

	case identity.ProviderGoogle:
		f.logger.InfoContext(ctx, "Initialized Google identity provider")
		return identity.NewGoogleProvider(), nil

	default:
		return nil, fmt.Errorf("unsupported identity provider: %s", config.Identity)
	}
}
