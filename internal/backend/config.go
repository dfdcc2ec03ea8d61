package backend

import (
	"fmt"

	"wealthflow/internal/config"
	"wealthflow/internal/identity"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	storeType := StoreType(appConfig.StorageBackend)
	if !storeType.IsValid() {
		return Config{}, fmt.Errorf("invalid storage backend in config: %s", appConfig.StorageBackend)
	}

	return Config{
		Type:         storeType,
		SQLiteDBPath: appConfig.SQLiteDBPath,
		Identity:     identity.ProviderType(appConfig.IdentityProvider),
		JWTSecret:    appConfig.JWTSecret,
		StaticTokens: appConfig.StaticTokens,
	}, nil
}

// Validate checks the store settings. Identity settings are checked by
// CreateIdentity because the client binary never builds a provider.
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid storage backend: %s", c.Type)
	}
	if c.Type == SQLiteStore && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite backend")
	}
	return nil
}

// GetStoreTypes returns all valid store types
func GetStoreTypes() []StoreType {
	return []StoreType{SQLiteStore, MemoryStore}
}

// GetStoreTypeStrings returns all valid store type strings
func GetStoreTypeStrings() []string {
	types := GetStoreTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}
