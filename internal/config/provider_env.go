package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves each key as an environment variable name. It is the
// provider used for local development.
type EnvVarProvider struct {
	lookup envLookup
}

// NewEnvVarProvider creates an EnvVarProvider over the process environment.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: os.LookupEnv}
}

// GetParametersBatch omits keys that are not set.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := p.lookup(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
