package config

import "context"

// SecretProvider resolves secret references (SSM parameter paths, or
// variable names for local development) to plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns a value for every key it could resolve.
	// Keys that do not exist are omitted or reported as an error, at the
	// implementation's choice.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
