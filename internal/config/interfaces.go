package config

import "context"

// SecretProvider resolves secret references to plaintext. SSMProvider is the
// only production implementation.
type SecretProvider interface {
	// GetParametersBatch returns path -> value for every key it could
	// resolve. Keys it cannot find are omitted from the map.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
