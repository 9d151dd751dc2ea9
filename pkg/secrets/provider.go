package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Provider resolves a named secret into a flat key-value map.
type Provider interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// EnvProvider resolves secrets from environment variables holding JSON maps.
// A secret named "dev/copytrader/swap" is read from DEV_COPYTRADER_SWAP.
// Used for local runs where AWS Secrets Manager is not reachable.
type EnvProvider struct{}

func (EnvProvider) GetSecret(_ context.Context, name string) (map[string]string, error) {
	key := EnvKey(name)
	raw := os.Getenv(key)
	if raw == "" {
		return nil, fmt.Errorf("secret [%s] not set (env %s)", name, key)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("invalid secret format for [%s]: %w", name, err)
	}
	return out, nil
}

// EnvKey maps a secret path to its environment variable name.
func EnvKey(name string) string {
	r := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return strings.ToUpper(r.Replace(name))
}
