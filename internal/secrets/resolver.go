package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/copytrader/pkg/secrets"
)

// ServiceCredentials are the connection details of one outbound collaborator
// (swap service, notification service, webhook signing).
type ServiceCredentials struct {
	BaseURL    string
	APIKey     string
	SigningKey string
}

// Resolver resolves per-service credentials from a secrets Provider,
// caching results locally to reduce API calls.
//
// Secret naming convention: {env}/copytrader/{service}
type Resolver struct {
	logger   *zap.Logger
	env      string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[ServiceCredentials]
}

// NewResolver constructs a credentials resolver.
func NewResolver(logger *zap.Logger, env string, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[ServiceCredentials]) *Resolver {
	return &Resolver{
		logger:   logger,
		env:      env,
		provider: provider,
		cache:    cache,
	}
}

// SecretName builds the secret key for a service.
func (r *Resolver) SecretName(service string) string {
	return strings.ToLower(fmt.Sprintf("%s/copytrader/%s", r.env, service))
}

// Resolve fetches or returns cached credentials for service.
func (r *Resolver) Resolve(ctx context.Context, service string) (ServiceCredentials, error) {
	name := r.SecretName(service)
	if creds, ok := r.cache.Get(name); ok {
		return creds, nil
	}

	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		return ServiceCredentials{}, fmt.Errorf("resolve credentials for %q: %w", service, err)
	}

	creds := ServiceCredentials{
		BaseURL:    strings.TrimRight(raw["base_url"], "/"),
		APIKey:     raw["api_key"],
		SigningKey: raw["signing_key"],
	}
	if creds.BaseURL == "" && creds.APIKey == "" && creds.SigningKey == "" {
		return ServiceCredentials{}, fmt.Errorf("secret %q has none of base_url, api_key, signing_key", name)
	}

	r.cache.Put(name, creds)
	r.logger.Info("secrets.credentials_resolved", zap.String("service", service))
	return creds, nil
}

// Overlay returns def with every non-empty field of the resolved credentials
// applied on top. Resolution failures keep def and are only logged, so a
// service still starts with env-configured values.
func (r *Resolver) Overlay(ctx context.Context, service string, def ServiceCredentials) ServiceCredentials {
	creds, err := r.Resolve(ctx, service)
	if err != nil {
		return def
	}
	if creds.BaseURL != "" {
		def.BaseURL = creds.BaseURL
	}
	if creds.APIKey != "" {
		def.APIKey = creds.APIKey
	}
	if creds.SigningKey != "" {
		def.SigningKey = creds.SigningKey
	}
	return def
}
