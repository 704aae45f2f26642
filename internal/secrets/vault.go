// Package secrets resolves runtime credentials from HashiCorp Vault so the
// database DSN, cache password and API signing secret never have to live in
// a config file. With Vault disabled the config values pass through as-is.
package secrets

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"elliott-backtester/config"
)

// Client wraps the Vault API client for one KV v2 secret path.
type Client struct {
	client  *api.Client
	mount   string
	path    string
	enabled bool
	logger  zerolog.Logger
}

// NewClient creates a Vault client. A disabled config yields a no-op client
// whose Resolve leaves the config untouched.
func NewClient(cfg config.VaultConfig, logger zerolog.Logger) (*Client, error) {
	log := logger.With().Str("component", "vault").Logger()
	if !cfg.Enabled {
		log.Debug().Msg("Vault disabled, using config credentials as-is")
		return &Client{logger: log}, nil
	}

	apiConfig := api.DefaultConfig()
	if cfg.Address != "" {
		apiConfig.Address = cfg.Address
	}
	client, err := api.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	log.Info().Str("address", apiConfig.Address).Str("mount", mount).Msg("Vault client created")
	return &Client{
		client:  client,
		mount:   mount,
		path:    cfg.SecretPath,
		enabled: true,
		logger:  log,
	}, nil
}

// Enabled reports whether secrets come from Vault.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Resolve overlays credentials from Vault onto the config. Keys absent from
// the secret leave the corresponding config value untouched.
func (c *Client) Resolve(ctx context.Context, cfg *config.Config) error {
	if !c.enabled {
		return nil
	}
	data, err := c.read(ctx)
	if err != nil {
		return err
	}

	applied := 0
	if v := getString(data, "postgres_dsn"); v != "" {
		cfg.Postgres.DSN = v
		applied++
	}
	if v := getString(data, "redis_password"); v != "" {
		cfg.Redis.Password = v
		applied++
	}
	if v := getString(data, "api_auth_secret"); v != "" {
		cfg.Server.AuthSecret = v
		applied++
	}

	c.logger.Info().Int("applied", applied).Msg("Credentials resolved from Vault")
	return nil
}

// Health checks that Vault is reachable and unsealed.
func (c *Client) Health(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// read fetches the KV v2 secret data map at the configured path.
func (c *Client) read(ctx context.Context) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s", c.mount, c.path)
	secret, err := c.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", fullPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", fullPath)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", fullPath)
	}
	return data, nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
