// Package vault loads server secrets from HashiCorp Vault, with a
// local in-memory fallback for development.
package vault

import (
	"context"
	"fmt"
	"sync"

	"ea-license-server/config"

	"github.com/hashicorp/vault/api"
)

// SMTPCredentials is the mail relay secret stored in Vault
type SMTPCredentials struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// Client wraps the HashiCorp Vault client. When Vault is disabled the
// client serves values set locally via the Store* methods, which lets
// development and tests run without a Vault instance.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu        sync.RWMutex
	localJWT  string
	localSMTP *SMTPCredentials
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// JWTSecret returns the JWT signing secret. With Vault disabled the
// fallback value comes from StoreJWTSecret, fed by configuration.
func (c *Client) JWTSecret(ctx context.Context) (string, error) {
	if !c.config.Enabled {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.localJWT == "" {
			return "", fmt.Errorf("jwt secret not configured")
		}
		return c.localJWT, nil
	}

	data, err := c.readSecret(ctx, "jwt")
	if err != nil {
		return "", err
	}
	secret, ok := data["secret"].(string)
	if !ok || secret == "" {
		return "", fmt.Errorf("jwt secret missing from vault")
	}
	return secret, nil
}

// StoreJWTSecret sets the local fallback JWT secret
func (c *Client) StoreJWTSecret(secret string) {
	c.mu.Lock()
	c.localJWT = secret
	c.mu.Unlock()
}

// SMTPCredentials returns the mail relay credentials, nil when not
// configured anywhere
func (c *Client) SMTPCredentials(ctx context.Context) (*SMTPCredentials, error) {
	if !c.config.Enabled {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.localSMTP, nil
	}

	data, err := c.readSecret(ctx, "smtp")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	creds := &SMTPCredentials{}
	if v, ok := data["host"].(string); ok {
		creds.Host = v
	}
	if v, ok := data["port"].(string); ok {
		creds.Port = v
	}
	if v, ok := data["username"].(string); ok {
		creds.Username = v
	}
	if v, ok := data["password"].(string); ok {
		creds.Password = v
	}
	if v, ok := data["from"].(string); ok {
		creds.From = v
	}
	if creds.Host == "" {
		return nil, nil
	}
	return creds, nil
}

// StoreSMTPCredentials sets the local fallback SMTP credentials
func (c *Client) StoreSMTPCredentials(creds *SMTPCredentials) {
	c.mu.Lock()
	c.localSMTP = creds
	c.mu.Unlock()
}

func (c *Client) readSecret(ctx context.Context, name string) (map[string]interface{}, error) {
	path := fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, name)

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	// KV v2 nests the payload under "data"
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return secret.Data, nil
	}
	return data, nil
}

// HealthCheck verifies Vault connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !health.Initialized || health.Sealed {
		return fmt.Errorf("vault not ready: initialized=%v sealed=%v", health.Initialized, health.Sealed)
	}
	return nil
}
