package smtpconn

import (
	"context"
)

// DefaultPostConnect is the post-connect flow used when Config.PostConnect
// is nil. With SecurityStartTLS it sends EHLO and upgrades with STARTTLS;
// with a Username configured it then authenticates. Otherwise it does
// nothing.
func DefaultPostConnect(ctx context.Context, c *Client) error {
	cfg := c.Config()

	if cfg.Security == SecurityStartTLS {
		if _, err := c.Ehlo(ctx); err != nil {
			return err
		}
		if _, err := c.StartTLS(ctx); err != nil {
			return err
		}
	}

	if cfg.Username != "" {
		if _, err := c.Login(ctx, cfg.Username, cfg.Password); err != nil {
			return err
		}
	}
	return nil
}

// postConnect runs the configured post-connect step.
func (c *Client) postConnect(ctx context.Context, cfg *Config) error {
	if cfg.DisablePostConnect {
		return nil
	}
	if cfg.PostConnect != nil {
		return cfg.PostConnect(ctx, c)
	}
	return DefaultPostConnect(ctx, c)
}
