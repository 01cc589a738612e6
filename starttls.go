package smtpconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/synqronlabs/smtpconn/metrics"
)

// StartTLS upgrades the connection with STARTTLS (RFC 3207).
//
// opts override the stored TLS settings and persist like those passed to
// Connect. If EHLO has been sent and the server did not advertise
// STARTTLS, ErrTLSNotSupported is returned without sending anything.
//
// A rejected STARTTLS returns a *ResponseError and leaves the session as
// it was. A failed handshake closes the connection and returns an error
// matching ErrServerDisconnected. After a successful upgrade the server
// forgets the session, so EHLO must be sent again.
func (c *Client) StartTLS(ctx context.Context, opts ...Option) (*Response, error) {
	c.mu.Lock()
	engine := c.engine
	if engine == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	if _, secure := engine.TLSState(); secure {
		c.mu.Unlock()
		return nil, ErrTLSAlreadyActive
	}
	if c.helloDone {
		if _, ok := c.extensions[ExtSTARTTLS]; !ok {
			c.mu.Unlock()
			return nil, ErrTLSNotSupported
		}
	}

	cfg := c.config.apply(opts...)
	if err := cfg.Validate(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = c.config.Logger
	}
	c.config = cfg
	logger := c.logger
	c.mu.Unlock()

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, err
	}

	// STARTTLS is not subject to the 421 courtesy close; the caller sees
	// the rejection and decides.
	_, resp, err := c.execute(ctx, "STARTTLS", cfg.Timeout)
	if err != nil {
		metrics.TLSUpgradesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := expect("STARTTLS", resp, CodeServiceReady); err != nil {
		metrics.TLSUpgradesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if err := engine.UpgradeTLS(ctx, tlsCfg, cfg.Timeout); err != nil {
		metrics.TLSUpgradesTotal.WithLabelValues("error").Inc()
		c.drop(engine, disconnectReason(err))
		logger.Warn("TLS negotiation failed", slog.Any("error", err))
		return nil, fmt.Errorf("%w: starttls: %w", ErrServerDisconnected, err)
	}
	metrics.TLSUpgradesTotal.WithLabelValues("success").Inc()

	c.mu.Lock()
	if c.engine == engine {
		c.tlsConfig = tlsCfg
		c.helloDone = false
		c.isESMTP = false
		c.extensions = nil
		c.authenticated = false
	}
	c.mu.Unlock()

	state, _ := engine.TLSState()
	logger.Info("TLS established",
		slog.String("version", tls.VersionName(state.Version)),
		slog.String("cipher", tls.CipherSuiteName(state.CipherSuite)),
	)
	return resp, nil
}
