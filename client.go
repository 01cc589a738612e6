package smtpconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/synqronlabs/smtpconn/metrics"
	"github.com/synqronlabs/smtpconn/protocol"
	"github.com/synqronlabs/smtpconn/utils"
)

// Client manages a single SMTP connection: it connects, runs commands one
// at a time and tears the connection down on any transport failure.
//
// A Client may be reused: after Close, or after the connection was lost,
// Connect opens a new one. Only one connection exists at a time; a Connect
// call waits while another connection is being opened or is open.
type Client struct {
	mu     sync.Mutex
	config Config
	state  State

	// guard is held from the start of a connect attempt until the
	// resulting connection is closed.
	guard     chan struct{}
	guardHeld bool

	// closePending is set by a Close that finds a connect in progress.
	closePending bool

	engine *protocol.Engine
	connID string
	logger *slog.Logger
	since  time.Time

	// Session state, reset with the connection.
	greeting      *Response
	tlsConfig     *tls.Config
	helloDone     bool
	isESMTP       bool
	extensions    map[Extension]string
	authenticated bool
}

// New creates a disconnected Client from DefaultConfig with opts applied.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig().apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		config: cfg,
		guard:  make(chan struct{}, 1),
		logger: cfg.Logger,
	}, nil
}

// Connect opens a connection and reads the greeting.
//
// opts override the stored configuration and persist for later calls; the
// merged configuration is validated first and rejected with a
// *ConfigError before any I/O. If another connection is open or being
// opened, Connect waits until it is closed or ctx is done.
//
// On success the post-connect step runs (see Config.PostConnect) and the
// greeting is returned. On failure the Client is left disconnected.
func (c *Client) Connect(ctx context.Context, opts ...Option) (*Response, error) {
	c.mu.Lock()
	cfg := c.config.apply(opts...)
	if err := cfg.Validate(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c.config = cfg
	c.mu.Unlock()

	ce := &ConnectError{Host: cfg.hostname(), Port: cfg.port(), Path: cfg.SocketPath}

	select {
	case c.guard <- struct{}{}:
	case <-ctx.Done():
		ce.Err = ctx.Err()
		ce.Timeout = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return nil, ce
	}

	c.mu.Lock()
	c.state = StateConnecting
	c.closePending = false
	c.mu.Unlock()

	engine, greeting, err := c.open(ctx, &cfg, ce)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		<-c.guard
		return nil, err
	}

	if err := c.postConnect(ctx, &cfg); err != nil {
		c.drop(engine, metrics.ReasonClosed)
		return nil, err
	}
	return greeting, nil
}

// open dials, reads the greeting and installs the new engine. The caller
// holds the guard; on success its ownership passes to the connection.
func (c *Client) open(ctx context.Context, cfg *Config, ce *ConnectError) (*protocol.Engine, *Response, error) {
	connID := utils.NewConnID()
	logger := cfg.Logger.With(slog.String("conn_id", connID))
	security := cfg.Security.String()

	var tlsCfg *tls.Config
	if cfg.Security == SecurityTLS {
		var err error
		if tlsCfg, err = cfg.tlsConfig(); err != nil {
			return nil, nil, err
		}
	}

	cctx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := dial(cctx, cfg, tlsCfg)
	if err != nil {
		ce.Err = err
		ce.Timeout = isTimeout(err)
		metrics.ConnectAttemptsTotal.WithLabelValues(security, "error").Inc()
		logger.Warn("connect failed", slog.String("target", targetString(cfg)), slog.Any("error", err))
		return nil, nil, ce
	}

	// The greeting gets a timeout of its own, separate from the dial.
	engine := protocol.NewEngine(conn, logger)
	greeting, err := engine.ReadResponse(ctx, cfg.Timeout)
	if err != nil {
		engine.Close()
		metrics.ConnectAttemptsTotal.WithLabelValues(security, "error").Inc()
		logger.Warn("no greeting", slog.Any("error", err))
		return nil, nil, greetingError(ce, err)
	}
	if greeting.Code != CodeServiceReady {
		engine.Close()
		ce.Response = greeting
		metrics.ConnectAttemptsTotal.WithLabelValues(security, "rejected").Inc()
		logger.Warn("connect rejected", slog.Int("code", int(greeting.Code)), slog.String("text", greeting.Message()))
		return nil, nil, ce
	}

	c.mu.Lock()
	if c.closePending {
		c.closePending = false
		c.mu.Unlock()
		engine.Close()
		ce.Err = ErrConnectAborted
		metrics.ConnectAttemptsTotal.WithLabelValues(security, "aborted").Inc()
		logger.Info("connect aborted by close", slog.String("target", targetString(cfg)))
		return nil, nil, ce
	}

	metrics.ConnectAttemptsTotal.WithLabelValues(security, "success").Inc()
	metrics.ConnectDuration.WithLabelValues(security).Observe(time.Since(start).Seconds())
	metrics.ConnectionsCurrent.Inc()

	c.engine = engine
	c.state = StateConnected
	c.guardHeld = true
	c.connID = connID
	c.logger = logger
	c.since = time.Now()
	c.greeting = greeting
	c.tlsConfig = tlsCfg
	c.mu.Unlock()

	go c.watch(engine, logger)

	logger.Info("connected",
		slog.String("target", targetString(cfg)),
		slog.String("security", security),
		slog.String("remote", conn.RemoteAddr().String()),
	)
	return engine, greeting, nil
}

// watch resets the Client when engine shuts down on its own, e.g. when
// the server closes an idle connection.
func (c *Client) watch(engine *protocol.Engine, logger *slog.Logger) {
	<-engine.Done()
	if c.drop(engine, disconnectReason(engine.Err())) {
		logger.Warn("server disconnected", slog.Any("error", engine.Err()))
	}
}

// drop resets the Client if engine is still the current one. It reports
// whether it did.
func (c *Client) drop(engine *protocol.Engine, reason string) bool {
	c.mu.Lock()
	if c.engine != engine || engine == nil {
		c.mu.Unlock()
		return false
	}
	c.resetLocked(reason)
	c.mu.Unlock()

	engine.Close()
	return true
}

// resetLocked returns the Client to StateDisconnected and releases the
// guard held by the connection. c.mu must be held.
func (c *Client) resetLocked(reason string) {
	if c.engine != nil {
		metrics.ConnectionsCurrent.Dec()
		metrics.DisconnectsTotal.WithLabelValues(reason).Inc()
	}

	c.engine = nil
	c.state = StateDisconnected
	c.greeting = nil
	c.tlsConfig = nil
	c.helloDone = false
	c.isESMTP = false
	c.extensions = nil
	c.authenticated = false

	if c.guardHeld {
		c.guardHeld = false
		<-c.guard
	}
}

// Close closes the connection, if any. A connect in progress is abandoned
// once its greeting arrives, and that Connect returns ErrConnectAborted.
// Close is idempotent and never fails.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == StateConnecting && c.engine == nil {
		c.closePending = true
	}
	engine := c.engine
	c.resetLocked(metrics.ReasonClosed)
	logger := c.logger
	since := c.since
	c.mu.Unlock()

	if engine != nil {
		engine.Close()
		logger.Debug("connection closed", slog.Duration("duration", time.Since(since)))
	}
}

// ExecuteCommand sends one command line (without CRLF) and returns the
// reply, using the configured timeout.
//
// A 421 reply is returned as is, but the connection is closed first since
// the server is shutting it down. A timeout, cancellation or transport
// failure closes the connection as well.
func (c *Client) ExecuteCommand(ctx context.Context, cmd string) (*Response, error) {
	return c.ExecuteCommandTimeout(ctx, cmd, c.timeout())
}

// ExecuteCommandTimeout is ExecuteCommand with an explicit timeout. Zero
// waits until ctx is done.
func (c *Client) ExecuteCommandTimeout(ctx context.Context, cmd string, timeout time.Duration) (*Response, error) {
	engine, resp, err := c.execute(ctx, cmd, timeout)
	if err != nil {
		return nil, err
	}
	c.checkServiceClosing(engine, resp)
	return resp, nil
}

// ReadResponse waits for the next reply without sending a command.
func (c *Client) ReadResponse(ctx context.Context) (*Response, error) {
	engine := c.currentEngine()
	if engine == nil {
		return nil, ErrNotConnected
	}

	resp, err := engine.ReadResponse(ctx, c.timeout())
	if err != nil {
		c.drop(engine, disconnectReason(err))
		return nil, commandError(err)
	}
	return resp, nil
}

// execute runs cmd on the current engine, resetting the Client if the
// engine fails.
func (c *Client) execute(ctx context.Context, cmd string, timeout time.Duration) (*protocol.Engine, *Response, error) {
	engine := c.currentEngine()
	if engine == nil {
		return nil, nil, ErrNotConnected
	}

	verb := commandVerb(cmd)
	start := time.Now()

	resp, err := engine.ExecuteAndWait(ctx, cmd, timeout)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(verb, metrics.StatusError).Inc()
		if errors.Is(err, protocol.ErrInvalidCommand) {
			return nil, nil, err
		}
		c.drop(engine, disconnectReason(err))
		return nil, nil, commandError(err)
	}

	metrics.CommandsTotal.WithLabelValues(verb, metrics.ReplyStatus(int(resp.Code))).Inc()
	metrics.CommandDuration.WithLabelValues(verb).Observe(time.Since(start).Seconds())
	return engine, resp, nil
}

// checkServiceClosing closes the connection after a 421 reply.
func (c *Client) checkServiceClosing(engine *protocol.Engine, resp *Response) {
	if resp.Code != CodeServiceUnavailable {
		return
	}
	if c.drop(engine, metrics.ReasonCourtesy) {
		c.log().Info("server closing connection", slog.String("text", resp.Message()))
	}
}

// TransportInfo returns diagnostic information about the transport:
//
//	peername     net.Addr of the server
//	sockname     local net.Addr
//	socket       the underlying net.Conn (below TLS)
//	cipher       negotiated cipher suite name
//	peercert     *x509.Certificate presented by the server
//	compression  always nil
//	sslcontext   *tls.Config used for the handshake
//	sslobject    tls.ConnectionState
//
// TLS keys and unknown keys return nil when not applicable.
func (c *Client) TransportInfo(key string) (any, error) {
	c.mu.Lock()
	engine := c.engine
	tlsCfg := c.tlsConfig
	c.mu.Unlock()

	if engine == nil {
		return nil, ErrNotConnected
	}

	conn := engine.Conn()
	state, secure := engine.TLSState()

	switch key {
	case "peername":
		return conn.RemoteAddr(), nil
	case "sockname":
		return conn.LocalAddr(), nil
	case "socket":
		if tc, ok := conn.(*tls.Conn); ok {
			return tc.NetConn(), nil
		}
		return conn, nil
	case "cipher":
		if secure {
			return tls.CipherSuiteName(state.CipherSuite), nil
		}
	case "peercert":
		if secure && len(state.PeerCertificates) > 0 {
			return state.PeerCertificates[0], nil
		}
	case "sslcontext":
		if secure && tlsCfg != nil {
			return tlsCfg, nil
		}
	case "sslobject":
		if secure {
			return state, nil
		}
	}
	return nil, nil
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a connection is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// IsTLS returns whether the connection is using TLS.
func (c *Client) IsTLS() bool {
	engine := c.currentEngine()
	if engine == nil {
		return false
	}
	_, secure := engine.TLSState()
	return secure
}

// IsESMTP returns whether the server accepted EHLO.
func (c *Client) IsESMTP() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isESMTP
}

// IsAuthenticated returns whether Login succeeded on this connection.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Greeting returns the server greeting of the current connection.
func (c *Client) Greeting() *Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.greeting
}

// ConnID returns the identifier logged with the current or last connection.
func (c *Client) ConnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Config returns a copy of the stored configuration.
func (c *Client) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Extensions returns the extensions advertised in the last EHLO reply.
func (c *Client) Extensions() map[Extension]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Return a copy to prevent modification
	result := make(map[Extension]string, len(c.extensions))
	maps.Copy(result, c.extensions)
	return result
}

// HasExtension checks if the server supports a specific extension.
func (c *Client) HasExtension(ext Extension) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.extensions[ext]
	return ok
}

// GetExtensionParam returns the parameter value for an extension.
func (c *Client) GetExtensionParam(ext Extension) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.extensions[ext]
}

func (c *Client) currentEngine() *protocol.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

func (c *Client) log() *slog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

func (c *Client) timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Timeout
}

// disconnectReason classifies an engine failure for metrics.
func disconnectReason(err error) string {
	switch {
	case err == nil:
		return metrics.ReasonLost
	case errors.Is(err, protocol.ErrClosed):
		return metrics.ReasonClosed
	case errors.Is(err, protocol.ErrServiceClosing):
		return metrics.ReasonCourtesy
	case errors.Is(err, protocol.ErrTimeout):
		return metrics.ReasonTimeout
	case errors.Is(err, context.Canceled):
		return metrics.ReasonCanceled
	case errors.Is(err, protocol.ErrMalformedResponse), errors.Is(err, protocol.ErrUnexpectedData):
		return metrics.ReasonMalformed
	default:
		return metrics.ReasonLost
	}
}

// commandVerb returns the metrics label for a command line.
func commandVerb(cmd string) string {
	verb, _, _ := strings.Cut(cmd, " ")
	verb = strings.ToUpper(verb)
	switch verb {
	case "EHLO", "HELO", "LHLO", "MAIL", "RCPT", "DATA", "BDAT", "RSET", "NOOP",
		"QUIT", "VRFY", "EXPN", "HELP", "STARTTLS", "AUTH":
		return verb
	default:
		return "OTHER"
	}
}

func targetString(cfg *Config) string {
	switch {
	case cfg.Conn != nil:
		return "conn:" + cfg.Conn.RemoteAddr().String()
	case cfg.SocketPath != "":
		return "unix:" + cfg.SocketPath
	default:
		return net.JoinHostPort(cfg.hostname(), fmt.Sprint(cfg.port()))
	}
}
