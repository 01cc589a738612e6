package smtpconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/idna"

	"github.com/synqronlabs/smtpconn/utils"
)

// Default ports per security mode.
const (
	PortSMTP        = 25
	PortSubmissions = 465 // implicit TLS (RFC 8314)
	PortSubmission  = 587 // STARTTLS
)

// DefaultTimeout bounds connecting and each command unless overridden.
const DefaultTimeout = 60 * time.Second

// Security selects how the transport is secured.
type Security int

const (
	// SecurityNone keeps the session in plaintext.
	SecurityNone Security = iota
	// SecurityStartTLS connects in plaintext and upgrades with STARTTLS.
	SecurityStartTLS
	// SecurityTLS negotiates TLS before the greeting (implicit TLS).
	SecurityTLS
)

func (s Security) String() string {
	switch s {
	case SecurityNone:
		return "none"
	case SecurityStartTLS:
		return "starttls"
	case SecurityTLS:
		return "tls"
	default:
		return fmt.Sprintf("Security(%d)", int(s))
	}
}

// PostConnectFunc runs after a successful greeting, before Connect returns.
// An error closes the connection and is returned by Connect.
type PostConnectFunc func(ctx context.Context, c *Client) error

// Config holds the connection settings of a Client.
//
// The target is one of Hostname/Port, SocketPath or Conn. With no target
// set the Client connects to localhost. A zero Port selects the default for
// the security mode: 465 for SecurityTLS, 587 for SecurityStartTLS and 25
// otherwise.
type Config struct {
	// ---- Target ----

	Hostname   string
	Port       int
	SocketPath string   // Unix domain socket
	Conn       net.Conn // already connected socket; the Client takes ownership

	// LocalHostname is sent with EHLO/HELO.
	// Default: the system hostname, or "localhost"
	LocalHostname string

	// SourceAddr is the local address to bind to ("ip", "ip:port" or ":port").
	SourceAddr string

	// Proxy is the address of a SOCKS5 proxy for TCP targets.
	Proxy string

	// Timeout bounds the dial (with the TLS handshake for SecurityTLS), then
	// separately the wait for the greeting, and each command. Zero disables
	// the limit.
	// Default: 60 seconds
	Timeout time.Duration

	// ---- TLS ----

	Security Security

	// ValidateCerts enables server certificate and hostname verification.
	// Disabling it is an explicit insecure opt-in.
	// Default: true
	ValidateCerts bool

	// ClientCert and ClientKey are PEM files for TLS client authentication.
	// ClientKey may be empty if the key is in ClientCert.
	ClientCert string
	ClientKey  string

	// CertBundle is a PEM file of trusted CA certificates.
	CertBundle string

	// TLSConfig is used as given (plus ServerName) instead of building one
	// from the fields above. Mutually exclusive with ClientCert.
	TLSConfig *tls.Config

	// ServerName overrides the name used for SNI and verification.
	// Default: the target hostname
	ServerName string

	// ---- Authentication ----

	Username string
	Password string

	// ---- Hooks and logging ----

	// PostConnect replaces the default post-connect flow.
	PostConnect PostConnectFunc

	// DisablePostConnect skips the post-connect step entirely.
	DisablePostConnect bool

	// Logger is the structured logger for the client.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       DefaultTimeout,
		ValidateCerts: true,
		Logger:        slog.Default(),
	}
}

// Option overrides one part of a Config. Options passed to Connect persist
// for later calls.
type Option func(*Config)

// WithHostname sets the server hostname.
func WithHostname(hostname string) Option {
	return func(c *Config) { c.Hostname = hostname }
}

// WithPort sets the server port.
func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

// WithAddress sets hostname and port from "host:port".
func WithAddress(address string) Option {
	return func(c *Config) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			c.Hostname = address
			return
		}
		c.Hostname = host
		n, err := strconv.Atoi(port)
		if err != nil {
			n = -1 // rejected by Validate
		}
		c.Port = n
	}
}

// WithSocketPath connects over a Unix domain socket.
func WithSocketPath(path string) Option {
	return func(c *Config) { c.SocketPath = path }
}

// WithConn uses an already connected socket.
func WithConn(conn net.Conn) Option {
	return func(c *Config) { c.Conn = conn }
}

// WithLocalHostname sets the name sent with EHLO/HELO.
func WithLocalHostname(name string) Option {
	return func(c *Config) { c.LocalHostname = name }
}

// WithSourceAddr binds the local end of TCP connections.
func WithSourceAddr(addr string) Option {
	return func(c *Config) { c.SourceAddr = addr }
}

// WithProxy routes TCP connections through a SOCKS5 proxy.
func WithProxy(addr string) Option {
	return func(c *Config) { c.Proxy = addr }
}

// WithTimeout sets the connect and per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithSecurity sets the security mode.
func WithSecurity(s Security) Option {
	return func(c *Config) { c.Security = s }
}

// WithTLS selects implicit TLS.
func WithTLS() Option {
	return WithSecurity(SecurityTLS)
}

// WithStartTLS selects a STARTTLS upgrade after connecting.
func WithStartTLS() Option {
	return WithSecurity(SecurityStartTLS)
}

// WithValidateCerts enables or disables certificate verification.
func WithValidateCerts(validate bool) Option {
	return func(c *Config) { c.ValidateCerts = validate }
}

// WithClientCert sets the TLS client certificate and key files.
func WithClientCert(certFile, keyFile string) Option {
	return func(c *Config) {
		c.ClientCert = certFile
		c.ClientKey = keyFile
	}
}

// WithCertBundle sets a PEM file of trusted CA certificates.
func WithCertBundle(path string) Option {
	return func(c *Config) { c.CertBundle = path }
}

// WithTLSConfig uses cfg for all TLS handshakes.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Config) { c.TLSConfig = cfg }
}

// WithServerName overrides the TLS server name.
func WithServerName(name string) Option {
	return func(c *Config) { c.ServerName = name }
}

// WithCredentials sets the username and password used by Login.
func WithCredentials(username, password string) Option {
	return func(c *Config) {
		c.Username = username
		c.Password = password
	}
}

// WithPostConnect replaces the default post-connect flow.
func WithPostConnect(fn PostConnectFunc) Option {
	return func(c *Config) { c.PostConnect = fn }
}

// WithoutPostConnect disables the post-connect step.
func WithoutPostConnect() Option {
	return func(c *Config) { c.DisablePostConnect = true }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// apply returns a copy of c with opts applied.
func (c Config) apply(opts ...Option) Config {
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

// Validate checks the invariants of the configuration.
func (c *Config) Validate() error {
	targets := 0
	if c.Hostname != "" || c.Port != 0 {
		targets++
	}
	if c.SocketPath != "" {
		targets++
	}
	if c.Conn != nil {
		targets++
	}
	if targets > 1 {
		return &ConfigError{Field: "target", Reason: "hostname/port, socket path and conn are mutually exclusive"}
	}

	if c.Port < 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Reason: fmt.Sprintf("%d out of range", c.Port)}
	}
	if c.Timeout < 0 {
		return &ConfigError{Field: "timeout", Reason: "must not be negative"}
	}

	switch c.Security {
	case SecurityNone, SecurityStartTLS, SecurityTLS:
	default:
		return &ConfigError{Field: "security", Reason: c.Security.String()}
	}

	for _, f := range []struct{ name, value string }{
		{"hostname", c.Hostname},
		{"local hostname", c.LocalHostname},
		{"server name", c.ServerName},
	} {
		if utils.ContainsLineBreak(f.value) {
			return &ConfigError{Field: f.name, Reason: "contains a line break"}
		}
		if _, err := toASCII(f.value); err != nil {
			return &ConfigError{Field: f.name, Reason: err.Error()}
		}
	}

	if c.TLSConfig != nil && c.ClientCert != "" {
		return &ConfigError{Field: "tls", Reason: "TLS config and client certificate are mutually exclusive"}
	}
	if c.ClientKey != "" && c.ClientCert == "" {
		return &ConfigError{Field: "client key", Reason: "requires a client certificate"}
	}

	if c.Proxy != "" {
		if c.SocketPath != "" || c.Conn != nil {
			return &ConfigError{Field: "proxy", Reason: "only applies to TCP targets"}
		}
		if _, _, err := net.SplitHostPort(c.Proxy); err != nil {
			return &ConfigError{Field: "proxy", Reason: err.Error()}
		}
	}
	if c.SourceAddr != "" {
		if _, err := resolveLocalAddr(c.SourceAddr); err != nil {
			return &ConfigError{Field: "source address", Reason: err.Error()}
		}
	}
	return nil
}

// hostname returns the dial hostname in ASCII form. It is "localhost" when
// no target is set and empty for socket targets.
func (c *Config) hostname() string {
	if c.Hostname == "" {
		if c.SocketPath == "" && c.Conn == nil {
			return "localhost"
		}
		return ""
	}
	h, _ := toASCII(c.Hostname)
	return h
}

// port returns the configured port or the default for the security mode.
func (c *Config) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.SocketPath != "" || c.Conn != nil {
		return 0
	}
	switch c.Security {
	case SecurityTLS:
		return PortSubmissions
	case SecurityStartTLS:
		return PortSubmission
	default:
		return PortSMTP
	}
}

// localHostname returns the name to send with EHLO/HELO.
func (c *Config) localHostname() string {
	if c.LocalHostname != "" {
		h, _ := toASCII(c.LocalHostname)
		return h
	}
	if h, err := os.Hostname(); err == nil && h != "" && !utils.ContainsLineBreak(h) {
		if ascii, err := toASCII(h); err == nil {
			return ascii
		}
	}
	return "localhost"
}

// serverName returns the TLS server name.
func (c *Config) serverName() string {
	if c.ServerName != "" {
		h, _ := toASCII(c.ServerName)
		return h
	}
	return c.hostname()
}

// toASCII converts an internationalized hostname to its A-label form.
// ASCII names and IP literals are returned unchanged.
func toASCII(host string) (string, error) {
	if host == "" || !utils.ContainsNonASCII(host) {
		return host, nil
	}
	return idna.Lookup.ToASCII(host)
}
