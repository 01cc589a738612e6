package smtpconn

import (
	"crypto/tls"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	pipe, _ := net.Pipe()
	defer pipe.Close()

	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{"defaults", nil, false},
		{"hostname and port", []Option{WithHostname("mail.example.com"), WithPort(2525)}, false},
		{"address", []Option{WithAddress("mail.example.com:587")}, false},
		{"idn hostname", []Option{WithHostname("mail.bücher.example")}, false},
		{"socket path", []Option{WithSocketPath("/run/smtp.sock")}, false},
		{"conn", []Option{WithConn(pipe)}, false},
		{"implicit tls", []Option{WithTLS()}, false},
		{"zero timeout", []Option{WithTimeout(0)}, false},
		{"proxy", []Option{WithHostname("mail.example.com"), WithProxy("127.0.0.1:1080")}, false},
		{"source address", []Option{WithSourceAddr("127.0.0.1")}, false},
		{"tls config", []Option{WithTLSConfig(&tls.Config{})}, false},

		{"hostname and socket", []Option{WithHostname("mail.example.com"), WithSocketPath("/run/smtp.sock")}, true},
		{"socket and conn", []Option{WithSocketPath("/run/smtp.sock"), WithConn(pipe)}, true},
		{"port and conn", []Option{WithPort(25), WithConn(pipe)}, true},
		{"port too large", []Option{WithPort(70000)}, true},
		{"negative port", []Option{WithPort(-1)}, true},
		{"bad address port", []Option{WithAddress("mail.example.com:smtp")}, true},
		{"negative timeout", []Option{WithTimeout(-time.Second)}, true},
		{"unknown security", []Option{WithSecurity(Security(7))}, true},
		{"hostname with CRLF", []Option{WithHostname("mail.example.com\r\nQUIT")}, true},
		{"local hostname with LF", []Option{WithLocalHostname("client\n")}, true},
		{"tls config and client cert", []Option{WithTLSConfig(&tls.Config{}), WithClientCert("cert.pem", "")}, true},
		{"client key without cert", []Option{WithClientCert("", "key.pem")}, true},
		{"proxy with socket", []Option{WithSocketPath("/run/smtp.sock"), WithProxy("127.0.0.1:1080")}, true},
		{"proxy without port", []Option{WithProxy("127.0.0.1")}, true},
		{"bad source address", []Option{WithSourceAddr("not an address")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig().apply(tt.opts...)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("error %v does not match ErrConfiguration", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field == "" {
				t.Errorf("error %v is not a *ConfigError with a field", err)
			}

			// New rejects the same configuration.
			if _, err := New(tt.opts...); !errors.Is(err, ErrConfiguration) {
				t.Errorf("New() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestConfig_DefaultPort(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want int
	}{
		{"plain", nil, PortSMTP},
		{"implicit tls", []Option{WithTLS()}, PortSubmissions},
		{"starttls", []Option{WithStartTLS()}, PortSubmission},
		{"explicit port wins", []Option{WithTLS(), WithPort(2465)}, 2465},
		{"socket has no port", []Option{WithSocketPath("/run/smtp.sock"), WithTLS()}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig().apply(tt.opts...)
			if got := cfg.port(); got != tt.want {
				t.Errorf("port() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConfig_Hostnames(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.hostname(); got != "localhost" {
		t.Errorf("hostname() with no target = %q, want localhost", got)
	}

	cfg = DefaultConfig().apply(WithHostname("mail.bücher.example"))
	if got := cfg.hostname(); got != "mail.xn--bcher-kva.example" {
		t.Errorf("hostname() = %q, want the A-label form", got)
	}
	if got := cfg.serverName(); got != "mail.xn--bcher-kva.example" {
		t.Errorf("serverName() = %q", got)
	}

	cfg = DefaultConfig().apply(WithHostname("mail.example.com"), WithServerName("smtp.example.net"))
	if got := cfg.serverName(); got != "smtp.example.net" {
		t.Errorf("serverName() = %q, want the override", got)
	}

	cfg = DefaultConfig().apply(WithSocketPath("/run/smtp.sock"))
	if got := cfg.hostname(); got != "" {
		t.Errorf("hostname() for a socket = %q, want empty", got)
	}

	cfg = DefaultConfig().apply(WithLocalHostname("client.example"))
	if got := cfg.localHostname(); got != "client.example" {
		t.Errorf("localHostname() = %q", got)
	}
	if got := DefaultConfig().localHostname(); got == "" {
		t.Error("localHostname() fallback is empty")
	}
}

func TestConfig_WithAddress(t *testing.T) {
	cfg := DefaultConfig().apply(WithAddress("[::1]:2525"))
	if cfg.Hostname != "::1" || cfg.Port != 2525 {
		t.Errorf("WithAddress() = %s, %d", cfg.Hostname, cfg.Port)
	}

	cfg = DefaultConfig().apply(WithAddress("mail.example.com"))
	if cfg.Hostname != "mail.example.com" || cfg.Port != 0 {
		t.Errorf("WithAddress() without port = %s, %d", cfg.Hostname, cfg.Port)
	}
}

func TestConfig_TLSConfig(t *testing.T) {
	t.Run("defaults verify", func(t *testing.T) {
		cfg := DefaultConfig().apply(WithHostname("mail.example.com"))
		tc, err := cfg.tlsConfig()
		if err != nil {
			t.Fatalf("tlsConfig() error = %v", err)
		}
		if tc.InsecureSkipVerify {
			t.Error("InsecureSkipVerify set by default")
		}
		if tc.ServerName != "mail.example.com" {
			t.Errorf("ServerName = %q", tc.ServerName)
		}
		if tc.MinVersion != tls.VersionTLS12 {
			t.Errorf("MinVersion = %x", tc.MinVersion)
		}
	})

	t.Run("insecure opt-in", func(t *testing.T) {
		cfg := DefaultConfig().apply(WithValidateCerts(false))
		tc, err := cfg.tlsConfig()
		if err != nil {
			t.Fatalf("tlsConfig() error = %v", err)
		}
		if !tc.InsecureSkipVerify {
			t.Error("InsecureSkipVerify not set")
		}
	})

	t.Run("supplied config is cloned", func(t *testing.T) {
		supplied := &tls.Config{MinVersion: tls.VersionTLS13}
		cfg := DefaultConfig().apply(WithHostname("mail.example.com"), WithTLSConfig(supplied))
		tc, err := cfg.tlsConfig()
		if err != nil {
			t.Fatalf("tlsConfig() error = %v", err)
		}
		if tc == supplied || supplied.ServerName != "" {
			t.Error("supplied config was modified")
		}
		if tc.ServerName != "mail.example.com" || tc.MinVersion != tls.VersionTLS13 {
			t.Errorf("tlsConfig() = ServerName %q MinVersion %x", tc.ServerName, tc.MinVersion)
		}
	})

	t.Run("cert bundle", func(t *testing.T) {
		cert := generateTestCert(t)
		cfg := DefaultConfig().apply(WithCertBundle(cert.bundle))
		tc, err := cfg.tlsConfig()
		if err != nil {
			t.Fatalf("tlsConfig() error = %v", err)
		}
		if tc.RootCAs == nil {
			t.Error("RootCAs not set")
		}
	})

	t.Run("missing bundle", func(t *testing.T) {
		cfg := DefaultConfig().apply(WithCertBundle(filepath.Join(t.TempDir(), "missing.pem")))
		if _, err := cfg.tlsConfig(); !errors.Is(err, ErrConfiguration) {
			t.Errorf("tlsConfig() error = %v, want ErrConfiguration", err)
		}
	})

	t.Run("missing client cert", func(t *testing.T) {
		cfg := DefaultConfig().apply(WithClientCert(filepath.Join(t.TempDir(), "client.pem"), ""))
		if _, err := cfg.tlsConfig(); !errors.Is(err, ErrConfiguration) {
			t.Errorf("tlsConfig() error = %v, want ErrConfiguration", err)
		}
	})
}

func TestSecurity_String(t *testing.T) {
	tests := []struct {
		s    Security
		want string
	}{
		{SecurityNone, "none"},
		{SecurityStartTLS, "starttls"},
		{SecurityTLS, "tls"},
		{Security(9), "Security(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
