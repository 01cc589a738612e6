// Command smtpprobe connects to an SMTP server and reports what it
// supports. It can locate submission servers through DNS and check a
// login.
//
// Settings come from flags, optionally on top of a TOML profile:
//
//	address        = "smtp.example.com:587"
//	security       = "starttls"
//	cert_bundle    = "/etc/ssl/private-ca.pem"
//	local_hostname = "probe.example.net"
//	timeout        = "30s"
//	username       = "alice"
//	password       = "secret"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/synqronlabs/smtpconn"
	"github.com/synqronlabs/smtpconn/dns"
)

// profile is the TOML form of the probe settings.
type profile struct {
	Address       string `toml:"address"`
	Socket        string `toml:"socket"`
	Security      string `toml:"security"`
	ValidateCerts *bool  `toml:"validate_certs"`
	CertBundle    string `toml:"cert_bundle"`
	ClientCert    string `toml:"client_cert"`
	ClientKey     string `toml:"client_key"`
	ServerName    string `toml:"server_name"`
	LocalHostname string `toml:"local_hostname"`
	SourceAddr    string `toml:"source_addr"`
	Proxy         string `toml:"proxy"`
	Timeout       string `toml:"timeout"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var p profile

	configPath := flag.String("config", "", "Path to TOML profile")
	address := flag.String("addr", "", "Server address (host:port)")
	socket := flag.String("socket", "", "Unix domain socket path")
	security := flag.String("security", "", "Transport security: none, starttls or tls")
	insecure := flag.Bool("insecure", false, "Do not verify the server certificate")
	certBundle := flag.String("ca", "", "PEM file of trusted CA certificates")
	serverName := flag.String("server-name", "", "TLS server name")
	localName := flag.String("helo", "", "Name sent with EHLO")
	proxy := flag.String("proxy", "", "SOCKS5 proxy address")
	timeout := flag.Duration("timeout", 0, "Connect and command timeout")
	discover := flag.String("discover", "", "Locate the submission server of this domain")
	nameserver := flag.String("nameserver", "", "DNS server for discovery (host:port)")
	dnssec := flag.Bool("dnssec", false, "Request DNSSEC validation during discovery")
	goResolver := flag.Bool("go-resolver", false, "Use the Go resolver for discovery")
	username := flag.String("user", "", "Check a login with this username")
	format := flag.String("format", "text", "Output format: text or msgpack")
	debug := flag.Bool("debug", false, "Log the SMTP dialogue")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *configPath != "" {
		md, err := toml.DecodeFile(*configPath, &p)
		if err != nil {
			logger.Error("failed to load profile", slog.String("path", *configPath), slog.Any("error", err))
			return 2
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			logger.Warn("unknown keys in profile", slog.Any("keys", undecoded))
		}
	}

	// Flags override the profile.
	override(&p.Address, *address)
	override(&p.Socket, *socket)
	override(&p.Security, *security)
	override(&p.CertBundle, *certBundle)
	override(&p.ServerName, *serverName)
	override(&p.LocalHostname, *localName)
	override(&p.Proxy, *proxy)
	override(&p.Username, *username)
	if *insecure {
		v := false
		p.ValidateCerts = &v
	}
	if *timeout > 0 {
		p.Timeout = timeout.String()
	}
	if p.Username != "" && p.Password == "" {
		p.Password = os.Getenv("SMTPPROBE_PASSWORD")
	}

	opts, err := p.options()
	if err != nil {
		logger.Error("invalid settings", slog.Any("error", err))
		return 2
	}
	opts = append(opts, smtpconn.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *discover != "" {
		subs, err := smtpconn.DiscoverSubmission(ctx, resolver(*nameserver, *dnssec, *goResolver), *discover)
		if err != nil {
			logger.Error("discovery failed", slog.String("domain", *discover), slog.Any("error", err))
			return 1
		}
		for _, sub := range subs {
			fmt.Fprintf(os.Stderr, "found %s:%d (%s)\n", sub.Host, sub.Port, sub.Security)
		}
		opts = append(opts, subs[0].Options()...)
	}

	caps, err := smtpconn.Probe(ctx, opts...)
	if err != nil {
		logger.Error("probe failed", slog.Any("error", err))
		return 1
	}

	switch *format {
	case "msgpack":
		b, err := caps.MarshalMsg(nil)
		if err != nil {
			logger.Error("encoding failed", slog.Any("error", err))
			return 1
		}
		os.Stdout.Write(b)
	default:
		fmt.Print(caps.String())
	}

	if p.Username == "" {
		return 0
	}
	if err := checkLogin(ctx, opts, p.Username, p.Password); err != nil {
		logger.Error("login failed", slog.String("username", p.Username), slog.Any("error", err))
		return 1
	}
	fmt.Fprintf(os.Stderr, "login as %s succeeded\n", p.Username)
	return 0
}

// checkLogin connects with the default post-connect flow, which upgrades
// the session and authenticates.
func checkLogin(ctx context.Context, opts []smtpconn.Option, username, password string) error {
	client, err := smtpconn.New(append(opts, smtpconn.WithCredentials(username, password))...)
	if err != nil {
		return err
	}
	if _, err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Shutdown(ctx)

	if !client.IsAuthenticated() {
		return errors.New("server did not confirm authentication")
	}
	return nil
}

func resolver(nameserver string, dnssec, goResolver bool) dns.Resolver {
	if goResolver {
		return dns.NewStdResolver()
	}
	cfg := dns.ResolverConfig{DNSSEC: dnssec}
	if nameserver != "" {
		cfg.Nameservers = []string{nameserver}
	}
	return dns.NewResolver(cfg)
}

func (p *profile) options() ([]smtpconn.Option, error) {
	var opts []smtpconn.Option

	if p.Address != "" {
		opts = append(opts, smtpconn.WithAddress(p.Address))
	}
	if p.Socket != "" {
		opts = append(opts, smtpconn.WithSocketPath(p.Socket))
	}

	switch strings.ToLower(p.Security) {
	case "", "none":
	case "starttls":
		opts = append(opts, smtpconn.WithStartTLS())
	case "tls", "ssl":
		opts = append(opts, smtpconn.WithTLS())
	default:
		return nil, fmt.Errorf("unknown security mode %q", p.Security)
	}

	if p.ValidateCerts != nil {
		opts = append(opts, smtpconn.WithValidateCerts(*p.ValidateCerts))
	}
	if p.CertBundle != "" {
		opts = append(opts, smtpconn.WithCertBundle(p.CertBundle))
	}
	if p.ClientCert != "" {
		opts = append(opts, smtpconn.WithClientCert(p.ClientCert, p.ClientKey))
	}
	if p.ServerName != "" {
		opts = append(opts, smtpconn.WithServerName(p.ServerName))
	}
	if p.LocalHostname != "" {
		opts = append(opts, smtpconn.WithLocalHostname(p.LocalHostname))
	}
	if p.SourceAddr != "" {
		opts = append(opts, smtpconn.WithSourceAddr(p.SourceAddr))
	}
	if p.Proxy != "" {
		opts = append(opts, smtpconn.WithProxy(p.Proxy))
	}
	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return nil, fmt.Errorf("timeout: %w", err)
		}
		opts = append(opts, smtpconn.WithTimeout(d))
	}
	return opts, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
