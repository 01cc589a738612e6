package main

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/synqronlabs/smtpconn"
	"github.com/synqronlabs/smtpconn/dns"
)

func TestProfileOptions(t *testing.T) {
	const doc = `
address        = "smtp.example.com:587"
security       = "STARTTLS"
validate_certs = false
local_hostname = "probe.example.net"
timeout        = "45s"
colour         = "blue"
`
	var p profile
	md, err := toml.Decode(doc, &p)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 1 || undecoded[0].String() != "colour" {
		t.Errorf("Undecoded() = %v, want [colour]", undecoded)
	}

	opts, err := p.options()
	if err != nil {
		t.Fatalf("options() error = %v", err)
	}
	client, err := smtpconn.New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cfg := client.Config()
	if cfg.Hostname != "smtp.example.com" || cfg.Port != 587 {
		t.Errorf("target = %s:%d", cfg.Hostname, cfg.Port)
	}
	if cfg.Security != smtpconn.SecurityStartTLS {
		t.Errorf("Security = %v, want starttls", cfg.Security)
	}
	if cfg.ValidateCerts {
		t.Error("ValidateCerts = true, want false")
	}
	if cfg.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
}

func TestProfileOptionsErrors(t *testing.T) {
	tests := []struct {
		name string
		p    profile
	}{
		{"unknown security", profile{Security: "ssl3"}},
		{"bad timeout", profile{Timeout: "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.p.options(); err == nil {
				t.Error("options() error = nil")
			}
		})
	}
}

func TestResolver(t *testing.T) {
	if _, ok := resolver("", false, true).(*dns.StdResolver); !ok {
		t.Error("go-resolver did not select the Go resolver")
	}
	r, ok := resolver("192.0.2.53:53", true, false).(*dns.DNSResolver)
	if !ok {
		t.Fatal("default resolver is not a *dns.DNSResolver")
	}
	cfg := r.Config()
	if len(cfg.Nameservers) != 1 || cfg.Nameservers[0] != "192.0.2.53:53" || !cfg.DNSSEC {
		t.Errorf("Config() = %+v", cfg)
	}
}
