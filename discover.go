package smtpconn

import (
	"context"
	"fmt"
	"strings"

	"github.com/synqronlabs/smtpconn/dns"
)

// Submission is a mail submission service located through DNS.
type Submission struct {
	Host     string
	Port     int
	Security Security
}

// Options returns the options that connect to s.
func (s Submission) Options() []Option {
	return []Option{WithHostname(s.Host), WithPort(s.Port), WithSecurity(s.Security)}
}

// DiscoverSubmission locates the submission services of domain with SRV
// records (RFC 6186). Implicit TLS services (_submissions._tcp, RFC 8314)
// come first, then STARTTLS services (_submission._tcp), each ordered by
// priority and weight. A target of "." means the service is not offered.
//
// If neither record exists the error matches dns.ErrDNSNotFound.
func DiscoverSubmission(ctx context.Context, resolver dns.Resolver, domain string) ([]Submission, error) {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return nil, &ConfigError{Field: "domain", Reason: "empty"}
	}
	ascii, err := toASCII(domain)
	if err != nil {
		return nil, &ConfigError{Field: "domain", Reason: err.Error()}
	}

	services := []struct {
		name     string
		security Security
	}{
		{"_submissions._tcp.", SecurityTLS},
		{"_submission._tcp.", SecurityStartTLS},
	}

	var found []Submission
	for _, svc := range services {
		result, err := resolver.LookupSRV(ctx, svc.name+ascii+".")
		if err != nil {
			if dns.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("smtp: discover %s: %w", svc.name+ascii, err)
		}
		for _, srv := range result.Records {
			target := strings.TrimSuffix(srv.Target, ".")
			if target == "" || srv.Port == 0 {
				continue
			}
			found = append(found, Submission{Host: target, Port: int(srv.Port), Security: svc.security})
		}
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("smtp: no submission service for %s: %w", domain, dns.ErrDNSNotFound)
	}
	return found, nil
}
