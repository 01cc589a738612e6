package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// StdResolver implements the Resolver interface using the standard library net package.
// This resolver does not support DNSSEC validation (Authentic will always be false).
// Use DNSResolver for DNSSEC support.
type StdResolver struct {
	resolver *net.Resolver
}

// NewStdResolver creates a resolver using the standard library.
func NewStdResolver() *StdResolver {
	return &StdResolver{
		resolver: net.DefaultResolver,
	}
}

// NewStdResolverWithDialer creates a resolver using a custom dialer.
// This allows configuring custom DNS servers while using the stdlib interface.
func NewStdResolverWithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) *StdResolver {
	return &StdResolver{
		resolver: &net.Resolver{
			PreferGo: true,
			Dial:     dial,
		},
	}
}

// LookupSRV retrieves SRV records using the standard library.
func (r *StdResolver) LookupSRV(ctx context.Context, name string) (Result[*net.SRV], error) {
	_, records, err := r.resolver.LookupSRV(ctx, "", "", trimDot(name))
	if err != nil {
		return Result[*net.SRV]{}, convertError(err)
	}

	if len(records) == 0 {
		return Result[*net.SRV]{}, ErrDNSNotFound
	}

	sortSRV(records)
	return Result[*net.SRV]{Records: records, Authentic: false}, nil
}

// convertError converts standard library DNS errors to package errors.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return ErrDNSNotFound
		}
		if dnsErr.IsTimeout {
			return ErrDNSTimeout
		}
		if dnsErr.IsTemporary {
			return ErrDNSServFail
		}
	}

	return fmt.Errorf("dns lookup failed: %w", err)
}
