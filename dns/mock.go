package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver is a Resolver used for testing.
// SRV maps FQDNs (with trailing dot) to records.
type MockResolver struct {
	SRV map[string][]*net.SRV

	// Fail contains names that will return a temporary error (SERVFAIL).
	// Format: "srv name", e.g. "srv _submission._tcp.example.com.".
	Fail []string

	// AllAuthentic sets the value for Authentic in responses.
	AllAuthentic bool
}

var _ Resolver = MockResolver{}

// ensureFQDN ensures the name ends with a dot.
func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

// LookupSRV returns SRV records for the given name.
func (r MockResolver) LookupSRV(ctx context.Context, name string) (Result[*net.SRV], error) {
	fqdn := ensureFQDN(name)
	result := Result[*net.SRV]{Authentic: r.AllAuthentic}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if slices.Contains(r.Fail, "srv "+fqdn) {
		return result, ErrDNSServFail
	}

	records, ok := r.SRV[fqdn]
	if !ok || len(records) == 0 {
		return result, ErrDNSNotFound
	}

	result.Records = slices.Clone(records)
	sortSRV(result.Records)
	return result, nil
}
