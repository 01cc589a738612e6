// Package dns provides the DNS lookups used to locate mail submission
// services (RFC 6186 SRV records).
package dns

import (
	"context"
	"errors"
	"net"
)

// DNS lookup errors.
var (
	ErrDNSNotFound = errors.New("dns: record not found")
	ErrDNSTimeout  = errors.New("dns: query timed out")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSRefused  = errors.New("dns: query refused")
	ErrDNSBogus    = errors.New("dns: DNSSEC validation failed")
)

// Result holds the records of one lookup. Authentic reports whether the
// answer was DNSSEC-validated by the upstream resolver.
type Result[T any] struct {
	Records   []T
	Authentic bool
}

// Resolver looks up the records needed for submission discovery.
type Resolver interface {
	// LookupSRV returns the SRV records for name (e.g.
	// "_submissions._tcp.example.com"), ordered by priority, then by
	// descending weight.
	LookupSRV(ctx context.Context, name string) (Result[*net.SRV], error)
}

// IsNotFound reports whether err means the name has no such records.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether err is a DNS timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsServFail reports whether err is a server failure.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether retrying the lookup later may succeed.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err)
}
