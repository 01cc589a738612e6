// Package sasl selects and drives the client side of the SASL mechanisms used for
// SMTP authentication (RFC 4954).
package sasl

import (
	"errors"
	"strings"
)

var (
	// ErrUnexpectedChallenge is returned when the server continues an
	// exchange the mechanism considers finished.
	ErrUnexpectedChallenge = errors.New("sasl: unexpected server challenge")

	// ErrNoMechanism is returned by Select when no offered mechanism is supported.
	ErrNoMechanism = errors.New("sasl: no supported mechanism offered")

	// ErrMissingCredentials is returned when no authentication identity is set.
	ErrMissingCredentials = errors.New("sasl: missing credentials")
)

// Credentials are the secrets a mechanism presents to the server.
type Credentials struct {
	AuthorizationID  string // Identity to act as (authzid)
	AuthenticationID string // Identity being authenticated (authcid)
	Password         string
}

// Identity returns the effective identity for authorization.
func (c *Credentials) Identity() string {
	if c.AuthorizationID != "" {
		return c.AuthorizationID
	}
	return c.AuthenticationID
}

// Mechanism is the client side of a SASL exchange. Challenges and responses
// are raw bytes; base64 encoding is the transport's concern.
type Mechanism interface {
	Name() string
	// Start returns the initial response, or nil if the mechanism waits for
	// a first challenge.
	Start() (initialResponse []byte, err error)
	// Next answers a server challenge.
	Next(challenge []byte) (response []byte, err error)
}

// Preference is the order in which Select tries mechanisms.
var Preference = []string{"PLAIN", "LOGIN"}

// Select returns a mechanism for creds among those offered by the server
// (the parameters of its AUTH extension). If preferred is non-empty it
// replaces Preference.
func Select(offered []string, creds *Credentials, preferred ...string) (Mechanism, error) {
	if creds == nil || creds.AuthenticationID == "" {
		return nil, ErrMissingCredentials
	}
	if len(preferred) == 0 {
		preferred = Preference
	}

	for _, want := range preferred {
		for _, have := range offered {
			if !strings.EqualFold(want, have) {
				continue
			}
			switch strings.ToUpper(want) {
			case "PLAIN":
				return NewPlain(creds), nil
			case "LOGIN":
				return NewLogin(creds), nil
			}
		}
	}
	return nil, ErrNoMechanism
}
