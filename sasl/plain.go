package sasl

import (
	"fmt"

	gosasl "github.com/emersion/go-sasl"
)

// Plain implements the PLAIN SASL mechanism (RFC 4616) on top of the
// go-sasl client.
// Use only over TLS - passwords are transmitted in clear text.
type Plain struct {
	creds  *Credentials
	client gosasl.Client
	sent   bool
}

// NewPlain creates a PLAIN mechanism for creds.
func NewPlain(creds *Credentials) *Plain {
	p := &Plain{creds: creds}
	if creds != nil {
		p.client = gosasl.NewPlainClient(creds.AuthorizationID, creds.AuthenticationID, creds.Password)
	}
	return p
}

// Name returns "PLAIN".
func (p *Plain) Name() string {
	return gosasl.Plain
}

// Start returns "authzid NUL authcid NUL passwd" as the initial response.
func (p *Plain) Start() ([]byte, error) {
	if p.creds == nil || p.creds.AuthenticationID == "" {
		return nil, ErrMissingCredentials
	}
	_, ir, err := p.client.Start()
	if err != nil {
		return nil, err
	}
	p.sent = true
	return ir, nil
}

// Next answers the empty challenge a server sends when it did not accept
// an initial response. Any further challenge is an error.
func (p *Plain) Next(challenge []byte) ([]byte, error) {
	if !p.sent && len(challenge) == 0 {
		return p.Start()
	}
	resp, err := p.client.Next(challenge)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedChallenge, err)
	}
	return resp, nil
}
