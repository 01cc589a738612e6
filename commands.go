package smtpconn

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/synqronlabs/smtpconn/sasl"
)

// The commands below are thin callers of ExecuteCommand. A rejected command
// returns a *ResponseError and leaves the connection open; transport
// failures and timeouts close it.

// Hello identifies the client with EHLO, falling back to HELO when the
// server rejects EHLO with a permanent error.
func (c *Client) Hello(ctx context.Context) (*Response, error) {
	resp, err := c.Ehlo(ctx)
	if err == nil {
		return resp, nil
	}

	var re *ResponseError
	if !errors.As(err, &re) || !re.IsPermanent() || !c.IsConnected() {
		return nil, err
	}
	return c.Helo(ctx)
}

// Ehlo sends EHLO and records the extensions the server advertises.
func (c *Client) Ehlo(ctx context.Context) (*Response, error) {
	resp, err := c.ExecuteCommand(ctx, "EHLO "+c.localHostname())
	if err != nil {
		return nil, err
	}
	if err := expect("EHLO", resp, CodeOK); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.helloDone = true
	c.isESMTP = true
	c.extensions = parseExtensions(resp.Lines)
	c.mu.Unlock()

	c.log().Debug("server extensions", slog.Int("count", len(resp.Lines)-1))
	return resp, nil
}

// Helo sends HELO. The server is treated as not supporting extensions.
func (c *Client) Helo(ctx context.Context) (*Response, error) {
	resp, err := c.ExecuteCommand(ctx, "HELO "+c.localHostname())
	if err != nil {
		return nil, err
	}
	if err := expect("HELO", resp, CodeOK); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.helloDone = true
	c.isESMTP = false
	c.extensions = nil
	c.mu.Unlock()
	return resp, nil
}

// Noop sends the NOOP command.
func (c *Client) Noop(ctx context.Context) (*Response, error) {
	return c.simple(ctx, "NOOP", CodeOK)
}

// Rset aborts the current mail transaction.
func (c *Client) Rset(ctx context.Context) (*Response, error) {
	return c.simple(ctx, "RSET", CodeOK)
}

// Mail starts a mail transaction with MAIL FROM. params are ESMTP
// parameters such as "SIZE=1024" or "BODY=8BITMIME".
func (c *Client) Mail(ctx context.Context, from string, params ...string) (*Response, error) {
	if err := c.ehloIfNeeded(ctx); err != nil {
		return nil, err
	}
	return c.simple(ctx, buildPath("MAIL FROM:", from, params), CodeOK)
}

// Rcpt adds a recipient with RCPT TO.
func (c *Client) Rcpt(ctx context.Context, to string, params ...string) (*Response, error) {
	if err := c.ehloIfNeeded(ctx); err != nil {
		return nil, err
	}
	return c.simple(ctx, buildPath("RCPT TO:", to, params), CodeOK, CodeUserNotLocal)
}

// Data sends DATA followed by body. Bare LF line endings in body are sent
// as CRLF and lines starting with a period are escaped.
func (c *Client) Data(ctx context.Context, body []byte) (*Response, error) {
	if _, err := c.simple(ctx, "DATA", CodeStartMailInput); err != nil {
		return nil, err
	}

	engine := c.currentEngine()
	if engine == nil {
		return nil, ErrNotConnected
	}

	resp, err := engine.ExecuteData(ctx, body, c.timeout())
	if err != nil {
		c.drop(engine, disconnectReason(err))
		return nil, commandError(err)
	}
	c.checkServiceClosing(engine, resp)

	if err := expect("DATA", resp, CodeOK); err != nil {
		return nil, err
	}
	return resp, nil
}

// Quit sends QUIT and closes the connection, whatever the reply.
func (c *Client) Quit(ctx context.Context) (*Response, error) {
	defer c.Close()

	resp, err := c.ExecuteCommand(ctx, "QUIT")
	if err != nil {
		return nil, err
	}
	if err := expect("QUIT", resp, CodeServiceClosing); err != nil {
		return nil, err
	}
	return resp, nil
}

// Shutdown ends the session politely: it sends QUIT if connected and
// closes the connection. A disconnect or timeout during QUIT means the
// connection is already gone and is not reported.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.IsConnected() {
		c.Close()
		return nil
	}

	_, err := c.Quit(ctx)
	switch {
	case err == nil,
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrServerDisconnected),
		errors.Is(err, ErrTimeout):
		return nil
	default:
		return err
	}
}

// Login authenticates with username and password using the best
// mechanism the server offers (PLAIN, then LOGIN).
func (c *Client) Login(ctx context.Context, username, password string) (*Response, error) {
	if err := c.ehloIfNeeded(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	authExt, ok := c.extensions[ExtAuth]
	c.mu.Unlock()
	if !ok {
		return nil, ErrAuthNotSupported
	}

	creds := &sasl.Credentials{AuthenticationID: username, Password: password}
	mech, err := sasl.Select(strings.Fields(authExt), creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthNotSupported, err)
	}

	resp, err := c.authenticate(ctx, mech)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	c.log().Info("authenticated",
		slog.String("mechanism", mech.Name()),
		slog.String("username", username),
	)
	return resp, nil
}

// authenticate runs the AUTH exchange for mech.
func (c *Client) authenticate(ctx context.Context, mech sasl.Mechanism) (*Response, error) {
	initial, err := mech.Start()
	if err != nil {
		return nil, err
	}

	cmd := "AUTH " + mech.Name()
	if initial != nil {
		cmd += " " + encodeSASL(initial)
	}

	resp, err := c.ExecuteCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}

	for resp.Code == CodeAuthContinue {
		challenge, err := base64.StdEncoding.DecodeString(strings.TrimSpace(resp.Message()))
		var answer []byte
		if err == nil {
			answer, err = mech.Next(challenge)
		}
		if err != nil {
			// Cancel the exchange (RFC 4954 section 4).
			if _, cerr := c.ExecuteCommand(ctx, "*"); cerr != nil {
				return nil, cerr
			}
			return nil, fmt.Errorf("smtp: auth %s: %w", mech.Name(), err)
		}

		resp, err = c.ExecuteCommand(ctx, base64.StdEncoding.EncodeToString(answer))
		if err != nil {
			return nil, err
		}
	}

	if err := expect("AUTH", resp, CodeAuthSuccess); err != nil {
		return nil, err
	}
	return resp, nil
}

// simple executes cmd and checks the reply code.
func (c *Client) simple(ctx context.Context, cmd string, codes ...SMTPCode) (*Response, error) {
	resp, err := c.ExecuteCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	verb, _, _ := strings.Cut(cmd, " ")
	if err := expect(verb, resp, codes...); err != nil {
		return nil, err
	}
	return resp, nil
}

// ehloIfNeeded greets the server unless that already happened on this
// connection (or since the last STARTTLS).
func (c *Client) ehloIfNeeded(ctx context.Context) error {
	c.mu.Lock()
	done := c.helloDone
	c.mu.Unlock()
	if done {
		return nil
	}
	_, err := c.Hello(ctx)
	return err
}

func (c *Client) localHostname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.localHostname()
}

// parseExtensions parses the EHLO response lines for extensions.
func parseExtensions(lines []string) map[Extension]string {
	extensions := make(map[Extension]string)
	if len(lines) < 2 {
		return extensions
	}

	for _, line := range lines[1:] { // Skip first line (greeting)
		// Extension lines are space-separated: "EXT params"
		keyword, params, _ := strings.Cut(strings.TrimSpace(line), " ")
		if keyword == "" {
			continue
		}
		// Some servers still send the pre-standard "AUTH=LOGIN PLAIN" form.
		if k, p, ok := strings.Cut(keyword, "="); ok {
			keyword = k
			params = strings.TrimSpace(p + " " + params)
		}

		ext := Extension(strings.ToUpper(keyword))
		if existing, ok := extensions[ext]; ok && existing != "" {
			params = strings.TrimSpace(existing + " " + params)
		}
		extensions[ext] = params
	}
	return extensions
}

func buildPath(prefix, addr string, params []string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte('<')
	sb.WriteString(addr)
	sb.WriteByte('>')
	for _, p := range params {
		if p == "" {
			continue
		}
		sb.WriteByte(' ')
		sb.WriteString(p)
	}
	return sb.String()
}

// encodeSASL encodes an initial response; an empty one is sent as "=".
func encodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}
