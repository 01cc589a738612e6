// Package smtpconn is the connection layer of an SMTP client: it opens a
// connection, frames replies and runs commands one at a time, with TLS,
// STARTTLS, timeouts and disconnect detection.
//
// # Client
//
// Connect, greet and send a message:
//
//	client, err := smtpconn.New(
//	    smtpconn.WithHostname("smtp.example.com"),
//	    smtpconn.WithStartTLS(),
//	    smtpconn.WithCredentials("user", "pass"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// With StartTLS and credentials set, Connect also runs EHLO,
//	// STARTTLS and AUTH before returning.
//	if _, err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Shutdown(ctx)
//
//	client.Mail(ctx, "sender@example.com")
//	client.Rcpt(ctx, "recipient@example.com")
//	client.Data(ctx, body)
//
// Raw commands go through ExecuteCommand, which returns the reply as is:
//
//	resp, err := client.ExecuteCommand(ctx, "VRFY postmaster")
//
// # Connection lifecycle
//
// A Client holds at most one connection. Connect waits while another
// connection is open or being opened. Any transport failure, timeout or
// cancellation closes the connection: State becomes StateDisconnected and
// further commands fail with ErrNotConnected until Connect is called
// again. A 421 reply closes the connection after it is returned.
//
// # Errors
//
// Errors match these sentinels with errors.Is:
//
//	ErrConfiguration       invalid options, before any I/O (*ConfigError)
//	ErrConnect             dial or greeting failure (*ConnectError)
//	ErrConnectTimeout      connect phase timed out
//	ErrCommandTimeout      no reply within the command timeout
//	ErrServerDisconnected  connection lost mid-session
//	ErrNotConnected        no connection
//	ErrResponse            server rejected a command (*ResponseError)
//
// # Server Capability Probing
//
// Discover what a server supports without sending mail:
//
//	caps, err := smtpconn.Probe(ctx, smtpconn.WithAddress("smtp.example.com:587"), smtpconn.WithStartTLS())
//
// Locate the submission service of a domain (RFC 6186):
//
//	subs, err := smtpconn.DiscoverSubmission(ctx, dns.NewResolver(dns.ResolverConfig{}), "example.com")
//	caps, err := smtpconn.Probe(ctx, subs[0].Options()...)
package smtpconn
