package smtpconn

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/synqronlabs/smtpconn/protocol"
)

// Error kinds. Every error returned by a Client matches at least one of
// these with errors.Is.
var (
	ErrConfiguration      = errors.New("smtp: invalid configuration")
	ErrConnect            = errors.New("smtp: connect failed")
	ErrTimeout            = errors.New("smtp: timeout")
	ErrConnectTimeout     = errors.New("smtp: connect timed out")
	ErrCommandTimeout     = errors.New("smtp: command timed out")
	ErrServerDisconnected = errors.New("smtp: server disconnected")
	ErrNotConnected       = errors.New("smtp: not connected")
	ErrResponse           = errors.New("smtp: unexpected server response")
)

// ErrConnectAborted is wrapped in the *ConnectError returned when Close is
// called while the connection is still being opened.
var ErrConnectAborted = errors.New("smtp: closed while connecting")

// Errors from collaborator commands.
var (
	ErrTLSAlreadyActive = errors.New("smtp: TLS already active")
	ErrTLSNotSupported  = errors.New("smtp: STARTTLS not supported by server")
	ErrAuthNotSupported = errors.New("smtp: AUTH not supported by server")
)

// ConfigError reports an invalid or contradictory configuration. It is
// returned before any network I/O.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("smtp: invalid configuration: %s: %s", e.Field, e.Reason)
}

// Is matches ErrConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// ConnectError reports a failure to establish a connection or an
// unacceptable greeting. Timeout is set when the connect phase ran out of
// time; the error then also matches ErrConnectTimeout and ErrTimeout.
type ConnectError struct {
	Host     string
	Port     int
	Path     string
	Response *Response // greeting, if one was received
	Timeout  bool
	Err      error
}

func (e *ConnectError) Error() string {
	target := e.Path
	if target == "" {
		target = net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	}

	switch {
	case e.Timeout:
		return fmt.Sprintf("smtp: timed out connecting to %s", target)
	case e.Response != nil:
		return fmt.Sprintf("smtp: connect to %s: unexpected greeting: %s", target, e.Response)
	case e.Err != nil:
		return fmt.Sprintf("smtp: error connecting to %s: %v", target, e.Err)
	default:
		return fmt.Sprintf("smtp: error connecting to %s", target)
	}
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Is matches ErrConnect, and ErrConnectTimeout and ErrTimeout for timeouts.
func (e *ConnectError) Is(target error) bool {
	switch target {
	case ErrConnect:
		return true
	case ErrConnectTimeout, ErrTimeout:
		return e.Timeout
	}
	return false
}

// ResponseError is a well-formed reply whose code rejects the command.
type ResponseError struct {
	Command  string
	Response *Response
}

func (e *ResponseError) Error() string {
	if ec := e.Response.EnhancedCode(); ec != "" {
		return fmt.Sprintf("SMTP %d %s: %s", e.Response.Code, ec, e.Response.Message())
	}
	return fmt.Sprintf("SMTP %d: %s", e.Response.Code, e.Response.Message())
}

// Is matches ErrResponse.
func (e *ResponseError) Is(target error) bool {
	return target == ErrResponse
}

// IsPermanent returns true if this is a permanent failure (5xx).
func (e *ResponseError) IsPermanent() bool {
	return e.Response.IsPermanentError()
}

// IsTransient returns true if this is a transient failure (4xx).
func (e *ResponseError) IsTransient() bool {
	return e.Response.IsTransientError()
}

// commandError maps an engine error to the Client taxonomy.
func commandError(err error) error {
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		return fmt.Errorf("%w: %w: %w", ErrCommandTimeout, ErrTimeout, err)
	case errors.Is(err, protocol.ErrInvalidCommand):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrServerDisconnected, err)
	}
}

// greetingError maps an engine error seen while reading the greeting.
func greetingError(ce *ConnectError, err error) error {
	ce.Err = err
	if errors.Is(err, protocol.ErrTimeout) {
		ce.Timeout = true
	}
	return ce
}

// expect wraps resp in a *ResponseError unless its code is one of codes.
func expect(command string, resp *Response, codes ...SMTPCode) error {
	for _, code := range codes {
		if resp.Code == code {
			return nil
		}
	}
	return &ResponseError{Command: command, Response: resp}
}
