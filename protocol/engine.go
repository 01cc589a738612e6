// Package protocol implements the SMTP client protocol engine: it owns the
// byte stream of one physical connection, frames it into replies, and
// correlates each command with the reply that answers it.
package protocol

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	smtpio "github.com/synqronlabs/smtpconn/io"
)

// Engine errors. The Engine closes its transport before returning any of
// them; a closed Engine cannot be reused.
var (
	ErrDisconnected   = errors.New("smtp: connection lost")
	ErrTimeout        = errors.New("smtp: timed out waiting for response")
	ErrInvalidCommand = errors.New("smtp: command contains line break")
	ErrClosed         = errors.New("smtp: engine closed")
)

// ErrServiceClosing is the cause recorded when the server announces 421
// without a command outstanding.
var ErrServiceClosing = errors.New("smtp: server closing connection")

// ErrUnexpectedData is returned by UpgradeTLS when the server sent bytes
// after its STARTTLS acknowledgment. Those bytes would otherwise be read as
// if they had arrived over the secured channel.
var ErrUnexpectedData = errors.New("smtp: data received before TLS handshake")

// replyBacklog bounds how many replies may wait for a reader.
const replyBacklog = 4

const readBufferSize = 4096

// aLongTimeAgo is a non-zero deadline in the past, used to unblock reads.
var aLongTimeAgo = time.Unix(1, 0)

// Engine runs the SMTP wire protocol over a single transport.
//
// A background goroutine frames replies as they arrive, so loss of the
// transport is noticed even when no command is outstanding; Done is closed
// at that point. Commands are serialized: only one may await a reply at a
// time.
type Engine struct {
	logger *slog.Logger

	cmdMu sync.Mutex

	connMu sync.RWMutex
	conn   net.Conn
	br     *bufio.Reader

	replies chan *Response
	done    chan struct{}
	paused  chan struct{}
	pausing atomic.Bool

	// expected counts replies owed to written commands (and the greeting).
	// A reply framed while it is zero answers nothing.
	expected atomic.Int32
	// stray is set when such a reply was discarded since the last command.
	stray atomic.Bool

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewEngine starts an Engine on conn. The Engine takes ownership of conn.
func NewEngine(conn net.Conn, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:  logger,
		conn:    conn,
		br:      bufio.NewReaderSize(conn, readBufferSize),
		replies: make(chan *Response, replyBacklog),
		done:    make(chan struct{}),
		paused:  make(chan struct{}, 1),
	}
	e.expected.Store(1)
	go e.readLoop(e.br)
	return e
}

// Done returns a channel that is closed when the transport is lost or the
// Engine is closed.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the reason the Engine closed, or nil while it is running.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// IsClosed reports whether the Engine has shut down.
func (e *Engine) IsClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Conn returns the current transport. After UpgradeTLS it is a *tls.Conn.
func (e *Engine) Conn() net.Conn {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return e.conn
}

// TLSState returns the negotiated TLS state, if the transport is secured.
func (e *Engine) TLSState() (tls.ConnectionState, bool) {
	if tc, ok := e.Conn().(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// Close shuts the Engine down and closes the transport. It is safe to call
// more than once.
func (e *Engine) Close() error {
	e.fail(ErrClosed)
	return nil
}

// ExecuteAndWait writes line followed by CRLF and waits for the reply.
// timeout bounds the write and the wait together; zero waits until ctx is
// done.
func (e *Engine) ExecuteAndWait(ctx context.Context, line string, timeout time.Duration) (*Response, error) {
	if strings.ContainsAny(line, "\r\n") {
		return nil, ErrInvalidCommand
	}

	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	deadline := deadlineFor(timeout)
	e.logCommand(line)
	e.expectReply()
	if err := e.write(ctx, []byte(line+"\r\n"), deadline); err != nil {
		return nil, err
	}
	return e.wait(ctx, deadline)
}

// ReadResponse waits for the next reply without sending anything. It is
// used for the greeting. Replies that arrived before the call while
// nothing was outstanding have been discarded.
func (e *Engine) ReadResponse(ctx context.Context, timeout time.Duration) (*Response, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.expected.CompareAndSwap(0, 1)
	return e.wait(ctx, deadlineFor(timeout))
}

// ExecuteData sends a message body after a 354 reply to DATA. The body is
// dot-stuffed and terminated with "<CRLF>.<CRLF>".
func (e *Engine) ExecuteData(ctx context.Context, body []byte, timeout time.Duration) (*Response, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	payload := smtpio.DotStuff(body)
	payload = append(payload, '.', '\r', '\n')

	deadline := deadlineFor(timeout)
	e.logger.Debug("smtp data", slog.Int("size", len(payload)))
	e.expectReply()
	if err := e.write(ctx, payload, deadline); err != nil {
		return nil, err
	}
	return e.wait(ctx, deadline)
}

// UpgradeTLS performs a TLS client handshake over the current transport
// and continues the session on the secured connection. It must be called
// right after the server accepted STARTTLS. Any failure closes the Engine.
func (e *Engine) UpgradeTLS(ctx context.Context, cfg *tls.Config, timeout time.Duration) error {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	if e.IsClosed() {
		return e.closedErr()
	}

	conn := e.Conn()

	// Stop the reader at a line boundary so the handshake owns the socket.
	e.pausing.Store(true)
	_ = conn.SetReadDeadline(aLongTimeAgo)
	select {
	case <-e.paused:
	case <-e.done:
		e.pausing.Store(false)
		return e.closedErr()
	}
	e.pausing.Store(false)
	_ = conn.SetReadDeadline(time.Time{})

	if n := e.br.Buffered(); n > 0 || len(e.replies) > 0 || e.stray.Load() {
		err := fmt.Errorf("%w: %d bytes, %d replies", ErrUnexpectedData, n, len(e.replies))
		e.fail(err)
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}

	hctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		e.fail(err)
		return fmt.Errorf("%w: tls handshake: %w", ErrDisconnected, err)
	}

	br := bufio.NewReaderSize(tlsConn, readBufferSize)
	e.connMu.Lock()
	e.conn = tlsConn
	e.br = br
	e.connMu.Unlock()

	if e.IsClosed() {
		_ = tlsConn.Close()
		return e.closedErr()
	}

	state := tlsConn.ConnectionState()
	e.logger.Debug("tls established",
		slog.String("version", tls.VersionName(state.Version)),
		slog.String("cipher", tls.CipherSuiteName(state.CipherSuite)),
	)

	go e.readLoop(br)
	return nil
}

// readLoop frames replies from br until the transport fails or a TLS
// upgrade pauses it.
func (e *Engine) readLoop(br *bufio.Reader) {
	for {
		resp, err := readResponse(br)
		if err != nil {
			if e.pausing.Load() && isTimeout(err) {
				e.paused <- struct{}{}
				return
			}
			e.fail(err)
			return
		}

		e.logger.Debug("smtp response", slog.Int("code", int(resp.Code)), slog.String("text", resp.Message()))

		if !e.claimReply() {
			if resp.Code == CodeServiceUnavailable {
				// Kept so a waiter racing the shutdown still sees it.
				select {
				case e.replies <- resp:
				default:
				}
				e.fail(ErrServiceClosing)
				return
			}
			e.stray.Store(true)
			e.logger.Warn("discarding unsolicited reply",
				slog.Int("code", int(resp.Code)),
				slog.String("text", resp.Message()),
			)
			continue
		}

		select {
		case e.replies <- resp:
		default:
			e.fail(fmt.Errorf("%w: more than %d unclaimed replies", ErrMalformedResponse, replyBacklog))
			return
		}
	}
}

// expectReply records that the next framed reply answers the command
// about to be written.
func (e *Engine) expectReply() {
	e.stray.Store(false)
	e.expected.Add(1)
}

// claimReply consumes one owed reply, reporting false if none was owed.
func (e *Engine) claimReply() bool {
	for {
		n := e.expected.Load()
		if n <= 0 {
			return false
		}
		if e.expected.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// deadlineFor returns the absolute deadline for timeout, or the zero time
// when there is none.
func deadlineFor(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// write sends p, bounded by deadline and by ctx.
func (e *Engine) write(ctx context.Context, p []byte, deadline time.Time) error {
	if e.IsClosed() {
		return e.closedErr()
	}

	conn := e.Conn()

	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(aLongTimeAgo)
	})
	defer stop()

	if _, err := conn.Write(p); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.abort(ctxErr)
		}
		if isTimeout(err) {
			e.fail(ErrTimeout)
			return ErrTimeout
		}
		e.fail(err)
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return nil
}

// wait returns the next reply. A timeout or cancellation closes the
// Engine: a reply arriving later could not be matched to its command.
func (e *Engine) wait(ctx context.Context, deadline time.Time) (*Response, error) {
	var expired <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		expired = t.C
	}

	select {
	case resp := <-e.replies:
		return resp, nil
	case <-e.done:
		// The server may have replied right before closing.
		select {
		case resp := <-e.replies:
			return resp, nil
		default:
		}
		return nil, e.closedErr()
	case <-expired:
		e.fail(ErrTimeout)
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, e.abort(ctx.Err())
	}
}

// abort closes the Engine because ctx ended while an operation was in
// flight.
func (e *Engine) abort(ctxErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		e.fail(ErrTimeout)
		return fmt.Errorf("%w: %w", ErrTimeout, ctxErr)
	}
	e.fail(ctxErr)
	return ctxErr
}

// closedErr describes why a closed Engine can no longer serve requests.
func (e *Engine) closedErr() error {
	err := e.Err()
	switch {
	case err == nil, errors.Is(err, ErrDisconnected):
		return ErrDisconnected
	default:
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
}

// fail records err as the cause of shutdown, if none is recorded yet, and
// shuts the Engine down.
func (e *Engine) fail(err error) {
	e.errMu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.errMu.Unlock()

	e.closeOnce.Do(func() {
		_ = e.Conn().Close()
		close(e.done)
		if !errors.Is(err, ErrClosed) {
			e.logger.Debug("smtp connection lost", slog.Any("error", err))
		}
	})
}

func (e *Engine) logCommand(line string) {
	if !e.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	e.logger.Debug("smtp command", slog.String("line", redact(line)))
}

// redact hides credentials carried on AUTH lines and SASL continuations.
func redact(line string) string {
	verb, rest, hasArgs := strings.Cut(line, " ")
	if strings.EqualFold(verb, "AUTH") {
		if !hasArgs {
			return verb
		}
		mech, _, hasInitial := strings.Cut(rest, " ")
		if hasInitial {
			return verb + " " + mech + " ****"
		}
		return verb + " " + mech
	}
	switch strings.ToUpper(verb) {
	case "EHLO", "HELO", "LHLO", "MAIL", "RCPT", "DATA", "RSET", "NOOP", "QUIT", "STARTTLS", "VRFY", "EXPN", "HELP", "BDAT":
		return line
	}
	// Anything else is a SASL response line.
	return "****"
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
