package protocol

import (
	"bufio"
	"errors"
	"fmt"

	smtpio "github.com/synqronlabs/smtpconn/io"
)

// MaxLineLength bounds a single reply line, terminator included.
const MaxLineLength = 8192

// MaxResponseLines bounds the number of lines in one multi-line reply.
const MaxResponseLines = 512

// ErrMalformedResponse is returned when the reply stream cannot be framed.
// Framing cannot be trusted past this point and the transport is closed.
var ErrMalformedResponse = errors.New("smtp: malformed response")

// readResponse reads one complete, possibly multi-line reply from r.
//
// Every line must be "<3 digits>-<text>" (continuation) or "<3 digits> <text>"
// (final); a bare "<3 digits>" is accepted as a final line with empty text.
// All lines of one reply must carry the same code.
func readResponse(r *bufio.Reader) (*Response, error) {
	var resp *Response

	for {
		line, err := smtpio.ReadLine(r, MaxLineLength, false)
		if err != nil {
			if errors.Is(err, smtpio.ErrLineTooLong) {
				return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
			}
			return nil, err
		}

		code, final, text, err := parseLine(line)
		if err != nil {
			return nil, err
		}

		if resp == nil {
			resp = &Response{Code: code}
		} else if code != resp.Code {
			return nil, fmt.Errorf("%w: code %d on continuation of %d", ErrMalformedResponse, code, resp.Code)
		}
		resp.Lines = append(resp.Lines, text)

		if final {
			return resp, nil
		}
		if len(resp.Lines) >= MaxResponseLines {
			return nil, fmt.Errorf("%w: more than %d lines", ErrMalformedResponse, MaxResponseLines)
		}
	}
}

// parseLine splits a reply line into its code, finality and text.
func parseLine(line string) (code SMTPCode, final bool, text string, err error) {
	if len(line) < 3 {
		return 0, false, "", fmt.Errorf("%w: line too short: %q", ErrMalformedResponse, line)
	}

	n := 0
	for i := 0; i < 3; i++ {
		c := line[i]
		if c < '0' || c > '9' {
			return 0, false, "", fmt.Errorf("%w: invalid code: %q", ErrMalformedResponse, line)
		}
		n = n*10 + int(c-'0')
	}
	if n < 100 {
		return 0, false, "", fmt.Errorf("%w: invalid code: %q", ErrMalformedResponse, line)
	}

	if len(line) == 3 {
		return SMTPCode(n), true, "", nil
	}

	switch line[3] {
	case ' ':
		return SMTPCode(n), true, line[4:], nil
	case '-':
		return SMTPCode(n), false, line[4:], nil
	default:
		return 0, false, "", fmt.Errorf("%w: invalid separator: %q", ErrMalformedResponse, line)
	}
}
