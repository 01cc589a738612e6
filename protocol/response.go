package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// SMTPCode represents SMTP reply codes (RFC 5321).
// 2yz: Success, 3yz: Continue, 4yz: Transient failure, 5yz: Permanent failure.
type SMTPCode int

const (
	// 2xx - Success
	CodeSystemStatus            SMTPCode = 211
	CodeHelpMessage             SMTPCode = 214
	CodeServiceReady            SMTPCode = 220
	CodeServiceClosing          SMTPCode = 221
	CodeAuthSuccess             SMTPCode = 235
	CodeOK                      SMTPCode = 250
	CodeUserNotLocalWillForward SMTPCode = 251
	CodeCannotVRFY              SMTPCode = 252

	// 3xx - Intermediate
	CodeAuthContinue   SMTPCode = 334
	CodeStartMailInput SMTPCode = 354

	// 4xx - Transient Failure
	CodeServiceUnavailable  SMTPCode = 421
	CodeMailboxUnavailable  SMTPCode = 450
	CodeLocalError          SMTPCode = 451
	CodeInsufficientStorage SMTPCode = 452
	CodeTLSNotAvailable     SMTPCode = 454
	CodeUnableToAccommodate SMTPCode = 455

	// 5xx - Permanent Failure
	CodeCommandUnrecognized    SMTPCode = 500
	CodeSyntaxError            SMTPCode = 501
	CodeCommandNotImplemented  SMTPCode = 502
	CodeBadSequence            SMTPCode = 503
	CodeParameterNotImpl       SMTPCode = 504
	CodeAuthRequired           SMTPCode = 530
	CodeAuthCredentialsInvalid SMTPCode = 535
	CodeMailboxNotFound        SMTPCode = 550
	CodeExceededStorage        SMTPCode = 552
	CodeMailboxNameInvalid     SMTPCode = 553
	CodeTransactionFailed      SMTPCode = 554
)

// Class returns the first digit of the code.
func (c SMTPCode) Class() int {
	return int(c) / 100
}

// Response is a complete, framed SMTP reply: a three-digit code and one or
// more text lines with the code and separator stripped.
type Response struct {
	Code  SMTPCode
	Lines []string
}

// Message returns the reply text, one line per reply line.
func (r *Response) Message() string {
	return strings.Join(r.Lines, "\n")
}

// String formats the response as "<code> <message>".
func (r *Response) String() string {
	return fmt.Sprintf("%d %s", r.Code, r.Message())
}

// IsSuccess returns true if the response indicates success (2xx).
func (r *Response) IsSuccess() bool {
	return r.Code.Class() == 2
}

// IsIntermediate returns true if the response is intermediate (3xx).
func (r *Response) IsIntermediate() bool {
	return r.Code.Class() == 3
}

// IsTransientError returns true if the response indicates a transient error (4xx).
func (r *Response) IsTransientError() bool {
	return r.Code.Class() == 4
}

// IsPermanentError returns true if the response indicates a permanent error (5xx).
func (r *Response) IsPermanentError() bool {
	return r.Code.Class() == 5
}

// EnhancedCode returns the RFC 3463 enhanced status code ("class.subject.detail")
// at the start of the first line, or "" if there is none.
func (r *Response) EnhancedCode() string {
	if len(r.Lines) == 0 {
		return ""
	}
	return parseEnhancedCode(r.Lines[0])
}

// parseEnhancedCode extracts an enhanced status code from a response message.
func parseEnhancedCode(msg string) string {
	if len(msg) < 5 {
		return ""
	}

	code, _, _ := strings.Cut(msg, " ")
	subparts := strings.Split(code, ".")
	if len(subparts) != 3 {
		return ""
	}

	// Validate each part is a number
	for _, p := range subparts {
		if p == "" {
			return ""
		}
		if _, err := strconv.Atoi(p); err != nil {
			return ""
		}
	}

	switch subparts[0] {
	case "2", "4", "5":
		return code
	default:
		return ""
	}
}
