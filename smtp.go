package smtpconn

import (
	"github.com/synqronlabs/smtpconn/protocol"
)

// Response is a complete SMTP reply.
type Response = protocol.Response

// SMTPCode represents SMTP reply codes (RFC 5321).
type SMTPCode = protocol.SMTPCode

// Reply codes the Client acts on.
const (
	CodeServiceReady       = protocol.CodeServiceReady
	CodeServiceClosing     = protocol.CodeServiceClosing
	CodeAuthSuccess        = protocol.CodeAuthSuccess
	CodeOK                 = protocol.CodeOK
	CodeUserNotLocal       = protocol.CodeUserNotLocalWillForward
	CodeAuthContinue       = protocol.CodeAuthContinue
	CodeStartMailInput     = protocol.CodeStartMailInput
	CodeServiceUnavailable = protocol.CodeServiceUnavailable
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Extension represents an SMTP service extension keyword advertised in
// the EHLO reply.
type Extension string

// SMTP extensions.
const (
	Ext8BitMIME            Extension = "8BITMIME"
	ExtPipelining          Extension = "PIPELINING"
	ExtSMTPUTF8            Extension = "SMTPUTF8"
	ExtSTARTTLS            Extension = "STARTTLS"
	ExtSize                Extension = "SIZE"
	ExtDSN                 Extension = "DSN"
	ExtAuth                Extension = "AUTH"
	ExtChunking            Extension = "CHUNKING"
	ExtBinaryMIME          Extension = "BINARYMIME"
	ExtEnhancedStatusCodes Extension = "ENHANCEDSTATUSCODES"
	ExtRequireTLS          Extension = "REQUIRETLS"
)
