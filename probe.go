package smtpconn

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/tinylib/msgp/msgp"
)

// ServerCapabilities represents SMTP server capabilities.
type ServerCapabilities struct {
	IsESMTP             bool
	Greeting            string
	Hostname            string
	Extensions          map[Extension]string
	Secure              bool // session ran over TLS when probed
	TLS                 bool // STARTTLS advertised
	Auth                []string
	MaxSize             int64
	Pipelining          bool
	EightBitMIME        bool
	SMTPUTF8            bool
	DSN                 bool
	Chunking            bool
	BinaryMIME          bool
	EnhancedStatusCodes bool
}

// HasExtension checks if a specific extension is supported.
func (s *ServerCapabilities) HasExtension(ext Extension) bool {
	_, ok := s.Extensions[ext]
	return ok
}

// GetExtensionParam returns the parameters for an extension.
func (s *ServerCapabilities) GetExtensionParam(ext Extension) string {
	return s.Extensions[ext]
}

// SupportsAuth checks if a specific auth mechanism is supported.
func (s *ServerCapabilities) SupportsAuth(mechanism string) bool {
	for _, m := range s.Auth {
		if strings.EqualFold(m, mechanism) {
			return true
		}
	}
	return false
}

// String returns a human-readable summary of the server capabilities.
func (s *ServerCapabilities) String() string {
	var sb strings.Builder

	sb.WriteString("Server Capabilities:\n")
	fmt.Fprintf(&sb, "  ESMTP: %v\n", s.IsESMTP)
	fmt.Fprintf(&sb, "  Hostname: %s\n", s.Hostname)
	fmt.Fprintf(&sb, "  TLS: %v\n", s.Secure)

	if s.MaxSize > 0 {
		fmt.Fprintf(&sb, "  Max Size: %d bytes\n", s.MaxSize)
	}

	sb.WriteString("  Extensions:\n")
	for _, ext := range slices.Sorted(maps.Keys(s.Extensions)) {
		if param := s.Extensions[ext]; param != "" {
			fmt.Fprintf(&sb, "    - %s %s\n", ext, param)
		} else {
			fmt.Fprintf(&sb, "    - %s\n", ext)
		}
	}

	if len(s.Auth) > 0 {
		fmt.Fprintf(&sb, "  Auth Mechanisms: %s\n", strings.Join(s.Auth, ", "))
	}

	return sb.String()
}

// Capabilities summarizes what the server advertised in its last EHLO
// reply. Hello must be called first.
func (c *Client) Capabilities() *ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()

	caps := &ServerCapabilities{
		IsESMTP:    c.isESMTP,
		Extensions: make(map[Extension]string, len(c.extensions)),
	}
	if c.greeting != nil {
		caps.Greeting = c.greeting.Message()
		caps.Hostname, _, _ = strings.Cut(caps.Greeting, " ")
	}
	if c.engine != nil {
		_, caps.Secure = c.engine.TLSState()
	}

	maps.Copy(caps.Extensions, c.extensions)

	for ext, param := range c.extensions {
		switch ext {
		case ExtSTARTTLS:
			caps.TLS = true
		case ExtAuth:
			caps.Auth = strings.Fields(param)
		case ExtSize:
			if n, err := strconv.ParseInt(param, 10, 64); err == nil {
				caps.MaxSize = n
			}
		case ExtPipelining:
			caps.Pipelining = true
		case Ext8BitMIME:
			caps.EightBitMIME = true
		case ExtSMTPUTF8:
			caps.SMTPUTF8 = true
		case ExtDSN:
			caps.DSN = true
		case ExtChunking:
			caps.Chunking = true
		case ExtBinaryMIME:
			caps.BinaryMIME = true
		case ExtEnhancedStatusCodes:
			caps.EnhancedStatusCodes = true
		}
	}

	return caps
}

// Probe connects with opts, greets the server and returns its
// capabilities. With SecurityStartTLS the session is upgraded first and
// the capabilities are those advertised over TLS. The connection is
// closed before Probe returns.
func Probe(ctx context.Context, opts ...Option) (*ServerCapabilities, error) {
	client, err := New(append(slices.Clone(opts), WithoutPostConnect())...)
	if err != nil {
		return nil, err
	}
	if _, err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer client.Shutdown(ctx)

	if _, err := client.Hello(ctx); err != nil {
		return nil, err
	}

	if client.Config().Security == SecurityStartTLS {
		if !client.HasExtension(ExtSTARTTLS) {
			return nil, ErrTLSNotSupported
		}
		if _, err := client.StartTLS(ctx); err != nil {
			return nil, err
		}
		// EHLO again after STARTTLS
		if _, err := client.Hello(ctx); err != nil {
			return nil, err
		}
	}

	return client.Capabilities(), nil
}

// MarshalMsg implements msgp.Marshaler.
func (s *ServerCapabilities) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.Require(b, s.Msgsize())
	o = msgp.AppendMapHeader(o, 8)
	o = msgp.AppendString(o, "esmtp")
	o = msgp.AppendBool(o, s.IsESMTP)
	o = msgp.AppendString(o, "greeting")
	o = msgp.AppendString(o, s.Greeting)
	o = msgp.AppendString(o, "hostname")
	o = msgp.AppendString(o, s.Hostname)
	o = msgp.AppendString(o, "secure")
	o = msgp.AppendBool(o, s.Secure)
	o = msgp.AppendString(o, "starttls")
	o = msgp.AppendBool(o, s.TLS)
	o = msgp.AppendString(o, "max_size")
	o = msgp.AppendInt64(o, s.MaxSize)
	o = msgp.AppendString(o, "auth")
	o = msgp.AppendArrayHeader(o, uint32(len(s.Auth)))
	for _, m := range s.Auth {
		o = msgp.AppendString(o, m)
	}
	o = msgp.AppendString(o, "extensions")
	o = msgp.AppendMapHeader(o, uint32(len(s.Extensions)))
	for _, ext := range slices.Sorted(maps.Keys(s.Extensions)) {
		o = msgp.AppendString(o, string(ext))
		o = msgp.AppendString(o, s.Extensions[ext])
	}
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler. Boolean flags derived from the
// extension map are recomputed.
func (s *ServerCapabilities) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}

	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}

		switch msgp.UnsafeString(field) {
		case "esmtp":
			s.IsESMTP, bts, err = msgp.ReadBoolBytes(bts)
		case "greeting":
			s.Greeting, bts, err = msgp.ReadStringBytes(bts)
		case "hostname":
			s.Hostname, bts, err = msgp.ReadStringBytes(bts)
		case "secure":
			s.Secure, bts, err = msgp.ReadBoolBytes(bts)
		case "starttls":
			s.TLS, bts, err = msgp.ReadBoolBytes(bts)
		case "max_size":
			s.MaxSize, bts, err = msgp.ReadInt64Bytes(bts)
		case "auth":
			var count uint32
			count, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				break
			}
			s.Auth = make([]string, count)
			for i := range s.Auth {
				if s.Auth[i], bts, err = msgp.ReadStringBytes(bts); err != nil {
					break
				}
			}
		case "extensions":
			var count uint32
			count, bts, err = msgp.ReadMapHeaderBytes(bts)
			if err != nil {
				break
			}
			s.Extensions = make(map[Extension]string, count)
			for ; count > 0 && err == nil; count-- {
				var k, v string
				if k, bts, err = msgp.ReadStringBytes(bts); err != nil {
					break
				}
				if v, bts, err = msgp.ReadStringBytes(bts); err != nil {
					break
				}
				s.Extensions[Extension(k)] = v
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}

	s.Pipelining = s.HasExtension(ExtPipelining)
	s.EightBitMIME = s.HasExtension(Ext8BitMIME)
	s.SMTPUTF8 = s.HasExtension(ExtSMTPUTF8)
	s.DSN = s.HasExtension(ExtDSN)
	s.Chunking = s.HasExtension(ExtChunking)
	s.BinaryMIME = s.HasExtension(ExtBinaryMIME)
	s.EnhancedStatusCodes = s.HasExtension(ExtEnhancedStatusCodes)
	return bts, nil
}

// Msgsize returns an upper bound on the encoded size of s.
func (s *ServerCapabilities) Msgsize() int {
	size := msgp.MapHeaderSize +
		8*msgp.StringPrefixSize + 64 + // keys
		3*msgp.BoolSize + msgp.Int64Size +
		2*msgp.StringPrefixSize + len(s.Greeting) + len(s.Hostname) +
		msgp.ArrayHeaderSize + msgp.MapHeaderSize
	for _, m := range s.Auth {
		size += msgp.StringPrefixSize + len(m)
	}
	for ext, param := range s.Extensions {
		size += 2*msgp.StringPrefixSize + len(ext) + len(param)
	}
	return size
}
