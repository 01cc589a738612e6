// Package io implements the line-level I/O used by the SMTP protocol engine:
// bounded line reads from a buffered transport and dot-stuffing of DATA bodies.
package io

import (
	"bufio"
	"bytes"
	"errors"
)

var (
	ErrLineTooLong   = errors.New("smtp: line too long")
	ErrBadLineEnding = errors.New("smtp: line not terminated by CRLF")
)

// ReadLine reads a single line of at most max octets (terminator included)
// and returns it without the terminator. With strict set, the line must end
// in CRLF; otherwise a bare LF is accepted as well, which some servers emit.
func ReadLine(reader *bufio.Reader, max int, strict bool) (string, error) {
	// FAST PATH: the whole line is already in the bufio buffer.
	line, err := reader.ReadSlice('\n')
	if err == nil {
		return validateAndConvert(line, max, strict)
	}

	// If it's not ErrBufferFull, it's a read error (EOF, deadline, etc).
	if err != bufio.ErrBufferFull {
		return "", err
	}

	// SLOW PATH: the line is larger than the bufio buffer.
	// Copy the first chunk immediately because the next ReadSlice will overwrite it.
	buf := append([]byte(nil), line...)
	if len(buf) > max {
		drainLine(reader)
		return "", ErrLineTooLong
	}

	for {
		line, err = reader.ReadSlice('\n')

		if len(buf)+len(line) > max {
			// Drain the rest of the line so the next read starts fresh
			drainLine(reader)
			return "", ErrLineTooLong
		}

		buf = append(buf, line...)

		if err == nil {
			break
		}

		if err != bufio.ErrBufferFull {
			return "", err
		}
	}

	return validateAndConvert(buf, max, strict)
}

// validateAndConvert checks length and line ending, and converts to string.
func validateAndConvert(b []byte, max int, strict bool) (string, error) {
	if len(b) > max {
		return "", ErrLineTooLong
	}

	// b ends in '\n' because ReadSlice returned a nil error.
	if len(b) >= 2 && b[len(b)-2] == '\r' {
		return string(b[:len(b)-2]), nil
	}
	if strict {
		return "", ErrBadLineEnding
	}
	return string(b[:len(b)-1]), nil
}

// drainLine discards the rest of the current line to recover protocol synchronization.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return // Found the newline
		}
		if err != bufio.ErrBufferFull {
			return // EOF or other error, stop draining
		}
	}
}

// DotStuff prepares a message body for transmission after DATA (RFC 5321
// Section 4.5.2). Line endings are normalized to CRLF, every line that begins
// with a period gets an extra one, and the result always ends in CRLF so the
// caller only has to append ".\r\n".
func DotStuff(data []byte) []byte {
	data = NormalizeCRLF(data)

	// Count lines starting with dot
	count := 0
	atLineStart := true
	for _, b := range data {
		if atLineStart && b == '.' {
			count++
		}
		atLineStart = (b == '\n')
	}

	result := make([]byte, 0, len(data)+count+2)
	atLineStart = true

	for _, b := range data {
		if atLineStart && b == '.' {
			result = append(result, '.')
		}
		result = append(result, b)
		atLineStart = (b == '\n')
	}

	if len(result) > 0 && !bytes.HasSuffix(result, []byte("\r\n")) {
		result = append(result, '\r', '\n')
	}

	return result
}

// NormalizeCRLF converts bare CR and bare LF line endings to CRLF.
func NormalizeCRLF(data []byte) []byte {
	bare := false
	for i, b := range data {
		if b == '\n' && (i == 0 || data[i-1] != '\r') {
			bare = true
			break
		}
		if b == '\r' && (i+1 == len(data) || data[i+1] != '\n') {
			bare = true
			break
		}
	}
	if !bare {
		return data
	}

	result := make([]byte, 0, len(data)+len(data)/32+2)
	for i := 0; i < len(data); i++ {
		switch b := data[i]; b {
		case '\r':
			result = append(result, '\r', '\n')
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
		case '\n':
			result = append(result, '\r', '\n')
		default:
			result = append(result, b)
		}
	}
	return result
}
