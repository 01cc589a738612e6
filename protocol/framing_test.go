package protocol

import (
	"bufio"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCode  SMTPCode
		wantLines []string
		wantErr   error
	}{
		{
			name:      "single line",
			input:     "220 mail.example.com ESMTP\r\n",
			wantCode:  220,
			wantLines: []string{"mail.example.com ESMTP"},
		},
		{
			name:      "multi-line",
			input:     "250-A\r\n250-B\r\n250 C\r\n",
			wantCode:  250,
			wantLines: []string{"A", "B", "C"},
		},
		{
			name:      "bare code",
			input:     "250\r\n",
			wantCode:  250,
			wantLines: []string{""},
		},
		{
			name:      "bare LF accepted",
			input:     "221 bye\n",
			wantCode:  221,
			wantLines: []string{"bye"},
		},
		{
			name:      "empty text after separator",
			input:     "250-\r\n250 done\r\n",
			wantCode:  250,
			wantLines: []string{"", "done"},
		},
		{
			name:    "code mismatch",
			input:   "250-A\r\n251 B\r\n",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "non-numeric code",
			input:   "2x0 hello\r\n",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "code below 100",
			input:   "099 hello\r\n",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "bad separator",
			input:   "250_hello\r\n",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "too short",
			input:   "25\r\n",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "line too long",
			input:   "250 " + strings.Repeat("x", MaxLineLength) + "\r\n",
			wantErr: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := readResponse(bufio.NewReader(strings.NewReader(tt.input)))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("readResponse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("readResponse() error = %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", resp.Code, tt.wantCode)
			}
			if !reflect.DeepEqual(resp.Lines, tt.wantLines) {
				t.Errorf("Lines = %q, want %q", resp.Lines, tt.wantLines)
			}
		})
	}
}

func TestReadResponse_PartialLines(t *testing.T) {
	// A reader that yields one byte at a time forces reassembly across reads.
	r := bufio.NewReader(&oneByteReader{s: "250-first\r\n250 second\r\n"})

	resp, err := readResponse(r)
	if err != nil {
		t.Fatalf("readResponse() error = %v", err)
	}
	if want := []string{"first", "second"}; !reflect.DeepEqual(resp.Lines, want) {
		t.Errorf("Lines = %q, want %q", resp.Lines, want)
	}
}

func TestReadResponse_TooManyLines(t *testing.T) {
	input := strings.Repeat("250-x\r\n", MaxResponseLines+1) + "250 end\r\n"
	_, err := readResponse(bufio.NewReader(strings.NewReader(input)))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("readResponse() error = %v, want ErrMalformedResponse", err)
	}
}

func TestResponse_Classes(t *testing.T) {
	tests := []struct {
		code         SMTPCode
		success      bool
		intermediate bool
		transient    bool
		permanent    bool
	}{
		{CodeOK, true, false, false, false},
		{CodeStartMailInput, false, true, false, false},
		{CodeServiceUnavailable, false, false, true, false},
		{CodeMailboxNotFound, false, false, false, true},
	}

	for _, tt := range tests {
		r := &Response{Code: tt.code, Lines: []string{"x"}}
		if r.IsSuccess() != tt.success || r.IsIntermediate() != tt.intermediate ||
			r.IsTransientError() != tt.transient || r.IsPermanentError() != tt.permanent {
			t.Errorf("classes for %d = %v/%v/%v/%v", tt.code,
				r.IsSuccess(), r.IsIntermediate(), r.IsTransientError(), r.IsPermanentError())
		}
	}
}

func TestResponse_EnhancedCode(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"2.1.0 Sender OK", "2.1.0"},
		{"5.7.1 Relaying denied", "5.7.1"},
		{"3.0.0 bogus class", ""},
		{"mail.example.com", ""},
		{"2.1 short", ""},
	}

	for _, tt := range tests {
		r := &Response{Code: 250, Lines: []string{tt.line}}
		if got := r.EnhancedCode(); got != tt.want {
			t.Errorf("EnhancedCode(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestResponse_String(t *testing.T) {
	r := &Response{Code: 250, Lines: []string{"A", "B"}}
	if got, want := r.String(), "250 A\nB"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestResponse_MessagePack(t *testing.T) {
	in := &Response{Code: 250, Lines: []string{"mail.example.com", "PIPELINING", "8BITMIME"}}

	b, err := in.MarshalMsg(nil)
	if err != nil {
		t.Fatalf("MarshalMsg() error = %v", err)
	}
	if len(b) > in.Msgsize() {
		t.Errorf("encoded %d bytes, Msgsize() = %d", len(b), in.Msgsize())
	}

	var out Response
	rest, err := out.UnmarshalMsg(b)
	if err != nil {
		t.Fatalf("UnmarshalMsg() error = %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("UnmarshalMsg() left %d bytes", len(rest))
	}
	if !reflect.DeepEqual(in, &out) {
		t.Errorf("UnmarshalMsg() = %+v, want %+v", out, *in)
	}
}

type oneByteReader struct {
	s string
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.s) == 0 {
		return 0, io.EOF
	}
	p[0] = r.s[0]
	r.s = r.s[1:]
	return 1, nil
}
