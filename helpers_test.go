package smtpconn

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeServer accepts connections and runs script on each one. n counts
// connections from 1.
type fakeServer struct {
	t        *testing.T
	l        net.Listener
	script   func(c *fakeConn, n int)
	accepted atomic.Int32

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

func newFakeServer(t *testing.T, script func(c *fakeConn, n int)) *fakeServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return startFakeServer(t, l, script)
}

func startFakeServer(t *testing.T, l net.Listener, script func(c *fakeConn, n int)) *fakeServer {
	t.Helper()
	s := &fakeServer{t: t, l: l, script: script}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			n := int(s.accepted.Add(1))

			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer conn.Close()
				script(newFakeConn(t, conn), n)
			}()
		}
	}()

	t.Cleanup(func() {
		l.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return s
}

func (s *fakeServer) port() int {
	_, port, _ := net.SplitHostPort(s.l.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// options returns client options that reach the server with post-connect
// disabled.
func (s *fakeServer) options() []Option {
	return []Option{
		WithHostname("127.0.0.1"),
		WithPort(s.port()),
		WithLocalHostname("client.example"),
		WithTimeout(2 * time.Second),
		WithoutPostConnect(),
	}
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// fakeConn is the server side of one connection.
type fakeConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newFakeConn(t *testing.T, conn net.Conn) *fakeConn {
	return &fakeConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *fakeConn) send(lines string) {
	_, _ = c.conn.Write([]byte(lines))
}

// readLine returns the next line without CRLF. ok is false once the client
// has gone away.
func (c *fakeConn) readLine() (string, bool) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

// expect reads one line and reports a mismatch as a test error.
func (c *fakeConn) expect(want string) bool {
	got, ok := c.readLine()
	if !ok {
		return false
	}
	if got != want {
		c.t.Errorf("server got %q, want %q", got, want)
		return false
	}
	return true
}

// readData reads a DATA body up to the terminating dot line.
func (c *fakeConn) readData() ([]string, bool) {
	var lines []string
	for {
		line, ok := c.readLine()
		if !ok {
			return lines, false
		}
		if line == "." {
			return lines, true
		}
		lines = append(lines, line)
	}
}

// drain blocks until the client closes the connection.
func (c *fakeConn) drain() {
	_, _ = io.Copy(io.Discard, c.r)
}

// startTLS performs the server side of a TLS handshake.
func (c *fakeConn) startTLS(cert tls.Certificate) bool {
	tlsConn := tls.Server(c.conn, &tls.Config{Certificates: []tls.Certificate{cert}})
	if err := tlsConn.Handshake(); err != nil {
		return false
	}
	c.conn = tlsConn
	c.r = bufio.NewReader(tlsConn)
	return true
}

// greetAndEhlo sends a greeting and answers EHLO with exts.
func (c *fakeConn) greetAndEhlo(exts ...string) bool {
	c.send("220 mail.example.com ESMTP ready\r\n")
	if !c.expect("EHLO client.example") {
		return false
	}
	c.send(ehloReply(exts...))
	return true
}

func ehloReply(exts ...string) string {
	if len(exts) == 0 {
		return "250 mail.example.com\r\n"
	}
	var sb strings.Builder
	sb.WriteString("250-mail.example.com\r\n")
	for i, ext := range exts {
		sep := "-"
		if i == len(exts)-1 {
			sep = " "
		}
		sb.WriteString("250" + sep + ext + "\r\n")
	}
	return sb.String()
}

// testCert is a self-signed certificate for localhost and 127.0.0.1.
type testCert struct {
	cert   tls.Certificate
	bundle string // PEM file with the certificate
}

func generateTestCert(t *testing.T) testCert {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	bundle := filepath.Join(t.TempDir(), "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(bundle, pemBytes, 0o600); err != nil {
		t.Fatalf("failed to write bundle: %v", err)
	}

	return testCert{
		cert:   tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: privateKey},
		bundle: bundle,
	}
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
