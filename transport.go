package smtpconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/net/proxy"
)

// contextDialer is satisfied by *net.Dialer and the SOCKS5 dialer.
type contextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// dial opens the transport for cfg: the supplied socket, a Unix domain
// socket or a TCP connection (optionally through a SOCKS5 proxy). With
// SecurityTLS the handshake is completed before dial returns.
func dial(ctx context.Context, cfg *Config, tlsCfg *tls.Config) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)

	switch {
	case cfg.Conn != nil:
		conn = cfg.Conn
	case cfg.SocketPath != "":
		var d net.Dialer
		conn, err = d.DialContext(ctx, "unix", cfg.SocketPath)
	default:
		var d contextDialer
		d, err = tcpDialer(cfg)
		if err != nil {
			return nil, err
		}
		conn, err = d.DialContext(ctx, "tcp", net.JoinHostPort(cfg.hostname(), strconv.Itoa(cfg.port())))
	}
	if err != nil {
		return nil, err
	}

	if tlsCfg == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

// tcpDialer returns the dialer for TCP targets.
func tcpDialer(cfg *Config) (contextDialer, error) {
	netDialer := &net.Dialer{}

	if cfg.SourceAddr != "" {
		laddr, err := resolveLocalAddr(cfg.SourceAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid local address: %w", err)
		}
		netDialer.LocalAddr = laddr
	}

	if cfg.Proxy == "" {
		return netDialer, nil
	}

	d, err := proxy.SOCKS5("tcp", cfg.Proxy, nil, netDialer)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 proxy: dialer does not support contexts")
	}
	return cd, nil
}

// resolveLocalAddr parses a local address string into a *net.TCPAddr.
// Accepts formats: "ip:port", "[ipv6]:port", ":port", "ip", or "" (returns nil).
func resolveLocalAddr(addr string) (*net.TCPAddr, error) {
	if addr == "" {
		return nil, nil
	}

	// Try to parse as IP first (handles both IPv4 and IPv6)
	ip := net.ParseIP(addr)
	if ip != nil {
		return &net.TCPAddr{IP: ip, Port: 0}, nil
	}

	// Try to parse as host:port
	return net.ResolveTCPAddr("tcp", addr)
}

// isTimeout reports whether err comes from an expired deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
