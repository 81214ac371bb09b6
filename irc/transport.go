package irc

import (
	"context"
	"crypto/tls"
	"net"

	"golang.org/x/net/proxy"
)

// DialOptions configures Dial. The zero value dials plain TCP directly.
type DialOptions struct {
	TLS       bool
	TLSConfig *tls.Config

	// Proxy, if set, is the "host:port" address of a SOCKS5 proxy, dialed
	// through golang.org/x/net/proxy instead of a direct connection.
	Proxy string
}

// Dial connects to an IRC server and returns the byte stream the session's
// transport boundary expects (spec 1's "external collaborator"). It is a
// convenience: nothing elsewhere in this package depends on it, and callers
// remain free to hand ChanInOut any io.ReadWriteCloser of their own.
func Dial(ctx context.Context, address string, opts DialOptions) (net.Conn, error) {
	dialer, err := buildDialer(opts)
	if err != nil {
		return nil, wrapErr(ErrKindTransportError, "building dialer", err)
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, wrapErr(ErrKindTransportError, "dialing "+address, err)
	}

	if opts.TLS {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, wrapErr(ErrKindTransportError, "tls handshake with "+address, err)
		}
		return tlsConn, nil
	}

	return conn, nil
}

type contextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

func buildDialer(opts DialOptions) (contextDialer, error) {
	if opts.Proxy == "" {
		return &net.Dialer{}, nil
	}
	d, err := proxy.SOCKS5("tcp", opts.Proxy, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}
	if cd, ok := d.(contextDialer); ok {
		return cd, nil
	}
	return noContextDialer{d}, nil
}

// noContextDialer adapts a proxy.Dialer without native context support.
// golang.org/x/net/proxy's SOCKS5 dialer predates context.Context in some
// versions of the package; Dial still returns promptly on connection
// refusal or timeout set via the dialer itself.
type noContextDialer struct {
	proxy.Dialer
}

func (n noContextDialer) DialContext(_ context.Context, network, address string) (net.Conn, error) {
	return n.Dial(network, address)
}
