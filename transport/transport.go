// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strconv"

	"codeberg.org/xmppcore/xmppcore/dial"
	"codeberg.org/xmppcore/xmppcore/jid"
)

// VerifyFunc inspects the certificate chain presented during a TLS upgrade
// and decides whether to accept it. rawCerts are the raw ASN.1 certificates
// as presented by the peer; verifiedChains and verifyErr are the result of
// the standard library's own chain verification, already attempted using
// the configured ServerName.
//
// The zero value (DefaultVerify) accepts every certificate regardless of
// verifyErr. This matches spec.md's documented insecure default; callers
// that care about server identity MUST supply a stricter VerifyFunc.
type VerifyFunc func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate, verifyErr error) error

// DefaultVerify accepts any certificate. It is insecure and exists only as
// the zero-configuration default; production callers should supply a
// VerifyFunc that rejects verifyErr.
func DefaultVerify(_ [][]byte, _ [][]*x509.Certificate, _ error) error {
	return nil
}

// ErrNotTLS describes a transport that is not running over TLS. Neither
// ConnectionState nor UpgradeTLS returns it: ConnectionState reports that
// case through its boolean result.
var ErrNotTLS = errors.New("transport: connection is not using TLS")

// Transport is the byte-level duplex connection an XMPP stream runs over.
// It is safe to call Read and Write from different goroutines; it is not
// safe to call Write concurrently with itself (the Writer component
// serializes that).
type Transport struct {
	conn   net.Conn
	tlsErr error
}

// Dial discovers and connects to addr's domainpart (honoring DNS SRV
// records and falling back to a direct connection) the way dial.Dialer
// does, and wraps the resulting net.Conn as a Transport. server, if
// non-empty, is a literal host to dial at port instead: SRV lookup and
// legacy A/AAAA fallback are both skipped entirely and the connection goes
// straight to net.JoinHostPort(server, port), honoring the explicit server
// override contract of spec.md §6.
func Dial(ctx context.Context, addr jid.JID, server string, port uint16) (*Transport, error) {
	var conn net.Conn
	var err error
	if server == "" {
		var d dial.Dialer
		conn, err = d.Dial(ctx, "tcp", addr)
	} else {
		var nd net.Dialer
		conn, err = nd.DialContext(ctx, "tcp", net.JoinHostPort(server, strconv.FormatUint(uint64(port), 10)))
	}
	if err != nil {
		return nil, err
	}
	return &Transport{conn: conn}, nil
}

// UpgradeTLS performs an in-place STARTTLS upgrade of the connection: the
// handshake runs over the existing net.Conn, and on success Transport's
// Read/Write are transparently routed through the new TLS session. verify
// is called with the presented chain; a nil VerifyFunc is equivalent to
// DefaultVerify.
func (t *Transport) UpgradeTLS(serverName string, verify VerifyFunc) error {
	if verify == nil {
		verify = DefaultVerify
	}
	pool, _ := x509.SystemCertPool()
	if pool == nil {
		pool = x509.NewCertPool()
	}

	cfg := &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, // we perform verification ourselves below
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			certs := make([]*x509.Certificate, 0, len(rawCerts))
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return verify(rawCerts, nil, err)
				}
				certs = append(certs, cert)
			}
			var verifyErr error
			var chains [][]*x509.Certificate
			if len(certs) > 0 {
				opts := x509.VerifyOptions{
					DNSName:       serverName,
					Roots:         pool,
					Intermediates: x509.NewCertPool(),
				}
				for _, c := range certs[1:] {
					opts.Intermediates.AddCert(c)
				}
				chains, verifyErr = certs[0].Verify(opts)
			}
			return verify(rawCerts, chains, verifyErr)
		},
	}

	client := tls.Client(t.conn, cfg)
	if err := client.HandshakeContext(context.Background()); err != nil {
		return err
	}
	t.conn = client
	return nil
}

// ConnectionState returns the underlying TLS connection state, if the
// transport has been upgraded with UpgradeTLS.
func (t *Transport) ConnectionState() (tls.ConnectionState, bool) {
	tlsConn, ok := t.conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tlsConn.ConnectionState(), true
}

// Read satisfies io.Reader.
func (t *Transport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

// Write satisfies io.Writer.
func (t *Transport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}
