// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "im.example.net"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"im.example.net"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        cert,
	}
}

func TestUpgradeTLSAcceptsPinnedSelfSignedCert(t *testing.T) {
	cert := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		serverDone <- conn.(*tls.Conn).Handshake()
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	tr := &Transport{conn: raw}

	var gotVerifyErr error
	err = tr.UpgradeTLS("im.example.net", func(rawCerts [][]byte, chains [][]*x509.Certificate, verifyErr error) error {
		gotVerifyErr = verifyErr
		if len(rawCerts) != 1 {
			t.Errorf("expected 1 cert, got %d", len(rawCerts))
		}
		return nil // pin: accept despite the untrusted self-signed root
	})
	if err != nil {
		t.Fatalf("UpgradeTLS: %v", err)
	}
	if gotVerifyErr == nil {
		t.Error("expected a verification error for a self-signed cert with no trusted root")
	}
	if _, ok := tr.ConnectionState(); !ok {
		t.Error("ConnectionState reported not-TLS after a successful upgrade")
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server accept: %v", err)
	}
}

func TestUpgradeTLSRejectsWhenVerifyFails(t *testing.T) {
	cert := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.(*tls.Conn).Handshake()
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	tr := &Transport{conn: raw}

	wantErr := errors.New("rejected by policy")
	err = tr.UpgradeTLS("im.example.net", func([][]byte, [][]*x509.Certificate, error) error {
		return wantErr
	})
	if err == nil {
		t.Fatal("expected UpgradeTLS to fail when verify rejects the chain")
	}
}

func TestConnectionStateBeforeUpgrade(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	tr := &Transport{conn: a}
	if _, ok := tr.ConnectionState(); ok {
		t.Error("ConnectionState reported TLS before any upgrade")
	}
}

func TestReadWriteClose(t *testing.T) {
	a, b := net.Pipe()
	tr := &Transport{conn: a}
	defer tr.Close()

	go func() {
		buf := make([]byte, 5)
		n, _ := b.Read(buf)
		b.Write(buf[:n])
	}()

	if _, err := tr.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := tr.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("got %q, want %q", buf, "hello")
	}
}
