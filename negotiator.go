// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"strings"

	pkgsasl "codeberg.org/xmppcore/xmppcore/sasl"

	"codeberg.org/xmppcore/xmppcore/internal/ns"
	istream "codeberg.org/xmppcore/xmppcore/internal/stream"
	"codeberg.org/xmppcore/xmppcore/internal/saslerr"
	"codeberg.org/xmppcore/xmppcore/jid"
)

// featuresDoc is what a <stream:features/> element advertises that this
// implementation cares about.
type featuresDoc struct {
	StartTLS *struct {
		Required *struct{} `xml:"required"`
	} `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
	Mechanisms struct {
		Mechanism []string `xml:"mechanism"`
	} `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanisms"`
	Bind *struct{} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
}

// negotiate drives the full client bring-up sequence over s.transport:
// stream open, optional STARTTLS (looping back to a fresh stream open on
// success), SASL if credentials are configured, a second stream restart,
// and resource binding. It assumes s.transport and s.writer are already
// set and pointed at a freshly dialed connection.
func (s *Session) negotiate(ctx context.Context, origin jid.JID, resource string, bind bool) error {
	fd, err := s.negotiateUntilSASL(ctx, origin)
	if err != nil {
		return err
	}

	if s.cfg.Username == "" || s.cfg.Password == "" {
		// No credentials configured: the stream is whatever the transport
		// already gives us (already-authenticated tunnel, or anonymous
		// access). Nothing further to negotiate.
		return nil
	}

	if err := s.doSASL(ctx, origin, fd); err != nil {
		return err
	}
	s.stateMu.Lock()
	s.authenticated = true
	s.stateMu.Unlock()

	fd2, err := s.negotiateUntilSASL(ctx, origin)
	if err != nil {
		return err
	}

	if !bind {
		return nil
	}
	if fd2.Bind == nil {
		return newError(ProtocolError, "server did not offer resource binding", nil)
	}
	return s.doBind(resource)
}

// negotiateUntilSASL opens a stream, reads its features, and if the server
// offers STARTTLS and Config.TLS allows it, performs the upgrade and
// restarts from a fresh stream open, returning the features of whichever
// stream generation SASL should run against.
func (s *Session) negotiateUntilSASL(ctx context.Context, origin jid.JID) (featuresDoc, error) {
	for {
		fd, err := s.openAndReadFeatures(ctx, origin)
		if err != nil {
			return featuresDoc{}, err
		}
		if fd.StartTLS == nil {
			return fd, nil
		}
		if !s.cfg.TLS {
			if fd.StartTLS.Required != nil {
				return featuresDoc{}, newError(AuthError, "server requires TLS but Config.TLS is disabled", nil)
			}
			return fd, nil
		}
		if err := s.doStartTLS(ctx, origin); err != nil {
			return featuresDoc{}, err
		}
		// The upgrade invalidates every token the old decoder might have
		// buffered past <proceed/>; a fresh stream open reads only what
		// the now-encrypted transport delivers from here on.
	}
}

func (s *Session) openAndReadFeatures(ctx context.Context, origin jid.JID) (featuresDoc, error) {
	var buf bytes.Buffer
	if _, err := istream.Send(&buf, false, false, istream.DefaultVersion, s.cfg.Lang.String(), origin.Domainpart(), "", ""); err != nil {
		return featuresDoc{}, newError(IoError, "encode stream open", err)
	}
	if err := s.writer.SendRaw(buf.Bytes(), false); err != nil {
		return featuresDoc{}, err
	}

	dec := xml.NewDecoder(s.transport)
	if _, err := istream.Expect(ctx, dec, false, false); err != nil {
		return featuresDoc{}, newError(ProtocolError, "stream negotiation rejected", err)
	}

	s.parser = istream.NewParser(dec, s.cfg.Lang.String())
	el, err := s.parser.Next(xml.Name{Space: ns.Stream, Local: "features"})
	if err != nil {
		return featuresDoc{}, newError(ProtocolError, "expected stream features", err)
	}
	var fd featuresDoc
	if err := el.Decode(&fd); err != nil {
		return featuresDoc{}, newError(ProtocolError, "malformed stream features", err)
	}
	return fd, nil
}

func (s *Session) doStartTLS(ctx context.Context, origin jid.JID) error {
	if err := s.writer.SendRaw([]byte(`<starttls xmlns='`+ns.StartTLS+`'/>`), false); err != nil {
		return err
	}
	el, err := s.parser.Next(
		xml.Name{Space: ns.StartTLS, Local: "proceed"},
		xml.Name{Space: ns.StartTLS, Local: "failure"},
	)
	if err != nil {
		return newError(TlsError, "starttls negotiation failed", err)
	}
	if el.Name.Local == "failure" {
		return newError(TlsError, "server refused starttls", nil)
	}
	if err := s.transport.UpgradeTLS(origin.Domainpart(), s.cfg.VerifyTLS); err != nil {
		return newError(TlsError, "tls handshake failed", err)
	}
	s.stateMu.Lock()
	s.encrypted = true
	s.stateMu.Unlock()
	return nil
}

func (s *Session) doSASL(ctx context.Context, origin jid.JID, fd featuresDoc) error {
	available := map[string]pkgsasl.Mechanism{
		"PLAIN":      pkgsasl.NewPlain("", s.cfg.Username, s.cfg.Password),
		"DIGEST-MD5": pkgsasl.NewDigestMD5(s.cfg.Username, s.cfg.Password, origin.Domainpart()),
	}
	if cs, ok := s.transport.ConnectionState(); ok {
		available["SCRAM-SHA-1"] = pkgsasl.NewScramSHA1(s.cfg.Username, s.cfg.Password, &cs)
	} else {
		available["SCRAM-SHA-1"] = pkgsasl.NewScramSHA1(s.cfg.Username, s.cfg.Password, nil)
	}

	mech, ok := pkgsasl.Select(fd.Mechanisms.Mechanism, available)
	if !ok {
		return newError(AuthError, "server offered no supported SASL mechanism", nil)
	}

	resp, err := mech.Start()
	if err != nil {
		return newError(AuthError, "sasl start", err)
	}
	if err := s.sendSASLStep("auth", mech.Name(), resp); err != nil {
		return err
	}

	for {
		el, err := s.parser.Next(
			xml.Name{Space: ns.SASL, Local: "challenge"},
			xml.Name{Space: ns.SASL, Local: "success"},
			xml.Name{Space: ns.SASL, Local: "failure"},
		)
		if err != nil {
			return newError(AuthError, "sasl negotiation failed", err)
		}

		switch el.Name.Local {
		case "failure":
			var f saslerr.Failure
			_ = el.Decode(&f)
			return newError(AuthError, "sasl authentication failed: "+f.Error(), nil)
		case "challenge":
			challenge, err := decodeSASLText(el.InnerXML)
			if err != nil {
				return newError(AuthError, "malformed sasl challenge", err)
			}
			next, _, err := mech.Step(challenge)
			if err != nil {
				return newError(AuthError, "sasl step", err)
			}
			if err := s.sendSASLStep("response", "", next); err != nil {
				return err
			}
		case "success":
			text, err := decodeSASLText(el.InnerXML)
			if err == nil && len(text) > 0 {
				if _, _, err := mech.Step(text); err != nil {
					return newError(AuthError, "sasl server signature verification failed", err)
				}
			}
			return nil
		}
	}
}

func decodeSASLText(b []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" || trimmed == "=" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(trimmed)
}

func (s *Session) sendSASLStep(el, mechanism string, data []byte) error {
	var sb strings.Builder
	sb.WriteString("<")
	sb.WriteString(el)
	sb.WriteString(" xmlns='")
	sb.WriteString(ns.SASL)
	sb.WriteString("'")
	if mechanism != "" {
		sb.WriteString(" mechanism='")
		sb.WriteString(mechanism)
		sb.WriteString("'")
	}
	if data == nil {
		sb.WriteString("/>")
	} else {
		enc := base64.StdEncoding.EncodeToString(data)
		if enc == "" {
			enc = "="
		}
		sb.WriteString(">")
		sb.WriteString(enc)
		sb.WriteString("</")
		sb.WriteString(el)
		sb.WriteString(">")
	}
	return s.writer.SendRaw([]byte(sb.String()), false)
}

func (s *Session) doBind(resource string) error {
	iqID := s.idGen.Next()
	var resourceElem string
	if resource != "" {
		var buf bytes.Buffer
		_ = xml.EscapeText(&buf, []byte(resource))
		resourceElem = "<resource>" + buf.String() + "</resource>"
	}
	frame := "<iq type='set' id='" + iqID + "'><bind xmlns='" + ns.Bind + "'>" + resourceElem + "</bind></iq>"
	if err := s.writer.SendRaw([]byte(frame), false); err != nil {
		return err
	}

	el, err := s.parser.Next(xml.Name{Space: ns.Client, Local: "iq"})
	if err != nil {
		return newError(ProtocolError, "expected bind response", err)
	}

	var res struct {
		Type string `xml:"type,attr"`
		Bind struct {
			JID string `xml:"jid"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	}
	if err := el.Decode(&res); err != nil {
		return newError(ProtocolError, "malformed bind response", err)
	}
	if res.Type == "error" || res.Bind.JID == "" {
		return newError(ProtocolError, "resource binding failed", nil)
	}
	full, err := jid.Parse(res.Bind.JID)
	if err != nil {
		return newError(ProtocolError, "bind response carried an invalid jid", err)
	}
	s.stateMu.Lock()
	s.bound = full
	s.stateMu.Unlock()
	return nil
}
