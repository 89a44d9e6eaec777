// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"codeberg.org/xmppcore/xmppcore/jid"
)

// toAttr builds the "to" attribute list for a stanza wrapper, omitting it
// entirely when to is nil (a stanza addressed to the bare server, or
// initial presence broadcast to no one in particular).
func toAttr(to *jid.JID) []xml.Attr {
	if to == nil {
		return nil
	}
	return []xml.Attr{{Name: xml.Name{Local: "to"}, Value: to.String()}}
}

// typeAttr appends a "type" attribute, omitting it when typ is empty:
// normal messages and available presence are both represented by the
// absence of a type attribute, not type=''.
func typeAttr(attr []xml.Attr, typ string) []xml.Attr {
	if typ == "" {
		return attr
	}
	return append(attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: typ})
}

// WrapIQ wraps a payload in an IQ stanza.
// The resulting IQ does not contain an id or from attribute and is thus not
// valid without further processing.
func WrapIQ(to *jid.JID, typ IQType, payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, xml.StartElement{
		Name: xml.Name{Local: "iq"},
		Attr: typeAttr(toAttr(to), string(typ)),
	})
}

// WrapMessage wraps a payload in a message stanza.
func WrapMessage(to *jid.JID, typ MessageType, payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, xml.StartElement{
		Name: xml.Name{Local: "message"},
		Attr: typeAttr(toAttr(to), string(typ)),
	})
}

// WrapPresence wraps a payload in a presence stanza.
func WrapPresence(to *jid.JID, typ PresenceType, payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, xml.StartElement{
		Name: xml.Name{Local: "presence"},
		Attr: typeAttr(toAttr(to), string(typ)),
	})
}
