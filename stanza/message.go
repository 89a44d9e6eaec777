// Copyright 2016 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"codeberg.org/xmppcore/xmppcore/jid"
)

// Message is an XMPP stanza used to push information to another entity. It
// is fire-and-forget: unlike IQ, no response is expected.
type Message struct {
	XMLName  xml.Name    `xml:"message"`
	ID       string      `xml:"id,attr"`
	To       *jid.JID    `xml:"to,attr"`
	From     *jid.JID    `xml:"from,attr"`
	Lang     string      `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type     MessageType `xml:"type,attr,omitempty"`
	InnerXML []byte      `xml:",innerxml"`
}

// MessageType is the type of a message stanza, as defined in RFC 6121 §5.2.2.
type MessageType string

const (
	// NormalMessage is a standalone message sent outside the context of a
	// one-to-one conversation or groupchat, and the default when Type is
	// empty.
	NormalMessage MessageType = "normal"

	// ChatMessage is sent in the context of a one-to-one chat session.
	ChatMessage MessageType = "chat"

	// GroupChatMessage is sent in the context of a multi-user chat.
	GroupChatMessage MessageType = "groupchat"

	// HeadlineMessage is sent in the context of a "headline" notification,
	// transient information meant to be displayed briefly and not stored.
	HeadlineMessage MessageType = "headline"

	// ErrorMessage indicates that an error occurred while processing or
	// delivering a previously sent message of any other type.
	ErrorMessage MessageType = "error"
)
