// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// Element is one fully materialized direct child of the stream root: its
// start tag plus the verbatim bytes of everything between it and its
// matching end tag.
type Element struct {
	xml.StartElement
	InnerXML []byte
}

// Decode re-parses the element's start tag and captured InnerXML into v,
// which must be a pointer, exactly as if the whole element had been fed to
// xml.Unmarshal directly. Next already materializes InnerXML as raw bytes
// (to avoid buffering more than one pending element), so this is how
// callers get back a typed struct from it.
func (e *Element) Decode(v interface{}) error {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := enc.EncodeToken(e.StartElement); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	buf.Write(e.InnerXML)
	if err := enc.EncodeToken(e.StartElement.End()); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	return xml.Unmarshal(buf.Bytes(), v)
}

// Parser consumes direct children of an already-opened XML stream one at a
// time. It never buffers more than one pending element, and it is meant to
// be driven by a single goroutine (the stream dispatcher).
type Parser struct {
	d    *xml.Decoder
	lang string
}

// NewParser wraps r, which must already be positioned just after the
// opening <stream:stream> tag, and lang is the xml:lang advertised on that
// tag (or "en" if the stream didn't advertise one).
func NewParser(r xml.TokenReader, lang string) *Parser {
	if lang == "" {
		lang = "en"
	}
	return &Parser{d: xml.NewTokenDecoder(Reader(r)), lang: lang}
}

// Lang returns the default language declared on the stream root.
func (p *Parser) Lang() string {
	return p.lang
}

// ErrStreamClosed is returned by Next when the peer has closed the stream
// (the matching </stream:stream> end tag was read).
var ErrStreamClosed = io.EOF

// UnexpectedElementError is returned by Next when expected is non-empty and
// the next child's name doesn't match any of the expected names.
type UnexpectedElementError struct {
	Got      xml.Name
	Expected []xml.Name
}

func (e UnexpectedElementError) Error() string {
	return fmt.Sprintf("xmpp: unexpected element %v, expected one of %v", e.Got, e.Expected)
}

// Next blocks until one full direct child of the stream root has been read
// and returns it. If expected is non-empty, the child's name must match one
// of the given names or Next returns an UnexpectedElementError without
// consuming anything beyond that single child. Next returns
// ErrStreamClosed when the peer closes the stream.
func (p *Parser) Next(expected ...xml.Name) (*Element, error) {
	for {
		tok, err := p.d.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			// Reader already filters out anything else that can occur at
			// stream-root depth (whitespace keepalives are swallowed by
			// Token returning them as CharData which isn't a StartElement).
			continue
		}

		if len(expected) > 0 {
			match := false
			for _, name := range expected {
				if start.Name == name {
					match = true
					break
				}
			}
			if !match {
				if err := p.d.Skip(); err != nil {
					return nil, err
				}
				return nil, UnexpectedElementError{Got: start.Name, Expected: expected}
			}
		}

		var raw struct {
			InnerXML []byte `xml:",innerxml"`
		}
		if err := p.d.DecodeElement(&raw, &start); err != nil {
			return nil, err
		}
		return &Element{StartElement: start, InnerXML: raw.InnerXML}, nil
	}
}
