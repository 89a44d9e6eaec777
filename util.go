// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"bytes"
	"encoding/xml"
	"strconv"
)

func uitoa(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}

func atou32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// xmlAttrEscape escapes s for inclusion inside a single-quoted XML
// attribute value built by hand (the stream-management frames are
// assembled as literal strings rather than through an xml.Encoder).
func xmlAttrEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
