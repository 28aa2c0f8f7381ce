package email

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/mailwatch/internal/source"
)

// DecodeHeaderValue decodes a raw header value into a single string. One
// value may mix encoded words in several charsets. Empty or undecodable
// values become source.Placeholder.
func DecodeHeaderValue(raw string) string {
	var h mail.Header
	h.Set("Subject", raw)
	return orPlaceholder(h.Subject())
}

// orPlaceholder maps a decode failure or a blank result to
// source.Placeholder.
func orPlaceholder(v string, err error) string {
	if err != nil {
		return source.Placeholder
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return source.Placeholder
	}
	return v
}

// parseHeader builds a Header from the raw RFC 5322 header block of the
// message with the given UID. A malformed block yields placeholders.
func parseHeader(uid string, raw []byte) *source.Header {
	h := &source.Header{
		UID:     uid,
		Subject: source.Placeholder,
		From:    source.Placeholder,
		Date:    source.Placeholder,
	}

	fields, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(terminateHeader(raw))))
	if err != nil {
		return h
	}

	mh := mail.Header{Header: message.Header{Header: fields}}
	h.Subject = orPlaceholder(mh.Subject())
	h.From = orPlaceholder(mh.Text("From"))
	h.Date = orPlaceholder(mh.Text("Date"))
	return h
}

// terminateHeader makes sure the block ends with the empty line that
// textproto expects.
func terminateHeader(raw []byte) []byte {
	switch {
	case bytes.HasSuffix(raw, []byte("\r\n\r\n")), bytes.HasSuffix(raw, []byte("\n\n")):
		return raw
	case bytes.HasSuffix(raw, []byte("\n")):
		return append(append([]byte(nil), raw...), "\r\n"...)
	default:
		return append(append([]byte(nil), raw...), "\r\n\r\n"...)
	}
}
