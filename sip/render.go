package sip

import (
	"bytes"
	"fmt"
	"io"

	"github.com/sipstack/transact/sip/header"
)

// startLiner is implemented by *Request and *Response; kept unexported
// since callers only ever render a Message as a whole.
type startLiner interface {
	StartLine() string
}

// RenderTo serializes msg to w: start line, headers in canonical casing and
// insertion order, the blank line, then the body (SPEC_FULL §4.1 to_bytes).
func RenderTo(w io.Writer, msg Message) error {
	sl, ok := msg.(startLiner)
	if !ok {
		return fmt.Errorf("sip: %T has no start line", msg)
	}
	if _, err := fmt.Fprintf(w, "%s\r\n", sl.StartLine()); err != nil {
		return err
	}
	for _, hdr := range msg.MessageHeaders().All() {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", CanonicalName(hdr), hdr.Render()); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	if body := msg.Body(); len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// CanonicalName returns the canonical wire-form name for hdr.
func CanonicalName(hdr Header) string { return header.Canonicalize(hdr.Name()) }

// Render returns msg serialized to bytes.
func Render(msg Message) []byte {
	var buf bytes.Buffer
	_ = RenderTo(&buf, msg)
	return buf.Bytes()
}

// RenderToString returns msg serialized to a string.
func RenderToString(msg Message) string { return string(Render(msg)) }
