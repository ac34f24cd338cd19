package header

import (
	"fmt"
	"strings"
)

// NameAddr is the shared shape of From and To: an optional display name, a
// URI (opaque to this codec beyond routing needs — full SIP-URI grammar is
// out of scope per SPEC_FULL §1), and parameters (notably "tag").
type NameAddr struct {
	Display string // may be empty
	URI     string
	Params  Params
}

// Tag returns the tag parameter, or "" if absent.
func (a NameAddr) Tag() string {
	v, _ := a.Params.Get("tag")
	return v
}

// WithTag returns a copy of a with tag set.
func (a NameAddr) WithTag(tag string) NameAddr {
	a.Params = a.Params.Clone().Set("tag", tag)
	return a
}

func (a NameAddr) render() string {
	var sb strings.Builder
	if a.Display != "" {
		sb.WriteByte('"')
		sb.WriteString(a.Display)
		sb.WriteString("\" ")
	}
	sb.WriteByte('<')
	sb.WriteString(a.URI)
	sb.WriteByte('>')
	a.Params.render(&sb)
	return sb.String()
}

func (a NameAddr) equal(o NameAddr) bool {
	return a.Display == o.Display && a.URI == o.URI && a.Params.Equal(o.Params)
}

func parseNameAddr(text string) (NameAddr, error) {
	text = strings.TrimSpace(text)
	var display string
	rest := text

	if strings.HasPrefix(text, "\"") {
		end := strings.IndexByte(text[1:], '"')
		if end < 0 {
			return NameAddr{}, fmt.Errorf("unterminated display-name in %q", text)
		}
		display = text[1 : end+1]
		rest = strings.TrimSpace(text[end+2:])
	}

	var uri, paramStr string
	if strings.HasPrefix(rest, "<") {
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return NameAddr{}, fmt.Errorf("unterminated addr-spec in %q", text)
		}
		uri = rest[1:end]
		paramStr = strings.TrimPrefix(strings.TrimSpace(rest[end+1:]), ";")
	} else {
		// bare addr-spec without angle brackets; params after the URI's
		// own ";" belong to the URI, not the header, but since full URI
		// grammar is out of scope we take the conservative route of
		// treating the first ";" as starting header params.
		if i := strings.IndexByte(rest, ';'); i >= 0 {
			uri, paramStr = rest[:i], rest[i+1:]
		} else {
			uri = rest
		}
	}

	return NameAddr{Display: display, URI: strings.TrimSpace(uri), Params: parseParams(paramStr)}, nil
}

// From is the RFC 3261 §20.20 From header.
type From NameAddr

func (From) Name() string     { return "From" }
func (h From) Render() string { return NameAddr(h).render() }
func (h From) Clone() Header  { h.Params = h.Params.Clone(); return h }
func (h From) Equal(o Header) bool {
	other, ok := o.(From)
	return ok && NameAddr(h).equal(NameAddr(other))
}
func (h From) Tag() string { return NameAddr(h).Tag() }

func parseFrom(text string) ([]Header, error) {
	na, err := parseNameAddr(text)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	return []Header{From(na)}, nil
}

// To is the RFC 3261 §20.39 To header.
type To NameAddr

func (To) Name() string     { return "To" }
func (h To) Render() string { return NameAddr(h).render() }
func (h To) Clone() Header  { h.Params = h.Params.Clone(); return h }
func (h To) Equal(o Header) bool {
	other, ok := o.(To)
	return ok && NameAddr(h).equal(NameAddr(other))
}
func (h To) Tag() string        { return NameAddr(h).Tag() }
func (h To) WithTag(tag string) To { return To(NameAddr(h).WithTag(tag)) }

func parseTo(text string) ([]Header, error) {
	na, err := parseNameAddr(text)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	return []Header{To(na)}, nil
}
