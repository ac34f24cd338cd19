package header

import (
	"fmt"
	"strconv"
	"strings"
)

// Via is the RFC 3261 §20.42 Via header: one or more hops, each added by a
// proxy or UA the request has traversed. Via is a slice because a single
// "Via:" line may carry a comma-separated list of hops, and multiple "Via:"
// lines may each carry one (order across both forms is preserved).
type Via []ViaHop

// ViaHop is a single `SIP/2.0/<transport> host:port;params` entry.
type ViaHop struct {
	Transport string // "UDP", "TCP", "TLS", ...
	Host      string
	Port      uint16 // 0 means "not specified", use transport default
	Params    Params
}

// Branch returns the hop's branch parameter, or "" if absent.
func (h ViaHop) Branch() string {
	v, _ := h.Params.Get("branch")
	return v
}

// HasMagicCookie reports whether the branch begins with the RFC 3261 magic
// cookie "z9hG4bK".
func (h ViaHop) HasMagicCookie() bool {
	return strings.HasPrefix(h.Branch(), "z9hG4bK")
}

// SentBy renders the host[:port] portion, used verbatim in server
// transaction key derivation (SPEC_FULL §3).
func (h ViaHop) SentBy() string {
	if h.Port == 0 {
		return h.Host
	}
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

func (h ViaHop) render(sb *strings.Builder) {
	sb.WriteString("SIP/2.0/")
	sb.WriteString(strings.ToUpper(h.Transport))
	sb.WriteByte(' ')
	sb.WriteString(h.SentBy())
	h.Params.render(sb)
}

// Render renders this single hop as it would appear in a Via header.
func (h ViaHop) Render() string {
	var sb strings.Builder
	h.render(&sb)
	return sb.String()
}

func (h ViaHop) Equal(other ViaHop) bool {
	return strings.EqualFold(h.Transport, other.Transport) &&
		strings.EqualFold(h.Host, other.Host) &&
		h.Port == other.Port &&
		h.Params.Equal(other.Params)
}

func (h ViaHop) Clone() ViaHop {
	h.Params = h.Params.Clone()
	return h
}

func (Via) Name() string { return "Via" }

func (hdr Via) Render() string {
	var sb strings.Builder
	for i, hop := range hdr {
		if i > 0 {
			sb.WriteString(", ")
		}
		hop.render(&sb)
	}
	return sb.String()
}

func (hdr Via) Clone() Header {
	out := make(Via, len(hdr))
	for i, hop := range hdr {
		out[i] = hop.Clone()
	}
	return out
}

func (hdr Via) Equal(other Header) bool {
	o, ok := other.(Via)
	if !ok || len(hdr) != len(o) {
		return false
	}
	for i := range hdr {
		if !hdr[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// parseVia parses one "Via:" line's text, which may contain several
// comma-separated hops.
func parseVia(text string) ([]Header, error) {
	hops := splitUnquoted(text, ',')
	via := make(Via, 0, len(hops))
	for _, hop := range hops {
		h, err := parseViaHop(strings.TrimSpace(hop))
		if err != nil {
			return nil, fmt.Errorf("via: %w", err)
		}
		via = append(via, h)
	}
	return []Header{via}, nil
}

func parseViaHop(s string) (ViaHop, error) {
	sp := strings.IndexByte(s, ' ')
	if sp < 0 {
		return ViaHop{}, fmt.Errorf("missing sent-by in %q", s)
	}
	proto, rest := s[:sp], strings.TrimSpace(s[sp+1:])
	protoParts := strings.Split(proto, "/")
	if len(protoParts) != 3 || !strings.EqualFold(protoParts[0], "SIP") || protoParts[1] != "2.0" {
		return ViaHop{}, fmt.Errorf("bad sent-protocol %q", proto)
	}

	sentBy, paramStr := rest, ""
	if i := strings.IndexByte(rest, ';'); i >= 0 {
		sentBy, paramStr = rest[:i], rest[i:]
	}

	host, portStr, hasPort := strings.Cut(sentBy, ":")
	var port uint16
	if hasPort {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return ViaHop{}, fmt.Errorf("bad port %q", portStr)
		}
		port = uint16(p)
	}

	return ViaHop{
		Transport: strings.ToUpper(protoParts[2]),
		Host:      host,
		Port:      port,
		Params:    parseParams(strings.TrimPrefix(paramStr, ";")),
	}, nil
}

// splitUnquoted splits s on sep, ignoring occurrences inside a
// double-quoted substring. Via hops don't normally carry quoted strings,
// but a quoted parameter value may contain sep.
func splitUnquoted(s string, sep byte) []string {
	var out []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
