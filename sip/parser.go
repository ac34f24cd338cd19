package sip

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"iter"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/sipstack/transact/sip/header"
)

// Parser parses SIP messages from a byte buffer or byte stream
// (SPEC_FULL §4.1).
type Parser interface {
	// ParsePacket parses a single SIP message from b, which must contain
	// exactly one complete message (datagram mode).
	ParsePacket(b []byte) (Message, error)
	// ParseStream returns a StreamParser reading successive messages from r.
	ParseStream(r io.Reader) StreamParser
}

// StreamParser parses a continuous byte stream into a sequence of messages.
type StreamParser interface {
	// Messages yields one (Message, nil) pair per successfully parsed
	// message, or (partial, err) and stops once an error occurs. The
	// iterator stops early if the consumer breaks the range loop.
	Messages() iter.Seq2[Message, error]
}

// DefaultParser is the Parser used by the package-level ParsePacket and
// ParseStream functions. HeaderParsers may be extended or overridden by
// callers who need application-specific headers.
type DefaultParser struct {
	HeaderParsers map[string]header.Parser
}

var defaultParser = &DefaultParser{}

// ParsePacket parses a single SIP message from b using the default parser.
func ParsePacket(b []byte) (Message, error) { return defaultParser.ParsePacket(b) }

// ParseStream returns a StreamParser over r using the default parser.
func ParseStream(r io.Reader) StreamParser { return defaultParser.ParseStream(r) }

func (p *DefaultParser) hdrParsers() map[string]header.Parser {
	if p.HeaderParsers != nil {
		return p.HeaderParsers
	}
	return header.DefaultParsers()
}

// ParsePacket implements Parser. It requires b to contain exactly one
// complete SIP message; if Content-Length exceeds the bytes actually
// present, it returns the partially-populated message wrapped in a
// *ParseError carrying ErrContentTooSmall (SPEC_FULL §4.1).
func (p *DefaultParser) ParsePacket(b []byte) (Message, error) {
	// Size the buffer to hold the whole datagram so that Buffered() in
	// parseMessage accurately reflects "bytes remaining in this datagram"
	// rather than an arbitrary bufio window.
	br := bufio.NewReaderSize(bytes.NewReader(b), max(len(b), 16))
	msg, err := parseMessage(br, p.hdrParsers(), true)
	if err != nil {
		return msg, errtrace.Wrap(err)
	}
	return msg, nil
}

// ParseStream implements Parser.
func (p *DefaultParser) ParseStream(r io.Reader) StreamParser {
	return &streamParser{rdr: r, hdrParsers: p.hdrParsers()}
}

type streamParser struct {
	rdr        io.Reader
	hdrParsers map[string]header.Parser
}

func (sp *streamParser) Messages() iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		br := bufio.NewReader(sp.rdr)
		for {
			msg, err := parseMessage(br, sp.hdrParsers, false)
			if !yield(msg, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// parseMessage runs the Start -> Headers -> Body state machine described in
// SPEC_FULL §4.1. In packetMode, a missing Content-Length means "body is
// whatever remains buffered"; in stream mode it is a hard error, since
// there is no datagram boundary to fall back on.
func parseMessage(rdr *bufio.Reader, hdrParsers map[string]header.Parser, packetMode bool) (Message, error) {
	line, err := readLineSkippingLeadingCRLF(rdr)
	if err != nil {
		return nil, &ParseError{Err: err, State: ParseStateStart}
	}

	msg, err := parseStartLine(line)
	if err != nil {
		return nil, &ParseError{Err: err, State: ParseStateStart, Buf: line}
	}

	hdrs := msg.MessageHeaders()
	for {
		hline, cont, err := readFoldedHeaderLine(rdr)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return msg, &ParseError{Err: err, State: ParseStateHeaders}
		}
		if len(hline) == 0 && !cont {
			break
		}
		hdr, err := ParseHeader(hline, hdrParsers)
		if err != nil {
			return msg, &ParseError{Err: err, State: ParseStateHeaders, Buf: []byte(hline)}
		}
		hdrs.Append(hdr)
	}

	var size int
	if cl, ok := contentLengthOf(*hdrs); ok {
		size = int(cl)
	} else if packetMode {
		size = rdr.Buffered()
	} else {
		return msg, &ParseError{Err: ErrNoContentLength, State: ParseStateHeaders}
	}
	if size == 0 {
		return msg, nil
	}

	body := make([]byte, size)
	n, err := io.ReadFull(rdr, body)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if packetMode {
				msg.SetBody(body[:n])
				return msg, &ParseError{Err: ErrContentTooSmall, State: ParseStateBody, Partial: msg}
			}
			err = io.ErrUnexpectedEOF
		}
		return msg, &ParseError{Err: err, State: ParseStateBody, Buf: body[:n]}
	}
	msg.SetBody(body)
	return msg, nil
}

// readLineSkippingLeadingCRLF discards blank lines before the start line
// (SPEC_FULL §4.1, "pre-start-line CRLFs are ignored").
func readLineSkippingLeadingCRLF(rdr *bufio.Reader) ([]byte, error) {
	for {
		line, err := readLine(rdr)
		if err != nil {
			return nil, err
		}
		if len(line) > 0 {
			return line, nil
		}
	}
}

// readLine reads one CRLF- or LF-terminated line, with the terminator
// stripped.
func readLine(rdr *bufio.Reader) ([]byte, error) {
	line, err := rdr.ReadSlice('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// readFoldedHeaderLine reads one logical header line, joining any
// subsequent lines that begin with SP or TAB (RFC 3261 §7.3.1 line
// folding), collapsing the fold to a single space (SPEC_FULL §4.1). It
// returns ("", false, nil) on the blank line ending the header block.
func readFoldedHeaderLine(rdr *bufio.Reader) (string, bool, error) {
	first, err := readLine(rdr)
	if err != nil {
		return "", false, err
	}
	if len(first) == 0 {
		return "", false, nil
	}
	var sb strings.Builder
	sb.Write(first)
	for {
		b, err := rdr.Peek(1)
		if err != nil || len(b) == 0 || (b[0] != ' ' && b[0] != '\t') {
			break
		}
		cont, err := readLine(rdr)
		if err != nil {
			return "", false, err
		}
		sb.WriteByte(' ')
		sb.WriteString(strings.TrimSpace(string(cont)))
	}
	return sb.String(), true, nil
}

// ParseHeader splits "Name: value" (already folded) and dispatches to a
// registered parser, falling back to GenericHeader.
func ParseHeader(line string, parsers map[string]header.Parser) (Header, error) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return nil, errtrace.Wrap(ErrMalformedHeader)
	}
	name := header.Canonicalize(strings.TrimSpace(line[:colon]))
	value := strings.TrimSpace(line[colon+1:])

	if p, ok := parsers[name]; ok {
		hdrs, err := p(value)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		if len(hdrs) == 1 {
			return hdrs[0], nil
		}
		// A parser that yields several values collapses to the first for
		// the single-Header return; the rest are dropped.
		return hdrs[0], nil
	}
	return header.GenericHeader{HeaderName: name, Value: value}, nil
}

func parseStartLine(line []byte) (Message, error) {
	s := string(line)
	if strings.HasPrefix(s, "SIP/2.0 ") {
		return parseStatusLine(s)
	}
	return parseRequestLine(s)
}

func parseRequestLine(s string) (Message, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 || fields[2] != "SIP/2.0" {
		return nil, errInvalidMessagef("bad request line %q", s)
	}
	return NewRequest(Method(fields[0]), fields[1]), nil
}

func parseStatusLine(s string) (Message, error) {
	fields := strings.SplitN(s, " ", 3)
	if len(fields) != 3 {
		return nil, errInvalidMessagef("bad status line %q", s)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, errInvalidMessagef("bad status code %q", fields[1])
	}
	return NewResponse(StatusCode(code), fields[2]), nil
}
