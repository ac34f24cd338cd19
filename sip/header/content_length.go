package header

import (
	"fmt"
	"strconv"
	"strings"
)

// ContentLength is the RFC 3261 §20.14 Content-Length header, in octets.
type ContentLength int

func (ContentLength) Name() string     { return "Content-Length" }
func (c ContentLength) Render() string { return strconv.Itoa(int(c)) }
func (c ContentLength) Clone() Header  { return c }
func (c ContentLength) Equal(o Header) bool {
	other, ok := o.(ContentLength)
	return ok && c == other
}

func parseContentLength(text string) ([]Header, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("content-length: bad value %q", text)
	}
	return []Header{ContentLength(n)}, nil
}
