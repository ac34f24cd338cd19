package header

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxForwards is the RFC 3261 §20.22 Max-Forwards header.
type MaxForwards int

func (MaxForwards) Name() string     { return "Max-Forwards" }
func (m MaxForwards) Render() string { return strconv.Itoa(int(m)) }
func (m MaxForwards) Clone() Header  { return m }
func (m MaxForwards) Equal(o Header) bool {
	other, ok := o.(MaxForwards)
	return ok && m == other
}

func parseMaxForwards(text string) ([]Header, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("max-forwards: bad value %q", text)
	}
	return []Header{MaxForwards(n)}, nil
}

// DefaultMaxForwards is the conventional starting value (RFC 3261 §8.1.1.6).
const DefaultMaxForwards = MaxForwards(70)
