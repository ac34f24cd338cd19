package header

import (
	"fmt"
	"strconv"
	"strings"
)

// CSeq is the RFC 3261 §20.16 CSeq header: a sequence number plus the
// request method it was issued with.
type CSeq struct {
	Seq    uint32
	Method string
}

func (CSeq) Name() string { return "CSeq" }

func (c CSeq) Render() string {
	return fmt.Sprintf("%d %s", c.Seq, c.Method)
}

func (c CSeq) Clone() Header { return c }

func (c CSeq) Equal(other Header) bool {
	o, ok := other.(CSeq)
	return ok && c.Seq == o.Seq && strings.EqualFold(c.Method, o.Method)
}

func parseCSeq(text string) ([]Header, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return nil, fmt.Errorf("cseq: malformed %q", text)
	}
	seq, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("cseq: bad sequence %q: %w", fields[0], err)
	}
	return []Header{CSeq{Seq: uint32(seq), Method: fields[1]}}, nil
}
