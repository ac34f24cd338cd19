// Package transaction implements the transaction registry (C3) and the
// four transaction finite-state machines (C4) described in SPEC_FULL §4.3
// and §4.4.
package transaction

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sipstack/transact/sip"
)

// ClientTransactionKey is (branch, method) per RFC 3261 §17.1.3 / SPEC_FULL
// §3. ACK responses are never matched by client key (ACKs have no
// responses), so no method normalization is needed here.
type ClientTransactionKey struct {
	Branch string
	Method sip.Method
}

// ClientKeyFromRequest derives the key a client transaction for req would
// register under.
func ClientKeyFromRequest(req *sip.Request) (ClientTransactionKey, error) {
	via, ok := req.Via()
	if !ok || len(via) == 0 {
		return ClientTransactionKey{}, errMissingHeader("Via")
	}
	return ClientTransactionKey{Branch: via[0].Branch(), Method: req.Method}, nil
}

// ClientKeyFromResponse derives the key of the client transaction that a
// response should be routed to: the branch of its (copied-through) top Via
// plus the CSeq method.
func ClientKeyFromResponse(resp *sip.Response) (ClientTransactionKey, error) {
	via, ok := resp.Via()
	if !ok || len(via) == 0 {
		return ClientTransactionKey{}, errMissingHeader("Via")
	}
	cseq, ok := resp.CSeq()
	if !ok {
		return ClientTransactionKey{}, errMissingHeader("CSeq")
	}
	return ClientTransactionKey{Branch: via[0].Branch(), Method: sip.Method(cseq.Method)}, nil
}

func (k ClientTransactionKey) String() string {
	return fmt.Sprintf("client{branch=%s,method=%s}", k.Branch, k.Method)
}

// LogValue implements slog.LogValuer so logging a key never recurses
// through the default struct formatter.
func (k ClientTransactionKey) LogValue() slog.Value {
	return slog.GroupValue(slog.String("branch", k.Branch), slog.String("method", string(k.Method)))
}

func (k ClientTransactionKey) IsZero() bool { return k.Branch == "" }

// ServerTransactionKey identifies a server transaction. When the request's
// top Via carries the RFC 3261 magic cookie, the key is the fast path
// (sentBy, branch, method). Otherwise it falls back to the full RFC 2543
// §17.2.3 tuple computed from the rest of the message (SPEC_FULL §3, §9 —
// this path was an open question in spec.md and is resolved here per the
// teacher's own modern implementation).
type ServerTransactionKey struct {
	rfc3261 bool

	// RFC 3261 fast path.
	SentBy string
	Branch string

	// RFC 2543 fallback path.
	URI     string
	FromTag string
	ToTag   string
	CallID  string
	CSeqNum uint32
	Via     string

	// Method is normalized ACK -> INVITE in both paths so an ACK matches
	// the server INVITE transaction it acknowledges.
	Method sip.Method
}

// ServerKeyFromRequest derives the key a server transaction for req is (or
// would be) registered under.
func ServerKeyFromRequest(req *sip.Request) (ServerTransactionKey, error) {
	via, ok := req.Via()
	if !ok || len(via) == 0 {
		return ServerTransactionKey{}, errMissingHeader("Via")
	}
	top := via[0]
	method := sip.NormalizedMethod(req.Method)

	if top.HasMagicCookie() {
		return ServerTransactionKey{
			rfc3261: true,
			SentBy:  top.SentBy(),
			Branch:  top.Branch(),
			Method:  method,
		}, nil
	}

	from, ok := req.From()
	if !ok {
		return ServerTransactionKey{}, errMissingHeader("From")
	}
	fromTag := from.Tag()
	if fromTag == "" {
		return ServerTransactionKey{}, errMissingHeader("From tag")
	}
	callID, ok := req.CallID()
	if !ok {
		return ServerTransactionKey{}, errMissingHeader("Call-ID")
	}
	cseq, ok := req.CSeq()
	if !ok {
		return ServerTransactionKey{}, errMissingHeader("CSeq")
	}
	var toTag string
	if to, ok := req.To(); ok {
		toTag = to.Tag()
	}
	if toTag == "" && !req.Method.Equal(sip.INVITE) && !req.Method.Equal(sip.ACK) {
		return ServerTransactionKey{}, errMissingHeader("To tag")
	}
	if req.Method.Equal(sip.ACK) {
		// An ACK acknowledges the final response, so it always carries a
		// To-tag; matching it against the original INVITE transaction
		// (which had none) requires clearing it here.
		toTag = ""
	}

	return ServerTransactionKey{
		rfc3261: false,
		URI:     req.URI,
		FromTag: fromTag,
		ToTag:   toTag,
		CallID:  string(callID),
		CSeqNum: cseq.Seq,
		Via:     top.Render(),
		Method:  method,
	}, nil
}

func (k ServerTransactionKey) IsRFC3261() bool { return k.rfc3261 }

func (k ServerTransactionKey) String() string {
	if k.rfc3261 {
		return fmt.Sprintf("server{sentBy=%s,branch=%s,method=%s}", k.SentBy, k.Branch, k.Method)
	}
	return fmt.Sprintf("server{uri=%s,from=%s,to=%s,callid=%s,cseq=%d,method=%s}",
		k.URI, k.FromTag, k.ToTag, k.CallID, k.CSeqNum, k.Method)
}

func (k ServerTransactionKey) LogValue() slog.Value {
	if k.rfc3261 {
		return slog.GroupValue(
			slog.String("sent_by", k.SentBy),
			slog.String("branch", k.Branch),
			slog.String("method", string(k.Method)),
		)
	}
	return slog.GroupValue(
		slog.String("uri", k.URI),
		slog.String("from_tag", k.FromTag),
		slog.String("to_tag", k.ToTag),
		slog.String("call_id", k.CallID),
		slog.Int("cseq", int(k.CSeqNum)),
		slog.String("method", string(k.Method)),
	)
}

// Equal reports whether k and other identify the same transaction. Keys
// computed along different paths (RFC 3261 vs RFC 2543) are never equal.
func (k ServerTransactionKey) Equal(other ServerTransactionKey) bool {
	if k.rfc3261 != other.rfc3261 || !k.Method.Equal(other.Method) {
		return false
	}
	if k.rfc3261 {
		return k.SentBy == other.SentBy && k.Branch == other.Branch
	}
	return k.URI == other.URI && k.FromTag == other.FromTag && k.ToTag == other.ToTag &&
		k.CallID == other.CallID && k.CSeqNum == other.CSeqNum && k.Via == other.Via
}

func (k ServerTransactionKey) IsZero() bool {
	if k.rfc3261 {
		return k.SentBy == "" && k.Branch == ""
	}
	return k.CallID == ""
}

// MarshalBinary encodes k as a type-tagged, length-prefixed byte string,
// matching the teacher's binary key encoding idiom so keys can double as
// map keys in external stores.
func (k ServerTransactionKey) MarshalBinary() ([]byte, error) {
	var sb strings.Builder
	if k.rfc3261 {
		sb.WriteByte(1)
		writePrefixed(&sb, k.SentBy)
		writePrefixed(&sb, k.Branch)
	} else {
		sb.WriteByte(2)
		writePrefixed(&sb, k.URI)
		writePrefixed(&sb, k.FromTag)
		writePrefixed(&sb, k.ToTag)
		writePrefixed(&sb, k.CallID)
		writePrefixed(&sb, strconv.FormatUint(uint64(k.CSeqNum), 10))
		writePrefixed(&sb, k.Via)
	}
	writePrefixed(&sb, string(k.Method))
	return []byte(sb.String()), nil
}

func writePrefixed(sb *strings.Builder, s string) {
	sb.WriteString(strconv.Itoa(len(s)))
	sb.WriteByte(':')
	sb.WriteString(s)
}

// UnmarshalBinary decodes a key produced by MarshalBinary.
func (k *ServerTransactionKey) UnmarshalBinary(data []byte) error {
	s := string(data)
	if len(s) == 0 {
		return fmt.Errorf("transaction: empty key encoding")
	}
	tag := s[0]
	s = s[1:]

	readPrefixed := func() (string, error) {
		i := strings.IndexByte(s, ':')
		if i < 0 {
			return "", fmt.Errorf("transaction: malformed key encoding")
		}
		n, err := strconv.Atoi(s[:i])
		if err != nil {
			return "", fmt.Errorf("transaction: malformed key length: %w", err)
		}
		s = s[i+1:]
		if len(s) < n {
			return "", fmt.Errorf("transaction: truncated key encoding")
		}
		v := s[:n]
		s = s[n:]
		return v, nil
	}

	switch tag {
	case 1:
		sentBy, err := readPrefixed()
		if err != nil {
			return err
		}
		branch, err := readPrefixed()
		if err != nil {
			return err
		}
		method, err := readPrefixed()
		if err != nil {
			return err
		}
		*k = ServerTransactionKey{rfc3261: true, SentBy: sentBy, Branch: branch, Method: sip.Method(method)}
		return nil
	case 2:
		uri, err := readPrefixed()
		if err != nil {
			return err
		}
		fromTag, err := readPrefixed()
		if err != nil {
			return err
		}
		toTag, err := readPrefixed()
		if err != nil {
			return err
		}
		callID, err := readPrefixed()
		if err != nil {
			return err
		}
		cseqStr, err := readPrefixed()
		if err != nil {
			return err
		}
		cseq, err := strconv.ParseUint(cseqStr, 10, 32)
		if err != nil {
			return fmt.Errorf("transaction: malformed cseq: %w", err)
		}
		via, err := readPrefixed()
		if err != nil {
			return err
		}
		method, err := readPrefixed()
		if err != nil {
			return err
		}
		*k = ServerTransactionKey{
			rfc3261: false, URI: uri, FromTag: fromTag, ToTag: toTag, CallID: callID,
			CSeqNum: uint32(cseq), Via: via, Method: sip.Method(method),
		}
		return nil
	default:
		return fmt.Errorf("transaction: unknown key tag %d", tag)
	}
}

type missingHeaderError string

func (e missingHeaderError) Error() string { return "transaction: missing " + string(e) + " header" }

func errMissingHeader(name string) error { return missingHeaderError(name) }
