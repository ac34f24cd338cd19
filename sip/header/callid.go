package header

// CallID is the RFC 3261 §20.8 Call-ID header: an opaque token identifying
// a call leg, shared by every transaction within a dialog.
type CallID string

func (CallID) Name() string       { return "Call-ID" }
func (c CallID) Render() string   { return string(c) }
func (c CallID) Clone() Header    { return c }
func (c CallID) Equal(o Header) bool {
	other, ok := o.(CallID)
	return ok && c == other
}

func parseCallID(text string) ([]Header, error) {
	return []Header{CallID(text)}, nil
}
