package sip

import "strings"

// Method is a SIP request method (RFC 3261 §7.1). It is syntactic sugar
// around string; use Equal rather than == to get case-insensitive comparison
// per the grammar's Method token rules.
type Method string

// Standard methods used by the transaction layer and the UAS pipeline.
const (
	INVITE    Method = "INVITE"
	ACK       Method = "ACK"
	CANCEL    Method = "CANCEL"
	BYE       Method = "BYE"
	REGISTER  Method = "REGISTER"
	OPTIONS   Method = "OPTIONS"
	SUBSCRIBE Method = "SUBSCRIBE"
	NOTIFY    Method = "NOTIFY"
	REFER     Method = "REFER"
	MESSAGE   Method = "MESSAGE"
	PRACK     Method = "PRACK"
	UPDATE    Method = "UPDATE"
	INFO      Method = "INFO"
)

// Equal reports whether m and other name the same method, ignoring case.
func (m Method) Equal(other Method) bool {
	return strings.EqualFold(string(m), string(other))
}

// IsInvite reports whether m is INVITE.
func (m Method) IsInvite() bool { return m.Equal(INVITE) }
